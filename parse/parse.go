/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package parse extracts the dependency and binding structure of
// JavaScript, TypeScript, CSS and HTML sources.
//
// Scripts are parsed with tree-sitter. The result records every import
// form the bundler understands (static, re-export, dynamic import(),
// require() and new URL(..., import.meta.url)), the module's exports, its
// top-level statements with the names they declare and reference, and HMR
// accept calls. Byte ranges are kept so the code generator can rewrite
// module syntax without reparsing.
package parse

import (
	"embed"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsHtml "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

// languages holds pre-initialized tree-sitter language grammars.
var languages = struct {
	html       *ts.Language
	typescript *ts.Language
	tsx        *ts.Language
}{
	ts.NewLanguage(tsHtml.Language()),
	ts.NewLanguage(tsTypescript.LanguageTypescript()),
	ts.NewLanguage(tsTypescript.LanguageTSX()),
}

func newPool(lang *ts.Language, name string) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			parser := ts.NewParser()
			if err := parser.SetLanguage(lang); err != nil {
				panic("failed to set " + name + " language: " + err.Error())
			}
			return parser
		},
	}
}

// Parser pools for reuse.
var (
	htmlParserPool = newPool(languages.html, "HTML")
	tsParserPool   = newPool(languages.typescript, "TypeScript")
	tsxParserPool  = newPool(languages.tsx, "TSX")
)

func getParser(pool *sync.Pool) *ts.Parser {
	return pool.Get().(*ts.Parser)
}

func putParser(pool *sync.Pool, p *ts.Parser) {
	p.Reset()
	pool.Put(p)
}

// Dialect selects the grammar used for a script.
type Dialect int

const (
	// TSX parses JavaScript, JSX and TSX. It is the default.
	TSX Dialect = iota
	// TypeScript parses .ts sources, where <T>x is a type assertion.
	TypeScript
)

// DialectFor picks a grammar from a file name.
func DialectFor(name string) Dialect {
	switch filepath.Ext(name) {
	case ".ts", ".mts", ".cts":
		return TypeScript
	}
	return TSX
}

func (d Dialect) pool() *sync.Pool {
	if d == TypeScript {
		return tsParserPool
	}
	return tsxParserPool
}

func (d Dialect) language() *ts.Language {
	if d == TypeScript {
		return languages.typescript
	}
	return languages.tsx
}

// QueryManager manages tree-sitter queries for HTML and script parsing.
// Script queries are compiled once per dialect.
type QueryManager struct {
	mu      sync.Mutex
	closed  bool
	queries map[string]*ts.Query
}

// NewQueryManager creates a new QueryManager with the specified queries loaded.
func NewQueryManager(htmlQueries, scriptQueries []string) (*QueryManager, error) {
	qm := &QueryManager{queries: make(map[string]*ts.Query)}

	for _, name := range htmlQueries {
		if err := qm.loadQuery("html", name, languages.html, "html"); err != nil {
			qm.Close()
			return nil, err
		}
	}

	for _, name := range scriptQueries {
		if err := qm.loadQuery("typescript", name, languages.typescript, "typescript"); err != nil {
			qm.Close()
			return nil, err
		}
		if err := qm.loadQuery("typescript", name, languages.tsx, "tsx"); err != nil {
			qm.Close()
			return nil, err
		}
	}

	return qm, nil
}

func (qm *QueryManager) loadQuery(dir, name string, lang *ts.Language, key string) error {
	queryPath := path.Join("queries", dir, name+".scm")
	data, err := queryFiles.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("failed to read query %s: %w", queryPath, err)
	}

	query, qerr := ts.NewQuery(lang, string(data))
	if qerr != nil {
		return fmt.Errorf("failed to parse query %s: %w", name, qerr)
	}
	qm.queries[key+"/"+name] = query
	return nil
}

// Close releases all query resources. Safe to call multiple times.
func (qm *QueryManager) Close() {
	qm.mu.Lock()
	if qm.closed {
		qm.mu.Unlock()
		return
	}
	qm.closed = true
	queries := qm.queries
	qm.queries = nil
	qm.mu.Unlock()

	for _, q := range queries {
		q.Close()
	}
}

// Query returns a query by language ("html", "typescript" or "tsx") and name.
func (qm *QueryManager) Query(language, name string) (*ts.Query, error) {
	q, ok := qm.queries[language+"/"+name]
	if !ok {
		return nil, fmt.Errorf("query not found: %s/%s", language, name)
	}
	return q, nil
}

func (d Dialect) queryKey() string {
	if d == TypeScript {
		return "typescript"
	}
	return "tsx"
}

// Global query manager singleton
var (
	globalQM     *QueryManager
	globalQMOnce sync.Once
	globalQMErr  error
)

// GetQueryManager returns the global query manager instance.
func GetQueryManager() (*QueryManager, error) {
	globalQMOnce.Do(func() {
		globalQM, globalQMErr = NewQueryManager(
			[]string{"tags"},
			[]string{"imports"},
		)
	})
	return globalQM, globalQMErr
}
