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

package parse

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

var sideEffectsPragma = regexp.MustCompile(`@sideEffects\s+(true|false)\b`)

// Script analyzes JavaScript or TypeScript source.
func Script(content []byte, dialect Dialect) (*Analysis, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	pool := dialect.pool()
	parser := getParser(pool)
	defer putParser(pool, parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	root := tree.RootNode()
	s := &scanner{src: content, a: &Analysis{}}
	s.statements(root)
	s.collectTopLevel()

	query, err := qm.Query(dialect.queryKey(), "imports")
	if err != nil {
		return nil, err
	}
	s.nestedImports(query, root)

	w := &walker{s: s}
	for i := range s.a.Statements {
		w.statement(s.nodes[i])
	}
	s.finish()

	if root.HasError() {
		collectErrors(root, &s.a.SyntaxErrors)
	}
	return s.a, nil
}

// scanner builds an Analysis from a syntax tree.
type scanner struct {
	src   []byte
	a     *Analysis
	nodes []*ts.Node // statement nodes, parallel to a.Statements
	top   map[string]bool
}

func (s *scanner) text(n *ts.Node) string {
	return n.Utf8Text(s.src)
}

func (s *scanner) statements(root *ts.Node) {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		n := root.NamedChild(i)
		switch n.Kind() {
		case "comment":
			if m := sideEffectsPragma.FindStringSubmatch(s.text(n)); m != nil && s.a.SideEffects == nil {
				v := m[1] == "true"
				s.a.SideEffects = &v
			}
			continue
		case "hash_bang_line", "empty_statement":
			continue
		}

		st := Statement{Start: int(n.StartByte()), End: int(n.EndByte()), Import: -1}
		switch n.Kind() {
		case "import_statement":
			s.importStatement(n, &st)
		case "export_statement":
			s.exportStatement(n, &st)
		default:
			s.declaration(n, &st)
		}
		s.a.Statements = append(s.a.Statements, st)
		s.nodes = append(s.nodes, n)
	}
}

// declaration fills st for a non-module statement.
func (s *scanner) declaration(n *ts.Node, st *Statement) {
	switch n.Kind() {
	case "lexical_declaration", "variable_declaration":
		st.Kind = StmtDeclaration
		for i := uint(0); i < n.NamedChildCount(); i++ {
			d := n.NamedChild(i)
			if d.Kind() != "variable_declarator" {
				continue
			}
			st.Declares = append(st.Declares, patternNames(d.ChildByFieldName("name"), s.src)...)
			if v := d.ChildByFieldName("value"); v != nil && !s.pure(v) {
				st.SideEffects = true
			}
		}
	case "function_declaration", "generator_function_declaration":
		st.Kind = StmtDeclaration
		if name := n.ChildByFieldName("name"); name != nil {
			st.Declares = []string{s.text(name)}
		}
	case "class_declaration", "abstract_class_declaration":
		st.Kind = StmtDeclaration
		if name := n.ChildByFieldName("name"); name != nil {
			st.Declares = []string{s.text(name)}
		}
		st.SideEffects = !s.pureClass(n)
	case "enum_declaration":
		st.Kind = StmtDeclaration
		if name := n.ChildByFieldName("name"); name != nil {
			st.Declares = []string{s.text(name)}
		}
	case "interface_declaration", "type_alias_declaration", "ambient_declaration":
		st.Kind = StmtType
	case "expression_statement":
		st.Kind = StmtOther
		st.SideEffects = n.NamedChildCount() == 0 || !s.pure(n.NamedChild(0))
	default:
		st.Kind = StmtOther
		st.SideEffects = true
	}
}

func hasToken(n *ts.Node, token string) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		if !c.IsNamed() && c.Kind() == token {
			return true
		}
	}
	return false
}

func (s *scanner) importStatement(n *ts.Node, st *Statement) {
	source := n.ChildByFieldName("source")
	if hasToken(n, "type") || source == nil {
		st.Kind = StmtType
		return
	}
	s.a.ESM = true
	st.Kind = StmtImport

	imp := Import{
		Specifier: unquote(s.text(source)),
		Kind:      Static,
		Form:      FormImport,
		Start:     st.Start,
		End:       st.End,
		Statement: len(s.a.Statements),
	}
	setPosition(&imp, source)

	for i := uint(0); i < n.NamedChildCount(); i++ {
		clause := n.NamedChild(i)
		if clause.Kind() != "import_clause" {
			continue
		}
		for j := uint(0); j < clause.NamedChildCount(); j++ {
			c := clause.NamedChild(j)
			switch c.Kind() {
			case "identifier":
				imp.Bindings = append(imp.Bindings, Binding{Imported: "default", Local: s.text(c)})
			case "namespace_import":
				if id := firstNamed(c, "identifier"); id != nil {
					imp.Bindings = append(imp.Bindings, Binding{Imported: "*", Local: s.text(id)})
				}
			case "named_imports":
				for k := uint(0); k < c.NamedChildCount(); k++ {
					spec := c.NamedChild(k)
					if spec.Kind() != "import_specifier" || hasToken(spec, "type") {
						continue
					}
					name := spec.ChildByFieldName("name")
					if name == nil {
						continue
					}
					imported := unquote(s.text(name))
					local := imported
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = s.text(alias)
					}
					imp.Bindings = append(imp.Bindings, Binding{Imported: imported, Local: local})
				}
			}
		}
	}

	for _, b := range imp.Bindings {
		st.Declares = append(st.Declares, b.Local)
	}
	st.Import = len(s.a.Imports)
	s.a.Imports = append(s.a.Imports, imp)
}

func (s *scanner) exportStatement(n *ts.Node, st *Statement) {
	if hasToken(n, "type") {
		st.Kind = StmtType
		return
	}
	s.a.ESM = true

	if source := n.ChildByFieldName("source"); source != nil {
		s.reExport(n, source, st)
		return
	}

	isDefault := hasToken(n, "default")
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		st.DeclStart = int(decl.StartByte())
		var inner Statement
		s.declaration(decl, &inner)
		if inner.Kind == StmtType {
			st.Kind = StmtType
			return
		}
		st.Declares = inner.Declares
		st.SideEffects = inner.SideEffects
		if isDefault {
			st.Kind = StmtExportDefaultDecl
			if len(st.Declares) == 0 {
				st.Kind = StmtExportDefaultExpr
				st.Declares = []string{DefaultExportLocal}
			}
			s.addExport(Export{Name: "default", Local: st.Declares[0], Import: -1})
			return
		}
		st.Kind = StmtExportDecl
		for _, name := range st.Declares {
			s.addExport(Export{Name: name, Local: name, Import: -1})
		}
		return
	}

	if value := n.ChildByFieldName("value"); value != nil && isDefault {
		st.Kind = StmtExportDefaultExpr
		st.DeclStart = int(value.StartByte())
		st.Declares = []string{DefaultExportLocal}
		st.SideEffects = !s.pure(value)
		s.addExport(Export{Name: "default", Local: DefaultExportLocal, Import: -1})
		return
	}

	if clause := firstNamed(n, "export_clause"); clause != nil {
		st.Kind = StmtExportList
		for i := uint(0); i < clause.NamedChildCount(); i++ {
			spec := clause.NamedChild(i)
			if spec.Kind() != "export_specifier" || hasToken(spec, "type") {
				continue
			}
			local := unquote(s.text(spec.ChildByFieldName("name")))
			exported := local
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = unquote(s.text(alias))
			}
			s.addExport(Export{Name: exported, Local: local, Import: -1})
		}
		return
	}

	// export = x, export as namespace X
	st.Kind = StmtOther
	st.SideEffects = true
}

func (s *scanner) reExport(n, source *ts.Node, st *Statement) {
	st.Kind = StmtReExport
	imp := Import{
		Specifier: unquote(s.text(source)),
		Kind:      Static,
		Form:      FormReExport,
		Start:     st.Start,
		End:       st.End,
		Statement: len(s.a.Statements),
	}
	setPosition(&imp, source)
	idx := len(s.a.Imports)

	switch {
	case firstNamed(n, "export_clause") != nil:
		clause := firstNamed(n, "export_clause")
		for i := uint(0); i < clause.NamedChildCount(); i++ {
			spec := clause.NamedChild(i)
			if spec.Kind() != "export_specifier" || hasToken(spec, "type") {
				continue
			}
			imported := unquote(s.text(spec.ChildByFieldName("name")))
			exported := imported
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = unquote(s.text(alias))
			}
			imp.Bindings = append(imp.Bindings, Binding{Imported: imported})
			s.addExport(Export{Name: exported, Import: idx, Imported: imported})
		}
	case firstNamed(n, "namespace_export") != nil:
		ns := firstNamed(n, "namespace_export")
		name := ""
		if c := ns.NamedChild(0); c != nil {
			name = unquote(s.text(c))
		}
		imp.Bindings = []Binding{{Imported: "*"}}
		s.addExport(Export{Name: name, Import: idx, Imported: "*"})
	default:
		imp.Form = FormReExportAll
		s.a.StarExports = append(s.a.StarExports, idx)
	}

	st.Import = idx
	s.a.Imports = append(s.a.Imports, imp)
}

func (s *scanner) addExport(e Export) {
	for i, existing := range s.a.Exports {
		if existing.Name == e.Name {
			s.a.Exports[i] = e
			return
		}
	}
	s.a.Exports = append(s.a.Exports, e)
}

// collectTopLevel gathers the module-scope names.
func (s *scanner) collectTopLevel() {
	s.top = make(map[string]bool)
	for _, st := range s.a.Statements {
		for _, name := range st.Declares {
			s.top[name] = true
		}
	}
}

// nestedImports finds import(), require() and new URL() anywhere in the
// tree using the embedded query.
func (s *scanner) nestedImports(query *ts.Query, root *ts.Node) {
	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	matches := cursor.Matches(query, root, s.src)
	captureNames := query.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		var whole, spec, fn, base *ts.Node
		var form Form
		for i := range match.Captures {
			c := &match.Captures[i]
			switch captureNames[c.Index] {
			case "dynamicImport":
				whole, form = &c.Node, FormDynamic
			case "require":
				whole, form = &c.Node, FormRequire
			case "url":
				whole, form = &c.Node, FormURL
			case "dynamicImport.spec", "require.spec", "url.spec":
				spec = &c.Node
			case "require.fn", "url.ctor":
				fn = &c.Node
			case "url.base":
				base = &c.Node
			}
		}
		if whole == nil || spec == nil {
			continue // static forms are handled per statement
		}

		specText := s.text(spec)
		switch form {
		case FormDynamic:
			if spec.Kind() == "template_string" && strings.Contains(specText, "${") {
				continue
			}
		case FormRequire:
			if fn == nil || s.text(fn) != "require" || s.top["require"] {
				continue
			}
		case FormURL:
			if fn == nil || s.text(fn) != "URL" || base == nil || s.text(base) != "import.meta.url" {
				continue
			}
		}

		imp := Import{
			Specifier: unquote(specText),
			Form:      form,
			Start:     int(whole.StartByte()),
			End:       int(whole.EndByte()),
			Statement: s.statementAt(int(whole.StartByte())),
		}
		setPosition(&imp, spec)
		switch form {
		case FormDynamic:
			imp.Kind = Dynamic
			imp.Bindings = []Binding{{Imported: "*"}}
		case FormRequire:
			imp.Kind = Static
			imp.Bindings = []Binding{{Imported: "*"}}
			s.a.CommonJS = true
		case FormURL:
			imp.Kind = Async
		}
		s.a.Imports = append(s.a.Imports, imp)
	}
}

// statementAt returns the index of the statement containing offset.
func (s *scanner) statementAt(offset int) int {
	i := sort.Search(len(s.a.Statements), func(i int) bool {
		return s.a.Statements[i].End > offset
	})
	if i < len(s.a.Statements) && s.a.Statements[i].Start <= offset {
		return i
	}
	return -1
}

// finish sorts derived data and computes per-statement references.
func (s *scanner) finish() {
	a := s.a
	slices.SortStableFunc(a.Refs, func(x, y Ref) int { return x.Start - y.Start })
	for i := range a.Statements {
		st := &a.Statements[i]
		lo := sort.Search(len(a.Refs), func(j int) bool { return a.Refs[j].Start >= st.Start })
		seen := map[string]bool{}
		for j := lo; j < len(a.Refs) && a.Refs[j].Start < st.End; j++ {
			name := a.Refs[j].Name
			if !seen[name] {
				seen[name] = true
				st.References = append(st.References, name)
			}
		}
		slices.Sort(st.References)
	}

	for _, r := range a.HotRefs {
		if strings.HasPrefix(string(s.src[r.Start:r.End]), "import.meta") {
			a.ESM = true
		}
	}
	if a.ESM {
		a.CommonJS = false
	}
}

func setPosition(imp *Import, n *ts.Node) {
	p := n.StartPosition()
	imp.Line = int(p.Row) + 1
	imp.Column = int(p.Column) + 1
}

func firstNamed(n *ts.Node, kind string) *ts.Node {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c.Kind() == kind {
			return c
		}
	}
	return nil
}

// unquote strips string or template delimiters. Escapes are kept, which
// is enough for module specifiers.
func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

func collectErrors(n *ts.Node, out *[]Position) {
	if n.IsError() || n.IsMissing() {
		p := n.StartPosition()
		*out = append(*out, Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1})
		return
	}
	if !n.HasError() {
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		collectErrors(n.Child(i), out)
	}
}
