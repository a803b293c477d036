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

package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"bennypowers.dev/sheaf/parse"
)

// Builtins returns the built-in stages. defines configures the define
// stage; it may be empty.
func Builtins(defines map[string]string) []Stage {
	return []Stage{
		jsStage{},
		jsonStage{},
		textStage{},
		cssStage{},
		NewDefineStage(defines),
	}
}

// jsStage passes scripts through unchanged.
type jsStage struct{}

func (jsStage) Name() string         { return "js" }
func (jsStage) Heavy() bool          { return false }
func (jsStage) PreservesLines() bool { return true }

func (jsStage) Transform(_ context.Context, in Input) (Output, error) {
	if !IsScript(in.ContentType) {
		return Output{}, fmt.Errorf("js stage cannot handle %s content", in.ContentType)
	}
	return Output{Content: in.Content, ContentType: in.ContentType}, nil
}

// jsonStage turns JSON into a module with a default export.
type jsonStage struct{}

func (jsonStage) Name() string { return "json" }
func (jsonStage) Heavy() bool  { return false }

func (jsonStage) Transform(_ context.Context, in Input) (Output, error) {
	if err := validJSON(in.Content); err != nil {
		return Output{}, err
	}
	pure := false
	var b bytes.Buffer
	b.WriteString("export default ")
	b.Write(bytes.TrimSpace(in.Content))
	b.WriteString(";\n")
	return Output{Content: b.Bytes(), ContentType: "js", SideEffects: &pure}, nil
}

func validJSON(content []byte) error {
	var v any
	if err := json.Unmarshal(content, &v); err != nil {
		f := &Failure{Diagnostic: err.Error(), Err: err}
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			f.Line, f.Column = position(content, int(syn.Offset))
		}
		return f
	}
	return nil
}

// position converts a byte offset to a 1-based line and column.
func position(content []byte, offset int) (int, int) {
	offset = min(offset, len(content))
	line := bytes.Count(content[:offset], []byte("\n")) + 1
	col := offset - bytes.LastIndexByte(content[:offset], '\n')
	return line, col
}

// textStage exports file content as a string.
type textStage struct{}

func (textStage) Name() string { return "text" }
func (textStage) Heavy() bool  { return false }

func (textStage) Transform(_ context.Context, in Input) (Output, error) {
	quoted, err := json.Marshal(string(in.Content))
	if err != nil {
		return Output{}, err
	}
	pure := false
	return Output{
		Content:     []byte("export default " + string(quoted) + ";\n"),
		ContentType: "js",
		SideEffects: &pure,
	}, nil
}

// cssStage turns a stylesheet into a self-accepting module that installs
// a <style> element. Local @import rules become module imports.
type cssStage struct{}

func (cssStage) Name() string { return "css" }
func (cssStage) Heavy() bool  { return false }

func (cssStage) Transform(_ context.Context, in Input) (Output, error) {
	if in.ContentType != "css" {
		return Output{}, fmt.Errorf("css stage cannot handle %s content", in.ContentType)
	}
	css := in.Content
	var imports []string
	var kept bytes.Buffer
	last := 0
	for _, imp := range parse.CSS(css) {
		if parse.IsRemoteURL(imp.Specifier) || imp.Media != "" {
			continue
		}
		imports = append(imports, imp.Specifier)
		kept.Write(css[last:imp.Start])
		last = imp.End
	}
	kept.Write(css[last:])

	text, err := json.Marshal(strings.TrimSpace(kept.String()))
	if err != nil {
		return Output{}, err
	}
	id, _ := json.Marshal(in.Path)

	var b strings.Builder
	for _, spec := range imports {
		q, _ := json.Marshal(cssImportSpecifier(spec))
		fmt.Fprintf(&b, "import %s;\n", q)
	}
	fmt.Fprintf(&b, "const css = %s;\n", text)
	b.WriteString("if (typeof document !== \"undefined\") {\n")
	fmt.Fprintf(&b, "  const id = %s;\n", id)
	b.WriteString("  let el = document.querySelector(`style[data-sheaf-id=\"${CSS.escape(id)}\"]`);\n")
	b.WriteString("  if (!el) {\n")
	b.WriteString("    el = document.createElement(\"style\");\n")
	b.WriteString("    el.setAttribute(\"data-sheaf-id\", id);\n")
	b.WriteString("    document.head.appendChild(el);\n")
	b.WriteString("  }\n")
	b.WriteString("  el.textContent = css;\n")
	b.WriteString("}\n")
	b.WriteString("if (import.meta.hot) import.meta.hot.accept();\n")
	b.WriteString("export default css;\n")

	return Output{Content: []byte(b.String()), ContentType: "js"}, nil
}

// cssImportSpecifier makes a bare url() reference relative, as CSS treats
// "a.css" as a sibling file.
func cssImportSpecifier(spec string) string {
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, "~") {
		return strings.TrimPrefix(spec, "~")
	}
	return "./" + spec
}

// DefineStage replaces configured identifiers and member chains with
// literal JavaScript values.
type DefineStage struct {
	defines map[string]string
	names   map[string]bool
}

// NewDefineStage creates a define stage. Values are JavaScript source,
// so strings must carry their own quotes.
func NewDefineStage(defines map[string]string) *DefineStage {
	names := make(map[string]bool, len(defines))
	for k := range defines {
		names[k] = true
	}
	return &DefineStage{defines: defines, names: names}
}

func (s *DefineStage) Name() string         { return "define" }
func (s *DefineStage) Heavy() bool          { return false }
func (s *DefineStage) PreservesLines() bool { return true }

// Key lists the definitions in a stable order.
func (s *DefineStage) Key() string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(s.defines)) {
		fmt.Fprintf(&b, "%s=%s;", k, s.defines[k])
	}
	return b.String()
}

func (s *DefineStage) Transform(_ context.Context, in Input) (Output, error) {
	if len(s.defines) == 0 {
		return Output{Content: in.Content, ContentType: in.ContentType}, nil
	}
	dialect := parse.TSX
	if in.ContentType == "ts" {
		dialect = parse.TypeScript
	}
	matches, err := parse.Expressions(in.Content, dialect, s.names)
	if err != nil {
		return Output{}, err
	}
	if len(matches) == 0 {
		return Output{Content: in.Content, ContentType: in.ContentType}, nil
	}
	var b bytes.Buffer
	last := 0
	for _, m := range matches {
		b.Write(in.Content[last:m.Start])
		b.WriteString(strings.ReplaceAll(s.defines[m.Name], "\n", " "))
		last = m.End
	}
	b.Write(in.Content[last:])
	return Output{Content: b.Bytes(), ContentType: in.ContentType}, nil
}
