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
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// scope is a set of names shadowing module-scope bindings.
type scope struct {
	names  map[string]bool
	parent *scope
}

func (sc *scope) has(name string) bool {
	for s := sc; s != nil; s = s.parent {
		if s.names[name] {
			return true
		}
	}
	return false
}

var functionKinds = map[string]bool{
	"function_declaration":           true,
	"generator_function_declaration": true,
	"function_expression":            true,
	"function":                       true,
	"generator_function":             true,
	"arrow_function":                 true,
	"method_definition":              true,
}

var skippedKinds = map[string]bool{
	"type_annotation":        true,
	"type_arguments":         true,
	"type_parameters":        true,
	"implements_clause":      true,
	"interface_declaration":  true,
	"type_alias_declaration": true,
	"ambient_declaration":    true,
	"import_statement":       true,
	"export_clause":          true,
	"comment":                true,
}

// walker records references to module-scope names, HMR API usage and
// CommonJS markers.
type walker struct {
	s *scanner
}

func (w *walker) statement(n *ts.Node) {
	w.walk(n, nil)
}

func (w *walker) walk(n *ts.Node, sc *scope) {
	kind := n.Kind()
	if skippedKinds[kind] {
		return
	}
	if functionKinds[kind] {
		w.function(n, sc)
		return
	}

	switch kind {
	case "identifier":
		w.ref(n, sc, false)
		return
	case "shorthand_property_identifier":
		w.ref(n, sc, true)
		return
	case "variable_declarator":
		if name := n.ChildByFieldName("name"); name != nil {
			w.pattern(name, sc)
		}
		if value := n.ChildByFieldName("value"); value != nil {
			w.walk(value, sc)
		}
		return
	case "class_declaration", "abstract_class_declaration", "class":
		name := n.ChildByFieldName("name")
		for i := uint(0); i < n.NamedChildCount(); i++ {
			c := n.NamedChild(i)
			if c.Kind() == "type_identifier" || (name != nil && c.StartByte() == name.StartByte()) {
				continue
			}
			w.walk(c, sc)
		}
		return
	case "catch_clause":
		inner := &scope{names: map[string]bool{}, parent: sc}
		if p := n.ChildByFieldName("parameter"); p != nil {
			for _, name := range patternNames(p, w.s.src) {
				inner.names[name] = true
			}
		}
		if body := n.ChildByFieldName("body"); body != nil {
			w.walk(body, inner)
		}
		return
	case "member_expression":
		if w.hotRef(n) {
			return
		}
		if obj := n.ChildByFieldName("object"); obj != nil {
			w.walk(obj, sc)
		}
		if prop := n.ChildByFieldName("property"); prop != nil && prop.Kind() != "property_identifier" && prop.Kind() != "private_property_identifier" {
			w.walk(prop, sc)
		}
		return
	case "call_expression":
		w.acceptCall(n)
	case "meta_property":
		w.s.a.ESM = true
		return
	}

	for i := uint(0); i < n.NamedChildCount(); i++ {
		w.walk(n.NamedChild(i), sc)
	}
}

func (w *walker) ref(n *ts.Node, sc *scope, shorthand bool) {
	name := w.s.text(n)
	if sc.has(name) {
		return
	}
	if !w.s.top[name] {
		if name == "module" || name == "exports" {
			w.s.a.CommonJS = true
		}
		return
	}
	w.s.a.Refs = append(w.s.a.Refs, Ref{
		Name:      name,
		Start:     int(n.StartByte()),
		End:       int(n.EndByte()),
		Shorthand: shorthand,
	})
}

// pattern walks a binding pattern, visiting only default values and
// computed keys.
func (w *walker) pattern(n *ts.Node, sc *scope) {
	switch n.Kind() {
	case "identifier", "shorthand_property_identifier_pattern":
		return
	case "assignment_pattern", "object_assignment_pattern":
		if left := n.ChildByFieldName("left"); left != nil {
			w.pattern(left, sc)
		}
		if right := n.ChildByFieldName("right"); right != nil {
			w.walk(right, sc)
		}
		return
	case "pair_pattern":
		if key := n.ChildByFieldName("key"); key != nil && key.Kind() == "computed_property_name" {
			w.walk(key, sc)
		}
		if value := n.ChildByFieldName("value"); value != nil {
			w.pattern(value, sc)
		}
		return
	case "required_parameter", "optional_parameter":
		if p := n.ChildByFieldName("pattern"); p != nil {
			w.pattern(p, sc)
		}
		if v := n.ChildByFieldName("value"); v != nil {
			w.walk(v, sc)
		}
		return
	}
	if skippedKinds[n.Kind()] {
		return
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		w.pattern(n.NamedChild(i), sc)
	}
}

// function opens a scope holding the parameters and every name declared
// in the body outside nested functions.
func (w *walker) function(n *ts.Node, sc *scope) {
	inner := &scope{names: map[string]bool{}, parent: sc}

	kind := n.Kind()
	if kind == "function_expression" || kind == "function" || kind == "generator_function" {
		if name := n.ChildByFieldName("name"); name != nil {
			inner.names[w.s.text(name)] = true
		}
	}
	if kind == "method_definition" {
		if name := n.ChildByFieldName("name"); name != nil && name.Kind() == "computed_property_name" {
			w.walk(name, sc)
		}
	}

	params := n.ChildByFieldName("parameters")
	if params == nil {
		params = n.ChildByFieldName("parameter")
	}
	if params != nil {
		for _, name := range patternNames(params, w.s.src) {
			inner.names[name] = true
		}
	}

	body := n.ChildByFieldName("body")
	if body != nil {
		collectDeclared(body, w.s.src, inner.names)
	}

	if params != nil {
		w.pattern(params, inner)
	}
	if body != nil {
		w.walk(body, inner)
	}
}

// collectDeclared adds var, let, const, function and class names declared
// under n, without entering nested functions.
func collectDeclared(n *ts.Node, src []byte, out map[string]bool) {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "variable_declarator":
			for _, name := range patternNames(c.ChildByFieldName("name"), src) {
				out[name] = true
			}
			continue
		case "function_declaration", "generator_function_declaration", "class_declaration", "abstract_class_declaration":
			if name := c.ChildByFieldName("name"); name != nil {
				out[name.Utf8Text(src)] = true
			}
			continue
		}
		if functionKinds[c.Kind()] || c.Kind() == "class" {
			continue
		}
		collectDeclared(c, src, out)
	}
}

// patternNames returns the names bound by a declaration pattern or
// parameter list.
func patternNames(n *ts.Node, src []byte) []string {
	if n == nil {
		return nil
	}
	switch n.Kind() {
	case "identifier", "shorthand_property_identifier_pattern":
		return []string{n.Utf8Text(src)}
	case "assignment_pattern", "object_assignment_pattern":
		return patternNames(n.ChildByFieldName("left"), src)
	case "pair_pattern":
		return patternNames(n.ChildByFieldName("value"), src)
	case "required_parameter", "optional_parameter":
		return patternNames(n.ChildByFieldName("pattern"), src)
	case "this", "type_annotation", "accessibility_modifier", "comment":
		return nil
	}
	var names []string
	for i := uint(0); i < n.NamedChildCount(); i++ {
		names = append(names, patternNames(n.NamedChild(i), src)...)
	}
	return names
}

// hotRef records import.meta.hot and module.hot member expressions.
func (w *walker) hotRef(n *ts.Node) bool {
	prop := n.ChildByFieldName("property")
	obj := n.ChildByFieldName("object")
	if prop == nil || obj == nil || w.s.text(prop) != "hot" {
		return false
	}
	switch {
	case obj.Kind() == "meta_property":
		w.s.a.ESM = true
	case obj.Kind() == "identifier" && w.s.text(obj) == "module" && !w.s.top["module"]:
	default:
		return false
	}
	w.s.a.HotRefs = append(w.s.a.HotRefs, Range{Start: int(n.StartByte()), End: int(n.EndByte())})
	return true
}

// acceptCall interprets hot.accept(...) and hot.decline().
func (w *walker) acceptCall(n *ts.Node) {
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "member_expression" {
		return
	}
	obj := fn.ChildByFieldName("object")
	prop := fn.ChildByFieldName("property")
	if obj == nil || prop == nil || obj.Kind() != "member_expression" {
		return
	}
	text := w.s.text(obj)
	if text != "import.meta.hot" && text != "module.hot" {
		return
	}

	acc := &w.s.a.Accept
	switch w.s.text(prop) {
	case "decline":
		acc.Declined = true
	case "accept":
		args := n.ChildByFieldName("arguments")
		var first *ts.Node
		if args != nil && args.NamedChildCount() > 0 {
			first = args.NamedChild(0)
		}
		switch {
		case first == nil:
			acc.Self = true
		case first.Kind() == "string":
			acc.Deps = appendUnique(acc.Deps, unquote(w.s.text(first)))
		case first.Kind() == "array":
			for i := uint(0); i < first.NamedChildCount(); i++ {
				if el := first.NamedChild(i); el.Kind() == "string" {
					acc.Deps = appendUnique(acc.Deps, unquote(w.s.text(el)))
				}
			}
		default:
			acc.Self = true
		}
	}
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// pure reports whether evaluating the expression has no observable effect.
func (s *scanner) pure(n *ts.Node) bool {
	switch n.Kind() {
	case "string", "number", "true", "false", "null", "undefined", "regex", "this",
		"identifier", "arrow_function", "function_expression", "function",
		"generator_function", "shorthand_property_identifier", "comment":
		return true
	case "template_string":
		return firstNamed(n, "template_substitution") == nil
	case "class":
		return s.pureClass(n)
	case "parenthesized_expression", "as_expression", "satisfies_expression", "non_null_expression":
		return n.NamedChildCount() > 0 && s.pure(n.NamedChild(0))
	case "unary_expression":
		op := n.ChildByFieldName("operator")
		arg := n.ChildByFieldName("argument")
		return op != nil && arg != nil && s.text(op) != "delete" && s.pure(arg)
	case "binary_expression":
		l, r := n.ChildByFieldName("left"), n.ChildByFieldName("right")
		return l != nil && r != nil && s.pure(l) && s.pure(r)
	case "ternary_expression":
		for i := uint(0); i < n.NamedChildCount(); i++ {
			if !s.pure(n.NamedChild(i)) {
				return false
			}
		}
		return true
	case "array":
		for i := uint(0); i < n.NamedChildCount(); i++ {
			c := n.NamedChild(i)
			if c.Kind() == "spread_element" || !s.pure(c) {
				return false
			}
		}
		return true
	case "object":
		for i := uint(0); i < n.NamedChildCount(); i++ {
			c := n.NamedChild(i)
			switch c.Kind() {
			case "pair":
				key, value := c.ChildByFieldName("key"), c.ChildByFieldName("value")
				if key != nil && key.Kind() == "computed_property_name" && !s.pure(key.NamedChild(0)) {
					return false
				}
				if value != nil && !s.pure(value) {
					return false
				}
			case "method_definition", "shorthand_property_identifier", "comment":
			default:
				return false
			}
		}
		return true
	case "call_expression", "new_expression":
		if !s.pureAnnotated(n) {
			return false
		}
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := uint(0); i < args.NamedChildCount(); i++ {
				if !s.pure(args.NamedChild(i)) {
					return false
				}
			}
		}
		return true
	}
	return false
}

// pureAnnotated reports a preceding /* @__PURE__ */ or /* #__PURE__ */ comment.
func (s *scanner) pureAnnotated(n *ts.Node) bool {
	prev := n.PrevSibling()
	if prev == nil || prev.Kind() != "comment" {
		return false
	}
	text := s.text(prev)
	return strings.Contains(text, "@__PURE__") || strings.Contains(text, "#__PURE__")
}

// pureClass reports whether defining the class runs no user code.
func (s *scanner) pureClass(n *ts.Node) bool {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		c := n.NamedChild(i)
		switch c.Kind() {
		case "decorator":
			return false
		case "class_heritage":
			for j := uint(0); j < c.NamedChildCount(); j++ {
				h := c.NamedChild(j)
				if h.Kind() == "extends_clause" {
					if v := h.ChildByFieldName("value"); v != nil && !s.pure(v) {
						return false
					}
				} else if h.Kind() != "implements_clause" && !s.pure(h) {
					return false
				}
			}
		case "class_body":
			for j := uint(0); j < c.NamedChildCount(); j++ {
				m := c.NamedChild(j)
				switch m.Kind() {
				case "class_static_block":
					return false
				case "public_field_definition", "field_definition":
					if !hasToken(m, "static") {
						continue
					}
					if v := m.ChildByFieldName("value"); v != nil && !s.pure(v) {
						return false
					}
				}
			}
		}
	}
	return true
}
