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

package codegen

import (
	"cmp"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"bennypowers.dev/sheaf/parse"
	"bennypowers.dev/sheaf/sourcemap"
)

// piece is one module wrapped as a registry factory.
type piece struct {
	// factory is the function expression; its body starts on its second
	// line so the module's lines keep their relative positions.
	factory string
	lines   int
	m       *sourcemap.Map
	// refs lists chunk indexes whose file names the factory mentions.
	refs []int
}

// define wraps the factory in a registration statement.
func (p piece) define(id string) string {
	return Global + ".define(" + quote(id) + ", " + p.factory + ");\n"
}

type edit struct {
	start, end int
	text       string
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// member returns the expression reading name from a namespace variable.
func member(ns, name string) string {
	switch {
	case name == "*":
		return ns
	case identifier.MatchString(name):
		return ns + "." + name
	}
	return ns + "[" + quote(name) + "]"
}

// blank keeps only the line breaks of s.
func blank(s string) string {
	return strings.Repeat("\n", strings.Count(s, "\n"))
}

// spaces replaces every character but line breaks with a space.
func spaces(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return r
		}
		return ' '
	}, s)
}

func importVar(i int) string {
	return "__i" + strconv.Itoa(i)
}

// rewrite wraps module m. Import declarations become registry lookups
// hoisted into a one-line preamble, references to imported bindings read
// through the namespace so they stay live, and dead statements are
// replaced by their line breaks.
func (x *emission) rewrite(m int) piece {
	r := x.mg.Record(m)
	a := r.Analysis
	if a == nil {
		msg := "module failed to build"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return piece{
			factory: "function () { throw new Error(" + quote("sheaf: "+x.ids[m]+": "+msg) + "); }",
			lines:   1,
		}
	}

	var refs []int
	vars := make(map[int]string)
	var imports, stars strings.Builder
	for i, imp := range a.Imports {
		switch imp.Form {
		case parse.FormImport, parse.FormReExport, parse.FormReExportAll:
		default:
			continue
		}
		t, ok := x.mg.Target(m, imp.Specifier, imp.Kind)
		if !ok {
			vars[i] = importVar(i)
			fmt.Fprintf(&imports, "var %s = __r.m(%s); ", vars[i], quote(imp.Specifier))
			continue
		}
		if !x.external(t) && !x.u.included[t] {
			continue
		}
		vars[i] = importVar(i)
		fn := "__r"
		if x.commonJS(t) {
			fn = "__r.c"
		}
		fmt.Fprintf(&imports, "var %s = %s(%s); ", vars[i], fn, quote(x.ids[t]))
	}
	for _, si := range a.StarExports {
		if v, ok := vars[si]; ok {
			fmt.Fprintf(&stars, "__r.s(__x, %s); ", v)
		}
	}

	bindings := a.ImportsOf()
	bound := func(local string) (string, bool) {
		b, ok := bindings[local]
		if !ok {
			return "", false
		}
		v, ok := vars[b.Import]
		if !ok {
			return "undefined", true
		}
		return member(v, b.Imported), true
	}

	params := "__m, __x, __r, __hot"
	var pre strings.Builder
	if a.CommonJS {
		params = "module, exports, __r, __hot"
	} else if a.ESM {
		var getters []string
		for _, e := range a.Exports {
			if !x.u.used(m, e.Name) {
				continue
			}
			var expr string
			if e.IsReExport() {
				v, ok := vars[e.Import]
				if !ok {
					continue
				}
				expr = member(v, e.Imported)
			} else if b, ok := bound(e.Local); ok {
				expr = b
			} else {
				expr = e.Local
			}
			getters = append(getters, quote(e.Name)+": () => "+expr)
		}
		fmt.Fprintf(&pre, "__r.d(__x, {%s}); ", strings.Join(getters, ", "))
	}
	pre.WriteString(imports.String())
	pre.WriteString(stars.String())

	code := string(r.Code)
	var edits []edit
	for i, st := range a.Statements {
		switch {
		case st.Kind == parse.StmtImport, st.Kind == parse.StmtReExport,
			st.Kind == parse.StmtExportList, st.Kind == parse.StmtType,
			!x.u.isLive(m, i):
			edits = append(edits, edit{st.Start, st.End, blank(code[st.Start:st.End])})
		case st.Kind == parse.StmtExportDecl, st.Kind == parse.StmtExportDefaultDecl:
			edits = append(edits, edit{st.Start, st.DeclStart, spaces(code[st.Start:st.DeclStart])})
		case st.Kind == parse.StmtExportDefaultExpr:
			edits = append(edits, edit{st.Start, st.DeclStart, "const " + parse.DefaultExportLocal + " = "})
			if !strings.HasSuffix(strings.TrimSpace(code[st.Start:st.End]), ";") {
				edits = append(edits, edit{st.End, st.End, ";"})
			}
		}
	}

	for _, ref := range a.Refs {
		expr, ok := bound(ref.Name)
		if !ok {
			continue
		}
		if ref.Shorthand {
			expr = ref.Name + ": " + expr
		}
		edits = append(edits, edit{ref.Start, ref.End, expr})
	}
	for _, h := range a.HotRefs {
		edits = append(edits, edit{h.Start, h.End, "__hot"})
	}

	for _, imp := range a.Imports {
		t, ok := x.mg.Target(m, imp.Specifier, imp.Kind)
		var text string
		switch imp.Form {
		case parse.FormDynamic:
			switch {
			case !ok:
				text = "Promise.reject(new Error(" + quote("sheaf: cannot find module "+imp.Specifier) + "))"
			case x.external(t):
				continue
			default:
				files := []string{}
				if c, opened := x.cg.Opened(t); opened {
					files = append(files, chunkPlaceholder(c.Index))
					refs = append(refs, c.Index)
				}
				list, _ := json.Marshal(files)
				text = fmt.Sprintf("__r.l(%s, %s)", quote(x.ids[t]), list)
			}
		case parse.FormRequire:
			if !ok {
				text = "__r.m(" + quote(imp.Specifier) + ")"
			} else {
				text = "__r(" + quote(x.ids[t]) + ")"
			}
		case parse.FormURL:
			if !ok {
				continue
			}
			c, isWorker := x.cg.WorkerChunk(t)
			if !isWorker {
				continue
			}
			refs = append(refs, c.Index)
			text = "new URL(" + quote("./"+chunkPlaceholder(c.Index)) + ", import.meta.url)"
		default:
			continue
		}
		edits = append(edits, edit{imp.Start, imp.End, text})
	}

	body := apply(code, edits)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	factory := "function (" + params + ") { " + strings.TrimSuffix(pre.String(), " ") + "\n" + body + "}"

	p := piece{
		factory: factory,
		lines:   strings.Count(factory, "\n") + 1,
		refs:    refs,
	}
	if x.e.opts.SourceMaps && !r.Unmapped {
		if r.Map != nil {
			p.m = r.Map
		} else {
			p.m = sourcemap.Identity(x.rel(r.Path), r.Raw)
		}
	}
	return p
}

// apply performs non-overlapping edits. Where edits overlap the earliest
// and widest wins; insertions at an offset go before replacements there.
func apply(code string, edits []edit) string {
	slices.SortStableFunc(edits, func(a, b edit) int {
		return cmp.Or(
			cmp.Compare(a.start, b.start),
			cmp.Compare(min(a.end-a.start, 1), min(b.end-b.start, 1)),
			cmp.Compare(b.end, a.end),
		)
	})
	var b strings.Builder
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		b.WriteString(code[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(code[pos:])
	return b.String()
}
