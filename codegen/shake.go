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
	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/parse"
)

// usage records which modules, exports and statements survive tree
// shaking.
type usage struct {
	included []bool
	// all is set when every export of the module is used.
	all   []bool
	names []map[string]bool
	// live holds per-statement liveness; nil keeps every statement.
	live [][]bool
}

func (u *usage) used(m int, name string) bool {
	return u.all[m] || u.names[m][name]
}

func (u *usage) isLive(m, stmt int) bool {
	return u.live[m] == nil || u.live[m][stmt]
}

type shaker struct {
	mg     *graph.Graph
	cg     *chunk.Graph
	u      *usage
	queue  []int
	queued []bool
}

// shake propagates used exports from chunk roots to a fixpoint. Entries
// and async roots keep all their exports. When disabled every bundled
// module is kept whole.
func shake(mg *graph.Graph, cg *chunk.Graph, enabled bool) *usage {
	n := mg.Len()
	u := &usage{
		included: make([]bool, n),
		all:      make([]bool, n),
		names:    make([]map[string]bool, n),
		live:     make([][]bool, n),
	}
	s := &shaker{mg: mg, cg: cg, u: u, queued: make([]bool, n)}
	if !enabled {
		for i := range n {
			if s.bundled(i) {
				u.included[i], u.all[i] = true, true
			}
		}
		return u
	}

	for _, c := range cg.Chunks {
		if c.Root >= 0 {
			s.mark(c.Root, "*")
		}
	}
	for len(s.queue) > 0 {
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.queued[m] = false
		s.visit(m)
	}
	return u
}

func (s *shaker) bundled(i int) bool {
	return !s.mg.Record(i).External && len(s.cg.ChunksOf(i)) > 0
}

func (s *shaker) mark(m int, name string) {
	u := s.u
	changed := false
	if !u.included[m] {
		u.included[m] = true
		changed = true
	}
	switch {
	case name == "*":
		if !u.all[m] {
			u.all[m] = true
			changed = true
		}
	case name != "" && !u.used(m, name):
		if u.names[m] == nil {
			u.names[m] = make(map[string]bool)
		}
		u.names[m][name] = true
		changed = true
	}
	if changed && !s.queued[m] {
		s.queued[m] = true
		s.queue = append(s.queue, m)
	}
}

// follow marks the target of imp as using name. An empty name only pulls
// in a target with side effects.
func (s *shaker) follow(from int, imp parse.Import, name string) {
	t, ok := s.mg.Target(from, imp.Specifier, imp.Kind)
	if !ok || !s.bundled(t) {
		return
	}
	if name == "" && !s.mg.Record(t).SideEffects {
		return
	}
	s.mark(t, name)
}

func (s *shaker) visit(m int) {
	r := s.mg.Record(m)
	a := r.Analysis
	if a == nil {
		return
	}
	if a.CommonJS || !a.ESM {
		for _, imp := range a.Imports {
			s.follow(m, imp, "*")
		}
		return
	}

	live := make([]bool, len(a.Statements))
	bindings := a.ImportsOf()
	declaredBy := make(map[string][]int)
	for i, st := range a.Statements {
		if st.Kind == parse.StmtImport || st.Kind == parse.StmtType {
			continue
		}
		for _, name := range st.Declares {
			declaredBy[name] = append(declaredBy[name], i)
		}
	}

	var stack []int
	// reached holds the module-scope names live statements depend on.
	reached := make(map[string]bool)
	keep := func(i int) {
		if !live[i] {
			live[i] = true
			stack = append(stack, i)
			for _, name := range a.Statements[i].Declares {
				reached[name] = true
			}
		}
	}
	use := func(name string) {
		reached[name] = true
		if b, ok := bindings[name]; ok {
			s.follow(m, a.Imports[b.Import], b.Imported)
			return
		}
		for _, i := range declaredBy[name] {
			keep(i)
		}
	}

	if r.SideEffects {
		for i, st := range a.Statements {
			if st.SideEffects && prunable(st.Kind) {
				keep(i)
			}
		}
	}

	own := make(map[string]bool, len(a.Exports))
	for _, e := range a.Exports {
		own[e.Name] = true
		if !s.u.used(m, e.Name) {
			continue
		}
		if e.IsReExport() {
			s.follow(m, a.Imports[e.Import], e.Imported)
			continue
		}
		use(e.Local)
	}
	for _, si := range a.StarExports {
		imp := a.Imports[si]
		s.follow(m, imp, "")
		if s.u.all[m] {
			s.follow(m, imp, "*")
			continue
		}
		for name := range s.u.names[m] {
			if name != "default" && !own[name] {
				s.follow(m, imp, name)
			}
		}
	}

	// Impure statements that touch a reached binding (Foo.prototype.x = ...,
	// cfg.debug = true) stay, even in a module without side effects.
	for {
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, ref := range a.Statements[i].References {
				use(ref)
			}
		}
		for i, st := range a.Statements {
			if live[i] || !st.SideEffects || !prunable(st.Kind) {
				continue
			}
			for _, ref := range st.References {
				if reached[ref] {
					keep(i)
					break
				}
			}
		}
		if len(stack) == 0 {
			break
		}
	}

	for _, imp := range a.Imports {
		switch imp.Form {
		case parse.FormImport, parse.FormReExport, parse.FormReExportAll:
			s.follow(m, imp, "")
		case parse.FormDynamic, parse.FormRequire, parse.FormURL:
			if imp.Statement < 0 || live[imp.Statement] {
				s.follow(m, imp, "*")
			}
		}
	}
	s.u.live[m] = live
}

// prunable reports whether liveness decides if a statement of kind k is
// emitted. Imports, export lists and type-only syntax are handled apart.
func prunable(k parse.StatementKind) bool {
	switch k {
	case parse.StmtImport, parse.StmtReExport, parse.StmtExportList, parse.StmtType:
		return false
	}
	return true
}
