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

package hmr

import (
	"cmp"
	"fmt"
	"slices"

	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/parse"
)

// Plan is the result of propagating a change through the graph.
type Plan struct {
	// Full is set when no accept boundary contains the change.
	Full   bool
	Reason string
	// Order lists the stale modules to re-execute, dependencies first.
	Order []int
	// Boundaries are importers that accept updates of their dependencies.
	Boundaries []Boundary
}

// Boundary is an importer accepting updates of some dependencies.
type Boundary struct {
	Module int
	Deps   []BoundaryDep
}

// BoundaryDep is one accepted dependency, by the specifier the importer
// used.
type BoundaryDep struct {
	Specifier string
	Module    int
}

// Propagate marks changed modules stale and walks importers until each
// path meets an accept boundary. A module accepting itself, an importer
// accepting the module, and a dynamic import all stop the walk; reaching
// an entry, a declined module or a worker boundary requires a full
// reload. Modules in added that stale modules import statically join the
// order so the patch defines them.
func Propagate(mg *graph.Graph, changed, added []int) Plan {
	var plan Plan
	stale := make(map[int]bool)
	boundaries := make(map[int]map[string]int)

	queue := slices.Clone(changed)
	slices.Sort(queue)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		if stale[m] {
			continue
		}
		stale[m] = true
		r := mg.Record(m)

		var accept parse.Accept
		if r.Analysis != nil {
			accept = r.Analysis.Accept
		}
		switch {
		case accept.Declined:
			return fullReload("%s declined hot updates", r.ID)
		case accept.Self:
			continue
		case r.Entry:
			return fullReload("%s reached entry %s without an accept boundary", idOf(mg, changed), r.ID)
		}

		for _, imp := range mg.Importers(m) {
			for _, e := range mg.Edges(imp) {
				if e.To != m {
					continue
				}
				switch e.Kind {
				case parse.Dynamic:
				case parse.Async:
					return fullReload("%s runs in a worker", r.ID)
				default:
					if accepts(mg, imp, m) {
						if boundaries[imp] == nil {
							boundaries[imp] = make(map[string]int)
						}
						boundaries[imp][e.Specifier] = m
						continue
					}
					queue = append(queue, imp)
				}
			}
		}
	}

	// added modules are defined by the patch when a stale module needs them
	seen := make(map[int]bool)
	var walk func(int)
	walk = func(i int) {
		for _, d := range mg.StaticDeps(i) {
			if seen[d] || !slices.Contains(added, d) {
				continue
			}
			seen[d] = true
			stale[d] = true
			walk(d)
		}
	}
	for m := range stale {
		walk(m)
	}

	plan.Order = dependencyOrder(mg, stale)
	for imp, deps := range boundaries {
		b := Boundary{Module: imp}
		for spec, m := range deps {
			b.Deps = append(b.Deps, BoundaryDep{Specifier: spec, Module: m})
		}
		slices.SortFunc(b.Deps, func(x, y BoundaryDep) int { return cmp.Compare(x.Specifier, y.Specifier) })
		plan.Boundaries = append(plan.Boundaries, b)
	}
	slices.SortFunc(plan.Boundaries, func(x, y Boundary) int { return cmp.Compare(x.Module, y.Module) })
	return plan
}

func fullReload(format string, args ...any) Plan {
	return Plan{Full: true, Reason: fmt.Sprintf(format, args...)}
}

func idOf(mg *graph.Graph, changed []int) string {
	if len(changed) == 0 {
		return "change"
	}
	return mg.Record(changed[0]).ID
}

// accepts reports whether imp's accept list names a specifier that
// resolves to m.
func accepts(mg *graph.Graph, imp, m int) bool {
	a := mg.Record(imp).Analysis
	if a == nil {
		return false
	}
	for _, spec := range a.Accept.Deps {
		if t, ok := mg.Target(imp, spec, parse.Static); ok && t == m {
			return true
		}
	}
	return false
}

// dependencyOrder lists set in post-order over static dependencies,
// visiting roots by index.
func dependencyOrder(mg *graph.Graph, set map[int]bool) []int {
	roots := make([]int, 0, len(set))
	for m := range set {
		roots = append(roots, m)
	}
	slices.Sort(roots)

	var order []int
	visited := make(map[int]bool)
	var visit func(int)
	visit = func(m int) {
		visited[m] = true
		for _, d := range mg.StaticDeps(m) {
			if set[d] && !visited[d] {
				visit(d)
			}
		}
		order = append(order, m)
	}
	for _, m := range roots {
		if !visited[m] {
			visit(m)
		}
	}
	return order
}
