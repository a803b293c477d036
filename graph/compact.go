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

package graph

import (
	"slices"

	"bennypowers.dev/sheaf/parse"
)

// compact renumbers records in depth-first discovery order from the
// entries, following edges in their sorted order, and drops records no
// entry reaches. It returns the IDs of dropped records.
func (g *Graph) compact() []string {
	newIndex := make([]int, len(g.records))
	for i := range newIndex {
		newIndex[i] = -1
	}
	order := make([]int, 0, len(g.records))

	stack := make([]int, 0, len(g.entries))
	for i := len(g.entries) - 1; i >= 0; i-- {
		stack = append(stack, g.entries[i])
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if newIndex[i] >= 0 {
			continue
		}
		newIndex[i] = len(order)
		order = append(order, i)
		edges := g.edges[i]
		for j := len(edges) - 1; j >= 0; j-- {
			if to := edges[j].To; to >= 0 && newIndex[to] < 0 {
				stack = append(stack, to)
			}
		}
	}

	var removed []string
	for i, r := range g.records {
		if newIndex[i] < 0 {
			removed = append(removed, r.ID)
		}
	}

	records := make([]*Record, len(order))
	edges := make([][]Edge, len(order))
	byID := make(map[string]int, len(order))
	for n, old := range order {
		r := g.records[old]
		r.Index = n
		records[n] = r
		byID[r.ID] = n
		es := make([]Edge, len(g.edges[old]))
		for k, e := range g.edges[old] {
			e.From = n
			if e.To >= 0 {
				e.To = newIndex[e.To]
			}
			es[k] = e
		}
		edges[n] = es
	}
	for k, e := range g.entries {
		g.entries[k] = newIndex[e]
	}
	g.records, g.edges, g.byID = records, edges, byID

	g.in = make([][]int, len(records))
	for from, es := range edges {
		for _, e := range es {
			if e.To >= 0 && !slices.Contains(g.in[e.To], from) {
				g.in[e.To] = append(g.in[e.To], from)
			}
		}
	}
	for i := range g.in {
		slices.Sort(g.in[i])
	}
	return removed
}

// tagCycles finds strongly connected components over static edges with
// Tarjan's algorithm.
func (g *Graph) tagCycles() {
	n := len(g.records)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var (
		stack   []int
		counter int
		comps   [][]int
	)

	var strongConnect func(v int)
	strongConnect = func(v int) {
		index[v], low[v] = counter, counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.edges[v] {
			w := e.To
			if w < 0 || e.Kind != parse.Static {
				continue
			}
			if index[w] < 0 {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 || g.selfImport(v) {
				slices.Sort(comp)
				comps = append(comps, comp)
			}
		}
	}
	for v := range n {
		if index[v] < 0 {
			strongConnect(v)
		}
	}

	slices.SortFunc(comps, func(a, b []int) int { return a[0] - b[0] })
	for _, r := range g.records {
		r.Cycle = -1
	}
	for c, comp := range comps {
		for _, i := range comp {
			g.records[i].Cycle = c
		}
	}
	g.cycles = comps
}

func (g *Graph) selfImport(v int) bool {
	for _, e := range g.edges[v] {
		if e.To == v && e.Kind == parse.Static {
			return true
		}
	}
	return false
}
