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

// Package graph builds and maintains the module graph.
//
// Records live in an arena and edges refer to them by index. A single
// coordinator goroutine owns the graph while a build pass runs; readers
// use it only between passes. After every pass the arena is renumbered in
// discovery order from the entries, so indexes, edges and cycles are the
// same regardless of how work was scheduled.
package graph

import (
	"cmp"
	"slices"

	"bennypowers.dev/sheaf/parse"
	"bennypowers.dev/sheaf/sourcemap"
)

// State is a module's build state.
type State int

const (
	Unbuilt State = iota
	Building
	Built
	Stale
	Error
)

func (s State) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Building:
		return "building"
	case Built:
		return "built"
	case Stale:
		return "stale"
	case Error:
		return "error"
	}
	return "unknown"
}

// Record is one module. Fields are written only by the Builder.
type Record struct {
	Index int
	ID    string
	Path  string

	// External records stand for modules loaded at runtime.
	External  bool
	Specifier string

	PackageName string
	PackageDir  string

	Raw         []byte
	Code        []byte
	Map         *sourcemap.Map
	Unmapped    bool
	ContentType string
	Hash        uint64
	Chain       string

	Analysis    *parse.Analysis
	SideEffects bool

	Entry bool
	// Cycle is the index of the record's strongly connected component in
	// Graph.Cycles, or -1.
	Cycle int

	State State
	Err   error
	// HasBuilt is set once the record has been built successfully; after a
	// failed rebuild the fields above still hold that last good build.
	HasBuilt bool

	// consulted lists the filesystem paths the record's resolutions read.
	consulted []string
}

// Exports returns the names the module exports itself.
func (r *Record) Exports() []string {
	if r.Analysis == nil {
		return nil
	}
	return r.Analysis.ExportNames()
}

// Edge is a dependency of one record on another.
type Edge struct {
	From      int
	Specifier string
	Kind      parse.EdgeKind
	// To is the target record, or -1 when resolution failed.
	To  int
	Err error
}

// Graph is the module graph.
type Graph struct {
	records []*Record
	byID    map[string]int
	edges   [][]Edge
	in      [][]int
	entries []int
	cycles  [][]int
}

func newGraph() *Graph {
	return &Graph{byID: make(map[string]int)}
}

// Len returns the number of records.
func (g *Graph) Len() int { return len(g.records) }

// Record returns the record at index i.
func (g *Graph) Record(i int) *Record { return g.records[i] }

// Records returns all records in index order.
func (g *Graph) Records() []*Record { return g.records }

// Lookup finds a record by module ID.
func (g *Graph) Lookup(id string) (*Record, bool) {
	i, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.records[i], true
}

// LookupPath returns the records built from a file.
func (g *Graph) LookupPath(path string) []*Record {
	var out []*Record
	for _, r := range g.records {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Entries returns the entry record indexes in configured order.
func (g *Graph) Entries() []int { return g.entries }

// Edges returns the outgoing edges of record i, ordered by specifier then
// kind.
func (g *Graph) Edges(i int) []Edge { return g.edges[i] }

// Importers returns the records with an edge to i, in index order.
func (g *Graph) Importers(i int) []int { return g.in[i] }

// Cycles returns the strongly connected components with more than one
// member, or a single self-importing member, over static edges.
func (g *Graph) Cycles() [][]int { return g.cycles }

// Target returns the record an import of specifier with kind resolved to.
func (g *Graph) Target(from int, specifier string, kind parse.EdgeKind) (int, bool) {
	edges := g.edges[from]
	i, ok := slices.BinarySearchFunc(edges, Edge{Specifier: specifier, Kind: kind}, compareEdges)
	if !ok || edges[i].To < 0 {
		return -1, false
	}
	return edges[i].To, true
}

func compareEdges(a, b Edge) int {
	return cmp.Or(cmp.Compare(a.Specifier, b.Specifier), cmp.Compare(a.Kind, b.Kind))
}

// EdgeKind returns the strongest edge kind between two records: static
// before dynamic before async.
func (g *Graph) EdgeKind(from, to int) (parse.EdgeKind, bool) {
	best, found := parse.Async, false
	for _, e := range g.edges[from] {
		if e.To == to && (!found || e.Kind < best) {
			best, found = e.Kind, true
		}
	}
	return best, found
}

// StaticDeps returns the distinct static dependencies of i in edge order.
func (g *Graph) StaticDeps(i int) []int {
	var out []int
	for _, e := range g.edges[i] {
		if e.Kind == parse.Static && e.To >= 0 && !slices.Contains(out, e.To) {
			out = append(out, e.To)
		}
	}
	return out
}

// IDs returns the module IDs of the given records.
func (g *Graph) IDs(indexes []int) []string {
	out := make([]string, len(indexes))
	for i, idx := range indexes {
		out[i] = g.records[idx].ID
	}
	return out
}
