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

// Package chunk partitions a module graph into output chunks along entry
// and dynamic-import boundaries and extracts shared modules.
package chunk

import (
	"errors"
	"slices"

	"bennypowers.dev/sheaf/importmap"
)

// Kind is a chunk's runtime role.
type Kind int

const (
	// Entry chunks are loaded by a page or a script tag.
	Entry Kind = iota
	// Async chunks are loaded by import().
	Async
	// Worker chunks start a worker and run in their own context.
	Worker
	// Shared chunks hold modules extracted from several chunks and load
	// before every chunk they were extracted from.
	Shared
)

func (k Kind) String() string {
	switch k {
	case Entry:
		return "entry"
	case Async:
		return "async"
	case Worker:
		return "worker"
	case Shared:
		return "shared"
	}
	return "unknown"
}

// Chunk is one output unit.
type Chunk struct {
	Index int
	// Name is unique within the chunk graph.
	Name string
	Kind Kind
	// Root is the module the chunk was opened for, or -1 for shared chunks.
	Root int
	// Modules lists module indexes in emission order.
	Modules []int

	// Parents are the chunks that load this one: importers across a
	// dynamic or worker boundary, or the chunks a shared chunk was
	// extracted from.
	Parents []int
	// Children are the async and worker chunks this chunk loads.
	Children []int
	// Prerequisites are the shared chunks that load before this chunk.
	Prerequisites []int

	// Externals lists the runtime specifiers of external and federated
	// modules the chunk imports, sorted.
	Externals []string

	Err error
}

// Contains reports whether the chunk holds module i.
func (c *Chunk) Contains(i int) bool {
	return slices.Contains(c.Modules, i)
}

// Options configures splitting.
type Options struct {
	// Strategy picks shared modules. Nil uses DefaultStrategy.
	Strategy SharedStrategy
	// Federated names packages excluded from the bundle and loaded at
	// runtime from the host's import map.
	Federated []string
	// ImportMap, when set, must map every external a chunk imports.
	ImportMap *importmap.ImportMap
}

// Graph is the chunk graph.
type Graph struct {
	Chunks []*Chunk

	// Federated maps module indexes excluded from the bundle to the
	// specifier they are imported by at runtime.
	Federated map[int]string

	byModule map[int][]int
	opened   map[int]int
	workers  map[int]int
}

// ChunksOf returns the chunks containing module i, ascending.
func (g *Graph) ChunksOf(i int) []int {
	return g.byModule[i]
}

// Opened returns the entry or async chunk whose root is module i.
func (g *Graph) Opened(i int) (*Chunk, bool) {
	c, ok := g.opened[i]
	if !ok {
		return nil, false
	}
	return g.Chunks[c], true
}

// WorkerChunk returns the worker chunk started for module i.
func (g *Graph) WorkerChunk(i int) (*Chunk, bool) {
	c, ok := g.workers[i]
	if !ok {
		return nil, false
	}
	return g.Chunks[c], true
}

// LoadOrder returns the chunk indexes to load, in order, to run chunk c:
// its prerequisites and then c itself.
func (g *Graph) LoadOrder(c int) []int {
	out := slices.Clone(g.Chunks[c].Prerequisites)
	return append(out, c)
}

// Errors returns the errors attached to chunks.
func (g *Graph) Errors() []error {
	var out []error
	for _, c := range g.Chunks {
		if c.Err != nil {
			out = append(out, c.Err)
		}
	}
	return out
}

// Validate checks that every chunk is reachable from an entry chunk.
func (g *Graph) Validate() error {
	seen := make([]bool, len(g.Chunks))
	var queue []int
	for _, c := range g.Chunks {
		if c.Kind == Entry {
			seen[c.Index] = true
			queue = append(queue, c.Index)
		}
	}
	for len(queue) > 0 {
		c := g.Chunks[queue[0]]
		queue = queue[1:]
		for _, next := range append(slices.Clone(c.Children), c.Prerequisites...) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var errs []error
	for i, ok := range seen {
		if !ok {
			errs = append(errs, &orphanError{name: g.Chunks[i].Name})
		}
	}
	return errors.Join(errs...)
}

type orphanError struct{ name string }

func (e *orphanError) Error() string { return "chunk " + e.name + ": " + ErrOrphanChunk.Error() }
func (e *orphanError) Unwrap() error { return ErrOrphanChunk }
