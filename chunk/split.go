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

package chunk

import (
	"cmp"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/parse"
)

// draft is a chunk under construction, indexed by creation order.
type draft struct {
	kind    Kind
	root    int
	closure bitset
	// avail holds the modules every loader of an async chunk already has.
	// top means not yet bounded.
	avail   bitset
	top     bool
	modules bitset

	parents, children, prereqs []int
	dropped                    bool
	// nameHint is the module a shared chunk is named after.
	nameHint int
}

type splitter struct {
	mg        *graph.Graph
	opts      Options
	n         int
	drafts    []*draft
	opened    map[int]int
	workers   map[int]int
	federated map[int]string
	entries   bitset
}

// Split partitions the module graph. It is a pure function of the graph
// and options; errors that affect a single chunk are attached to it.
func Split(mg *graph.Graph, opts Options) *Graph {
	if opts.Strategy == nil {
		opts.Strategy = DefaultStrategy
	}
	s := &splitter{
		mg:        mg,
		opts:      opts,
		n:         mg.Len(),
		opened:    make(map[int]int),
		workers:   make(map[int]int),
		federated: make(map[int]string),
		entries:   newBitset(mg.Len()),
	}
	s.federate()
	s.open()
	s.available()
	s.assign()
	s.extract()
	return s.finish()
}

func (s *splitter) federate() {
	for i, r := range s.mg.Records() {
		if !r.External && r.PackageName != "" && slices.Contains(s.opts.Federated, r.PackageName) {
			s.federated[i] = r.Specifier
		}
	}
}

// bundled reports whether module i is emitted as code.
func (s *splitter) bundled(i int) bool {
	if i < 0 || s.mg.Record(i).External {
		return false
	}
	_, federated := s.federated[i]
	return !federated
}

func (s *splitter) newDraft(kind Kind, root int) int {
	s.drafts = append(s.drafts, &draft{kind: kind, root: root, closure: newBitset(s.n)})
	return len(s.drafts) - 1
}

// open creates a chunk per entry and walks static edges from each chunk
// root, opening async and worker chunks at dynamic and async edges.
func (s *splitter) open() {
	for _, e := range s.mg.Entries() {
		s.entries.add(e)
		if _, ok := s.opened[e]; !ok {
			s.opened[e] = s.newDraft(Entry, e)
		}
	}
	for c := 0; c < len(s.drafts); c++ {
		s.walk(c)
	}
}

func (s *splitter) walk(c int) {
	d := s.drafts[c]
	if !s.bundled(d.root) {
		return
	}
	stack := []int{d.root}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if d.closure.has(m) {
			continue
		}
		d.closure.add(m)

		edges := s.mg.Edges(m)
		var next []int
		for _, e := range edges {
			if !s.bundled(e.To) {
				continue
			}
			switch e.Kind {
			case parse.Static:
				next = append(next, e.To)
			case parse.Dynamic:
				s.link(c, s.asyncChunk(e.To))
			case parse.Async:
				s.link(c, s.workerChunk(e.To))
			}
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
}

func (s *splitter) asyncChunk(root int) int {
	if c, ok := s.opened[root]; ok {
		return c
	}
	c := s.newDraft(Async, root)
	s.opened[root] = c
	return c
}

func (s *splitter) workerChunk(root int) int {
	if c, ok := s.workers[root]; ok {
		return c
	}
	c := s.newDraft(Worker, root)
	s.workers[root] = c
	return c
}

func (s *splitter) link(parent, child int) {
	if parent == child {
		return
	}
	p, c := s.drafts[parent], s.drafts[child]
	if !slices.Contains(p.children, child) {
		p.children = append(p.children, child)
	}
	if !slices.Contains(c.parents, parent) {
		c.parents = append(c.parents, parent)
	}
}

// available computes, for each async chunk, the modules already loaded by
// every chunk that can load it. It is a descending fixpoint: async chunks
// start unbounded and shrink to the intersection over their parents.
func (s *splitter) available() {
	for _, d := range s.drafts {
		d.avail = newBitset(s.n)
		d.top = d.kind == Async
	}
	for changed := true; changed; {
		changed = false
		for _, d := range s.drafts {
			if d.kind != Async {
				continue
			}
			next, top := newBitset(s.n), true
			for _, p := range d.parents {
				pd := s.drafts[p]
				if pd.top {
					continue
				}
				provided := pd.avail.clone()
				provided.union(pd.closure)
				if top {
					next, top = provided, false
				} else {
					next.intersect(provided)
				}
			}
			if top != d.top || !next.equal(d.avail) {
				d.avail, d.top = next, top
				changed = true
			}
		}
	}
}

// assign removes available modules from async chunks. An async chunk whose
// root is already available is dropped: import() of its root needs no load.
func (s *splitter) assign() {
	for _, d := range s.drafts {
		d.modules = d.closure.clone()
		if d.kind != Async {
			continue
		}
		if !d.top {
			d.modules.subtract(d.avail)
		}
		if !d.modules.has(d.root) {
			d.dropped = true
		}
	}
}

// extract moves modules contained in several chunks to shared chunks, one
// per distinct set of containing chunks. Worker chunks run in their own
// context and keep their modules.
func (s *splitter) extract() {
	containing := make([][]int, s.n)
	roots := newBitset(s.n)
	for c, d := range s.drafts {
		if d.dropped || d.kind == Worker {
			continue
		}
		roots.add(d.root)
		for _, m := range d.modules.members() {
			containing[m] = append(containing[m], c)
		}
	}

	var candidates []Candidate
	for m, cs := range containing {
		if len(cs) < 2 || roots.has(m) {
			continue
		}
		r := s.mg.Record(m)
		size := len(r.Code)
		candidates = append(candidates, Candidate{
			Module: m,
			ID:     r.ID,
			Chunks: cs,
			Size:   size,
			Weight: size * (len(cs) - 1),
		})
	}
	slices.SortFunc(candidates, func(a, b Candidate) int {
		return cmp.Or(cmp.Compare(b.Weight, a.Weight), cmp.Compare(a.ID, b.ID))
	})

	groups := make(map[string]int)
	for _, cand := range s.opts.Strategy.Select(candidates) {
		key := chunkSetKey(cand.Chunks)
		sc, ok := groups[key]
		if !ok {
			sc = s.newDraft(Shared, -1)
			s.drafts[sc].modules = newBitset(s.n)
			s.drafts[sc].parents = slices.Clone(cand.Chunks)
			s.drafts[sc].nameHint = cand.Module
			groups[key] = sc
		}
		s.drafts[sc].modules.add(cand.Module)
		for _, c := range cand.Chunks {
			d := s.drafts[c]
			d.modules.remove(cand.Module)
			if !slices.Contains(d.prereqs, sc) {
				d.prereqs = append(d.prereqs, sc)
			}
		}
	}
}

func chunkSetKey(chunks []int) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func (s *splitter) finish() *Graph {
	out := &Graph{
		Federated: s.federated,
		byModule:  make(map[int][]int),
		opened:    make(map[int]int),
		workers:   make(map[int]int),
	}
	remap := make([]int, len(s.drafts))
	for c, d := range s.drafts {
		remap[c] = -1
		if d.dropped {
			continue
		}
		remap[c] = len(out.Chunks)
		out.Chunks = append(out.Chunks, &Chunk{Index: remap[c], Kind: d.kind, Root: d.root})
	}
	relink := func(list []int) []int {
		var res []int
		for _, c := range list {
			if r := remap[c]; r >= 0 && !slices.Contains(res, r) {
				res = append(res, r)
			}
		}
		slices.Sort(res)
		return res
	}

	names := make(map[string]bool)
	for c, d := range s.drafts {
		if d.dropped {
			continue
		}
		ch := out.Chunks[remap[c]]
		ch.Parents = relink(d.parents)
		ch.Children = relink(d.children)
		ch.Prerequisites = relink(d.prereqs)
		ch.Modules = s.order(d.modules, d.root)
		ch.Name = uniqueName(names, s.chunkName(d))
		for _, m := range ch.Modules {
			out.byModule[m] = append(out.byModule[m], ch.Index)
		}
		switch d.kind {
		case Entry, Async:
			out.opened[d.root] = ch.Index
		case Worker:
			out.workers[d.root] = ch.Index
		}
		ch.Externals = s.externals(ch.Modules)
		ch.Err = s.check(ch)
	}
	return out
}

func (s *splitter) chunkName(d *draft) string {
	if d.kind == Shared {
		return "shared-" + s.baseName(d.nameHint)
	}
	return s.baseName(d.root)
}

// baseName is the file name without extension, or the directory name for
// index files.
func (s *splitter) baseName(m int) string {
	path := s.mg.Record(m).Path
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "index" {
		if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) {
			name = dir
		}
	}
	return name
}

func uniqueName(used map[string]bool, name string) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", name, n)
	}
	used[candidate] = true
	return candidate
}

func (s *splitter) externals(modules []int) []string {
	var out []string
	for _, m := range modules {
		for _, e := range s.mg.Edges(m) {
			if e.To < 0 {
				continue
			}
			if r := s.mg.Record(e.To); r.External {
				out = append(out, r.Specifier)
			} else if spec, ok := s.federated[e.To]; ok {
				out = append(out, spec)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (s *splitter) check(ch *Chunk) error {
	var errs []error
	if ch.Kind != Entry {
		for _, m := range ch.Modules {
			if s.entries.has(m) {
				errs = append(errs, &Error{Kind: EntryInNonEntryChunk, Chunk: ch.Name, Module: s.mg.Record(m).ID})
			}
		}
	}
	if s.opts.ImportMap != nil {
		for _, spec := range ch.Externals {
			if _, ok := s.opts.ImportMap.Resolve(spec, ""); !ok {
				errs = append(errs, &Error{Kind: UnresolvedExternal, Chunk: ch.Name, Module: spec})
			}
		}
	}
	return errors.Join(errs...)
}

// order lists members dependencies first. Members of a strongly connected
// group are emitted together, in discovery order, after the group's
// outside dependencies.
func (s *splitter) order(members bitset, root int) []int {
	visited := newBitset(s.n)
	cycles := s.mg.Cycles()
	out := make([]int, 0, len(members)*8)

	var visit func(m int)
	visit = func(m int) {
		if !members.has(m) || visited.has(m) {
			return
		}
		group := []int{m}
		if c := s.mg.Record(m).Cycle; c >= 0 {
			group = cycles[c]
		}
		for _, x := range group {
			if members.has(x) {
				visited.add(x)
			}
		}
		for _, x := range group {
			if !members.has(x) {
				continue
			}
			for _, dep := range s.mg.StaticDeps(x) {
				if !slices.Contains(group, dep) {
					visit(dep)
				}
			}
		}
		for _, x := range group {
			if members.has(x) {
				out = append(out, x)
			}
		}
	}
	if root >= 0 {
		visit(root)
	}
	for _, m := range members.members() {
		visit(m)
	}
	return out
}
