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
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/semaphore"

	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/parse"
	"bennypowers.dev/sheaf/resolve"
	"bennypowers.dev/sheaf/workerpool"
)

// Logger is an interface for logging messages while building.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Metrics receives build measurements.
type Metrics interface {
	ModuleBuilt(result string)
}

// maxOpenFiles bounds concurrent module reads.
const maxOpenFiles = 64

// Builder creates and updates a Graph. Calls to Ingest and UpdateSubgraph
// must not overlap.
type Builder struct {
	fs         fs.FileSystem
	resolver   *resolve.Resolver
	pipeline   *loader.Pipeline
	pool       *workerpool.Pool
	logger     Logger
	metrics    Metrics
	conditions []string
	io         *semaphore.Weighted

	graph *Graph
}

// NewBuilder creates a builder. The pool runs parsing.
func NewBuilder(fsys fs.FileSystem, resolver *resolve.Resolver, pipeline *loader.Pipeline, pool *workerpool.Pool) *Builder {
	return &Builder{
		fs:       fsys,
		resolver: resolver,
		pipeline: pipeline,
		pool:     pool,
		io:       semaphore.NewWeighted(maxOpenFiles),
		graph:    newGraph(),
	}
}

// WithLogger returns the builder with logging enabled.
func (b *Builder) WithLogger(logger Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics returns the builder reporting to m.
func (b *Builder) WithMetrics(m Metrics) *Builder {
	b.metrics = m
	return b
}

// WithConditions sets the conditions imports are resolved under. Nil uses
// the resolver's defaults.
func (b *Builder) WithConditions(conditions []string) *Builder {
	b.conditions = conditions
	return b
}

// Graph returns the last committed graph.
func (b *Builder) Graph() *Graph {
	return b.graph
}

// Delta lists the module IDs a pass touched.
type Delta struct {
	Added     []string
	Updated   []string
	Removed   []string
	Unchanged []string
	Errored   []string
	// ExportsRemoved lists updated modules that no longer export a name
	// they exported before.
	ExportsRemoved []string
}

// Empty reports whether the pass changed nothing.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0 && len(d.Errored) == 0
}

// Changed returns the added and updated IDs.
func (d Delta) Changed() []string {
	return append(slices.Clone(d.Added), d.Updated...)
}

// Ingest builds the graph reachable from entry files. An entry that cannot
// be resolved, or a static import that fails on a path from an entry,
// aborts the build with an *UnresolvedError.
func (b *Builder) Ingest(ctx context.Context, entries []string) (*Graph, error) {
	work := newGraph()
	var errs []error
	var roots []int
	for _, entry := range entries {
		res, err := b.resolver.Resolve(entry, filepath.Dir(entry), b.conditions)
		if err != nil {
			errs = append(errs, &UnresolvedError{Specifier: entry, Err: err})
			continue
		}
		i, _ := work.add(res)
		if !slices.Contains(work.entries, i) {
			work.entries = append(work.entries, i)
			work.records[i].Entry = true
			roots = append(roots, i)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	p := &pass{b: b, g: work}
	if err := p.run(ctx, roots, roots...); err != nil {
		return nil, err
	}
	p.finish()
	b.graph = work

	if err := errors.Join(work.entryFailures()...); err != nil {
		return work, err
	}
	return work, nil
}

// UpdateSubgraph rebuilds the modules read from the changed paths. Paths
// that appeared, disappeared or are package manifests also rebuild the
// modules whose resolutions consulted them; a module file rewritten in
// place leaves its importers' resolutions alone. The committed graph is
// replaced only if the pass completes; a cancelled pass leaves it
// untouched.
func (b *Builder) UpdateSubgraph(ctx context.Context, changed []string) (Delta, error) {
	var moved []string
	for _, path := range changed {
		if b.rewritten(path) {
			b.debug("%s rewritten in place", path)
			continue
		}
		moved = append(moved, path)
		n := b.resolver.Invalidate(path)
		b.debug("invalidated %d resolutions for %s", n, path)
	}

	work := b.graph.clone()
	var roots []int
	for i, r := range work.records {
		if r.External {
			continue
		}
		if slices.Contains(changed, r.Path) || affected(r, moved) {
			roots = append(roots, i)
		}
	}

	p := &pass{b: b, g: work}
	if err := p.run(ctx, roots); err != nil {
		return Delta{}, err
	}
	p.finish()
	b.graph = work
	return p.delta, nil
}

// rewritten reports whether path is a module file that existed at the
// last build and still exists, so resolutions that found it still hold.
func (b *Builder) rewritten(path string) bool {
	if filepath.Base(path) == "package.json" || !fs.IsFile(b.fs, path) {
		return false
	}
	for _, r := range b.graph.LookupPath(path) {
		if !r.External && r.HasBuilt && !errors.Is(r.Err, iofs.ErrNotExist) {
			return true
		}
	}
	return false
}

func affected(r *Record, changed []string) bool {
	for _, path := range changed {
		for _, c := range r.consulted {
			if c == path || strings.HasPrefix(c, path+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

func (b *Builder) debug(format string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(format, args...)
	}
}

// add returns the record for a resolution, creating it if needed.
func (g *Graph) add(res resolve.Resolved) (int, bool) {
	id := res.ID
	if res.External {
		id = resolve.ExternalID(res.Specifier)
	}
	if i, ok := g.byID[id]; ok {
		return i, false
	}
	r := &Record{
		Index:       len(g.records),
		ID:          id,
		Path:        res.Path,
		External:    res.External,
		Specifier:   res.Specifier,
		PackageName: res.PackageName,
		PackageDir:  res.PackageDir,
		Cycle:       -1,
		SideEffects: true,
	}
	if r.External {
		r.State, r.HasBuilt = Built, true
	}
	g.records = append(g.records, r)
	g.edges = append(g.edges, nil)
	g.byID[id] = r.Index
	return r.Index, true
}

// clone copies the graph so a pass can mutate it privately.
func (g *Graph) clone() *Graph {
	out := &Graph{
		records: make([]*Record, len(g.records)),
		byID:    make(map[string]int, len(g.byID)),
		edges:   make([][]Edge, len(g.edges)),
		entries: slices.Clone(g.entries),
	}
	for i, r := range g.records {
		c := *r
		out.records[i] = &c
		out.edges[i] = slices.Clone(g.edges[i])
	}
	for id, i := range g.byID {
		out.byID[id] = i
	}
	return out
}

// processed is the outcome of building one module off the coordinator.
type processed struct {
	index     int
	raw       []byte
	result    loader.Result
	analysis  *parse.Analysis
	deps      []dep
	consulted []string
	sideFx    bool
	err       error
}

type dep struct {
	specifier string
	kind      parse.EdgeKind
	resolved  resolve.Resolved
	err       error
}

// pass is one build over a private graph.
type pass struct {
	b       *Builder
	g       *Graph
	pending int
	results chan processed
	delta   Delta
	added   map[int]bool
	prior   map[int]priorState
}

type priorState struct {
	hash     uint64
	hasBuilt bool
	exports  []string
	edges    []Edge
}

// run builds roots and everything newly discovered from them. Records in
// created count as added.
func (p *pass) run(ctx context.Context, roots []int, created ...int) error {
	p.results = make(chan processed)
	p.added = make(map[int]bool)
	p.prior = make(map[int]priorState)
	for _, i := range created {
		p.added[i] = true
	}
	for _, i := range roots {
		p.schedule(ctx, i)
	}

	var cancelled error
	for p.pending > 0 {
		res := <-p.results
		p.pending--
		if cancelled != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			cancelled = err
			continue
		}
		p.commit(ctx, res)
	}
	return cancelled
}

func (p *pass) schedule(ctx context.Context, i int) {
	r := p.g.records[i]
	if _, seen := p.prior[i]; seen {
		return
	}
	p.prior[i] = priorState{hash: r.Hash, hasBuilt: r.HasBuilt, exports: r.Exports(), edges: p.g.edges[i]}
	r.State = Building
	p.pending++
	path, id := r.Path, r.ID
	go func() {
		p.results <- p.b.process(ctx, i, id, path)
	}()
}

// process reads, transforms, parses and resolves one module.
func (b *Builder) process(ctx context.Context, index int, id, path string) processed {
	out := processed{index: index}
	if err := b.io.Acquire(ctx, 1); err != nil {
		out.err = err
		return out
	}
	raw, err := b.fs.ReadFile(path)
	b.io.Release(1)
	if err != nil {
		out.err = fmt.Errorf("failed to read %s: %w", path, err)
		return out
	}
	out.raw = raw

	res, err := b.pipeline.Transform(ctx, path, raw)
	if err != nil {
		out.err = err
		return out
	}
	if !loader.IsScript(res.ContentType) {
		out.err = &loader.Failure{Path: path, Diagnostic: fmt.Sprintf("loader chain produced %s content, not a module", res.ContentType)}
		return out
	}
	out.result = res

	dialect := parse.TSX
	if res.ContentType == "ts" {
		dialect = parse.TypeScript
	}
	v, err := b.pool.Do(ctx, func(ctx context.Context) (any, error) {
		return parse.Script(res.Code, dialect)
	})
	if err != nil {
		out.err = fmt.Errorf("failed to parse %s: %w", path, err)
		return out
	}
	a := v.(*parse.Analysis)
	out.analysis = a
	if len(a.SyntaxErrors) > 0 {
		b.warn("%s:%d:%d: syntax error", path, a.SyntaxErrors[0].Line, a.SyntaxErrors[0].Column)
	}

	fromDir := filepath.Dir(path)
	seen := make(map[string]bool)
	for _, imp := range a.Imports {
		key := fmt.Sprintf("%s\x00%d", imp.Specifier, imp.Kind)
		if seen[key] {
			continue
		}
		seen[key] = true
		conds := b.conditions
		if imp.Form == parse.FormRequire {
			conds = requireConditions(b.resolverConditions())
		}
		resolved, err := b.resolver.Resolve(imp.Specifier, fromDir, conds)
		out.deps = append(out.deps, dep{specifier: imp.Specifier, kind: imp.Kind, resolved: resolved, err: err})
		out.consulted = append(out.consulted, b.resolver.Consulted(imp.Specifier, fromDir, conds)...)
	}
	slices.Sort(out.consulted)
	out.consulted = slices.Compact(out.consulted)

	out.sideFx = b.sideEffects(path, a, res)
	return out
}

func (b *Builder) resolverConditions() []string {
	if b.conditions != nil {
		return b.conditions
	}
	return b.resolver.Conditions()
}

// requireConditions swaps "import" for "require".
func requireConditions(conds []string) []string {
	out := make([]string, 0, len(conds))
	for _, c := range conds {
		if c == "import" {
			c = "require"
		}
		out = append(out, c)
	}
	return out
}

func (b *Builder) warn(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warning(format, args...)
	}
}

// commit applies a processed module to the pass graph. It runs only on the
// coordinator goroutine.
func (p *pass) commit(ctx context.Context, res processed) {
	g := p.g
	r := g.records[res.index]
	prior := p.prior[res.index]

	if res.err != nil {
		r.State, r.Err = Error, res.err
		p.delta.Errored = append(p.delta.Errored, r.ID)
		p.metric("error")
		p.b.warn("%s: %v", r.ID, res.err)
		return
	}

	r.Raw = res.raw
	r.Code = res.result.Code
	r.Map = res.result.Map
	r.Unmapped = res.result.Unmapped
	r.ContentType = res.result.ContentType
	r.Hash = res.result.Hash
	r.Chain = res.result.Chain
	r.Analysis = res.analysis
	r.SideEffects = res.sideFx
	r.consulted = res.consulted
	r.State, r.Err, r.HasBuilt = Built, nil, true

	edges := make([]Edge, 0, len(res.deps))
	for _, d := range res.deps {
		e := Edge{From: res.index, Specifier: d.specifier, Kind: d.kind, To: -1, Err: d.err}
		if d.err == nil {
			to, created := g.add(d.resolved)
			e.To = to
			if created {
				p.added[to] = true
				if !g.records[to].External {
					p.schedule(ctx, to)
				}
			}
		}
		edges = append(edges, e)
	}
	slices.SortFunc(edges, compareEdges)
	g.edges[res.index] = edges

	switch {
	case p.added[res.index]:
		p.metric("added")
	case prior.hasBuilt && prior.hash == r.Hash && sameEdges(prior.edges, edges):
		p.delta.Unchanged = append(p.delta.Unchanged, r.ID)
		p.metric("unchanged")
	default:
		p.delta.Updated = append(p.delta.Updated, r.ID)
		p.metric("updated")
		if removedAny(prior.exports, r.Exports()) {
			p.delta.ExportsRemoved = append(p.delta.ExportsRemoved, r.ID)
		}
	}
}

func (p *pass) metric(result string) {
	if p.b.metrics != nil {
		p.b.metrics.ModuleBuilt(result)
	}
}

func sameEdges(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Specifier != b[i].Specifier || a[i].Kind != b[i].Kind || a[i].To != b[i].To || (a[i].Err == nil) != (b[i].Err == nil) {
			return false
		}
	}
	return true
}

func removedAny(before, after []string) bool {
	for _, name := range before {
		if !slices.Contains(after, name) {
			return true
		}
	}
	return false
}

// finish renumbers the graph, drops unreachable records and tags cycles.
func (p *pass) finish() {
	for i := range p.added {
		p.delta.Added = append(p.delta.Added, p.g.records[i].ID)
	}
	p.delta.Removed = p.g.compact()
	p.g.tagCycles()

	gone := func(id string) bool {
		_, ok := p.g.byID[id]
		return !ok
	}
	for _, list := range []*[]string{&p.delta.Added, &p.delta.Updated, &p.delta.Unchanged, &p.delta.Errored, &p.delta.ExportsRemoved} {
		*list = slices.DeleteFunc(*list, gone)
	}
	// a new module that failed is reported once, as errored
	p.delta.Added = slices.DeleteFunc(p.delta.Added, func(id string) bool {
		return slices.Contains(p.delta.Errored, id)
	})
	for _, list := range []*[]string{&p.delta.Added, &p.delta.Updated, &p.delta.Removed, &p.delta.Unchanged, &p.delta.Errored, &p.delta.ExportsRemoved} {
		slices.Sort(*list)
		*list = slices.Compact(*list)
	}
}
