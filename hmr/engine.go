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
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/graph"
)

// DefaultWindow is how long notifications are collected into one pass.
const DefaultWindow = 50 * time.Millisecond

// Logger is an interface for logging messages during rebuilds.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Metrics receives one observation per rebuild pass. result is one of
// "update", "full-reload", "error", "noop" or "cancelled".
type Metrics interface {
	Pass(result string, d time.Duration)
}

// Options configures an Engine.
type Options struct {
	// Window is the coalescing window. Zero means DefaultWindow.
	Window time.Duration
	Split  chunk.Options
	// Reload lists paths outside the module graph whose change reloads
	// every client, such as HTML pages.
	Reload []string
	// Refresh runs before re-emitting, with the changed paths, so callers
	// can reread inputs the emitter holds.
	Refresh func(paths []string) error
	// OnOutput receives every successful emission.
	OnOutput func(*codegen.Output)
}

// Engine owns the module graph between rebuilds. Builds happen one at a
// time on the goroutine running Run; notifications may come from
// anywhere.
type Engine struct {
	builder *graph.Builder
	emitter *codegen.Emitter
	opts    Options
	logger  Logger
	metrics Metrics

	signal chan struct{}
	qmu    sync.Mutex
	queued []string

	mu      sync.RWMutex
	mg      *graph.Graph
	out     *codegen.Output
	cg      *chunk.Graph
	ids     map[string]string
	overlay map[string]graph.State
	carry   carried
}

// carried holds changes from an errored pass that clients have not seen.
type carried struct {
	updated, added, removed []string
}

// New creates an engine over builder and emitter. The emitter should have
// an HMR path configured so emitted chunks carry the hot runtime.
func New(builder *graph.Builder, emitter *codegen.Emitter, opts Options) *Engine {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Engine{
		builder: builder,
		emitter: emitter,
		opts:    opts,
		signal:  make(chan struct{}, 1),
		ids:     make(map[string]string),
	}
}

// WithLogger returns the engine with logging enabled.
func (e *Engine) WithLogger(logger Logger) *Engine {
	e.logger = logger
	return e
}

// WithMetrics returns the engine reporting to m.
func (e *Engine) WithMetrics(m Metrics) *Engine {
	e.metrics = m
	return e
}

// Start runs the initial build.
func (e *Engine) Start(ctx context.Context, entries []string) (*codegen.Output, error) {
	mg, err := e.builder.Ingest(ctx, entries)
	if err != nil {
		return nil, err
	}
	return e.emit(mg)
}

// Output returns the latest emission.
func (e *Engine) Output() *codegen.Output {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.out
}

// Graphs returns the committed module graph and its chunk graph.
func (e *Engine) Graphs() (*graph.Graph, *chunk.Graph) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mg, e.cg
}

// State returns the build state of module id: Stale or Building while a
// pass is pending on it, otherwise the state its last pass left.
func (e *Engine) State(id string) (graph.State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.overlay[id]; ok {
		return s, true
	}
	if e.mg == nil {
		return graph.Unbuilt, false
	}
	r, ok := e.mg.Lookup(id)
	if !ok {
		return graph.Unbuilt, false
	}
	return r.State, true
}

// Notify reports changed paths. It never blocks.
func (e *Engine) Notify(paths ...string) {
	if len(paths) == 0 {
		return
	}
	e.qmu.Lock()
	e.queued = append(e.queued, paths...)
	e.qmu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) drain() []string {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	out := e.queued
	e.queued = nil
	return out
}

// inflight is a running pass.
type inflight struct {
	cancel context.CancelFunc
	paths  []string
	// stale holds the paths of every module the pass may re-execute.
	stale map[string]bool
	done  chan result
}

type result struct {
	updates   []Update
	cancelled bool
}

// Run processes notifications until ctx ends, calling publish with each
// update. Notifications arriving within the window are merged. One that
// touches the stale set of a running pass cancels it; the pass restarts
// with the union once it has stopped.
func (e *Engine) Run(ctx context.Context, publish func(Update)) error {
	var (
		pending = make(map[string]bool)
		timer   *time.Timer
		fire    <-chan time.Time
		running *inflight
	)
	arm := func() {
		if fire == nil && len(pending) > 0 {
			timer = time.NewTimer(e.opts.Window)
			fire = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var done <-chan result
		if running != nil {
			done = running.done
		}
		select {
		case <-ctx.Done():
			if running != nil {
				running.cancel()
				<-running.done
			}
			return ctx.Err()

		case <-e.signal:
			paths := e.drain()
			for _, p := range paths {
				pending[p] = true
			}
			if running != nil && running.overlaps(paths) {
				e.debug("cancelling pass over %d paths", len(running.paths))
				running.cancel()
			}
			arm()

		case <-fire:
			fire, timer = nil, nil
			if running == nil && len(pending) > 0 {
				paths := slices.Sorted(maps.Keys(pending))
				clear(pending)
				running = e.begin(ctx, paths)
			}

		case res := <-done:
			finished := running
			running = nil
			if res.cancelled {
				for _, p := range finished.paths {
					pending[p] = true
				}
			}
			for _, u := range res.updates {
				publish(u)
			}
			arm()
		}
	}
}

func (f *inflight) overlaps(paths []string) bool {
	for _, p := range paths {
		if f.stale[p] {
			return true
		}
	}
	return false
}

// begin marks the stale set and starts a pass over paths.
func (e *Engine) begin(ctx context.Context, paths []string) *inflight {
	pctx, cancel := context.WithCancel(ctx)
	f := &inflight{cancel: cancel, paths: paths, stale: make(map[string]bool), done: make(chan result, 1)}
	for _, p := range paths {
		f.stale[p] = true
	}

	e.mu.RLock()
	mg := e.mg
	e.mu.RUnlock()
	overlay := make(map[string]graph.State)
	var changed []int
	for _, p := range paths {
		if mg == nil {
			break
		}
		for _, r := range mg.LookupPath(p) {
			changed = append(changed, r.Index)
			overlay[r.ID] = graph.Building
		}
	}
	if mg != nil && len(changed) > 0 {
		for _, m := range Propagate(mg, changed, nil).Order {
			r := mg.Record(m)
			f.stale[r.Path] = true
			if _, ok := overlay[r.ID]; !ok {
				overlay[r.ID] = graph.Stale
			}
		}
	}
	e.mu.Lock()
	e.overlay = overlay
	e.mu.Unlock()

	go func() {
		defer cancel()
		f.done <- e.pass(pctx, paths)
	}()
	return f
}

// pass rebuilds paths and computes the resulting updates.
func (e *Engine) pass(ctx context.Context, paths []string) (res result) {
	start := time.Now()
	outcome := "noop"
	defer func() {
		e.mu.Lock()
		e.overlay = nil
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.Pass(outcome, time.Since(start))
		}
	}()

	delta, err := e.builder.UpdateSubgraph(ctx, paths)
	if err != nil {
		if ctx.Err() != nil {
			outcome = "cancelled"
			return result{cancelled: true}
		}
		outcome = "error"
		return result{updates: []Update{{Type: TypeError, Message: err.Error()}}}
	}
	e.debug("pass over %d paths: %d updated, %d added, %d removed, %d errored",
		len(paths), len(delta.Updated), len(delta.Added), len(delta.Removed), len(delta.Errored))

	mg := e.builder.Graph()
	e.mu.Lock()
	e.mg = mg
	carry := e.carry
	e.mu.Unlock()
	updated := union(carry.updated, delta.Updated)
	added := union(carry.added, delta.Added)
	removed := union(carry.removed, delta.Removed)

	if len(delta.Errored) > 0 {
		e.mu.Lock()
		e.carry = carried{updated: updated, added: added, removed: removed}
		e.mu.Unlock()
		outcome = "error"
		return result{updates: []Update{{Type: TypeError, Message: errorMessage(mg, delta.Errored)}}}
	}
	e.mu.Lock()
	e.carry = carried{}
	e.mu.Unlock()

	reload := e.reloads(paths)
	if len(updated) == 0 && len(added) == 0 && len(removed) == 0 && !reload {
		return result{}
	}

	if e.opts.Refresh != nil {
		if err := e.opts.Refresh(paths); err != nil {
			outcome = "error"
			return result{updates: []Update{{Type: TypeError, Message: err.Error()}}}
		}
	}
	e.mu.RLock()
	previous := maps.Clone(e.ids)
	e.mu.RUnlock()
	if _, err := e.emit(mg); err != nil {
		outcome = "error"
		return result{updates: []Update{{Type: TypeError, Message: err.Error()}}}
	}

	removedIDs := make([]string, 0, len(removed))
	for _, id := range removed {
		if rid, ok := previous[id]; ok {
			removedIDs = append(removedIDs, rid)
		}
	}
	slices.Sort(removedIDs)

	changed := indexes(mg, updated)
	full := func(reason string) result {
		outcome = "full-reload"
		e.debug("full reload: %s", reason)
		return result{updates: []Update{{
			Type:           TypeFullReload,
			UpdatedModules: e.runtimeIDs(changed),
			RemovedModules: removedIDs,
			Message:        reason,
		}}}
	}
	switch {
	case reload:
		return full("page changed")
	case len(delta.ExportsRemoved) > 0:
		return full(fmt.Sprintf("exports removed from %s", strings.Join(delta.ExportsRemoved, ", ")))
	}

	plan := Propagate(mg, changed, indexes(mg, added))
	if plan.Full {
		return full(plan.Reason)
	}

	accepted := make([]codegen.Accepted, 0, len(plan.Boundaries))
	boundaries := make([]string, 0, len(plan.Boundaries))
	for _, b := range plan.Boundaries {
		a := codegen.Accepted{ID: e.runtimeID(b.Module)}
		for _, d := range b.Deps {
			a.Deps = append(a.Deps, codegen.AcceptedDep{Specifier: d.Specifier, Module: e.runtimeID(d.Module)})
		}
		accepted = append(accepted, a)
		boundaries = append(boundaries, a.ID)
	}
	patch, err := e.emitter.Patch(plan.Order, removedIDs, accepted)
	if err != nil {
		outcome = "error"
		return result{updates: []Update{{Type: TypeError, Message: err.Error()}}}
	}
	outcome = "update"
	return result{updates: []Update{{
		Type:           TypeUpdate,
		UpdatedModules: e.runtimeIDs(plan.Order),
		RemovedModules: removedIDs,
		Boundaries:     boundaries,
		Patch:          patch,
	}}}
}

// emit splits and renders mg and records the runtime IDs.
func (e *Engine) emit(mg *graph.Graph) (*codegen.Output, error) {
	cg := chunk.Split(mg, e.opts.Split)
	out, err := e.emitter.Emit(cg, mg)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, mg.Len())
	for i, r := range mg.Records() {
		if rid, ok := e.emitter.RuntimeID(i); ok {
			ids[r.ID] = rid
		}
	}
	e.mu.Lock()
	e.mg, e.out, e.cg, e.ids = mg, out, cg, ids
	e.mu.Unlock()
	if e.opts.OnOutput != nil {
		e.opts.OnOutput(out)
	}
	return out, nil
}

func (e *Engine) reloads(paths []string) bool {
	for _, p := range paths {
		if slices.Contains(e.opts.Reload, p) {
			return true
		}
	}
	return false
}

func (e *Engine) runtimeID(i int) string {
	id, _ := e.emitter.RuntimeID(i)
	return id
}

func (e *Engine) runtimeIDs(order []int) []string {
	out := make([]string, 0, len(order))
	for _, i := range order {
		out = append(out, e.runtimeID(i))
	}
	return out
}

func (e *Engine) debug(format string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(format, args...)
	}
}

func indexes(mg *graph.Graph, ids []string) []int {
	var out []int
	for _, id := range ids {
		if r, ok := mg.Lookup(id); ok && !r.External {
			out = append(out, r.Index)
		}
	}
	return out
}

func union(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func errorMessage(mg *graph.Graph, ids []string) string {
	var errs []error
	for _, id := range ids {
		if r, ok := mg.Lookup(id); ok && r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, r.Err))
		}
	}
	if len(errs) == 0 {
		return "build failed"
	}
	return errors.Join(errs...).Error()
}
