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

package hmr_test

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/hmr"
	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/resolve"
	"bennypowers.dev/sheaf/testutil"
	"bennypowers.dev/sheaf/workerpool"
)

type harness struct {
	fx      *testutil.GraphFixture
	eng     *hmr.Engine
	out     *codegen.Output
	updates chan hmr.Update
	passes  *countingMetrics
}

type countingMetrics struct {
	results chan string
}

func (m *countingMetrics) Pass(result string, _ time.Duration) {
	m.results <- result
}

func startEngine(t *testing.T, files map[string]string, entries ...string) *harness {
	t.Helper()
	return runEngine(t, testutil.NewGraphFixture(t, files), entries...)
}

func runEngine(t *testing.T, fx *testutil.GraphFixture, entries ...string) *harness {
	t.Helper()
	emitter, err := codegen.New(codegen.Options{Root: "/app", HMRPath: codegen.DefaultHMRPath})
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		fx:      fx,
		updates: make(chan hmr.Update, 16),
		passes:  &countingMetrics{results: make(chan string, 16)},
	}
	h.eng = hmr.New(fx.Builder, emitter, hmr.Options{Window: 20 * time.Millisecond}).WithMetrics(h.passes)

	ctx, cancel := context.WithCancel(context.Background())
	h.out, err = h.eng.Start(ctx, entries)
	if err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.eng.Run(ctx, func(u hmr.Update) { h.updates <- u })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) change(path, content string) {
	h.fx.FS.AddFile(path, content, 0o644)
	h.eng.Notify(path)
}

func (h *harness) next(t *testing.T) hmr.Update {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an update")
		return hmr.Update{}
	}
}

func (h *harness) pass(t *testing.T) string {
	t.Helper()
	select {
	case r := <-h.passes.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pass")
		return ""
	}
}

var splitApp = map[string]string{
	"/app/a.js": "import { b } from \"./b.js\";\nconst c = import(\"./c.js\");\nb(c);\n",
	"/app/b.js": "export function b(x) { return x; }\n",
	"/app/c.js": "export const c = 1;\n",
}

func TestEngineUpdatesDynamicModule(t *testing.T) {
	h := startEngine(t, splitApp, "/app/a.js")

	h.change("/app/c.js", "export const c = 2;\n")
	u := h.next(t)
	if u.Type != hmr.TypeUpdate {
		t.Fatalf("Type = %s (%s), want update", u.Type, u.Message)
	}
	if !slices.Equal(u.UpdatedModules, []string{"c.js"}) {
		t.Errorf("UpdatedModules = %v, want [c.js]", u.UpdatedModules)
	}
	if !strings.Contains(u.Patch, "const c = 2") || strings.Contains(u.Patch, `"a.js": function`) {
		t.Errorf("unexpected patch:\n%s", u.Patch)
	}
	if h.eng.Output() == h.out {
		t.Error("expected a new emission")
	}
}

func TestEngineIgnoresIdenticalContent(t *testing.T) {
	h := startEngine(t, splitApp, "/app/a.js")

	h.change("/app/c.js", "export const c = 1;\n")
	if r := h.pass(t); r != "noop" {
		t.Fatalf("pass result = %s, want noop", r)
	}
	h.change("/app/c.js", "export const c = 3;\n")
	if u := h.next(t); !slices.Equal(u.UpdatedModules, []string{"c.js"}) {
		t.Errorf("first update = %+v", u)
	}
}

func TestEngineFullReload(t *testing.T) {
	t.Run("entry reached", func(t *testing.T) {
		h := startEngine(t, splitApp, "/app/a.js")
		h.change("/app/b.js", "export function b(x) { return [x]; }\n")
		u := h.next(t)
		if u.Type != hmr.TypeFullReload || !slices.Equal(u.UpdatedModules, []string{"b.js"}) {
			t.Errorf("got %+v", u)
		}
	})

	t.Run("export removed", func(t *testing.T) {
		h := startEngine(t, splitApp, "/app/a.js")
		h.change("/app/c.js", "export const d = 1;\n")
		u := h.next(t)
		if u.Type != hmr.TypeFullReload || !strings.Contains(u.Message, "exports removed") {
			t.Errorf("got %+v", u)
		}
	})
}

func TestEngineCoalescesNotifications(t *testing.T) {
	files := map[string]string{
		"/app/a.js": "import(\"./c.js\");\nimport(\"./d.js\");\n",
		"/app/c.js": "export const c = 1;\n",
		"/app/d.js": "export const d = 1;\n",
	}
	h := startEngine(t, files, "/app/a.js")

	h.change("/app/c.js", "export const c = 2;\n")
	h.change("/app/d.js", "export const d = 2;\n")
	u := h.next(t)
	if !slices.Equal(u.UpdatedModules, []string{"c.js", "d.js"}) {
		t.Errorf("UpdatedModules = %v, want both modules in one update", u.UpdatedModules)
	}
}

// gateStage holds the first transform of a file marked "hold" until the
// pass is cancelled.
type gateStage struct {
	calls   atomic.Int32
	entered chan struct{}
}

func (g *gateStage) Name() string         { return "gate" }
func (g *gateStage) Heavy() bool          { return true }
func (g *gateStage) PreservesLines() bool { return true }

func (g *gateStage) Transform(ctx context.Context, in loader.Input) (loader.Output, error) {
	if strings.Contains(string(in.Content), "hold") && g.calls.Add(1) == 1 {
		close(g.entered)
		<-ctx.Done()
		return loader.Output{}, ctx.Err()
	}
	return loader.Output{Content: in.Content}, nil
}

func TestEngineRestartsOverlappingPass(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/a.js":    "import(\"./c.js\");\n",
		"/app/c.js":    "import { s } from \"./slow.js\";\nexport const c = s;\n",
		"/app/slow.js": "export const s = 1;\n",
	})
	gate := &gateStage{entered: make(chan struct{})}
	pool := workerpool.New(2)
	rules := append([]loader.Rule{{Pattern: "**/slow.js", Stages: []string{"gate", "js"}}}, loader.DefaultRules...)
	pipeline, err := loader.New("/", rules, append(loader.Builtins(nil), gate), pool)
	if err != nil {
		t.Fatal(err)
	}
	r := resolve.New(mfs, nil)
	h := runEngine(t, &testutil.GraphFixture{
		FS:       mfs,
		Resolver: r,
		Pipeline: pipeline,
		Pool:     pool,
		Builder:  graph.NewBuilder(mfs, r, pipeline, pool),
	}, "/app/a.js")

	h.change("/app/slow.js", "export const s = 2; // hold\n")
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("pass never reached the gated stage")
	}
	// c.js is in the running pass's stale set.
	h.change("/app/c.js", "import { s } from \"./slow.js\";\nexport const c = s + 1;\n")

	if r := h.pass(t); r != "cancelled" {
		t.Fatalf("first pass result = %s, want cancelled", r)
	}
	if r := h.pass(t); r != "update" {
		t.Fatalf("restarted pass result = %s, want update", r)
	}
	u := h.next(t)
	if u.Type != hmr.TypeUpdate {
		t.Fatalf("Type = %s (%s), want update", u.Type, u.Message)
	}
	for _, id := range []string{"slow.js", "c.js"} {
		if !slices.Contains(u.UpdatedModules, id) {
			t.Errorf("UpdatedModules = %v, missing %s", u.UpdatedModules, id)
		}
	}
	if !strings.Contains(u.Patch, "s + 1") || !strings.Contains(u.Patch, "const s = 2") {
		t.Errorf("patch should carry both changes:\n%s", u.Patch)
	}
	select {
	case extra := <-h.updates:
		t.Errorf("unexpected second update %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineRemovesModules(t *testing.T) {
	files := map[string]string{
		"/app/a.js": "import(\"./c.js\");\n",
		"/app/c.js": "import { e } from \"./e.js\";\nexport const c = e;\n",
		"/app/e.js": "export const e = 1;\n",
	}
	h := startEngine(t, files, "/app/a.js")

	h.change("/app/c.js", "export const c = 1;\n")
	u := h.next(t)
	if u.Type != hmr.TypeUpdate {
		t.Fatalf("Type = %s (%s)", u.Type, u.Message)
	}
	if !slices.Equal(u.RemovedModules, []string{"e.js"}) {
		t.Errorf("RemovedModules = %v", u.RemovedModules)
	}
	if !strings.Contains(u.Patch, `removed: ["e.js"]`) {
		t.Errorf("patch does not drop e.js:\n%s", u.Patch)
	}
}

func TestEngineErrorKeepsLastBuild(t *testing.T) {
	files := map[string]string{
		"/app/a.js":      "import(\"./data.json\");\n",
		"/app/data.json": `{"v": 1}`,
	}
	h := startEngine(t, files, "/app/a.js")
	mg, _ := h.eng.Graphs()
	id := mg.LookupPath("/app/data.json")[0].ID

	h.change("/app/data.json", `{"v": `)
	u := h.next(t)
	if u.Type != hmr.TypeError || !strings.Contains(u.Message, "data.json") {
		t.Fatalf("got %+v", u)
	}
	if s, _ := h.eng.State(id); s != graph.Error {
		t.Errorf("State = %s, want error", s)
	}
	rec, _ := h.fx.Builder.Graph().Lookup(id)
	if !rec.HasBuilt || !strings.Contains(string(rec.Code), "1") {
		t.Errorf("last good build lost: %q", rec.Code)
	}

	h.change("/app/data.json", `{"v": 2}`)
	u = h.next(t)
	if u.Type != hmr.TypeUpdate || !slices.Equal(u.UpdatedModules, []string{"data.json"}) {
		t.Errorf("after fix got %+v", u)
	}
	if s, _ := h.eng.State(id); s != graph.Built {
		t.Errorf("State = %s, want built", s)
	}
}

func TestEngineReloadPaths(t *testing.T) {
	fx := testutil.NewGraphFixture(t, splitApp)
	emitter, err := codegen.New(codegen.Options{Root: "/app", HMRPath: codegen.DefaultHMRPath})
	if err != nil {
		t.Fatal(err)
	}
	var refreshed []string
	eng := hmr.New(fx.Builder, emitter, hmr.Options{
		Window:  5 * time.Millisecond,
		Reload:  []string{"/app/index.html"},
		Refresh: func(paths []string) error { refreshed = paths; return nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := eng.Start(ctx, []string{"/app/a.js"}); err != nil {
		t.Fatal(err)
	}
	updates := make(chan hmr.Update, 1)
	go func() { _ = eng.Run(ctx, func(u hmr.Update) { updates <- u }) }()

	eng.Notify("/app/index.html")
	select {
	case u := <-updates:
		if u.Type != hmr.TypeFullReload {
			t.Errorf("Type = %s", u.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	if !slices.Equal(refreshed, []string{"/app/index.html"}) {
		t.Errorf("Refresh saw %v", refreshed)
	}
}
