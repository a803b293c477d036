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

package bundler_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"bennypowers.dev/sheaf/bundler"
	"bennypowers.dev/sheaf/cdn"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/hmr"
	"bennypowers.dev/sheaf/internal/mapfs"
	"bennypowers.dev/sheaf/testutil"
)

var splitApp = map[string]string{
	"/app/src/a.js": "import { b } from \"./b.js\";\nconst c = import(\"./c.js\");\nb(c);\n",
	"/app/src/b.js": "export function b(x) { return x; }\n",
	"/app/src/c.js": "export const c = 1;\n",
}

// offline fails every fetch, so tests notice unexpected network use.
type offline struct{}

func (offline) Fetch(_ context.Context, url string) ([]byte, error) {
	return nil, &cdn.FetchError{URL: url, StatusCode: 503}
}

func config(entries ...string) bundler.Config {
	cfg := bundler.DefaultConfig()
	cfg.Root = "/app"
	cfg.Entries = entries
	cfg.HMR.Window = 20 * time.Millisecond
	return cfg
}

func newBundler(t *testing.T, mfs *mapfs.MapFileSystem, cfg bundler.Config) *bundler.Bundler {
	t.Helper()
	b, err := bundler.New(cfg, mfs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b.WithFetcher(offline{}).WithFileWatching(false)
}

func TestBuildSplitsDynamicImport(t *testing.T) {
	mfs := testutil.NewTreeFS(t, splitApp)
	res, err := newBundler(t, mfs, config("src/a.js")).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(res.Chunks.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(res.Chunks.Chunks))
	}
	entry, async := res.Chunks.Chunks[0], res.Chunks.Chunks[1]
	if len(entry.Modules) != 2 || len(async.Modules) != 1 {
		t.Errorf("chunk sizes = %d, %d; want 2, 1", len(entry.Modules), len(async.Modules))
	}

	files := res.Manifest.Entries["src/a.js"]
	if len(files) != 2 {
		t.Fatalf("manifest entry = %v", files)
	}
	for _, f := range append(files, "manifest.json") {
		if !mfs.Exists("/app/dist/" + f) {
			t.Errorf("%s was not written", f)
		}
	}
	if graph.HasErrors(res.Diagnostics) {
		t.Errorf("unexpected diagnostics: %v", res.Diagnostics)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	build := func() []string {
		cfg := config("src/a.js")
		cfg.OutDir = ""
		res, err := newBundler(t, testutil.NewTreeFS(t, splitApp), cfg).Build(context.Background())
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		var out []string
		for _, a := range res.Assets {
			out = append(out, a.Name+"\n"+string(a.Content))
		}
		return out
	}
	if first, second := build(), build(); !slices.Equal(first, second) {
		t.Error("two builds of the same tree differ")
	}
}

func TestBuildMissingImport(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/src/main.js": "import \"./lib.js\";\n",
		"/app/src/lib.js":  "import { x } from \"./missing.js\";\nconsole.log(x);\n",
	})
	_, err := newBundler(t, mfs, config("src/main.js")).Build(context.Background())
	if err == nil {
		t.Fatal("expected the build to fail")
	}
	unresolved := graph.AsUnresolved(err)
	if len(unresolved) != 1 {
		t.Fatalf("expected one unresolved import, got %v", err)
	}
	u := unresolved[0]
	if u.Specifier != "./missing.js" {
		t.Errorf("Specifier = %q", u.Specifier)
	}
	if len(u.Chain) != 2 || !strings.HasPrefix(u.Chain[0], "/app/src/main.js") {
		t.Errorf("Chain = %v, want main.js -> lib.js", u.Chain)
	}
	if mfs.Exists("/app/dist/manifest.json") {
		t.Error("a failed build wrote output")
	}
}

func TestBuildHTMLPage(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/index.html":  `<html><head><script type="module" src="/src/main.js"></script></head><body></body></html>`,
		"/app/src/main.js": "console.log(\"hi\");\n",
	})
	res, err := newBundler(t, mfs, config("index.html")).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	files := res.Manifest.Entries["src/main.js"]
	if len(files) == 0 {
		t.Fatalf("page script was not built: %v", res.Manifest.Entries)
	}
	page, err := mfs.ReadFile("/app/dist/index.html")
	if err != nil {
		t.Fatalf("page was not written: %v", err)
	}
	want := `src="/` + files[len(files)-1] + `"`
	if !strings.Contains(string(page), want) {
		t.Errorf("missing %s in:\n%s", want, page)
	}
}

func TestBuildFederation(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/src/main.js":                         "import { html } from \"lit\";\nimport { h } from \"preact\";\nconsole.log(html, h);\n",
		"/app/node_modules/preact/package.json":    `{"name":"preact","version":"10.0.0","module":"dist/preact.mjs"}`,
		"/app/node_modules/preact/dist/preact.mjs": "export function h() {}\n",
	})
	cfg := config("src/main.js")
	cfg.OutDir = ""
	cfg.Federation.Shared = []cdn.Shared{
		{Name: "lit", URL: "https://cdn.example.com/lit.js"},
		{Name: "preact", RequiredVersion: "^11.0.0"},
	}
	res, err := newBundler(t, mfs, cfg).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	im := res.Manifest.ImportMap
	if im == nil {
		t.Fatal("manifest has no import map")
	}
	if got := im.Imports["lit"]; got != "https://cdn.example.com/lit.js" {
		t.Errorf("lit = %q", got)
	}
	if got := im.Imports["preact"]; got != "https://esm.sh/preact@10.0.0/dist/preact.mjs" {
		t.Errorf("preact = %q", got)
	}

	entry := res.Chunks.Chunks[0]
	if !slices.Equal(entry.Externals, []string{"lit", "preact"}) {
		t.Errorf("Externals = %v", entry.Externals)
	}
	for _, m := range entry.Modules {
		if strings.Contains(res.Graph.Record(m).Path, "node_modules") {
			t.Errorf("federated module %s was bundled", res.Graph.Record(m).Path)
		}
	}

	var mismatch *cdn.VersionMismatch
	found := slices.ContainsFunc(res.Diagnostics, func(d graph.Diagnostic) bool {
		return d.Severity == graph.SeverityWarning && errors.As(d.Err, &mismatch)
	})
	if !found || mismatch.Installed != "10.0.0" {
		t.Errorf("expected a version mismatch warning, got %v", res.Diagnostics)
	}
}

func TestBuildAliasesAndDefines(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/src/main.js":       "import { v } from \"@lib/values.js\";\nconsole.log(v, process.env.NODE_ENV);\n",
		"/app/src/lib/values.js": "export const v = 1;\n",
	})
	cfg := config("src/main.js")
	cfg.OutDir = ""
	cfg.Resolve.Aliases = []string{"@lib=/app/src/lib"}
	cfg.Define = []string{`process.env.NODE_ENV="production"`}
	res, err := newBundler(t, mfs, cfg).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Graph.Len() != 2 {
		t.Fatalf("expected 2 modules, got %d", res.Graph.Len())
	}
	file := res.Manifest.Entries["src/main.js"]
	var code string
	for _, a := range res.Assets {
		if a.Name == file[len(file)-1] {
			code = string(a.Content)
		}
	}
	if !strings.Contains(code, `"production"`) || strings.Contains(code, "process.env.NODE_ENV") {
		t.Errorf("define was not applied:\n%s", code)
	}
}

func TestBuildWithoutEntries(t *testing.T) {
	b := newBundler(t, testutil.NewTreeFS(t, splitApp), config())
	if _, err := b.Build(context.Background()); !errors.Is(err, bundler.ErrNoEntries) {
		t.Errorf("expected ErrNoEntries, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/src/main.js":                   "",
		"/app/node_modules/dep/package.json": `{"name":"dep","exports":{".":{"browser":"./browser.js","default":"./node.js"}}}`,
		"/app/node_modules/dep/browser.js":   "",
		"/app/node_modules/dep/node.js":      "",
	})
	b := newBundler(t, mfs, config())

	res, consulted, err := b.Resolve("dep", "src")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Path != "/app/node_modules/dep/browser.js" || res.PackageName != "dep" {
		t.Errorf("resolved %+v", res)
	}
	if !slices.Contains(consulted, "/app/node_modules/dep/package.json") {
		t.Errorf("consulted = %v", consulted)
	}

	if _, _, err := b.Resolve("./nope.js", "src"); err == nil {
		t.Error("expected a missing file to fail")
	}
}

func TestWatchUpdatesDynamicModule(t *testing.T) {
	mfs := testutil.NewTreeFS(t, splitApp)
	cfg := config("src/a.js")
	cfg.OutDir = ""
	updates := make(chan hmr.Update, 8)
	sub, err := newBundler(t, mfs, cfg).Watch(context.Background(), func(u hmr.Update) { updates <- u })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	mfs.AddFile("/app/src/c.js", "export const c = 2;\n", 0o644)
	sub.Notify("/app/src/c.js")

	select {
	case u := <-updates:
		if u.Type != hmr.TypeUpdate {
			t.Fatalf("Type = %s (%s), want update", u.Type, u.Message)
		}
		if !slices.Equal(u.UpdatedModules, []string{"src/c.js"}) {
			t.Errorf("UpdatedModules = %v", u.UpdatedModules)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an update")
	}

	if err := sub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done is open after Close")
	}
}

func TestWatchReplacesWrittenAssets(t *testing.T) {
	mfs := testutil.NewTreeFS(t, splitApp)
	updates := make(chan hmr.Update, 8)
	sub, err := newBundler(t, mfs, config("src/a.js")).Watch(context.Background(), func(u hmr.Update) { updates <- u })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	before := slices.Clone(sub.Output().Files)
	for _, f := range before {
		if !mfs.Exists("/app/dist/" + f) {
			t.Fatalf("%s was not written", f)
		}
	}

	mfs.AddFile("/app/src/c.js", "export const c = 3;\n", 0o644)
	sub.Notify("/app/src/c.js")
	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an update")
	}

	after := sub.Output().Files
	if before[1] == after[1] {
		t.Fatalf("async chunk name did not change: %s", after[1])
	}
	if mfs.Exists("/app/dist/" + before[1]) {
		t.Errorf("stale chunk %s was kept", before[1])
	}
	if !mfs.Exists("/app/dist/" + after[1]) {
		t.Errorf("new chunk %s was not written", after[1])
	}
}

func TestWatchPageChangeReloads(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/index.html":  `<html><head><script type="module" src="./src/main.js"></script></head></html>`,
		"/app/src/main.js": "console.log(1);\n",
	})
	cfg := config("index.html")
	cfg.OutDir = ""
	updates := make(chan hmr.Update, 8)
	sub, err := newBundler(t, mfs, cfg).Watch(context.Background(), func(u hmr.Update) { updates <- u })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })

	mfs.AddFile("/app/index.html", `<html><head><title>new</title><script type="module" src="./src/main.js"></script></head></html>`, 0o644)
	sub.Notify("/app/index.html")

	select {
	case u := <-updates:
		if u.Type != hmr.TypeFullReload {
			t.Fatalf("Type = %s, want full-reload", u.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an update")
	}
	page, ok := sub.Output().Asset("index.html")
	if !ok || !strings.Contains(string(page.Content), "<title>new</title>") {
		t.Error("page was not re-emitted")
	}
}
