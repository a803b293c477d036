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

package codegen_test

import (
	"bytes"
	"errors"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"testing"

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/internal/mapfs"
	"bennypowers.dev/sheaf/sourcemap"
	"bennypowers.dev/sheaf/testutil"
)

type recordingLogger struct {
	mu    sync.Mutex
	debug []string
}

func (l *recordingLogger) Warning(format string, args ...any) {}

func (l *recordingLogger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = append(l.debug, format)
}

func (l *recordingLogger) count(format string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, d := range l.debug {
		if d == format {
			n++
		}
	}
	return n
}

type emitted struct {
	out *codegen.Output
	mg  *graph.Graph
	cg  *chunk.Graph
}

func emit(t *testing.T, files map[string]string, opts codegen.Options, split chunk.Options, entries ...string) emitted {
	t.Helper()
	mg := testutil.BuildGraph(t, files, entries...)
	cg := chunk.Split(mg, split)
	if opts.Root == "" {
		opts.Root = "/app"
	}
	e, err := codegen.New(opts)
	if err != nil {
		t.Fatalf("codegen.New: %v", err)
	}
	out, err := e.Emit(cg, mg)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	return emitted{out: out, mg: mg, cg: cg}
}

func (x emitted) chunk(t *testing.T, i int) string {
	t.Helper()
	a, ok := x.out.Asset(x.out.Files[i])
	if !ok {
		t.Fatalf("no asset for chunk %d", i)
	}
	return string(a.Content)
}

func (x emitted) file(t *testing.T, prefix string) string {
	t.Helper()
	for _, f := range x.out.Files {
		if strings.HasPrefix(f, prefix) {
			return f
		}
	}
	t.Fatalf("no file starting with %q in %v", prefix, x.out.Files)
	return ""
}

func TestEmitDynamicImportChunk(t *testing.T) {
	x := emit(t, map[string]string{
		"/app/a.js": "import { b } from \"./b.js\";\nexport const load = () => import(\"./c.js\").then((m) => m.c + b);\n",
		"/app/b.js": "export const b = 1;\n",
		"/app/c.js": "export const c = 2;\n",
	}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/a.js")

	if len(x.out.Files) != 2 {
		t.Fatalf("files = %v", x.out.Files)
	}
	aFile, cFile := x.out.Files[0], x.out.Files[1]
	if !strings.HasPrefix(aFile, "a.") || !strings.HasPrefix(cFile, "c.") {
		t.Fatalf("files = %v", x.out.Files)
	}

	a := x.chunk(t, 0)
	if !strings.HasPrefix(a, `import "./`+x.out.Runtime+`";`+"\n") {
		t.Errorf("entry chunk should import the runtime first:\n%s", a)
	}
	defineB := `__sheaf.define("b.js", function (__m, __x, __r, __hot) { __r.d(__x, {"b": () => b});
       const b = 1;
});
`
	if !strings.Contains(a, defineB) {
		t.Errorf("missing b factory in:\n%s", a)
	}
	if strings.Index(a, `define("b.js"`) > strings.Index(a, `define("a.js"`) {
		t.Error("dependency should be defined before its importer")
	}
	for _, want := range []string{
		`var __i0 = __r("b.js");`,
		`__r.l("c.js", ["` + cFile + `"])`,
		`m.c + __i0.b`,
		`__sheaf.require("a.js");`,
	} {
		if !strings.Contains(a, want) {
			t.Errorf("entry chunk missing %q:\n%s", want, a)
		}
	}

	c := x.chunk(t, 1)
	if strings.Contains(c, "__sheaf.require(") {
		t.Errorf("async chunk should not run its root:\n%s", c)
	}

	m := x.out.Manifest
	if got := m.Entries["a.js"]; !slices.Equal(got, []string{x.out.Runtime, aFile}) {
		t.Errorf("manifest entry = %v", got)
	}
	if got := m.Chunks[aFile].DynamicImports; !slices.Equal(got, []string{cFile}) {
		t.Errorf("dynamic imports = %v", got)
	}
	if got := m.Chunks[cFile].Kind; got != "async" {
		t.Errorf("async chunk kind = %q", got)
	}
}

func TestEmitTreeShaking(t *testing.T) {
	lib := "export function used() { return 1; }\n" +
		"export function unused() { return 2; }\n" +
		"export const data = compute();\n" +
		"function compute() { return 3; }\n"

	t.Run("unused exports", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js": "import { used } from \"./lib.js\";\nconsole.log(used());\n",
			"/app/lib.js":  lib,
		}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/main.js")
		out := x.chunk(t, 0)
		if strings.Contains(out, "function unused()") || strings.Contains(out, `"unused"`) {
			t.Errorf("unused export survived:\n%s", out)
		}
		for _, want := range []string{`{"used": () => used}`, "function used()", "compute()", "function compute()"} {
			if !strings.Contains(out, want) {
				t.Errorf("missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("pure module", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js": "import { used } from \"./lib.js\";\nconsole.log(used());\n",
			"/app/lib.js":  "/* @sideEffects false */\n" + lib,
		}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/main.js")
		out := x.chunk(t, 0)
		if strings.Contains(out, "compute") {
			t.Errorf("pure statements survived:\n%s", out)
		}
	})

	t.Run("pure module keeps writes to used bindings", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js": "import { Foo } from \"./lib.js\";\nnew Foo().greet();\n",
			"/app/lib.js": "/* @sideEffects false */\n" +
				"export function Foo() {}\n" +
				"Foo.prototype.greet = function () { return \"hi\"; };\n" +
				"export const cfg = {};\n" +
				"cfg.debug = true;\n",
		}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/main.js")
		out := x.chunk(t, 0)
		if !strings.Contains(out, "Foo.prototype.greet = function") {
			t.Errorf("prototype assignment to a used export was dropped:\n%s", out)
		}
		if strings.Contains(out, "cfg.debug") {
			t.Errorf("write to an unused export survived:\n%s", out)
		}
	})

	t.Run("namespace import keeps everything", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js": "import * as lib from \"./lib.js\";\nconsole.log(lib);\n",
			"/app/lib.js":  lib,
		}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/main.js")
		out := x.chunk(t, 0)
		for _, want := range []string{`"unused": () => unused`, `console.log(__i0)`} {
			if !strings.Contains(out, want) {
				t.Errorf("missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("unused pure module is dropped", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js":   "import { x } from \"./pure.js\";\nimport \"./effect.js\";\nconsole.log(1);\n",
			"/app/pure.js":   "/* @sideEffects false */\nexport const x = 1;\n",
			"/app/effect.js": "console.log(\"effect\");\n",
		}, codegen.Options{TreeShake: true}, chunk.Options{}, "/app/main.js")
		out := x.chunk(t, 0)
		if strings.Contains(out, `"pure.js"`) {
			t.Errorf("pure module survived:\n%s", out)
		}
		if !strings.Contains(out, `define("effect.js"`) || !strings.Contains(out, `__r("effect.js")`) {
			t.Errorf("side-effect import dropped:\n%s", out)
		}
		if slices.Contains(x.out.Manifest.Chunks[x.out.Files[0]].Modules, "pure.js") {
			t.Error("manifest lists a dropped module")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		x := emit(t, map[string]string{
			"/app/main.js": "import { used } from \"./lib.js\";\nconsole.log(used());\n",
			"/app/lib.js":  lib,
		}, codegen.Options{}, chunk.Options{}, "/app/main.js")
		if out := x.chunk(t, 0); !strings.Contains(out, "function unused()") {
			t.Errorf("tree shaking ran while disabled:\n%s", out)
		}
	})
}

func TestEmitCommonJSInterop(t *testing.T) {
	x := emit(t, map[string]string{
		"/app/main.js": "import cjs from \"./cjs.js\";\nconsole.log(cjs.a);\n",
		"/app/cjs.js":  "module.exports = { a: require(\"./dep.js\") };\n",
		"/app/dep.js":  "module.exports = 1;\n",
	}, codegen.Options{}, chunk.Options{}, "/app/main.js")
	out := x.chunk(t, 0)
	for _, want := range []string{
		`var __i0 = __r.c("cjs.js");`,
		`console.log(__i0.default.a)`,
		`__sheaf.define("cjs.js", function (module, exports, __r, __hot) {`,
		`module.exports = { a: __r("dep.js") };`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestEmitFederatedExternal(t *testing.T) {
	x := emit(t, map[string]string{
		"/app/main.js":                       "import { html } from \"lit\";\nconsole.log(html);\n",
		"/app/node_modules/lit/package.json": `{"name": "lit", "main": "index.js"}`,
		"/app/node_modules/lit/index.js":     "export const html = 1;\n",
	}, codegen.Options{}, chunk.Options{Federated: []string{"lit"}}, "/app/main.js")
	out := x.chunk(t, 0)
	for _, want := range []string{
		`import * as __ext0 from "lit"; __sheaf.external("external:lit", __ext0);`,
		`var __i0 = __r("external:lit");`,
		`console.log(__i0.html)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "node_modules/lit") {
		t.Errorf("federated package was bundled:\n%s", out)
	}
}

func TestEmitWorkerChunk(t *testing.T) {
	x := emit(t, map[string]string{
		"/app/main.js":   "const w = new Worker(new URL(\"./worker.js\", import.meta.url), { type: \"module\" });\n",
		"/app/worker.js": "self.onmessage = () => {};\n",
	}, codegen.Options{}, chunk.Options{}, "/app/main.js")
	if len(x.out.Files) != 2 {
		t.Fatalf("files = %v", x.out.Files)
	}
	out := x.chunk(t, 0)
	want := `new URL("./` + x.out.Files[1] + `", import.meta.url)`
	if !strings.Contains(out, want) {
		t.Errorf("missing %q:\n%s", want, out)
	}
	if w := x.chunk(t, 1); !strings.Contains(w, `__sheaf.require("worker.js");`) {
		t.Errorf("worker chunk should run its root:\n%s", w)
	}
}

func TestEmitPreservesLinesForSourceMaps(t *testing.T) {
	x := emit(t, map[string]string{
		"/app/main.js": "import { b } from \"./b.js\";\n\nconsole.log(b);\n",
		"/app/b.js":    "export const b = 1;\n",
	}, codegen.Options{SourceMaps: true}, chunk.Options{}, "/app/main.js")

	file := x.out.Files[0]
	out := x.chunk(t, 0)
	if !strings.HasSuffix(out, sourcemap.Comment(file+".map")+"\n") {
		t.Errorf("missing sourceMappingURL comment:\n%s", out)
	}
	asset, ok := x.out.Asset(file + ".map")
	if !ok {
		t.Fatal("no source map asset")
	}
	m, err := sourcemap.Parse(asset.Content)
	if err != nil {
		t.Fatal(err)
	}
	lines, err := m.Decode()
	if err != nil {
		t.Fatal(err)
	}

	target := -1
	for i, l := range strings.Split(out, "\n") {
		if strings.Contains(l, "console.log(__i0.b);") {
			target = i
		}
	}
	if target < 0 || target >= len(lines) || len(lines[target]) == 0 {
		t.Fatalf("no mapping for generated line %d in %d lines", target, len(lines))
	}
	seg := lines[target][0]
	if m.Sources[seg.Source] != "main.js" || seg.Line != 2 {
		t.Errorf("console.log maps to %s:%d, want main.js:2", m.Sources[seg.Source], seg.Line)
	}
}

func TestEmitHashesFollowDependencies(t *testing.T) {
	files := func(c string) map[string]string {
		return map[string]string{
			"/app/a.js": "export const load = () => import(\"./c.js\");\n",
			"/app/b.js": "console.log(\"b\");\n",
			"/app/c.js": c,
		}
	}
	first := emit(t, files("export const c = 1;\n"), codegen.Options{}, chunk.Options{}, "/app/a.js", "/app/b.js")
	second := emit(t, files("export const c = 2;\n"), codegen.Options{}, chunk.Options{}, "/app/a.js", "/app/b.js")

	if first.file(t, "c.") == second.file(t, "c.") {
		t.Error("changed chunk kept its name")
	}
	if first.file(t, "a.") == second.file(t, "a.") {
		t.Error("chunk loading a changed chunk kept its name")
	}
	if first.file(t, "b.") != second.file(t, "b.") {
		t.Error("unrelated chunk was renamed")
	}
}

func TestEmitIsDeterministic(t *testing.T) {
	files := map[string]string{
		"/app/a.js":      "import { s } from \"./shared.js\";\nexport const a = () => import(\"./lazy.js\");\nconsole.log(s);\n",
		"/app/b.js":      "import { s } from \"./shared.js\";\nconsole.log(s);\n",
		"/app/lazy.js":   "import { s } from \"./shared.js\";\nexport default s;\n",
		"/app/shared.js": "export const s = \"shared module with enough text\";\n",
	}
	opts := codegen.Options{TreeShake: true, SourceMaps: true}
	first := emit(t, files, opts, chunk.Options{}, "/app/a.js", "/app/b.js")
	for range 5 {
		again := emit(t, files, opts, chunk.Options{}, "/app/a.js", "/app/b.js")
		if len(again.out.Assets) != len(first.out.Assets) {
			t.Fatalf("asset count changed: %d vs %d", len(again.out.Assets), len(first.out.Assets))
		}
		for i, a := range again.out.Assets {
			b := first.out.Assets[i]
			if a.Name != b.Name || !bytes.Equal(a.Content, b.Content) {
				t.Fatalf("asset %d differs: %s vs %s", i, a.Name, b.Name)
			}
		}
	}
}

func TestEmitReusesUnchangedModules(t *testing.T) {
	mg := testutil.BuildGraph(t, map[string]string{
		"/app/a.js": "import { b } from \"./b.js\";\nconsole.log(b);\n",
		"/app/b.js": "export const b = 1;\n",
	}, "/app/a.js")
	cg := chunk.Split(mg, chunk.Options{})
	logger := &recordingLogger{}
	e, err := codegen.New(codegen.Options{Root: "/app"})
	if err != nil {
		t.Fatal(err)
	}
	e.WithLogger(logger)

	first, err := e.Emit(cg, mg)
	if err != nil {
		t.Fatal(err)
	}
	if n := logger.count("rendered %s"); n != 2 {
		t.Fatalf("first emission rendered %d modules, want 2", n)
	}
	second, err := e.Emit(cg, mg)
	if err != nil {
		t.Fatal(err)
	}
	if n := logger.count("rendered %s"); n != 2 {
		t.Errorf("second emission rendered %d more modules", n-2)
	}
	if first.Files[0] != second.Files[0] {
		t.Error("identical input changed the asset name")
	}
}

func TestEmitEntryRuntime(t *testing.T) {
	x := emit(t, map[string]string{"/app/a.js": "console.log(1);\n"}, codegen.Options{}, chunk.Options{}, "/app/a.js")
	rt, ok := x.out.Asset(x.out.Runtime)
	if !ok || rt.Kind != codegen.RuntimeAsset {
		t.Fatalf("runtime asset missing: %v", x.out.Files)
	}
	if strings.Contains(string(rt.Content), "WebSocket") {
		t.Error("runtime without HMR should not open a socket")
	}
	hot := codegen.Runtime(codegen.DefaultHMRPath)
	if !strings.Contains(hot, `"/__sheaf/hmr"`) || !strings.Contains(hot, "s.apply = function") {
		t.Error("HMR runtime should connect and accept patches")
	}
}

type failingFS struct {
	*mapfs.MapFileSystem
}

func (failingFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return fs.ErrPermission
}

func TestWrite(t *testing.T) {
	x := emit(t, map[string]string{"/app/a.js": "console.log(1);\n"}, codegen.Options{}, chunk.Options{}, "/app/a.js")

	out := mapfs.New()
	if err := codegen.Write(out, "/dist", x.out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, name := range []string{x.out.Runtime, x.out.Files[0], codegen.ManifestName} {
		if !out.Exists("/dist/" + name) {
			t.Errorf("%s was not written", name)
		}
		if out.Exists("/dist/" + name + ".tmp") {
			t.Errorf("%s left a temporary file", name)
		}
	}

	err := codegen.Write(failingFS{mapfs.New()}, "/dist", x.out)
	var ee *codegen.EmitError
	if !errors.As(err, &ee) || ee.Asset != x.out.Runtime || !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected EmitError for the runtime, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	before := emit(t, map[string]string{"/app/a.js": "console.log(1);\n"}, codegen.Options{}, chunk.Options{}, "/app/a.js")
	after := emit(t, map[string]string{"/app/a.js": "console.log(2);\n"}, codegen.Options{}, chunk.Options{}, "/app/a.js")

	out := mapfs.New()
	for _, x := range []emitted{before, after} {
		if err := codegen.Write(out, "/dist", x.out); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := codegen.Prune(out, "/dist", before.out, after.out); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if out.Exists("/dist/" + before.out.Files[0]) {
		t.Error("stale chunk was kept")
	}
	if !out.Exists("/dist/"+after.out.Files[0]) || !out.Exists("/dist/"+after.out.Runtime) {
		t.Error("current assets were removed")
	}
}
