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

package loader_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/sourcemap"
	"bennypowers.dev/sheaf/workerpool"
)

// countingStage upper-cases content and counts invocations.
type countingStage struct {
	name  string
	heavy bool
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingStage) Name() string { return s.name }
func (s *countingStage) Heavy() bool  { return s.heavy }

func (s *countingStage) Transform(ctx context.Context, in loader.Input) (loader.Output, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return loader.Output{Content: []byte(strings.ToUpper(string(in.Content))), ContentType: "text"}, nil
}

func newPipeline(t *testing.T, rules []loader.Rule, extra ...loader.Stage) *loader.Pipeline {
	t.Helper()
	stages := append(loader.Builtins(map[string]string{"__DEV__": "false"}), extra...)
	p, err := loader.New("/app", rules, stages, workerpool.New(2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestRule(t *testing.T) {
	rules := append([]loader.Rule{{Pattern: "vendor/**/*.js", Stages: []string{"text"}}}, loader.DefaultRules...)
	p := newPipeline(t, rules)

	tests := []struct {
		path   string
		stages string
		ok     bool
	}{
		{"/app/src/main.ts", "js,define", true},
		{"/app/vendor/lib/a.js", "text", true},
		{"/app/data/config.json", "json", true},
		{"/app/styles/site.css", "css", true},
		{"/elsewhere/b.mjs", "js,define", true},
		{"/app/image.png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := p.Rule(tt.path)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got := strings.Join(r.Stages, ","); got != tt.stages {
				t.Errorf("stages = %q, want %q", got, tt.stages)
			}
		})
	}
}

func TestNewValidatesRules(t *testing.T) {
	_, err := loader.New("/app", []loader.Rule{{Pattern: "**/*.less", Stages: []string{"less"}}}, loader.Builtins(nil), nil)
	if !errors.Is(err, loader.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	_, err = loader.New("/app", []loader.Rule{{Pattern: "[", Stages: []string{"js"}}}, loader.Builtins(nil), nil)
	if err == nil {
		t.Error("expected invalid pattern error")
	}
}

func TestBuiltinStages(t *testing.T) {
	p := newPipeline(t, loader.DefaultRules)
	ctx := context.Background()

	tests := []struct {
		name        string
		path        string
		content     string
		contains    []string
		contentType string
	}{
		{"js", "/app/a.js", "export const a = 1;\n", []string{"export const a = 1;"}, "js"},
		{"ts keeps type", "/app/a.ts", "export const a: number = 1;\n", []string{"a: number"}, "ts"},
		{"define", "/app/b.js", "if (__DEV__) log();\n", []string{"if (false) log();"}, "js"},
		{"json", "/app/c.json", "{\"a\": [1, 2]}\n", []string{"export default {\"a\": [1, 2]};"}, "js"},
		{"text", "/app/d.md", "# Title\n\"quoted\"", []string{`export default "# Title\n\"quoted\"";`}, "js"},
		{
			"css", "/app/e.css", "@import \"./base.css\";\n@import url(theme.css);\n@import url(https://x.test/a.css);\n.a { color: red }\n",
			[]string{`import "./base.css";`, `import "./theme.css";`, "https://x.test/a.css", ".a { color: red }", "import.meta.hot.accept()", "export default css;"},
			"js",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := p.Transform(ctx, tt.path, []byte(tt.content))
			if err != nil {
				t.Fatalf("Transform failed: %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(string(r.Code), want) {
					t.Errorf("output missing %q:\n%s", want, r.Code)
				}
			}
			if r.ContentType != tt.contentType {
				t.Errorf("content type = %q, want %q", r.ContentType, tt.contentType)
			}
			if r.Hash != loader.Hash([]byte(tt.content)) {
				t.Error("result hash does not match content hash")
			}
		})
	}
}

func TestJSONAndTextAreSideEffectFree(t *testing.T) {
	p := newPipeline(t, loader.DefaultRules)
	for _, path := range []string{"/app/a.json", "/app/a.txt"} {
		r, err := p.Transform(context.Background(), path, []byte(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		if r.SideEffects == nil || *r.SideEffects {
			t.Errorf("%s: expected side-effect free result", path)
		}
		if !r.Unmapped {
			t.Errorf("%s: expected unmapped result", path)
		}
	}
}

func TestTransformFailure(t *testing.T) {
	p := newPipeline(t, loader.DefaultRules)
	_, err := p.Transform(context.Background(), "/app/bad.json", []byte("{\n  \"a\": ,\n}"))
	var f *loader.Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *loader.Failure, got %T %v", err, err)
	}
	if f.Stage != "json" || f.Path != "/app/bad.json" || f.Line != 2 {
		t.Errorf("failure = %+v", f)
	}

	_, err = p.Transform(context.Background(), "/app/image.png", nil)
	if !errors.Is(err, loader.ErrNoRule) {
		t.Errorf("expected ErrNoRule, got %v", err)
	}
}

func TestTransformCaches(t *testing.T) {
	stage := &countingStage{name: "upper"}
	p := newPipeline(t, []loader.Rule{{Pattern: "**/*.txt", Stages: []string{"upper"}}}, stage)
	ctx := context.Background()

	for range 3 {
		r, err := p.Transform(ctx, "/app/a.txt", []byte("hello"))
		if err != nil {
			t.Fatal(err)
		}
		if string(r.Code) != "HELLO" {
			t.Errorf("code = %q", r.Code)
		}
	}
	if got := stage.calls.Load(); got != 1 {
		t.Errorf("stage ran %d times, want 1", got)
	}

	if _, err := p.Transform(ctx, "/app/a.txt", []byte("changed")); err != nil {
		t.Fatal(err)
	}
	if got := stage.calls.Load(); got != 2 {
		t.Errorf("stage ran %d times after change, want 2", got)
	}

	p.Forget("/app/a.txt")
	if _, err := p.Transform(ctx, "/app/a.txt", []byte("changed")); err != nil {
		t.Fatal(err)
	}
	if got := stage.calls.Load(); got != 3 {
		t.Errorf("stage ran %d times after Forget, want 3", got)
	}
}

func TestTransformDeduplicatesConcurrentRequests(t *testing.T) {
	stage := &countingStage{name: "upper", heavy: true, gate: make(chan struct{})}
	p := newPipeline(t, []loader.Rule{{Pattern: "**/*.txt", Stages: []string{"upper"}}}, stage)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Transform(context.Background(), "/app/a.txt", []byte("same"))
			errs <- err
		}()
	}
	for stage.calls.Load() == 0 {
		runtimeYield()
	}
	close(stage.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := stage.calls.Load(); got != 1 {
		t.Errorf("stage ran %d times, want 1", got)
	}
}

func TestPersistentCache(t *testing.T) {
	cache, err := loader.OpenPersistentCache("")
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	rules := []loader.Rule{{Pattern: "**/*.txt", Stages: []string{"upper"}}}
	first := &countingStage{name: "upper"}
	p1 := newPipeline(t, rules, first).WithPersistentCache(cache)
	if _, err := p1.Transform(context.Background(), "/app/a.txt", []byte("persist")); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}

	second := &countingStage{name: "upper"}
	p2 := newPipeline(t, rules, second).WithPersistentCache(cache)
	r, err := p2.Transform(context.Background(), "/app/a.txt", []byte("persist"))
	if err != nil {
		t.Fatal(err)
	}
	if string(r.Code) != "PERSIST" || second.calls.Load() != 0 {
		t.Errorf("expected persistent hit, got %q after %d calls", r.Code, second.calls.Load())
	}
}

// mappedStage prepends a line and reports a map for it.
type mappedStage struct{}

func (mappedStage) Name() string { return "banner" }
func (mappedStage) Heavy() bool  { return false }

func (mappedStage) Transform(_ context.Context, in loader.Input) (loader.Output, error) {
	lines := strings.Count(string(in.Content), "\n") + 1
	segs := make([]sourcemap.Line, lines+1)
	for i := 0; i < lines; i++ {
		segs[i+1] = sourcemap.Line{{GenColumn: 0, Source: 0, Line: i, Column: 0, Name: -1}}
	}
	return loader.Output{
		Content:     append([]byte("// banner\n"), in.Content...),
		ContentType: in.ContentType,
		Map:         &sourcemap.Map{Version: 3, Sources: []string{in.Path}, Mappings: sourcemap.Encode(segs)},
	}, nil
}

func TestStageMapsAreComposed(t *testing.T) {
	p := newPipeline(t, []loader.Rule{{Pattern: "**/*.js", Stages: []string{"js", "banner", "banner"}}}, mappedStage{})
	r, err := p.Transform(context.Background(), "/app/a.js", []byte("a();\nb();"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Map == nil || r.Unmapped {
		t.Fatal("expected a composed map")
	}
	lines, err := r.Map.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 4 || len(lines[0]) != 0 || len(lines[1]) != 0 {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if got := lines[3][0]; got.Line != 1 {
		t.Errorf("generated line 3 maps to source line %d, want 1", got.Line)
	}
}

func TestCommandStage(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "theme.less")
	if err := os.WriteFile(src, []byte("@c: red;"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdio, err := loader.NewCommandStage("lessc", loader.CommandConfig{
		Command:     "sh",
		Args:        []string{"-c", `cat >/dev/null; echo ".compiled { from: \"$0\" }"`},
		Protocol:    loader.ProtocolStdio,
		ContentType: "css",
	})
	if err != nil {
		t.Fatal(err)
	}
	jsonCmd, err := loader.NewCommandStage("tool", loader.CommandConfig{
		Command: "sh",
		Args:    []string{"-c", `cat >/dev/null; printf '{"content":"export {}","contentType":"js","sideEffects":false}'`},
	})
	if err != nil {
		t.Fatal(err)
	}
	failing, err := loader.NewCommandStage("broken", loader.CommandConfig{
		Command:  "sh",
		Args:     []string{"-c", `cat >/dev/null; echo "syntax error" >&2`},
		Protocol: loader.ProtocolStdio,
	})
	if err != nil {
		t.Fatal(err)
	}

	rules := []loader.Rule{
		{Pattern: "**/*.less", Stages: []string{"lessc", "css"}},
		{Pattern: "**/*.tool", Stages: []string{"tool"}},
		{Pattern: "**/*.broken", Stages: []string{"broken"}},
	}
	stages := append(loader.Builtins(nil), stdio, jsonCmd, failing)
	p, err := loader.New(dir, rules, stages, workerpool.New(2))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	r, err := p.Transform(ctx, src, []byte("@c: red;"))
	if err != nil {
		t.Fatalf("stdio transform: %v", err)
	}
	if !strings.Contains(string(r.Code), ".compiled") || r.ContentType != "js" {
		t.Errorf("stdio result: %s (%s)", r.Code, r.ContentType)
	}

	r, err = p.Transform(ctx, filepath.Join(dir, "x.tool"), []byte("input"))
	if err != nil {
		t.Fatalf("json transform: %v", err)
	}
	if string(r.Code) != "export {}" || r.SideEffects == nil || *r.SideEffects {
		t.Errorf("json result: %q %v", r.Code, r.SideEffects)
	}

	_, err = p.Transform(ctx, filepath.Join(dir, "x.broken"), []byte("input"))
	var f *loader.Failure
	if !errors.As(err, &f) || f.Stage != "broken" || f.Diagnostic != "syntax error" {
		t.Errorf("expected broken stage failure, got %v", err)
	}

	if _, err := loader.NewCommandStage("x", loader.CommandConfig{}); err == nil {
		t.Error("expected error for missing command")
	}
	if _, err := loader.NewCommandStage("x", loader.CommandConfig{Command: "a", Protocol: "grpc"}); err == nil {
		t.Error("expected error for unknown protocol")
	}
}
