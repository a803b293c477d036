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

package output_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/internal/output"
	"bennypowers.dev/sheaf/testutil"
)

func TestReport(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{
		"/app/src/a.js": "import \"./b.js\";\nimport(\"./c.js\");\n",
		"/app/src/b.js": "import \"./a.js\";\n",
		"/app/src/c.js": "export const c = 1;\n",
	})
	cfg := bundler.DefaultConfig()
	cfg.Root = "/app"
	cfg.Entries = []string{"src/a.js"}
	cfg.OutDir = ""
	b, err := bundler.New(cfg, mfs)
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rep := output.NewReport("/app", res.Graph, res.Chunks)
	if len(rep.Modules) != 3 {
		t.Fatalf("expected 3 modules, got %+v", rep.Modules)
	}
	a := rep.Modules[0]
	if a.Name != "src/a.js" || !a.Entry || a.State != "built" {
		t.Errorf("entry module = %+v", a)
	}
	if len(a.Imports) != 2 || a.Imports[1].Kind != "dynamic" || a.Imports[1].Target != "src/c.js" {
		t.Errorf("imports = %+v", a.Imports)
	}
	if len(rep.Cycles) != 1 || len(rep.Cycles[0]) != 2 {
		t.Errorf("Cycles = %v", rep.Cycles)
	}
	if len(rep.Chunks) != 2 || len(rep.Chunks[1].Parents) != 1 {
		t.Errorf("Chunks = %+v", rep.Chunks)
	}

	var buf bytes.Buffer
	viper.Set(output.FileKey, "")
	if err := output.JSON(mfs, &buf, rep); err != nil {
		t.Fatal(err)
	}
	var decoded output.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if len(decoded.Modules) != 3 {
		t.Errorf("decoded %d modules", len(decoded.Modules))
	}
}

func TestJSONToFile(t *testing.T) {
	mfs := testutil.NewTreeFS(t, map[string]string{})
	viper.Set(output.FileKey, "/out/report.json")
	t.Cleanup(func() { viper.Set(output.FileKey, "") })

	var buf bytes.Buffer
	if err := output.JSON(mfs, &buf, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote to the writer as well: %q", buf.String())
	}
	data, err := mfs.ReadFile("/out/report.json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"a": 1`) {
		t.Errorf("file content = %s", data)
	}
}

func TestDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	output.Diagnostics(&buf, "/app", []graph.Diagnostic{{
		Severity:  graph.SeverityError,
		Module:    "/app/src/lib.js",
		Specifier: "./missing.js",
		Chain:     []string{"/app/src/main.js", "/app/src/lib.js"},
		Err:       errors.New("not found"),
	}})
	want := "error: src/lib.js: \"./missing.js\": not found\n  src/main.js\n    src/lib.js\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestAssets(t *testing.T) {
	var buf bytes.Buffer
	err := output.Assets(&buf, []codegen.Asset{
		{Name: "main.abc.js", Kind: codegen.ChunkAsset, Content: make([]byte, 2048)},
	}, &codegen.Manifest{Runtime: "runtime.js"})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"main.abc.js", "chunk", "2.0 KiB", "manifest.json", "manifest"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
