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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// Build the binary before running tests
	wd := mustGetwd()
	cmd := exec.Command("go", "build", "-o", "sheaf_test", ".")
	cmd.Dir = wd
	if out, err := cmd.CombinedOutput(); err != nil {
		panic("failed to build test binary: " + err.Error() + "\n" + string(out))
	}
	code := m.Run()
	_ = os.Remove(filepath.Join(wd, "sheaf_test"))
	os.Exit(code)
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return wd
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	binary := filepath.Join(mustGetwd(), "sheaf_test")
	cmd := exec.Command(binary, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("Failed to run CLI: %v", err)
		}
	}

	return stdout, stderr, exitCode
}

var appDir = filepath.Join("testdata", "cli", "app")

func readManifest(t *testing.T, path string) map[string]any {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(content, &manifest); err != nil {
		t.Fatalf("Failed to parse manifest: %v", err)
	}
	return manifest
}

func TestBuild(t *testing.T) {
	outDir := t.TempDir()

	stdout, stderr, code := runCLI(t, "build", "-C", appDir, "--out-dir", outDir)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "manifest.json") {
		t.Errorf("Expected the asset table to list manifest.json, got:\n%s", stdout)
	}

	manifest := readManifest(t, filepath.Join(outDir, "manifest.json"))
	entries, ok := manifest["entries"].(map[string]any)
	if !ok {
		t.Fatalf("Expected entries object, got %v", manifest["entries"])
	}
	files, ok := entries["src/main.js"].([]any)
	if !ok || len(files) < 2 {
		t.Fatalf("Expected runtime and chunk for src/main.js, got %v", entries["src/main.js"])
	}

	page, err := os.ReadFile(filepath.Join(outDir, "index.html"))
	if err != nil {
		t.Fatalf("Expected the page to be emitted: %v", err)
	}
	if strings.Contains(string(page), "./src/main.js") {
		t.Error("Expected the page script to be rewritten")
	}

	chunk, err := os.ReadFile(filepath.Join(outDir, files[len(files)-1].(string)))
	if err != nil {
		t.Fatalf("Failed to read entry chunk: %v", err)
	}
	if !strings.Contains(string(chunk), `"production"`) {
		t.Error("Expected the configured define to be applied")
	}
	if matches, _ := filepath.Glob(filepath.Join(outDir, "*.map")); len(matches) != 0 {
		t.Errorf("Expected source maps to be disabled by the config file, got %v", matches)
	}
}

func TestBuildEntryArgument(t *testing.T) {
	outDir := t.TempDir()
	manifestFile := filepath.Join(t.TempDir(), "manifest.json")

	stdout, stderr, code := runCLI(t, "build", "src/lazy.js", "-C", appDir, "--out-dir", outDir, "-o", manifestFile)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if stdout != "" {
		t.Errorf("Expected no stdout when writing to file, got: %s", stdout)
	}
	entries, _ := readManifest(t, manifestFile)["entries"].(map[string]any)
	if len(entries) != 1 || entries["src/lazy.js"] == nil {
		t.Errorf("Expected only src/lazy.js as an entry, got %v", entries)
	}
}

func TestBuildMissingImport(t *testing.T) {
	dir := filepath.Join("testdata", "cli", "broken")

	_, stderr, code := runCLI(t, "build", "src/main.js", "-C", dir, "--out-dir", t.TempDir())
	if code == 0 {
		t.Fatal("Expected non-zero exit code for a missing import")
	}
	if !strings.Contains(stderr, `"./missing.js"`) {
		t.Errorf("Expected the missing specifier in stderr, got: %s", stderr)
	}
}

func TestBuildNoEntries(t *testing.T) {
	_, stderr, code := runCLI(t, "build", "-C", t.TempDir())
	if code == 0 {
		t.Fatal("Expected non-zero exit code without entries")
	}
	if !strings.Contains(stderr, "no entries") {
		t.Errorf("Expected 'no entries' error, got: %s", stderr)
	}
}

func TestBuildInvalidFlag(t *testing.T) {
	_, stderr, code := runCLI(t, "build", "-C", appDir, "--split", "greedy", "--out-dir", t.TempDir())
	if code == 0 {
		t.Fatal("Expected non-zero exit code for an unknown split strategy")
	}
	if !strings.Contains(stderr, `unknown split strategy "greedy"`) {
		t.Errorf("Expected strategy error, got: %s", stderr)
	}
}

func TestResolve(t *testing.T) {
	stdout, stderr, code := runCLI(t, "resolve", "dep", "-C", appDir, "--from", "src")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\nstdout: %s", err, stdout)
	}
	path, _ := result["path"].(string)
	if !strings.HasSuffix(filepath.ToSlash(path), "node_modules/dep/index.js") {
		t.Errorf("Expected dep to resolve to its index.js, got %v", result["path"])
	}
	if result["package"] != "dep" {
		t.Errorf("Expected package dep, got %v", result["package"])
	}
}

func TestResolveMissing(t *testing.T) {
	stdout, _, code := runCLI(t, "resolve", "nope", "-C", appDir)
	if code == 0 {
		t.Fatal("Expected non-zero exit code for an unresolvable specifier")
	}
	if !strings.Contains(stdout, `"error"`) {
		t.Errorf("Expected the error in the JSON output, got: %s", stdout)
	}
}

func TestResolveMissingArg(t *testing.T) {
	_, stderr, code := runCLI(t, "resolve")
	if code == 0 {
		t.Error("Expected non-zero exit code without a specifier")
	}
	if !strings.Contains(stderr, "accepts 1 arg") {
		t.Errorf("Expected argument error, got: %s", stderr)
	}
}

func TestGraph(t *testing.T) {
	stdout, stderr, code := runCLI(t, "graph", "-C", appDir)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	var report struct {
		Modules []struct {
			Name  string `json:"name"`
			Entry bool   `json:"entry"`
		} `json:"modules"`
		Chunks []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\nstdout: %s", err, stdout)
	}
	if len(report.Modules) != 4 {
		t.Errorf("Expected 4 modules, got %+v", report.Modules)
	}
	if len(report.Modules) > 0 && (report.Modules[0].Name != "src/main.js" || !report.Modules[0].Entry) {
		t.Errorf("Expected src/main.js first, got %+v", report.Modules[0])
	}
	if len(report.Chunks) != 2 {
		t.Errorf("Expected an entry and an async chunk, got %+v", report.Chunks)
	}
	if _, err := os.Stat(filepath.Join(appDir, "dist")); err == nil {
		t.Error("Expected graph not to write output")
	}
}

func TestVersion(t *testing.T) {
	stdout, stderr, code := runCLI(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	if info["version"] == nil {
		t.Error("Expected a version field")
	}
}

func TestVersionFlag(t *testing.T) {
	stdout, _, code := runCLI(t, "--version")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if !strings.HasPrefix(stdout, "sheaf version ") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}

	expectedStrings := []string{
		"sheaf",
		"build",
		"watch",
		"resolve",
		"graph",
		"--config",
		"--output",
	}

	for _, s := range expectedStrings {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in help output", s)
		}
	}
}

func TestBuildHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "build", "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}
	for _, s := range []string{"--out-dir", "--define", "--split", "--entry"} {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in build help output", s)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, code := runCLI(t, "unknown")
	if code == 0 {
		t.Error("Expected non-zero exit code for unknown command")
	}

	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("Expected 'unknown command' error, got: %s", stderr)
	}
}
