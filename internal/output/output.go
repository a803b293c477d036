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

// Package output formats build results for the sheaf commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/graph"
)

// FileKey is the viper key of the --output flag.
const FileKey = "output-file"

// JSON writes v as indented JSON. If the --output flag is set, writes to
// that file; otherwise prints to w.
func JSON(osfs fs.FileSystem, w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	data = append(data, '\n')
	if outputPath := viper.GetString(FileKey); outputPath != "" {
		return osfs.WriteFile(outputPath, data, 0644)
	}
	_, err = w.Write(data)
	return err
}

// Diagnostics prints one line per diagnostic, with the import chain that
// reached the module indented beneath it.
func Diagnostics(w io.Writer, root string, ds []graph.Diagnostic) {
	for _, d := range ds {
		fmt.Fprintln(w, Relative(root, d.String()))
		for i, link := range d.Chain {
			fmt.Fprintf(w, "  %s%s\n", strings.Repeat("  ", i), Relative(root, link))
		}
	}
}

// Assets prints the emitted files with their sizes, then the manifest
// when one is given.
func Assets(w io.Writer, assets []codegen.Asset, manifest *codegen.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var total int
	for _, a := range assets {
		total += len(a.Content)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.Kind, size(len(a.Content)))
	}
	if manifest != nil {
		data, err := manifest.JSON()
		if err != nil {
			return err
		}
		total += len(data)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", codegen.ManifestName, "manifest", size(len(data)))
	}
	fmt.Fprintf(tw, "\t\t%s\n", size(total))
	return tw.Flush()
}

func size(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// Relative shortens absolute paths under root within s.
func Relative(root, s string) string {
	if root == "" {
		return s
	}
	return strings.ReplaceAll(s, filepath.ToSlash(root)+"/", "")
}

// Report describes the module and chunk graphs of a build.
type Report struct {
	Modules []Module   `json:"modules"`
	Chunks  []Chunk    `json:"chunks,omitempty"`
	Cycles  [][]string `json:"cycles,omitempty"`
}

// Module is one module graph record.
type Module struct {
	Name     string       `json:"name"`
	Entry    bool         `json:"entry,omitempty"`
	External bool         `json:"external,omitempty"`
	Package  string       `json:"package,omitempty"`
	State    string       `json:"state"`
	Size     int          `json:"size"`
	Imports  []Dependency `json:"imports,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Dependency is one import of a module.
type Dependency struct {
	Specifier string `json:"specifier"`
	Kind      string `json:"kind"`
	Target    string `json:"target,omitempty"`
}

// Chunk is one chunk graph node.
type Chunk struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	Modules       []string `json:"modules"`
	Parents       []string `json:"parents,omitempty"`
	Children      []string `json:"children,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Externals     []string `json:"externals,omitempty"`
}

// NewReport describes mg and, when it is not nil, cg. Module names are
// paths relative to root, or the specifier of external modules.
func NewReport(root string, mg *graph.Graph, cg *chunk.Graph) Report {
	name := func(i int) string {
		r := mg.Record(i)
		if r.External {
			return r.Specifier
		}
		if rel, err := filepath.Rel(root, r.Path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
		return r.Path
	}
	names := func(indexes []int) []string {
		out := make([]string, len(indexes))
		for i, idx := range indexes {
			out[i] = name(idx)
		}
		return out
	}

	var rep Report
	for _, r := range mg.Records() {
		m := Module{
			Name:     name(r.Index),
			Entry:    r.Entry,
			External: r.External,
			Package:  r.PackageName,
			State:    r.State.String(),
			Size:     len(r.Code),
		}
		if r.Err != nil {
			m.Error = Relative(root, r.Err.Error())
		}
		for _, e := range mg.Edges(r.Index) {
			dep := Dependency{Specifier: e.Specifier, Kind: e.Kind.String()}
			if e.To >= 0 {
				dep.Target = name(e.To)
			}
			m.Imports = append(m.Imports, dep)
		}
		rep.Modules = append(rep.Modules, m)
	}
	for _, cycle := range mg.Cycles() {
		rep.Cycles = append(rep.Cycles, names(cycle))
	}
	if cg == nil {
		return rep
	}
	chunkNames := func(indexes []int) []string {
		out := make([]string, len(indexes))
		for i, idx := range indexes {
			out[i] = cg.Chunks[idx].Name
		}
		return out
	}
	for _, c := range cg.Chunks {
		rep.Chunks = append(rep.Chunks, Chunk{
			Name:          c.Name,
			Kind:          c.Kind.String(),
			Modules:       names(c.Modules),
			Parents:       chunkNames(c.Parents),
			Children:      chunkNames(c.Children),
			Prerequisites: chunkNames(c.Prerequisites),
			Externals:     c.Externals,
		})
	}
	return rep
}
