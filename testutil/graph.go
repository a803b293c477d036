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

package testutil

import (
	"context"
	"testing"

	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/internal/mapfs"
	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/resolve"
	"bennypowers.dev/sheaf/workerpool"
)

// GraphFixture wires a graph builder over an in-memory tree with the
// default loader rules.
type GraphFixture struct {
	FS       *mapfs.MapFileSystem
	Resolver *resolve.Resolver
	Pipeline *loader.Pipeline
	Pool     *workerpool.Pool
	Builder  *graph.Builder
}

// NewGraphFixture builds the fixture from a path -> content table.
func NewGraphFixture(t *testing.T, files map[string]string) *GraphFixture {
	t.Helper()
	mfs := NewTreeFS(t, files)
	pool := workerpool.New(4)
	pipeline, err := loader.New("/", loader.DefaultRules, loader.Builtins(nil), pool)
	if err != nil {
		t.Fatalf("loader.New: %v", err)
	}
	r := resolve.New(mfs, nil)
	return &GraphFixture{
		FS:       mfs,
		Resolver: r,
		Pipeline: pipeline,
		Pool:     pool,
		Builder:  graph.NewBuilder(mfs, r, pipeline, pool),
	}
}

// BuildGraph ingests entries from files and fails the test on error.
func BuildGraph(t *testing.T, files map[string]string, entries ...string) *graph.Graph {
	t.Helper()
	g, err := NewGraphFixture(t, files).Builder.Ingest(context.Background(), entries)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return g
}

// Index returns the index of the single record built from path.
func Index(t *testing.T, g *graph.Graph, path string) int {
	t.Helper()
	rs := g.LookupPath(path)
	if len(rs) != 1 {
		t.Fatalf("expected one record for %s, got %d", path, len(rs))
	}
	return rs[0].Index
}
