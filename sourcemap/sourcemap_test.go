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

package sourcemap_test

import (
	"errors"
	"slices"
	"testing"

	"bennypowers.dev/sheaf/sourcemap"
)

func TestEncodeDecode(t *testing.T) {
	lines := []sourcemap.Line{
		{{GenColumn: 0, Source: 0, Line: 0, Column: 0, Name: -1}, {GenColumn: 9, Source: 0, Line: 0, Column: 13, Name: 0}},
		nil,
		{{GenColumn: 2, Source: 1, Line: 40, Column: 3, Name: -1}, {GenColumn: 20, Source: -1, Name: -1}},
	}
	m := &sourcemap.Map{
		Version:  3,
		Sources:  []string{"a.js", "b.js"},
		Names:    []string{"foo"},
		Mappings: sourcemap.Encode(lines),
	}
	if m.Mappings != "AAAA,SAAaA;;ECwCV,kB" {
		t.Errorf("mappings = %q", m.Mappings)
	}
	got, err := m.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i := range lines {
		if !slices.Equal(got[i], lines[i]) {
			t.Errorf("line %d: got %+v, want %+v", i, got[i], lines[i])
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	for _, mappings := range []string{"A!AA", "AAA", "g"} {
		m := &sourcemap.Map{Version: 3, Sources: []string{"a.js"}, Mappings: mappings}
		if _, err := m.Decode(); !errors.Is(err, sourcemap.ErrInvalidMapping) {
			t.Errorf("%q: expected ErrInvalidMapping, got %v", mappings, err)
		}
	}
}

func TestCompose(t *testing.T) {
	// inner: intermediate line 0 col 4 comes from original line 2 col 0
	inner := &sourcemap.Map{
		Version: 3,
		Sources: []string{"src/app.ts"},
		Names:   []string{},
		Mappings: sourcemap.Encode([]sourcemap.Line{
			{{GenColumn: 0, Source: 0, Line: 1, Column: 0, Name: -1}, {GenColumn: 4, Source: 0, Line: 2, Column: 0, Name: -1}},
		}),
	}
	// outer: generated line 3 col 0 comes from intermediate line 0 col 6
	outer := &sourcemap.Map{
		Version: 3,
		Sources: []string{"app.js"},
		Names:   []string{"x"},
		Mappings: sourcemap.Encode([]sourcemap.Line{
			nil, nil, nil,
			{{GenColumn: 0, Source: 0, Line: 0, Column: 6, Name: 0}, {GenColumn: 8, Source: 0, Line: 5, Column: 0, Name: -1}},
		}),
	}

	composed, err := sourcemap.Compose(outer, inner)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !slices.Equal(composed.Sources, []string{"src/app.ts"}) {
		t.Errorf("sources = %v", composed.Sources)
	}
	lines, err := composed.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 4 || len(lines[3]) != 1 {
		t.Fatalf("unexpected lines %+v", lines)
	}
	want := sourcemap.Segment{GenColumn: 0, Source: 0, Line: 2, Column: 0, Name: 0}
	if lines[3][0] != want {
		t.Errorf("segment = %+v, want %+v", lines[3][0], want)
	}
	if composed.Names[0] != "x" {
		t.Errorf("names = %v", composed.Names)
	}

	if same, _ := sourcemap.Compose(outer, nil); same != outer {
		t.Error("Compose with nil inner should return outer")
	}
}

func TestBuilder(t *testing.T) {
	a := sourcemap.Identity("a.js", []byte("one\ntwo"))
	b := sourcemap.Identity("b.js", []byte("three"))

	builder := sourcemap.NewBuilder("chunk.js")
	if err := builder.Add(a, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := builder.Add(b, 4, 2); err != nil {
		t.Fatal(err)
	}
	if err := builder.Add(a, 6, 0); err != nil {
		t.Fatal(err)
	}
	m := builder.Map()

	if !slices.Equal(m.Sources, []string{"a.js", "b.js"}) {
		t.Errorf("sources = %v", m.Sources)
	}
	if m.SourcesContent[1] != "three" {
		t.Errorf("sourcesContent = %v", m.SourcesContent)
	}
	lines, err := m.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d", len(lines))
	}
	if len(lines[0]) != 0 || len(lines[3]) != 0 {
		t.Error("expected unmapped gap lines")
	}
	if got := lines[2][0]; got.Source != 0 || got.Line != 1 {
		t.Errorf("line 2 = %+v", got)
	}
	if got := lines[4][0]; got.Source != 1 || got.GenColumn != 2 {
		t.Errorf("line 4 = %+v", got)
	}
}

func TestParse(t *testing.T) {
	m, err := sourcemap.Parse([]byte(`{"version":3,"sources":["a.js"],"names":[],"mappings":"AAAA"}`))
	if err != nil {
		t.Fatal(err)
	}
	data, err := m.JSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"version":3,"sources":["a.js"],"names":[],"mappings":"AAAA"}` {
		t.Errorf("JSON = %s", data)
	}
	if _, err := sourcemap.Parse([]byte(`{"version":2}`)); err == nil {
		t.Error("expected version error")
	}
}
