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

// Package sourcemap reads, writes and composes version 3 source maps.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidMapping is returned when a mappings string cannot be decoded.
var ErrInvalidMapping = errors.New("invalid source map mappings")

// Map is a version 3 source map.
type Map struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// Segment maps a generated column to an original position. Indexes are
// zero-based. Source and Name are -1 when absent.
type Segment struct {
	GenColumn int
	Source    int
	Line      int
	Column    int
	Name      int
}

// Line holds the segments of one generated line, ordered by column.
type Line []Segment

// Parse decodes a JSON source map.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse source map: %w", err)
	}
	if m.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", m.Version)
	}
	return &m, nil
}

// JSON encodes the map.
func (m *Map) JSON() ([]byte, error) {
	if m.Sources == nil {
		m.Sources = []string{}
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	return json.Marshal(m)
}

// Identity returns a map from content to itself, one segment per line.
func Identity(source string, content []byte) *Map {
	n := bytes.Count(content, []byte("\n")) + 1
	lines := make([]Line, n)
	for i := range lines {
		lines[i] = Line{{GenColumn: 0, Source: 0, Line: i, Column: 0, Name: -1}}
	}
	return &Map{
		Version:        3,
		Sources:        []string{source},
		SourcesContent: []string{string(content)},
		Names:          []string{},
		Mappings:       Encode(lines),
	}
}

// Decode expands the mappings string.
func (m *Map) Decode() ([]Line, error) {
	var (
		lines                   []Line
		source, line, col, name int
	)
	for _, group := range strings.Split(m.Mappings, ";") {
		var out Line
		genCol := 0
		for _, seg := range strings.Split(group, ",") {
			if seg == "" {
				continue
			}
			fields, err := decodeVLQ(seg)
			if err != nil {
				return nil, err
			}
			s := Segment{Source: -1, Name: -1}
			switch len(fields) {
			case 1, 4, 5:
			default:
				return nil, fmt.Errorf("%w: segment %q has %d fields", ErrInvalidMapping, seg, len(fields))
			}
			genCol += fields[0]
			s.GenColumn = genCol
			if len(fields) >= 4 {
				source += fields[1]
				line += fields[2]
				col += fields[3]
				if source < 0 || source >= len(m.Sources) {
					return nil, fmt.Errorf("%w: source index %d out of range", ErrInvalidMapping, source)
				}
				s.Source, s.Line, s.Column = source, line, col
			}
			if len(fields) == 5 {
				name += fields[4]
				s.Name = name
			}
			out = append(out, s)
		}
		lines = append(lines, out)
	}
	return lines, nil
}

// Encode produces a mappings string.
func Encode(lines []Line) string {
	var (
		b                       strings.Builder
		source, line, col, name int
	)
	for i, l := range lines {
		if i > 0 {
			b.WriteByte(';')
		}
		genCol := 0
		for j, s := range l {
			if j > 0 {
				b.WriteByte(',')
			}
			encodeVLQ(&b, s.GenColumn-genCol)
			genCol = s.GenColumn
			if s.Source < 0 {
				continue
			}
			encodeVLQ(&b, s.Source-source)
			encodeVLQ(&b, s.Line-line)
			encodeVLQ(&b, s.Column-col)
			source, line, col = s.Source, s.Line, s.Column
			if s.Name >= 0 {
				encodeVLQ(&b, s.Name-name)
				name = s.Name
			}
		}
	}
	return b.String()
}

// lookup finds the segment covering a generated position.
func lookup(lines []Line, line, col int) (Segment, bool) {
	if line < 0 || line >= len(lines) {
		return Segment{}, false
	}
	l := lines[line]
	i, found := slices.BinarySearchFunc(l, col, func(s Segment, c int) int { return s.GenColumn - c })
	if !found {
		i--
	}
	if i < 0 {
		return Segment{}, false
	}
	return l[i], true
}

// Compose returns a map from outer's generated code to inner's sources.
// outer must describe a transform of the code inner generated.
func Compose(outer, inner *Map) (*Map, error) {
	if inner == nil {
		return outer, nil
	}
	if outer == nil {
		return inner, nil
	}
	outerLines, err := outer.Decode()
	if err != nil {
		return nil, err
	}
	innerLines, err := inner.Decode()
	if err != nil {
		return nil, err
	}

	out := &Map{
		Version:        3,
		File:           outer.File,
		Sources:        inner.Sources,
		SourcesContent: inner.SourcesContent,
		Names:          slices.Clone(inner.Names),
	}
	names := make(map[string]int, len(out.Names))
	for i, n := range out.Names {
		names[n] = i
	}

	lines := make([]Line, len(outerLines))
	for i, l := range outerLines {
		for _, s := range l {
			if s.Source < 0 {
				continue
			}
			orig, ok := lookup(innerLines, s.Line, s.Column)
			if !ok || orig.Source < 0 {
				continue
			}
			seg := Segment{GenColumn: s.GenColumn, Source: orig.Source, Line: orig.Line, Column: orig.Column, Name: orig.Name}
			if s.Name >= 0 && s.Name < len(outer.Names) {
				name := outer.Names[s.Name]
				idx, ok := names[name]
				if !ok {
					idx = len(out.Names)
					names[name] = idx
					out.Names = append(out.Names, name)
				}
				seg.Name = idx
			}
			lines[i] = append(lines[i], seg)
		}
	}
	out.Mappings = Encode(lines)
	return out, nil
}

// Comment returns the trailing sourceMappingURL comment for a script.
func Comment(url string) string {
	return "//# sourceMappingURL=" + url
}
