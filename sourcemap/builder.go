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

package sourcemap

// Builder concatenates per-module maps into one map for a generated file.
type Builder struct {
	file     string
	sources  []string
	contents []string
	srcIndex map[string]int
	names    []string
	nameIdx  map[string]int
	lines    []Line
}

// NewBuilder starts a map for the named output file.
func NewBuilder(file string) *Builder {
	return &Builder{
		file:     file,
		srcIndex: make(map[string]int),
		nameIdx:  make(map[string]int),
	}
}

func (b *Builder) source(name, content string) int {
	if i, ok := b.srcIndex[name]; ok {
		return i
	}
	i := len(b.sources)
	b.srcIndex[name] = i
	b.sources = append(b.sources, name)
	b.contents = append(b.contents, content)
	return i
}

func (b *Builder) name(n string) int {
	if i, ok := b.nameIdx[n]; ok {
		return i
	}
	i := len(b.names)
	b.nameIdx[n] = i
	b.names = append(b.names, n)
	return i
}

// Add places m's generated lines starting at generated line offset,
// shifting columns of its first line by col.
func (b *Builder) Add(m *Map, offset, col int) error {
	lines, err := m.Decode()
	if err != nil {
		return err
	}
	srcMap := make([]int, len(m.Sources))
	for i, s := range m.Sources {
		content := ""
		if i < len(m.SourcesContent) {
			content = m.SourcesContent[i]
		}
		srcMap[i] = b.source(s, content)
	}
	for len(b.lines) < offset+len(lines) {
		b.lines = append(b.lines, nil)
	}
	for i, l := range lines {
		shift := 0
		if i == 0 {
			shift = col
		}
		for _, s := range l {
			if s.Source < 0 {
				continue
			}
			seg := Segment{
				GenColumn: s.GenColumn + shift,
				Source:    srcMap[s.Source],
				Line:      s.Line,
				Column:    s.Column,
				Name:      -1,
			}
			if s.Name >= 0 && s.Name < len(m.Names) {
				seg.Name = b.name(m.Names[s.Name])
			}
			b.lines[offset+i] = append(b.lines[offset+i], seg)
		}
	}
	return nil
}

// Map returns the accumulated map.
func (b *Builder) Map() *Map {
	return &Map{
		Version:        3,
		File:           b.file,
		Sources:        append([]string{}, b.sources...),
		SourcesContent: append([]string{}, b.contents...),
		Names:          append([]string{}, b.names...),
		Mappings:       Encode(b.lines),
	}
}
