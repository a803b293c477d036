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

package chunk

// Candidate is a module contained in more than one chunk.
type Candidate struct {
	Module int
	ID     string
	// Chunks lists the chunks containing the module, ascending.
	Chunks []int
	Size   int
	// Weight is the number of bytes extraction saves.
	Weight int
}

// SharedStrategy picks which candidates move to shared chunks. Select
// receives candidates ordered by weight descending, then ID ascending, and
// returns the ones to extract. Candidates left out are duplicated into
// every chunk that contains them.
type SharedStrategy interface {
	Select(candidates []Candidate) []Candidate
}

// ThresholdStrategy extracts modules used by at least MinChunks chunks and
// at least MinSize bytes long.
type ThresholdStrategy struct {
	MinChunks int
	MinSize   int
}

// DefaultStrategy extracts every module two or more chunks share.
var DefaultStrategy = ThresholdStrategy{MinChunks: 2}

func (s ThresholdStrategy) Select(candidates []Candidate) []Candidate {
	minChunks := max(s.MinChunks, 2)
	var out []Candidate
	for _, c := range candidates {
		if len(c.Chunks) >= minChunks && c.Size >= s.MinSize {
			out = append(out, c)
		}
	}
	return out
}

// DuplicateStrategy never extracts; shared modules are copied into every
// chunk that uses them.
type DuplicateStrategy struct{}

func (DuplicateStrategy) Select([]Candidate) []Candidate { return nil }
