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

package cdn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidRange is returned by ParseRange for malformed npm ranges.
var ErrInvalidRange = errors.New("invalid version range")

// Range is a parsed npm version range: a union of comparator sets, each
// of which is an intersection.
type Range struct {
	raw  string
	sets [][]comparator
}

type comparator struct {
	op string // one of "<", "<=", ">", ">=", "="
	v  string // canonical, "v"-prefixed
	// pre is set when the range itself named a prerelease for this tuple.
	pre bool
}

// partial is a version that may omit minor and patch, or use x wildcards.
type partial struct {
	major, minor, patch int
	n                   int
	pre                 string
}

func (p partial) version(major, minor, patch int, pre string) string {
	v := fmt.Sprintf("v%d.%d.%d", major, minor, patch)
	if pre != "" {
		v += "-" + pre
	}
	return v
}

func (p partial) floor() comparator {
	return comparator{op: ">=", v: p.version(p.major, p.minor, p.patch, p.pre), pre: p.pre != ""}
}

// ceiling is the exclusive upper bound of the partial's wildcard span.
func (p partial) ceiling() comparator {
	switch p.n {
	case 1:
		return comparator{op: "<", v: p.version(p.major+1, 0, 0, "0")}
	default:
		return comparator{op: "<", v: p.version(p.major, p.minor+1, 0, "0")}
	}
}

var (
	anything = []comparator{}
	nothing  = []comparator{{op: "<", v: "v0.0.0-0"}}
)

// ParseRange parses npm range syntax: exact versions, partials and x
// ranges, caret, tilde, hyphen ranges, primitive comparators and "||".
func ParseRange(s string) (*Range, error) {
	r := &Range{raw: s}
	for _, alt := range strings.Split(s, "||") {
		set, err := parseSet(alt)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRange, s, err)
		}
		r.sets = append(r.sets, set)
	}
	return r, nil
}

func (r *Range) String() string {
	return r.raw
}

func parseSet(s string) ([]comparator, error) {
	tokens := joinOperators(strings.Fields(s))
	if len(tokens) == 0 {
		return anything, nil
	}
	if len(tokens) == 3 && tokens[1] == "-" {
		return parseHyphen(tokens[0], tokens[2])
	}
	var set []comparator
	for _, tok := range tokens {
		cs, err := parseComparator(tok)
		if err != nil {
			return nil, err
		}
		set = append(set, cs...)
	}
	return set, nil
}

// joinOperators turns [">=", "1.2.3"] into [">=1.2.3"].
func joinOperators(tokens []string) []string {
	var out []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.Trim(tok, "<>=^~") == "" && tok != "" && i+1 < len(tokens) {
			tok += tokens[i+1]
			i++
		}
		out = append(out, tok)
	}
	return out
}

func parseHyphen(lo, hi string) ([]comparator, error) {
	a, err := parsePartial(lo)
	if err != nil {
		return nil, err
	}
	b, err := parsePartial(hi)
	if err != nil {
		return nil, err
	}
	set := []comparator{a.floor()}
	switch b.n {
	case 0:
	case 3:
		set = append(set, comparator{op: "<=", v: b.version(b.major, b.minor, b.patch, b.pre), pre: b.pre != ""})
	default:
		set = append(set, b.ceiling())
	}
	return set, nil
}

func parseComparator(tok string) ([]comparator, error) {
	op := ""
	for _, prefix := range []string{"~>", ">=", "<=", ">", "<", "=", "^", "~"} {
		if strings.HasPrefix(tok, prefix) {
			op, tok = prefix, tok[len(prefix):]
			break
		}
	}
	p, err := parsePartial(tok)
	if err != nil {
		return nil, err
	}
	exact := comparator{v: p.version(p.major, p.minor, p.patch, p.pre), pre: p.pre != ""}

	switch op {
	case "", "=":
		if p.n == 0 {
			return anything, nil
		}
		if p.n == 3 {
			exact.op = "="
			return []comparator{exact}, nil
		}
		return []comparator{p.floor(), p.ceiling()}, nil

	case "^":
		switch {
		case p.n == 0:
			return anything, nil
		case p.major > 0 || p.n == 1:
			return []comparator{p.floor(), {op: "<", v: p.version(p.major+1, 0, 0, "0")}}, nil
		case p.minor > 0 || p.n == 2:
			return []comparator{p.floor(), {op: "<", v: p.version(0, p.minor+1, 0, "0")}}, nil
		default:
			return []comparator{p.floor(), {op: "<", v: p.version(0, 0, p.patch+1, "0")}}, nil
		}

	case "~", "~>":
		switch p.n {
		case 0:
			return anything, nil
		case 1:
			return []comparator{p.floor(), p.ceiling()}, nil
		default:
			return []comparator{p.floor(), {op: "<", v: p.version(p.major, p.minor+1, 0, "0")}}, nil
		}

	case ">":
		switch p.n {
		case 0:
			return nothing, nil
		case 3:
			exact.op = ">"
			return []comparator{exact}, nil
		case 2:
			return []comparator{{op: ">=", v: p.version(p.major, p.minor+1, 0, "")}}, nil
		default:
			return []comparator{{op: ">=", v: p.version(p.major+1, 0, 0, "")}}, nil
		}

	case ">=":
		if p.n == 0 {
			return anything, nil
		}
		return []comparator{p.floor()}, nil

	case "<":
		if p.n == 0 {
			return nothing, nil
		}
		if p.n < 3 {
			return []comparator{{op: "<", v: p.version(p.major, p.minor, 0, "0")}}, nil
		}
		exact.op = "<"
		return []comparator{exact}, nil

	default: // "<="
		switch p.n {
		case 0:
			return anything, nil
		case 3:
			exact.op = "<="
			return []comparator{exact}, nil
		default:
			return []comparator{p.ceiling()}, nil
		}
	}
}

func parsePartial(s string) (partial, error) {
	var p partial
	s = strings.TrimLeft(s, "v=")
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	core := s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		core, p.pre = s[:i], s[i+1:]
	}
	if core == "" {
		return p, fmt.Errorf("empty version")
	}
	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		return p, fmt.Errorf("too many components in %q", s)
	}
	nums := []*int{&p.major, &p.minor, &p.patch}
	wild := false
	for i, part := range parts {
		if part == "x" || part == "X" || part == "*" {
			wild = true
			continue
		}
		if wild {
			return p, fmt.Errorf("number after wildcard in %q", s)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return p, fmt.Errorf("bad component %q", part)
		}
		*nums[i] = n
		p.n++
	}
	if p.pre != "" && p.n < 3 {
		return p, fmt.Errorf("prerelease on partial version %q", s)
	}
	return p, nil
}

// Satisfies reports whether version falls in the range. Prereleases only
// match sets that name a prerelease of the same major.minor.patch.
func (r *Range) Satisfies(version string) bool {
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return false
	}
	v = semver.Canonical(v)
	for _, set := range r.sets {
		if matchSet(set, v) {
			return true
		}
	}
	return false
}

func matchSet(set []comparator, v string) bool {
	for _, c := range set {
		d := semver.Compare(v, c.v)
		var ok bool
		switch c.op {
		case "<":
			ok = d < 0
		case "<=":
			ok = d <= 0
		case ">":
			ok = d > 0
		case ">=":
			ok = d >= 0
		default:
			ok = d == 0
		}
		if !ok {
			return false
		}
	}
	if semver.Prerelease(v) == "" {
		return true
	}
	tuple := strings.TrimSuffix(v, semver.Prerelease(v))
	for _, c := range set {
		if c.pre && strings.TrimSuffix(c.v, semver.Prerelease(c.v)) == tuple {
			return true
		}
	}
	return false
}

// Highest returns the greatest of versions inside the range, or "".
func (r *Range) Highest(versions []string) string {
	best, bestCanon := "", ""
	for _, v := range versions {
		if !r.Satisfies(v) {
			continue
		}
		c := semver.Canonical("v" + strings.TrimPrefix(v, "v"))
		if best == "" || semver.Compare(c, bestCanon) > 0 {
			best, bestCanon = v, c
		}
	}
	return best
}
