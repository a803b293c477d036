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

package graph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"bennypowers.dev/sheaf/parse"
)

// UnresolvedError reports an import that could not be resolved on a
// synchronous path from an entry.
type UnresolvedError struct {
	Specifier string
	// Importer is the module containing the import; empty for entries.
	Importer string
	// Chain lists module IDs from the entry to the importer.
	Chain []string
	Err   error
}

func (e *UnresolvedError) Error() string {
	if e.Importer == "" {
		return fmt.Sprintf("cannot resolve entry %q: %v", e.Specifier, e.Err)
	}
	return fmt.Sprintf("cannot resolve %q imported by %s: %v", e.Specifier, strings.Join(e.Chain, " -> "), e.Err)
}

func (e *UnresolvedError) Unwrap() error {
	return e.Err
}

// Severity grades a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is a problem attached to a module.
type Diagnostic struct {
	Severity  Severity
	Module    string
	Specifier string
	Chain     []string
	Err       error
}

func (d Diagnostic) String() string {
	if d.Specifier != "" {
		return fmt.Sprintf("%s: %s: %q: %v", d.Severity, d.Module, d.Specifier, d.Err)
	}
	return fmt.Sprintf("%s: %s: %v", d.Severity, d.Module, d.Err)
}

// chains returns, for every record reachable over static edges from an
// entry, the shortest chain of IDs from an entry to it.
func (g *Graph) chains() map[int][]string {
	out := make(map[int][]string)
	queue := make([]int, 0, len(g.entries))
	for _, e := range g.entries {
		if _, ok := out[e]; !ok {
			out[e] = []string{g.records[e].ID}
			queue = append(queue, e)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[i] {
			if e.To < 0 || e.Kind != parse.Static {
				continue
			}
			if _, ok := out[e.To]; ok {
				continue
			}
			out[e.To] = append(slices.Clone(out[i]), g.records[e.To].ID)
			queue = append(queue, e.To)
		}
	}
	return out
}

// entryFailures returns an *UnresolvedError for each failed static import
// on a path from an entry.
func (g *Graph) entryFailures() []error {
	var errs []error
	chains := g.chains()
	for i, r := range g.records {
		chain, ok := chains[i]
		if !ok {
			continue
		}
		for _, e := range g.edges[i] {
			if e.Err != nil && e.Kind == parse.Static {
				errs = append(errs, &UnresolvedError{Specifier: e.Specifier, Importer: r.ID, Chain: chain, Err: e.Err})
			}
		}
	}
	return errs
}

// Diagnostics lists module errors and failed imports.
func (g *Graph) Diagnostics() []Diagnostic {
	var out []Diagnostic
	chains := g.chains()
	for i, r := range g.records {
		if r.Err != nil {
			out = append(out, Diagnostic{Severity: SeverityError, Module: r.ID, Chain: chains[i], Err: r.Err})
		}
		for _, e := range g.edges[i] {
			if e.Err == nil {
				continue
			}
			d := Diagnostic{Severity: SeverityWarning, Module: r.ID, Specifier: e.Specifier, Chain: chains[i], Err: e.Err}
			if _, sync := chains[i]; sync && e.Kind == parse.Static {
				d.Severity = SeverityError
			}
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b Diagnostic) int {
		return cmp.Or(cmp.Compare(a.Module, b.Module), cmp.Compare(a.Specifier, b.Specifier))
	})
	return out
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(ds []Diagnostic) bool {
	return slices.ContainsFunc(ds, func(d Diagnostic) bool { return d.Severity == SeverityError })
}

// AsUnresolved extracts every *UnresolvedError joined into err.
func AsUnresolved(err error) []*UnresolvedError {
	var out []*UnresolvedError
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *UnresolvedError:
			out = append(out, e)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return out
}
