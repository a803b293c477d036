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

// Package codegen renders chunk graphs into JavaScript assets.
package codegen

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Template names output assets. Variables may be written as [var] or
// {var}:
//   - [name] - chunk name (e.g., "main" or "shared-util")
//   - [hash] - content hash of the chunk and everything it loads
//   - [id]   - chunk index
//   - [ext]  - file extension without the dot
type Template struct {
	pattern   string
	variables []string
}

var variablePattern = regexp.MustCompile(`\[(\w+)\]|\{(\w+)\}`)

// DefaultTemplate is used when no asset template is configured.
const DefaultTemplate = "[name].[hash].js"

// ParseTemplate parses an asset name template.
func ParseTemplate(pattern string) (*Template, error) {
	if pattern == "" {
		return nil, fmt.Errorf("template pattern cannot be empty")
	}
	if strings.Contains(pattern, "/") || strings.Contains(pattern, `\`) {
		return nil, fmt.Errorf("template %q must name a file, not a path", pattern)
	}

	var variables []string
	for _, match := range variablePattern.FindAllStringSubmatch(pattern, -1) {
		variables = append(variables, match[1]+match[2])
	}

	validVars := map[string]bool{
		"name": true,
		"hash": true,
		"id":   true,
		"ext":  true,
	}
	for _, v := range variables {
		if !validVars[v] {
			return nil, fmt.Errorf("unknown template variable: [%s]", v)
		}
	}
	if !slices.Contains(variables, "name") && !slices.Contains(variables, "id") {
		return nil, fmt.Errorf("template %q must contain [name] or [id]", pattern)
	}

	return &Template{
		pattern:   pattern,
		variables: variables,
	}, nil
}

// Expand substitutes variables in the template with actual values.
func (t *Template) Expand(name, hash string, id int, ext string) string {
	return variablePattern.ReplaceAllStringFunc(t.pattern, func(m string) string {
		switch strings.Trim(m, "[]{}") {
		case "name":
			return name
		case "hash":
			return hash
		case "id":
			return fmt.Sprint(id)
		case "ext":
			return ext
		}
		return m
	})
}

// Pattern returns the original template pattern.
func (t *Template) Pattern() string {
	return t.pattern
}

// Variables returns the list of variables used in the template.
func (t *Template) Variables() []string {
	return t.variables
}

// HasHash reports whether names change with content.
func (t *Template) HasHash() bool {
	return slices.Contains(t.variables, "hash")
}
