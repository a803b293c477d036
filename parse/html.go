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

package parse

import (
	"slices"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// ScriptTag represents a <script> tag found in HTML.
type ScriptTag struct {
	Type    string // The type attribute (e.g., "module")
	Src     string // The src attribute (external script)
	Inline  bool   // True if script has inline content
	Content string // The inline script content
}

// IsModuleEntry reports whether the tag loads a local module script.
func (s ScriptTag) IsModuleEntry() bool {
	return s.Type == "module" && s.Src != "" && !IsRemoteURL(s.Src)
}

// Page is the bundling-relevant content of an HTML document.
type Page struct {
	Scripts []ScriptTag
	// Stylesheets lists local <link rel="stylesheet"> hrefs.
	Stylesheets []string
}

// Entries returns the module scripts and stylesheets the page loads, in
// document order, scripts first.
func (p *Page) Entries() []string {
	var entries []string
	for _, s := range p.Scripts {
		if s.IsModuleEntry() {
			entries = append(entries, s.Src)
		}
	}
	return append(entries, p.Stylesheets...)
}

// HTML extracts script tags and stylesheet links from an HTML document.
func HTML(content []byte) (*Page, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	parser := getParser(htmlParserPool)
	defer putParser(htmlParserPool, parser)

	tree := parser.Parse(content, nil)
	defer tree.Close()

	query, err := qm.Query("html", "tags")
	if err != nil {
		return nil, err
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	page := &Page{}
	matches := cursor.Matches(query, tree.RootNode(), content)
	captureNames := query.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		for i := range match.Captures {
			c := &match.Captures[i]
			switch captureNames[c.Index] {
			case "script":
				page.Scripts = append(page.Scripts, scriptTag(&c.Node, content))
			case "tag":
				tag := &c.Node
				name := firstNamed(tag, "tag_name")
				if name == nil || !strings.EqualFold(name.Utf8Text(content), "link") {
					continue
				}
				attrs := attributes(tag, content)
				rels := strings.Fields(strings.ToLower(attrs["rel"]))
				if slices.Contains(rels, "stylesheet") && attrs["href"] != "" && !IsRemoteURL(attrs["href"]) {
					page.Stylesheets = append(page.Stylesheets, attrs["href"])
				}
			}
		}
	}

	return page, nil
}

func scriptTag(n *ts.Node, content []byte) ScriptTag {
	script := ScriptTag{}
	if start := firstNamed(n, "start_tag"); start != nil {
		attrs := attributes(start, content)
		script.Type = attrs["type"]
		script.Src = attrs["src"]
	}
	if raw := firstNamed(n, "raw_text"); raw != nil && script.Src == "" {
		text := strings.TrimSpace(raw.Utf8Text(content))
		if text != "" {
			script.Content = text
			script.Inline = true
		}
	}
	return script
}

// attributes returns the lower-cased attribute names of a tag and their
// unquoted values.
func attributes(tag *ts.Node, content []byte) map[string]string {
	attrs := make(map[string]string)
	for i := uint(0); i < tag.NamedChildCount(); i++ {
		attr := tag.NamedChild(i)
		if attr.Kind() != "attribute" {
			continue
		}
		var name, value string
		for j := uint(0); j < attr.NamedChildCount(); j++ {
			c := attr.NamedChild(j)
			switch c.Kind() {
			case "attribute_name":
				name = strings.ToLower(c.Utf8Text(content))
			case "attribute_value":
				value = c.Utf8Text(content)
			case "quoted_attribute_value":
				if v := firstNamed(c, "attribute_value"); v != nil {
					value = v.Utf8Text(content)
				}
			}
		}
		if name != "" {
			attrs[name] = value
		}
	}
	return attrs
}
