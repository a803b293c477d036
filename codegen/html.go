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

package codegen

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"bennypowers.dev/sheaf/importmap"
)

// Page is an HTML document whose module scripts and stylesheets are
// entries.
type Page struct {
	Path    string
	Content []byte
	// Entries maps script src and stylesheet href values to the entry
	// file each resolved to.
	Entries map[string]string
}

func (x *emission) page(p Page, out *Output) (Asset, error) {
	name := x.rel(p.Path)
	urls := make(map[string]string, len(p.Entries))
	for ref, path := range p.Entries {
		for _, r := range x.mg.LookupPath(path) {
			if !r.Entry {
				continue
			}
			if file, ok := out.ChunkFile(x.cg, r.Index); ok {
				urls[ref] = strings.TrimSuffix(x.e.opts.PublicPath, "/") + "/" + file
				break
			}
		}
	}
	content, err := RewriteHTML(p.Content, urls, x.e.opts.ImportMap)
	if err != nil {
		return Asset{}, &EmitError{Asset: name, Err: err}
	}
	if out.Manifest.Pages == nil {
		out.Manifest.Pages = make(map[string]string)
	}
	out.Manifest.Pages[name] = name
	return Asset{Name: name, Kind: PageAsset, Chunk: -1, Content: content}, nil
}

// RewriteHTML points module scripts at emitted chunks and replaces
// stylesheet links with the module scripts that install them. urls maps
// original src and href values to asset URLs; unmapped references are
// left alone. A non-empty import map is inserted at the top of <head>,
// ahead of every module script.
func RewriteHTML(content []byte, urls map[string]string, im *importmap.ImportMap) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var head *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode {
				switch c.DataAtom {
				case atom.Head:
					if head == nil {
						head = c
					}
				case atom.Script:
					if attr(c, "type") == "module" {
						if u, ok := urls[attr(c, "src")]; ok {
							setAttr(c, "src", u)
						}
					}
				case atom.Link:
					rels := strings.Fields(strings.ToLower(attr(c, "rel")))
					if u, ok := urls[attr(c, "href")]; ok && slices.Contains(rels, "stylesheet") {
						n.InsertBefore(moduleScript(u), c)
						n.RemoveChild(c)
					}
				}
			}
			walk(c)
			c = next
		}
	}
	walk(doc)

	if im != nil && !im.Empty() && head != nil {
		script := &html.Node{
			Type:     html.ElementNode,
			Data:     "script",
			DataAtom: atom.Script,
			Attr:     []html.Attribute{{Key: "type", Val: "importmap"}},
		}
		script.AppendChild(&html.Node{Type: html.TextNode, Data: im.ToJSON()})
		head.InsertBefore(script, head.FirstChild)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func moduleScript(src string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "type", Val: "module"},
			{Key: "src", Val: src},
		},
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
