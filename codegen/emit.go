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
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/importmap"
	"bennypowers.dev/sheaf/resolve"
	"bennypowers.dev/sheaf/sourcemap"
)

// Logger is an interface for logging messages during emission.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Options configures emission.
type Options struct {
	// Root is the directory module IDs and source map paths are made
	// relative to.
	Root string
	// Template names chunk assets. Empty uses DefaultTemplate.
	Template string
	// PublicPath prefixes asset URLs written into HTML pages.
	PublicPath string
	// TreeShake drops unused exports and pure statements. It is ignored
	// when HMRPath is set, since hot updates replace whole modules.
	TreeShake bool
	// HMRPath enables hot updates over a WebSocket at this path.
	HMRPath    string
	SourceMaps bool
	// ImportMap is written to the manifest and into HTML pages.
	ImportMap *importmap.ImportMap
	Pages     []Page
}

// AssetKind classifies emitted files.
type AssetKind int

const (
	RuntimeAsset AssetKind = iota
	ChunkAsset
	SourceMapAsset
	PageAsset
)

func (k AssetKind) String() string {
	switch k {
	case RuntimeAsset:
		return "runtime"
	case ChunkAsset:
		return "chunk"
	case SourceMapAsset:
		return "sourcemap"
	case PageAsset:
		return "page"
	}
	return "unknown"
}

// Asset is one emitted file.
type Asset struct {
	Name string
	Kind AssetKind
	// Chunk is the chunk index for chunk and source map assets, or -1.
	Chunk   int
	Content []byte
}

// Output is the result of one emission.
type Output struct {
	Assets   []Asset
	Manifest *Manifest
	// Files maps chunk index to asset name.
	Files   []string
	Runtime string
}

// Asset returns the asset with the given name.
func (o *Output) Asset(name string) (*Asset, bool) {
	for i := range o.Assets {
		if o.Assets[i].Name == name {
			return &o.Assets[i], true
		}
	}
	return nil, false
}

// ChunkFile returns the asset name of the chunk opened for module i.
func (o *Output) ChunkFile(cg *chunk.Graph, i int) (string, bool) {
	c, ok := cg.Opened(i)
	if !ok {
		return "", false
	}
	return o.Files[c.Index], true
}

// Emitter renders chunk graphs. It keeps each module's rendered factory
// between emissions, so a rebuild only rewrites modules whose content,
// liveness or dependency targets changed.
type Emitter struct {
	opts   Options
	tmpl   *Template
	logger Logger

	mu     sync.Mutex
	pieces map[string]cachedPiece
	last   *emission
}

type cachedPiece struct {
	key string
	p   piece
}

// New creates an emitter.
func New(opts Options) (*Emitter, error) {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	tmpl, err := ParseTemplate(opts.Template)
	if err != nil {
		return nil, err
	}
	if opts.PublicPath == "" {
		opts.PublicPath = "/"
	}
	return &Emitter{
		opts:   opts,
		tmpl:   tmpl,
		pieces: make(map[string]cachedPiece),
	}, nil
}

// WithLogger returns the emitter with logging enabled.
func (e *Emitter) WithLogger(logger Logger) *Emitter {
	e.logger = logger
	return e
}

// SetPages replaces the HTML pages rewritten by later emissions.
func (e *Emitter) SetPages(pages []Page) {
	e.mu.Lock()
	e.opts.Pages = pages
	e.mu.Unlock()
}

func (e *Emitter) debug(format string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(format, args...)
	}
}

func (e *Emitter) warn(format string, args ...any) {
	if e.logger != nil {
		e.logger.Warning(format, args...)
	}
}

// emission holds the state of one Emit call.
type emission struct {
	e     *Emitter
	mg    *graph.Graph
	cg    *chunk.Graph
	u     *usage
	ids   []string
	names *strings.Replacer
	files []string
}

func (x *emission) external(t int) bool {
	if x.mg.Record(t).External {
		return true
	}
	_, ok := x.cg.Federated[t]
	return ok
}

func (x *emission) commonJS(t int) bool {
	a := x.mg.Record(t).Analysis
	return a != nil && a.CommonJS
}

func (x *emission) rel(path string) string {
	return relPath(x.e.opts.Root, path)
}

func relPath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// RuntimeIDs returns the registry ID of every record: the path relative
// to root, with the module's conditions appended when one file was built
// under several, or the external ID for external and federated modules.
func RuntimeIDs(mg *graph.Graph, cg *chunk.Graph, root string) []string {
	ids := make([]string, mg.Len())
	seen := make(map[string]int)
	local := func(i int) bool {
		if mg.Record(i).External {
			return false
		}
		_, federated := cg.Federated[i]
		return !federated
	}
	for i, r := range mg.Records() {
		switch {
		case r.External:
			ids[i] = r.ID
		case !local(i):
			ids[i] = resolve.ExternalID(cg.Federated[i])
		default:
			ids[i] = relPath(root, r.Path)
			seen[ids[i]]++
		}
	}
	for i, r := range mg.Records() {
		if local(i) && seen[ids[i]] > 1 {
			ids[i] += strings.TrimPrefix(r.ID, r.Path)
		}
	}
	return ids
}

// Placeholders stand for asset names until every chunk is hashed. U+E000
// is a private use character that source text does not contain.
const (
	mark               = "\ue000"
	runtimePlaceholder = mark + "runtime" + mark
	mapPlaceholder     = mark + "map" + mark
)

func chunkPlaceholder(i int) string {
	return mark + "chunk" + strconv.Itoa(i) + mark
}

type rendered struct {
	text string
	sum  string
	refs []int
	maps []placedMap
}

type placedMap struct {
	m    *sourcemap.Map
	line int
}

func hashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))[:8]
}

// Emit renders every chunk of cg. Output bytes depend only on the graphs
// and options.
func (e *Emitter) Emit(cg *chunk.Graph, mg *graph.Graph) (*Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	x := &emission{
		e:   e,
		mg:  mg,
		cg:  cg,
		u:   shake(mg, cg, e.opts.TreeShake && e.opts.HMRPath == ""),
		ids: RuntimeIDs(mg, cg, e.opts.Root),
	}
	runtime := Runtime(e.opts.HMRPath)
	runtimeSum := hashString(runtime)

	drafts := make([]*rendered, len(cg.Chunks))
	for i, c := range cg.Chunks {
		drafts[i] = x.render(c)
	}

	out := &Output{
		Runtime: e.tmpl.Expand("runtime", runtimeSum, len(cg.Chunks), "js"),
		Files:   make([]string, len(cg.Chunks)),
	}
	for i, c := range cg.Chunks {
		out.Files[i] = e.tmpl.Expand(c.Name, closureHash(drafts, i, runtimeSum), c.Index, "js")
	}
	taken := map[string]bool{out.Runtime: true}
	for _, name := range out.Files {
		if taken[name] {
			return nil, &EmitError{Asset: name, Err: ErrDuplicateAsset}
		}
		taken[name] = true
	}
	pairs := []string{runtimePlaceholder, out.Runtime}
	for i, name := range out.Files {
		pairs = append(pairs, chunkPlaceholder(i), name)
	}
	x.names = strings.NewReplacer(pairs...)
	x.files = out.Files

	out.Assets = append(out.Assets, Asset{Name: out.Runtime, Kind: RuntimeAsset, Chunk: -1, Content: []byte(runtime)})
	for i, d := range drafts {
		name := out.Files[i]
		text := x.names.Replace(d.text)
		if e.opts.SourceMaps {
			text = strings.Replace(text, mapPlaceholder, sourcemap.Comment(name+".map"), 1)
		}
		out.Assets = append(out.Assets, Asset{Name: name, Kind: ChunkAsset, Chunk: i, Content: []byte(text)})
		if !e.opts.SourceMaps {
			continue
		}
		b := sourcemap.NewBuilder(name)
		for _, pm := range d.maps {
			if err := b.Add(pm.m, pm.line, 0); err != nil {
				e.warn("dropping source map for a module of %s: %v", name, err)
			}
		}
		data, err := b.Map().JSON()
		if err != nil {
			return nil, &EmitError{Asset: name + ".map", Err: err}
		}
		out.Assets = append(out.Assets, Asset{Name: name + ".map", Kind: SourceMapAsset, Chunk: i, Content: data})
	}

	out.Manifest = x.manifest(out)
	for _, page := range e.opts.Pages {
		asset, err := x.page(page, out)
		if err != nil {
			return nil, err
		}
		out.Assets = append(out.Assets, asset)
	}

	e.last = x
	e.prune(x)
	e.debug("emitted %d chunks", len(cg.Chunks))
	return out, nil
}

// closureHash hashes chunk i with every chunk its text names, directly or
// through other chunks, so a name changes whenever anything it loads
// changes.
func closureHash(drafts []*rendered, i int, runtimeSum string) string {
	seen := map[int]bool{i: true}
	stack := []int{i}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ref := range drafts[c].refs {
			if !seen[ref] {
				seen[ref] = true
				stack = append(stack, ref)
			}
		}
	}
	members := make([]int, 0, len(seen))
	for c := range seen {
		members = append(members, c)
	}
	slices.Sort(members)

	h := xxhash.New()
	_, _ = h.WriteString(drafts[i].text)
	for _, c := range members {
		_, _ = h.WriteString(drafts[c].sum)
	}
	_, _ = h.WriteString(runtimeSum)
	return fmt.Sprintf("%016x", h.Sum64())[:8]
}

// render produces a chunk's text with placeholders for asset names.
func (x *emission) render(c *chunk.Chunk) *rendered {
	var b strings.Builder
	d := &rendered{}
	line := 0
	fmt.Fprintf(&b, "import %s;\n", quote("./"+runtimePlaceholder))
	line++
	for _, p := range c.Prerequisites {
		fmt.Fprintf(&b, "import %s;\n", quote("./"+chunkPlaceholder(p)))
		d.refs = append(d.refs, p)
		line++
	}
	for i, spec := range c.Externals {
		fmt.Fprintf(&b, "import * as __ext%d from %s; %s.external(%s, __ext%d);\n",
			i, quote(spec), Global, quote(resolve.ExternalID(spec)), i)
		line++
	}
	for _, m := range c.Modules {
		if !x.u.included[m] {
			continue
		}
		p := x.piece(m)
		b.WriteString(p.define(x.ids[m]))
		if p.m != nil {
			d.maps = append(d.maps, placedMap{m: p.m, line: line + 1})
		}
		line += p.lines
		d.refs = append(d.refs, p.refs...)
	}
	if (c.Kind == chunk.Entry || c.Kind == chunk.Worker) && x.u.included[c.Root] {
		fmt.Fprintf(&b, "%s.require(%s);\n", Global, quote(x.ids[c.Root]))
	}
	if x.e.opts.SourceMaps {
		b.WriteString(mapPlaceholder + "\n")
	}
	d.text = b.String()
	d.sum = hashString(d.text)
	return d
}

// piece returns the factory for module m, reusing the previous
// emission's when nothing it depends on changed.
func (x *emission) piece(m int) piece {
	key := x.pieceKey(m)
	id := x.ids[m]
	if c, ok := x.e.pieces[id]; ok && c.key == key {
		return c.p
	}
	p := x.rewrite(m)
	x.e.pieces[id] = cachedPiece{key: key, p: p}
	x.e.debug("rendered %s", id)
	return p
}

func (x *emission) pieceKey(m int) string {
	r := x.mg.Record(m)
	var b strings.Builder
	fmt.Fprintf(&b, "%x|%s|%t|%t|", r.Hash, r.Chain, r.Unmapped, x.e.opts.SourceMaps)
	if r.Analysis == nil && r.Err != nil {
		b.WriteString(r.Err.Error())
	}
	if x.u.all[m] {
		b.WriteString("*")
	} else {
		names := make([]string, 0, len(x.u.names[m]))
		for n := range x.u.names[m] {
			names = append(names, n)
		}
		slices.Sort(names)
		b.WriteString(strings.Join(names, ","))
	}
	b.WriteByte('|')
	for _, l := range x.u.live[m] {
		if l {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	for _, edge := range x.mg.Edges(m) {
		b.WriteByte('|')
		if edge.To < 0 {
			b.WriteString("!")
			continue
		}
		t := edge.To
		fmt.Fprintf(&b, "%s:%t:%t:%t", x.ids[t], x.u.included[t], x.commonJS(t), x.external(t))
		if c, ok := x.cg.Opened(t); ok {
			fmt.Fprintf(&b, ":o%d", c.Index)
		}
		if c, ok := x.cg.WorkerChunk(t); ok {
			fmt.Fprintf(&b, ":w%d", c.Index)
		}
	}
	return b.String()
}

// prune forgets factories of modules no longer in the graph.
func (e *Emitter) prune(x *emission) {
	live := make(map[string]bool, len(x.ids))
	for _, id := range x.ids {
		live[id] = true
	}
	for id := range e.pieces {
		if !live[id] {
			delete(e.pieces, id)
		}
	}
}
