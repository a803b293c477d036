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

// Package bundler wires resolution, loading, graph building, splitting and
// emission into one-shot builds and watched development sessions.
package bundler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bennypowers.dev/sheaf/cdn"
	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/hmr"
	"bennypowers.dev/sheaf/importmap"
	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/packagejson"
	"bennypowers.dev/sheaf/parse"
	"bennypowers.dev/sheaf/resolve"
	"bennypowers.dev/sheaf/workerpool"
)

// Logger receives progress and problems from a build.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
	Info(format string, args ...any)
}

// Metrics receives measurements from every part of a build.
type Metrics interface {
	loader.Metrics
	graph.Metrics
	hmr.Metrics
}

// Result is the outcome of a build.
type Result struct {
	Assets      []codegen.Asset
	Manifest    *codegen.Manifest
	Diagnostics []graph.Diagnostic

	Graph  *graph.Graph
	Chunks *chunk.Graph
}

// Bundler runs builds of one configuration.
type Bundler struct {
	cfg     Config
	fs      fs.FileSystem
	logger  Logger
	metrics Metrics
	fetcher cdn.Fetcher
	watch   bool
}

// New validates cfg and creates a bundler reading and writing through fsys.
// Entries are checked when a build starts.
func New(cfg Config, fsys fs.FileSystem) (*Bundler, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root %s: %w", cfg.Root, err)
	}
	cfg.Root = root
	return &Bundler{
		cfg:     cfg,
		fs:      fsys,
		fetcher: cdn.WithRetry(cdn.NewHTTPFetcher(), 3, 250*time.Millisecond),
		watch:   true,
	}, nil
}

// WithLogger returns the bundler with logging enabled.
func (b *Bundler) WithLogger(logger Logger) *Bundler {
	b.logger = logger
	return b
}

// WithMetrics returns the bundler reporting to m.
func (b *Bundler) WithMetrics(m Metrics) *Bundler {
	b.metrics = m
	return b
}

// WithFetcher replaces the HTTP client used for federation lookups.
func (b *Bundler) WithFetcher(f cdn.Fetcher) *Bundler {
	b.fetcher = f
	return b
}

// WithFileWatching controls whether Watch watches the root directory.
// Without it, changes reach the session only through Subscription.Notify.
func (b *Bundler) WithFileWatching(enabled bool) *Bundler {
	b.watch = enabled
	return b
}

// Config returns the normalized configuration.
func (b *Bundler) Config() Config {
	return b.cfg
}

// Build runs a one-shot build of cfg against the local file system.
func Build(ctx context.Context, cfg Config) (*Result, error) {
	b, err := New(cfg, fs.NewOSFileSystem())
	if err != nil {
		return nil, err
	}
	return b.Build(ctx)
}

// Watch starts a watched build of cfg against the local file system.
func Watch(ctx context.Context, cfg Config, onUpdate func(hmr.Update)) (*Subscription, error) {
	b, err := New(cfg, fs.NewOSFileSystem())
	if err != nil {
		return nil, err
	}
	return b.Watch(ctx, onUpdate)
}

// Build resolves, transforms, splits and emits every entry, writing the
// assets to the output directory when one is configured. An entry, or a
// static import on a path from one, that cannot be resolved aborts the
// build with the *graph.UnresolvedError values joined.
func (b *Bundler) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	s, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.close(); err != nil {
			b.warn("closing transform cache: %v", err)
		}
	}()

	mg, err := s.builder.Ingest(ctx, s.entries)
	if err != nil {
		return nil, err
	}
	cg := chunk.Split(mg, s.split)

	emitter, err := codegen.New(s.emitOptions(""))
	if err != nil {
		return nil, err
	}
	out, err := emitter.WithLogger(b.logger).Emit(cg, mg)
	if err != nil {
		return nil, err
	}
	if b.cfg.OutDir != "" {
		if err := codegen.Write(b.fs, b.cfg.abs(b.cfg.OutDir), out); err != nil {
			return nil, err
		}
	}

	b.info("built %d modules into %d chunks in %s", mg.Len(), len(cg.Chunks), time.Since(start).Round(time.Millisecond))
	return &Result{
		Assets:      out.Assets,
		Manifest:    out.Manifest,
		Diagnostics: s.diagnostics(mg, cg),
		Graph:       mg,
		Chunks:      cg,
	}, nil
}

// Watch runs an initial build, then keeps it current until ctx ends or the
// subscription is closed. onUpdate, which may be nil, receives every
// update after it has been pushed to connected clients.
func (b *Bundler) Watch(ctx context.Context, onUpdate func(hmr.Update)) (*Subscription, error) {
	s, err := b.open(ctx)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Subscription, error) {
		return nil, errors.Join(err, s.close())
	}

	path := cmp.Or(b.cfg.HMR.Path, codegen.DefaultHMRPath)
	emitter, err := codegen.New(s.emitOptions(path))
	if err != nil {
		return fail(err)
	}
	emitter.WithLogger(b.logger)

	sub := &Subscription{
		hub:  hmr.NewHub().WithLogger(b.logger),
		path: path,
		done: make(chan struct{}),
	}
	sub.engine = hmr.New(s.builder, emitter, hmr.Options{
		Window: b.cfg.HMR.Window,
		Split:  s.split,
		Reload: s.pagePaths(),
		Refresh: func(paths []string) error {
			return s.refreshPages(emitter, paths)
		},
		OnOutput: s.write,
	}).WithLogger(b.logger).WithMetrics(b.metrics)

	out, err := sub.engine.Start(ctx, s.entries)
	if err != nil {
		return fail(err)
	}
	b.info("watching %s: %d assets", b.cfg.Root, len(out.Assets))

	var watcher *hmr.Watcher
	if b.watch {
		if watcher, err = hmr.NewWatcher(b.ignored()); err != nil {
			return fail(err)
		}
		watcher.WithLogger(b.logger)
		if err := watcher.Add(b.cfg.Root); err != nil {
			return fail(errors.Join(err, watcher.Close()))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sub.engine.Run(gctx, func(u hmr.Update) {
			if err := sub.hub.Broadcast(u); err != nil {
				b.warn("broadcasting %s: %v", u.Type, err)
			}
			if onUpdate != nil {
				onUpdate(u)
			}
		})
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, sub.engine.Notify)
		})
	}
	go func() {
		err := g.Wait()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		sub.hub.Close()
		if watcher != nil {
			err = errors.Join(err, watcher.Close())
		}
		sub.err = errors.Join(err, s.close())
		close(sub.done)
	}()
	return sub, nil
}

// Resolve resolves specifier from a file in fromDir the way builds do,
// and lists the paths the lookup consulted.
func (b *Bundler) Resolve(specifier, fromDir string) (resolve.Resolved, []string, error) {
	r, err := b.resolver(b.installedShared())
	if err != nil {
		return resolve.Resolved{}, nil, err
	}
	dir := b.cfg.abs(fromDir)
	res, err := r.Resolve(specifier, dir, nil)
	return res, r.Consulted(specifier, dir, nil), err
}

// ignored extends the watch ignore list with the build's own outputs.
func (b *Bundler) ignored() []string {
	ignore := slices.Clone(b.cfg.HMR.Ignore)
	if ignore == nil {
		ignore = slices.Clone(hmr.DefaultIgnore)
	}
	for _, dir := range []string{b.cfg.OutDir, b.cfg.CacheDir} {
		if dir == "" {
			continue
		}
		abs := filepath.ToSlash(b.cfg.abs(dir))
		ignore = append(ignore, abs, abs+"/**")
	}
	return ignore
}

// session holds what one build or watch session shares.
type session struct {
	b        *Bundler
	pipeline *loader.Pipeline
	cache    *loader.PersistentCache
	builder  *graph.Builder

	entries   []string
	pages     []codegen.Page
	split     chunk.Options
	importMap *importmap.ImportMap
	warnings  []graph.Diagnostic
	// written is the emission last written to the output directory.
	written *codegen.Output
}

func (b *Bundler) open(ctx context.Context) (_ *session, err error) {
	cfg := &b.cfg
	if len(cfg.Entries) == 0 {
		return nil, ErrNoEntries
	}
	s := &session{b: b}
	defer func() {
		if err != nil {
			err = errors.Join(err, s.close())
		}
	}()

	installed := b.installedShared()
	resolver, err := b.resolver(installed)
	if err != nil {
		return nil, err
	}
	stages, err := b.stages()
	if err != nil {
		return nil, err
	}
	rules := cfg.Loaders
	if len(rules) == 0 {
		rules = loader.DefaultRules
	}
	pool := workerpool.New(cfg.Workers)
	pipeline, err := loader.New(cfg.Root, rules, stages, pool)
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline.WithLogger(b.logger).WithMetrics(b.metrics)
	if cfg.CacheDir != "" {
		if s.cache, err = loader.OpenPersistentCache(cfg.abs(cfg.CacheDir)); err != nil {
			return nil, err
		}
		s.pipeline.WithPersistentCache(s.cache)
	}
	s.builder = graph.NewBuilder(b.fs, resolver, s.pipeline, pool).
		WithLogger(b.logger).
		WithMetrics(b.metrics)

	if err := s.collect(); err != nil {
		return nil, err
	}
	if err := s.federate(ctx, installed); err != nil {
		return nil, err
	}
	s.split = chunk.Options{
		Strategy:  cfg.strategy(),
		Federated: slices.Sorted(maps.Keys(installed)),
		ImportMap: s.importMap,
	}
	return s, nil
}

func (s *session) close() error {
	if s.cache == nil {
		return nil
	}
	err := s.cache.Close()
	s.cache = nil
	return err
}

// installedShared reads the local manifests of the shared packages that
// are installed under the root.
func (b *Bundler) installedShared() map[string]*packagejson.PackageJSON {
	installed := make(map[string]*packagejson.PackageJSON)
	for _, sh := range b.cfg.Federation.Shared {
		path := filepath.Join(b.cfg.Root, "node_modules", filepath.FromSlash(sh.Name), "package.json")
		if !fs.IsFile(b.fs, path) {
			continue
		}
		pkg, err := packagejson.ParseFile(b.fs, path)
		if err != nil {
			b.warn("reading %s: %v", path, err)
			continue
		}
		installed[sh.Name] = pkg
	}
	return installed
}

// resolver configures resolution. Shared packages that are not installed
// resolve as externals and are served by the import map alone.
func (b *Bundler) resolver(installed map[string]*packagejson.PackageJSON) (*resolve.Resolver, error) {
	cfg := &b.cfg
	aliases, err := ParsePairs(cfg.Resolve.Aliases)
	if err != nil {
		return nil, err
	}
	externals := slices.Clone(cfg.Resolve.Externals)
	for _, sh := range cfg.Federation.Shared {
		if _, ok := installed[sh.Name]; !ok {
			externals = append(externals, sh.Name)
		}
	}
	r := resolve.New(b.fs, b.logger).WithOptions(resolve.Options{
		Extensions: cfg.Resolve.Extensions,
		Conditions: cfg.Resolve.Conditions,
		MainFields: cfg.Resolve.MainFields,
		Aliases:    aliases,
		Externals:  externals,
		Platform:   resolve.Platform(cfg.Resolve.Platform),
	})
	if !cfg.Resolve.Workspaces {
		return r, nil
	}
	wsRoot := resolve.FindWorkspaceRoot(b.fs, cfg.Root)
	packages, err := resolve.DiscoverWorkspacePackages(b.fs, wsRoot)
	if err != nil {
		return nil, fmt.Errorf("discovering workspace packages in %s: %w", wsRoot, err)
	}
	b.debug("found %d workspace packages in %s", len(packages), wsRoot)
	return r.WithWorkspacePackages(packages), nil
}

// stages returns the built-in stages plus the configured commands.
func (b *Bundler) stages() ([]loader.Stage, error) {
	defines, err := ParsePairs(b.cfg.Define)
	if err != nil {
		return nil, err
	}
	stages := loader.Builtins(defines)
	for _, name := range slices.Sorted(maps.Keys(b.cfg.Commands)) {
		cmd := b.cfg.Commands[name]
		if cmd.Dir == "" {
			cmd.Dir = b.cfg.Root
		}
		st, err := loader.NewCommandStage(name, cmd)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// collect turns configured entries into entry files, reading HTML pages
// for the scripts and stylesheets they load.
func (s *session) collect() error {
	for _, e := range s.b.cfg.Entries {
		path := s.b.cfg.abs(e)
		if !isPage(path) {
			s.addEntry(path)
			continue
		}
		page, entries, err := s.b.loadPage(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			s.b.warn("%s loads no module scripts or stylesheets", e)
		}
		s.pages = append(s.pages, page)
		for _, entry := range entries {
			s.addEntry(entry)
		}
	}
	return nil
}

func (s *session) addEntry(path string) {
	if !slices.Contains(s.entries, path) {
		s.entries = append(s.entries, path)
	}
}

func isPage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// loadPage reads an HTML page and the entry files it references, in
// document order.
func (b *Bundler) loadPage(path string) (codegen.Page, []string, error) {
	content, err := b.fs.ReadFile(path)
	if err != nil {
		return codegen.Page{}, nil, fmt.Errorf("reading page: %w", err)
	}
	parsed, err := parse.HTML(content)
	if err != nil {
		return codegen.Page{}, nil, fmt.Errorf("parsing page %s: %w", path, err)
	}
	page := codegen.Page{Path: path, Content: content, Entries: make(map[string]string)}
	var entries []string
	for _, ref := range parsed.Entries() {
		target := b.pageRef(path, ref)
		page.Entries[ref] = target
		entries = append(entries, target)
	}
	return page, entries, nil
}

// pageRef maps a src or href to a file. Root-absolute references are
// taken from the project root.
func (b *Bundler) pageRef(page, ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if rest, ok := strings.CutPrefix(ref, "/"); ok {
		return filepath.Join(b.cfg.Root, filepath.FromSlash(rest))
	}
	return filepath.Join(filepath.Dir(page), filepath.FromSlash(ref))
}

func (s *session) pagePaths() []string {
	paths := make([]string, len(s.pages))
	for i, p := range s.pages {
		paths[i] = p.Path
	}
	return paths
}

// refreshPages rereads changed pages. Scripts added to a page are not
// built until the session restarts.
func (s *session) refreshPages(emitter *codegen.Emitter, paths []string) error {
	changed := false
	for i, p := range s.pages {
		if !slices.Contains(paths, p.Path) {
			continue
		}
		page, _, err := s.b.loadPage(p.Path)
		if err != nil {
			return err
		}
		if !maps.Equal(p.Entries, page.Entries) {
			s.b.warn("%s: module scripts changed, restart to build new entries", p.Path)
		}
		s.pages[i] = page
		changed = true
	}
	if changed {
		emitter.SetPages(slices.Clone(s.pages))
	}
	return nil
}

// federate builds the import map serving shared packages and configured
// externals.
func (s *session) federate(ctx context.Context, installed map[string]*packagejson.PackageJSON) error {
	cfg := &s.b.cfg
	fc := cfg.Federation
	var im *importmap.ImportMap
	if len(fc.Shared) > 0 {
		fed := cdn.NewFederation(s.b.fetcher).
			WithConditions(cfg.Resolve.Conditions).
			WithLogger(s.b.logger)
		if p := cdn.ProviderByName(fc.Provider); p != nil {
			fed = fed.WithProvider(*p)
		}
		if fc.Registry != "" {
			fed = fed.WithRegistry(cdn.NewRegistryWithURL(s.b.fetcher, fc.Registry))
		}
		m, mismatches, err := fed.ImportMap(ctx, fc.Shared, installed)
		if err != nil {
			return fmt.Errorf("federation: %w", err)
		}
		for _, mm := range mismatches {
			s.warnings = append(s.warnings, graph.Diagnostic{
				Severity: graph.SeverityWarning,
				Module:   mm.Package,
				Err:      mm,
			})
		}
		im = m
	}
	imports, err := ParsePairs(fc.Imports)
	if err != nil {
		return err
	}
	if len(imports) > 0 {
		if im == nil {
			im = &importmap.ImportMap{}
		}
		for _, spec := range slices.Sorted(maps.Keys(imports)) {
			im.Set(spec, imports[spec])
		}
	}
	s.importMap = im
	return nil
}

func (s *session) emitOptions(hmrPath string) codegen.Options {
	cfg := &s.b.cfg
	return codegen.Options{
		Root:       cfg.Root,
		Template:   cfg.Output.Template,
		PublicPath: cfg.Output.PublicPath,
		TreeShake:  cfg.Output.TreeShake,
		HMRPath:    hmrPath,
		SourceMaps: cfg.Output.SourceMaps,
		ImportMap:  s.importMap,
		Pages:      slices.Clone(s.pages),
	}
}

// diagnostics lists federation warnings, module problems and chunk
// errors.
func (s *session) diagnostics(mg *graph.Graph, cg *chunk.Graph) []graph.Diagnostic {
	out := slices.Clone(s.warnings)
	out = append(out, mg.Diagnostics()...)
	for _, err := range cg.Errors() {
		d := graph.Diagnostic{Severity: graph.SeverityError, Err: err}
		var ce *chunk.Error
		if errors.As(err, &ce) {
			d.Module = ce.Chunk
			if ce.Kind == chunk.UnresolvedExternal {
				d.Specifier = ce.Module
			}
		}
		out = append(out, d)
	}
	return out
}

// write stores a watch emission and removes the assets it replaced.
func (s *session) write(out *codegen.Output) {
	if s.b.cfg.OutDir == "" {
		return
	}
	dir := s.b.cfg.abs(s.b.cfg.OutDir)
	if err := codegen.Write(s.b.fs, dir, out); err != nil {
		s.b.warn("%v", err)
		return
	}
	if err := codegen.Prune(s.b.fs, dir, s.written, out); err != nil {
		s.b.warn("removing stale assets: %v", err)
	}
	s.written = out
}

func (b *Bundler) info(format string, args ...any) {
	if b.logger != nil {
		b.logger.Info(format, args...)
	}
}

func (b *Bundler) warn(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warning(format, args...)
	}
}

func (b *Bundler) debug(format string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(format, args...)
	}
}
