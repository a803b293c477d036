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

// Package loader runs module sources through ordered chains of transform
// stages selected by file pattern.
//
// Light stages run on the calling goroutine; heavy stages (external
// processes) are submitted to a worker pool. Results are cached by path,
// content hash and chain identity, concurrent identical requests share one
// computation, and an optional persistent cache survives restarts.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"bennypowers.dev/sheaf/sourcemap"
	"bennypowers.dev/sheaf/workerpool"
)

// Logger is an interface for logging messages from the pipeline.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Metrics receives pipeline measurements. A nil Metrics disables them.
type Metrics interface {
	CacheHit(layer string)
	CacheMiss()
	StageDuration(stage string, d time.Duration)
}

// Sentinel errors for pipeline configuration.
var (
	ErrNoRule       = errors.New("no loader rule matches")
	ErrUnknownStage = errors.New("unknown loader stage")
)

// Input is what a stage receives.
type Input struct {
	Path        string
	Content     []byte
	Map         *sourcemap.Map
	ContentType string
}

// Output is what a stage produces. A nil Map means the stage kept every
// line in place or could not describe its changes; see LinePreserver.
type Output struct {
	Content     []byte
	Map         *sourcemap.Map
	ContentType string
	// SideEffects overrides the module's side-effect flag when set.
	SideEffects *bool
}

// Stage is one transform in a chain.
type Stage interface {
	Name() string
	// Heavy stages run on the worker pool.
	Heavy() bool
	Transform(ctx context.Context, in Input) (Output, error)
}

// LinePreserver is implemented by stages whose output keeps every source
// line on the same line, so a nil output map keeps the incoming one.
type LinePreserver interface {
	PreservesLines() bool
}

// Keyed is implemented by stages whose output depends on configuration.
// The key becomes part of the cache identity.
type Keyed interface {
	Key() string
}

// Rule maps a doublestar pattern to an ordered list of stage names.
type Rule struct {
	Pattern string   `mapstructure:"pattern" json:"pattern"`
	Stages  []string `mapstructure:"stages" json:"stages"`
}

// DefaultRules covers scripts, JSON, CSS and plain text assets.
var DefaultRules = []Rule{
	{Pattern: "**/*.{js,mjs,cjs,jsx,ts,mts,cts,tsx}", Stages: []string{"js", "define"}},
	{Pattern: "**/*.json", Stages: []string{"json"}},
	{Pattern: "**/*.css", Stages: []string{"css"}},
	{Pattern: "**/*.{txt,md,svg,html}", Stages: []string{"text"}},
}

// Result is a transformed module.
type Result struct {
	Code        []byte
	Map         *sourcemap.Map
	ContentType string
	SideEffects *bool
	// Unmapped is set when a stage rewrote lines without a map. A nil Map
	// with Unmapped unset means the code lines up with the source file.
	Unmapped bool
	// Hash is the xxhash of the raw content.
	Hash uint64
	// Chain identifies the stages that produced the result.
	Chain string
}

// Pipeline selects and runs stage chains.
type Pipeline struct {
	root       string
	rules      []Rule
	stages     map[string]Stage
	pool       *workerpool.Pool
	logger     Logger
	metrics    Metrics
	persistent *PersistentCache

	mu     sync.RWMutex
	memory map[string]cached

	flight singleflight.Group
}

type cached struct {
	key    string
	result Result
}

// New creates a pipeline. Rules are evaluated in order; the first match
// wins. Every stage a rule names must be registered.
func New(root string, rules []Rule, stages []Stage, pool *workerpool.Pool) (*Pipeline, error) {
	p := &Pipeline{
		root:   root,
		rules:  rules,
		stages: make(map[string]Stage, len(stages)),
		pool:   pool,
		memory: make(map[string]cached),
	}
	for _, s := range stages {
		p.stages[s.Name()] = s
	}
	var errs []error
	for _, r := range rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			errs = append(errs, fmt.Errorf("invalid loader pattern %q", r.Pattern))
		}
		for _, name := range r.Stages {
			if _, ok := p.stages[name]; !ok {
				errs = append(errs, fmt.Errorf("%w %q in rule %q", ErrUnknownStage, name, r.Pattern))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// WithLogger returns the pipeline with logging enabled.
func (p *Pipeline) WithLogger(logger Logger) *Pipeline {
	p.logger = logger
	return p
}

// WithMetrics returns the pipeline reporting to m.
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithPersistentCache returns the pipeline backed by c.
func (p *Pipeline) WithPersistentCache(c *PersistentCache) *Pipeline {
	p.persistent = c
	return p
}

// Rule returns the first rule matching path.
func (p *Pipeline) Rule(path string) (Rule, bool) {
	rel := p.relative(path)
	for _, r := range p.rules {
		if ok, _ := doublestar.Match(r.Pattern, rel); ok {
			return r, true
		}
	}
	return Rule{}, false
}

func (p *Pipeline) relative(path string) string {
	if p.root != "" {
		if rel, err := filepath.Rel(p.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return strings.TrimLeft(filepath.ToSlash(path), "/")
}

// chainKey identifies a rule's stages and their configuration.
func (p *Pipeline) chainKey(r Rule) string {
	parts := make([]string, len(r.Stages))
	for i, name := range r.Stages {
		parts[i] = name
		if k, ok := p.stages[name].(Keyed); ok {
			parts[i] += "(" + k.Key() + ")"
		}
	}
	return strings.Join(parts, ">")
}

// Hash returns the content hash used for cache keys and change detection.
func Hash(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// Transform runs the chain for path over content.
func (p *Pipeline) Transform(ctx context.Context, path string, content []byte) (Result, error) {
	rule, ok := p.Rule(path)
	if !ok {
		return Result{}, &Failure{Path: path, Diagnostic: ErrNoRule.Error(), Err: ErrNoRule}
	}
	hash := Hash(content)
	chain := p.chainKey(rule)
	key := fmt.Sprintf("%s|%016x|%s", chain, hash, path)

	p.mu.RLock()
	c, hit := p.memory[path]
	p.mu.RUnlock()
	if hit && c.key == key {
		p.hit("memory")
		return c.result, nil
	}

	v, err, _ := p.flight.Do(key, func() (any, error) {
		p.mu.RLock()
		c, hit := p.memory[path]
		p.mu.RUnlock()
		if hit && c.key == key {
			return c.result, nil
		}
		if p.persistent != nil {
			if r, ok := p.persistent.Get(key); ok {
				p.hit("persistent")
				r.Hash, r.Chain = hash, chain
				p.remember(path, key, r)
				return r, nil
			}
		}
		if p.metrics != nil {
			p.metrics.CacheMiss()
		}
		r, err := p.run(ctx, rule, path, content)
		if err != nil {
			return nil, err
		}
		r.Hash, r.Chain = hash, chain
		if p.persistent != nil {
			if err := p.persistent.Put(key, r); err != nil && p.logger != nil {
				p.logger.Warning("Failed to persist transform of %s: %v", path, err)
			}
		}
		p.remember(path, key, r)
		return r, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (p *Pipeline) remember(path, key string, r Result) {
	p.mu.Lock()
	p.memory[path] = cached{key: key, result: r}
	p.mu.Unlock()
}

func (p *Pipeline) hit(layer string) {
	if p.metrics != nil {
		p.metrics.CacheHit(layer)
	}
}

// Forget drops the in-memory result for path.
func (p *Pipeline) Forget(path string) {
	p.mu.Lock()
	delete(p.memory, path)
	p.mu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, rule Rule, path string, content []byte) (Result, error) {
	in := Input{Path: path, Content: content, ContentType: ContentTypeFor(path)}
	var sideEffects *bool
	unmapped := false

	for _, name := range rule.Stages {
		stage := p.stages[name]
		start := time.Now()
		out, err := p.runStage(ctx, stage, in)
		if p.metrics != nil {
			p.metrics.StageDuration(name, time.Since(start))
		}
		if err != nil {
			return Result{}, asFailure(err, name, path)
		}
		if p.logger != nil {
			p.logger.Debug("%s: %s -> %s", name, path, out.ContentType)
		}

		next := Input{Path: path, Content: out.Content, ContentType: out.ContentType}
		if next.ContentType == "" {
			next.ContentType = in.ContentType
		}
		switch {
		case out.Map != nil:
			composed, err := sourcemap.Compose(out.Map, in.Map)
			if err != nil {
				return Result{}, asFailure(fmt.Errorf("invalid source map: %w", err), name, path)
			}
			next.Map = composed
		case string(out.Content) == string(in.Content) || preservesLines(stage):
			next.Map = in.Map
		default:
			unmapped = true
		}
		if out.SideEffects != nil {
			sideEffects = out.SideEffects
		}
		in = next
	}

	r := Result{
		Code:        in.Content,
		Map:         in.Map,
		ContentType: in.ContentType,
		SideEffects: sideEffects,
		Unmapped:    unmapped,
	}
	if unmapped {
		r.Map = nil
	}
	return r, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, in Input) (Output, error) {
	if !stage.Heavy() || p.pool == nil {
		return stage.Transform(ctx, in)
	}
	v, err := p.pool.Do(ctx, func(ctx context.Context) (any, error) {
		return stage.Transform(ctx, in)
	})
	if err != nil {
		return Output{}, err
	}
	return v.(Output), nil
}

func preservesLines(s Stage) bool {
	lp, ok := s.(LinePreserver)
	return ok && lp.PreservesLines()
}

// ContentTypeFor derives a content type from a file extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return "js"
	case ".jsx":
		return "jsx"
	case ".ts", ".mts", ".cts":
		return "ts"
	case ".tsx":
		return "tsx"
	case ".css":
		return "css"
	case ".json":
		return "json"
	}
	return "text"
}

// IsScript reports whether a content type is executable JavaScript or a
// dialect of it.
func IsScript(contentType string) bool {
	switch contentType {
	case "js", "jsx", "ts", "tsx":
		return true
	}
	return false
}
