/*
Copyright © 2026 Porter Authors

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

// Package bundle implements Bundle, the deterministic graph traversal
// described in spec.md §4.5 that turns a Packet's Module graph into one
// deliverable artifact: a script or stylesheet plus a merged source
// map, honoring preload, scope and isolation rules.
package bundle

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/porterhq/porter/cache"
	"github.com/porterhq/porter/module"
	"github.com/porterhq/porter/packet"
	"github.com/porterhq/porter/sourcemap"
)

// BundleError wraps a traversal or emission failure.
type BundleError struct {
	Entry string
	Err   error
}

func (e *BundleError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("bundle: %v", e.Err)
	}
	return fmt.Sprintf("bundle: %s: %v", e.Entry, e.Err)
}

func (e *BundleError) Unwrap() error { return e.Err }

// Scope values (spec.md §3).
const (
	ScopeModule = "module"
	ScopePacket = "packet"
	ScopeAll    = "all"
)

// Options configures one Obtain call (spec.md §4.5).
type Options struct {
	// Loader controls whether the runtime loader is prepended to a
	// root-entry .js bundle. nil means "prepend" (the default); a
	// non-nil false means "omit" (loader !== false in the traversal
	// rule).
	Loader *bool
	Minify bool
}

func loaderEnabled(opts Options) bool {
	return opts.Loader == nil || *opts.Loader
}

// disabled is a convenience Loader value for internal forced packs,
// which never want a loader of their own.
var disabled = false

// Result is Bundle.Obtain's return value.
type Result struct {
	Code        string
	Map         string
	ETag        string
	ContentHash string
	Output      string
	OutputPath  string
}

// Bundle is one deliverable artifact: entries, a format, and a scope,
// cached until its entries set changes or Invalidate is called
// (spec.md §3).
type Bundle struct {
	Packet  *packet.Packet
	Entries []string
	Format  string
	Scope   string

	mu     sync.Mutex
	cached *Result
	builtFor string
}

// New creates a Bundle for entries (module ids within Packet), emitted
// as format (".js" or ".css").
func New(p *packet.Packet, entries []string, format, scope string) *Bundle {
	if scope == "" {
		scope = ScopeModule
	}
	return &Bundle{
		Packet:  p,
		Entries: append([]string(nil), entries...),
		Format:  format,
		Scope:   scope,
	}
}

// Invalidate drops the cached Result so the next Obtain rebuilds from
// the Module graph's current state. Called by the Watcher after a
// reload (spec.md §4.6).
func (b *Bundle) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

func (b *Bundle) entriesSignature() string {
	return strings.Join(b.Entries, "\x00")
}

// Obtain returns the bundle's {code, map}, rebuilding only if the
// entries set changed or a prior Invalidate cleared the cache
// (spec.md §4.5). Calls on one Bundle are serialized: a caller arriving
// while a build runs waits for it and then receives its cached result.
func (b *Bundle) Obtain(opts Options) (Result, error) {
	sig := b.entriesSignature()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil && b.builtFor == sig {
		return *b.cached, nil
	}

	r, err := b.build(opts)
	if err != nil {
		return Result{}, err
	}

	b.cached = &r
	b.builtFor = sig
	return r, nil
}

func (b *Bundle) build(opts Options) (Result, error) {
	if len(b.Entries) == 0 {
		return Result{}, &BundleError{Err: fmt.Errorf("bundle has no entries")}
	}

	var primary *module.Module
	visited := make(map[*module.Module]bool)
	var ordered []*module.Module

	for i, id := range b.Entries {
		mod, ok := b.Packet.Module(id)
		if !ok {
			return Result{}, &BundleError{Entry: id, Err: fmt.Errorf("module not parsed")}
		}
		if i == 0 {
			primary = mod
		}
		b.walk(mod, mod, visited, &ordered)
	}

	if primary.IsRootEntry {
		if err := b.forcePack(primary); err != nil {
			return Result{}, err
		}
	}

	merger := sourcemap.NewMerger()
	rootJS := primary.IsRootEntry && b.Format == ".js"

	if rootJS {
		merger.Add(sourcemap.Chunk{Code: LockPrelude(b.Packet.LockSnapshot())})
	}
	if rootJS && loaderEnabled(opts) && !primary.IsPreload {
		src, err := LoaderSource(opts.Minify)
		if err != nil {
			return Result{}, &BundleError{Entry: primary.Id, Err: err}
		}
		merger.Add(sourcemap.Chunk{Code: src})
	}

	for _, mod := range ordered {
		if b.Format == ".js" {
			merger.Add(sourcemap.Chunk{Code: defineOpen(defineID(mod))})
			merger.Add(sourcemap.Chunk{
				Code:       mod.Code,
				Map:        decodeMap(mod.Map),
				SourcePath: mod.Fpath,
			})
			merger.Add(sourcemap.Chunk{Code: defineClose})
		} else {
			merger.Add(sourcemap.Chunk{
				Code:       mod.Code,
				Map:        decodeMap(mod.Map),
				SourcePath: mod.Fpath,
			})
		}
	}

	if rootJS && loaderEnabled(opts) && !primary.IsPreload {
		merger.Add(sourcemap.Chunk{Code: fmt.Sprintf("porter.import(%q);\n", primary.Id)})
	}

	code := merger.Code()
	mapJSON, err := encodeMap(merger.Map())
	if err != nil {
		return Result{}, &BundleError{Entry: primary.Id, Err: err}
	}

	contenthash := cache.ShortHash([]byte(code))
	entryName := strings.TrimSuffix(filepath.Base(primary.Id), filepath.Ext(primary.Id))
	output := fmt.Sprintf("%s.%s%s", entryName, contenthash, b.Format)
	outputPath := output
	if b.Packet.Parent() != nil {
		outputPath = filepath.ToSlash(filepath.Join(b.Packet.PacketName(), b.Packet.PacketVersion(), output))
	}

	if c := b.Packet.Cache(); c != nil {
		if err := c.WriteFile(outputPath, []byte(code)); err != nil {
			return Result{}, err
		}
		if mapJSON != "" {
			if err := c.WriteFile(outputPath+".map", []byte(mapJSON)); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{
		Code:        code,
		Map:         mapJSON,
		ETag:        cache.ShortHash([]byte(b.entriesSignature())),
		ContentHash: contenthash,
		Output:      output,
		OutputPath:  outputPath,
	}, nil
}

// walk implements the depth-first traversal of spec.md §4.5: each
// Module is visited once per Obtain call, children are descended
// before the Module itself is yielded, and for ".js" the children are
// walked a second time after yielding to pick up dependencies a
// transpiler helper may have introduced.
func (b *Bundle) walk(mod, entryMod *module.Module, visited map[*module.Module]bool, out *[]*module.Module) {
	if visited[mod] {
		return
	}
	visited[mod] = true

	for _, child := range mod.Children {
		if b.shouldDescend(child, entryMod) {
			b.walk(child, entryMod, visited, out)
		}
	}

	if b.emits(mod) {
		*out = append(*out, mod)
	}

	if b.Format == ".js" {
		for _, child := range mod.Children {
			if b.shouldDescend(child, entryMod) {
				b.walk(child, entryMod, visited, out)
			}
		}
	}
}

func (b *Bundle) samePacket(mod *module.Module) bool {
	return mod.Packet == module.Packet(b.Packet)
}

// shouldDescend applies the ".js" scope and isolation skip rules of
// spec.md §4.5. Non-".js" formats (".css") never skip on these grounds;
// the format filter is applied at emission instead.
func (b *Bundle) shouldDescend(mod, entryMod *module.Module) bool {
	if b.Format != ".js" {
		return true
	}
	if b.Scope != ScopeAll && !b.samePacket(mod) {
		return false
	}
	if mod.Preloaded {
		allowed := entryMod.IsPreload || entryMod.Fake || entryMod.IsWorker || b.Packet.IsIsolated()
		if !allowed {
			return false
		}
	}
	if !b.samePacket(mod) && mod.Packet.IsIsolated() {
		return false
	}
	return true
}

// emits reports whether mod's format matches this Bundle and it is not
// an isolated leaf (isolated modules, e.g. wasm, are never emitted
// inline — spec.md §4.5).
func (b *Bundle) emits(mod *module.Module) bool {
	if mod.Isolated {
		return false
	}
	if b.Format == ".css" {
		return mod.IsStyle()
	}
	return mod.IsScript()
}

// forcePack ensures every isolated Packet reachable from primary has
// its own artifact on disk, so a root build's client loader can later
// fetch them by (name, version, path) (spec.md §4.5).
func (b *Bundle) forcePack(primary *module.Module) error {
	seen := map[*packet.Packet]bool{b.Packet: true}
	for _, mod := range primary.Family() {
		dep, ok := mod.Packet.(*packet.Packet)
		if !ok || seen[dep] {
			continue
		}
		seen[dep] = true
		if !dep.IsIsolated() {
			continue
		}
		sub := New(dep, []string{mod.Id}, b.Format, ScopePacket)
		if _, err := sub.Obtain(Options{Loader: &disabled}); err != nil {
			return &BundleError{Entry: mod.Id, Err: err}
		}
	}
	return nil
}

// LockPrelude renders the (name, version) snapshot the client loader
// needs to resolve bare specifiers at runtime (spec.md §4.5). Names are
// sorted so the prelude, and therefore the bundle's contenthash, is
// reproducible for a fixed graph state (spec.md §4.5 "Determinism").
// Exported so the `loader.js` asset id (spec.md §6, "runtime loader with
// config appended") can reuse it outside of a bundle build.
func LockPrelude(lock map[string]string) string {
	if len(lock) == 0 {
		return ""
	}
	names := make([]string, 0, len(lock))
	for name := range lock {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Object.assign(porter.lock, {")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		data, _ := json.Marshal(name)
		b.Write(data)
		b.WriteString(":")
		verData, _ := json.Marshal(lock[name])
		b.Write(verData)
	}
	b.WriteString("});\n")
	return b.String()
}

// defineClose closes the AMD-style registration defineOpen begins.
const defineClose = "});\n"

// defineID names the registration a Module is wrapped under: its own
// Packet-relative id for a root-owned Module, or
// "<name>"/"<name>/<file>" for a dependency Module, so a bare
// `require("yen")` in client code dispatches directly to the
// dependency's main module instead of needing its file id (spec.md §8
// S1: `define("yen"`).
func defineID(mod *module.Module) string {
	dep, ok := mod.Packet.(*packet.Packet)
	if !ok || dep.Parent() == nil {
		return mod.Id
	}
	if dep.MainModuleID() == mod.Id {
		return dep.PacketName()
	}
	return dep.PacketName() + "/" + mod.Id
}

// defineOpen opens the `porter.define(id, factory)` registration each
// emitted ".js" Module is wrapped in (spec.md §8 S1/S2/S3: a bundle body
// contains `define("<id>"` for every Module it inlines). Emitted as its
// own unmapped Chunk so the wrapped Module's own source map lines up
// unshifted with its code.
func defineOpen(id string) string {
	data, _ := json.Marshal(id)
	return fmt.Sprintf("porter.define(%s, function (require, module, exports) {\n", data)
}

func decodeMap(raw string) *sourcemap.Map {
	if raw == "" {
		return nil
	}
	var m sourcemap.Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return &m
}

func encodeMap(m *sourcemap.Map) (string, error) {
	if m == nil || (m.Mappings == "" && len(m.Sources) == 0) {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
