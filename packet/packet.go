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

// Package packet implements Packet, the forest node described in
// spec.md §3: the root project or one `name@version` dependency, owning
// a directory, a manifest, a transpiler choice, and the Modules parsed
// from it. Packet.ParseEntry/Reload is the §4.3 parseFile entry point;
// bare-specifier resolution (§4.2 step 3) walks node_modules upward and
// interns one Packet per absolute directory, so every Module that
// resolves into the same dependency directory shares one Packet.
package packet

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/porterhq/porter/cache"
	"github.com/porterhq/porter/fs"
	"github.com/porterhq/porter/manifest"
	"github.com/porterhq/porter/match"
	"github.com/porterhq/porter/module"
	"github.com/porterhq/porter/resolve"
	"github.com/porterhq/porter/sourcemap"
	"github.com/porterhq/porter/transpile"
)

var babelConfigNames = []string{".babelrc", ".babelrc.json", "babel.config.js", "babel.config.json"}

// ParseError wraps an I/O failure encountered while parsing a Module.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("packet: parsing %s: %v", e.File, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// registry interns one Packet per absolute directory across an entire
// forest, so two referring Modules that resolve the same dependency
// directory (hoisted node_modules) always share one Packet and one
// Module set — this is what makes the lock snapshot consistent
// (spec.md §4.2 step 3, §3 "lock").
type registry struct {
	mu    sync.Mutex
	byDir map[string]*Packet
}

func newRegistry() *registry {
	return &registry{byDir: make(map[string]*Packet)}
}

func (r *registry) get(dir string) (*Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byDir[dir]
	return p, ok
}

func (r *registry) set(dir string, p *Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDir[dir] = p
}

// Snapshot returns the (name -> version) lock table for every interned
// Packet, the root included, the artifact the root-entry bundle prepends
// to its client loader (spec.md §4.5). A Packet is interned once a
// specifier resolves into it, so the table grows as Modules are parsed.
// It holds one version per name; when two interned Packets share a name,
// which of their versions it holds is not defined.
func (r *registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.byDir))
	for _, p := range r.byDir {
		if p.name != "" {
			out[p.name] = p.version
		}
	}
	return out
}

// byName looks up an interned Packet by its declared name, for serving
// the `<name>/<version>/<path>` asset id (spec.md §6).
func (r *registry) byName(name string) (*Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byDir {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Packet is one node of the dependency forest: the root project or a
// dependency at a specific directory (spec.md §3).
type Packet struct {
	fsys     fs.FileSystem
	logger   resolve.Logger
	cache    *cache.Cache
	registry *registry

	dir      string
	name     string
	version  string
	manifest *manifest.Manifest
	parent   *Packet
	isolated bool

	// aliases and isolateNames are only meaningful on the root Packet;
	// non-root Packets read them via root().
	aliases      map[string]string
	isolateNames map[string]struct{}

	transpileScript transpile.Script
	transpileStyle  transpile.Style

	modMu   sync.Mutex
	modules map[string]*module.Module

	folderMu sync.Mutex
	folders  map[string]struct{}

	depMu sync.Mutex
	deps  map[string]*Packet
}

// Options configures the root Packet. Aliases rewrite specifier
// prefixes (spec.md §4.2 step 2); Isolate names dependencies that form
// their own bundle boundary rather than being inlined (spec.md §3, §8
// invariant 8).
type Options struct {
	Aliases map[string]string
	Isolate []string
}

// NewRoot creates the root Packet for the project at dir.
func NewRoot(f fs.FileSystem, logger resolve.Logger, c *cache.Cache, dir string, opts Options) (*Packet, error) {
	if logger == nil {
		logger = resolve.NopLogger{}
	}
	m, err := manifest.ParseFile(f, filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("packet: reading root manifest: %w", err)
	}

	isolateNames := make(map[string]struct{}, len(opts.Isolate))
	for _, name := range opts.Isolate {
		isolateNames[name] = struct{}{}
	}

	p := &Packet{
		fsys:         f,
		logger:       logger,
		cache:        c,
		registry:     newRegistry(),
		dir:          dir,
		name:         m.Name,
		version:      m.Version,
		manifest:     m,
		aliases:      opts.Aliases,
		isolateNames: isolateNames,
		modules:      make(map[string]*module.Module),
		folders:      make(map[string]struct{}),
		deps:         make(map[string]*Packet),
	}
	p.prepare()
	p.registry.set(dir, p)
	return p, nil
}

// PacketName, PacketVersion, and IsIsolated satisfy module.Packet.
func (p *Packet) PacketName() string    { return p.name }
func (p *Packet) PacketVersion() string { return p.version }
func (p *Packet) IsIsolated() bool      { return p.isolated }

func (p *Packet) Dir() string                     { return p.dir }
func (p *Packet) Manifest() *manifest.Manifest    { return p.manifest }
func (p *Packet) Parent() *Packet                 { return p.parent }
func (p *Packet) LockSnapshot() map[string]string { return p.registry.Snapshot() }

// Cache returns the Cache shared by this Packet's forest, for callers
// (the Bundler) that persist artifacts keyed by this Packet's identity.
func (p *Packet) Cache() *cache.Cache { return p.cache }

// Dependency looks up an already-interned dependency Packet by name
// anywhere in the forest (used to serve `<name>/<version>/<path>`
// asset requests, spec.md §6).
func (p *Packet) Dependency(name string) (*Packet, bool) {
	return p.registry.byName(name)
}

// MainModuleID returns the canonical module id a bare `require(name)`
// with no subpath resolves to within p (p.manifest.Main, defaulting to
// "index.js", with any leading "./" dropped), so the Bundler can register
// that Module under the bare package name instead of its file id
// (spec.md §8 S1: a bundle containing the "yen" dependency's main module
// carries `define("yen"`, not `define("yen/index.js"`). Returns "" when an
// "exports" map makes the bare-name target ambiguous without a
// subpath.
func (p *Packet) MainModuleID() string {
	if p.manifest == nil || p.manifest.Exports != nil {
		return ""
	}
	main := strings.TrimPrefix(p.manifest.Main, "./")
	if main == "" {
		main = "index.js"
	}
	return canonicalID(main)
}

// Folders returns the sorted set of directory-require specifiers
// recorded while resolving (spec.md §4.2 step 6).
func (p *Packet) Folders() []string {
	p.folderMu.Lock()
	defer p.folderMu.Unlock()
	out := make([]string, 0, len(p.folders))
	for f := range p.folders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Module looks up an already-parsed Module by its canonical id.
func (p *Packet) Module(id string) (*module.Module, bool) {
	p.modMu.Lock()
	defer p.modMu.Unlock()
	m, ok := p.modules[id]
	return m, ok
}

func (p *Packet) root() *Packet {
	cur := p
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// prepare chooses this Packet's transpiler (spec.md §4.3). Dependency
// Packets default to Identity unless the root's transpile.include list
// names them.
func (p *Packet) prepare() {
	if p.parent != nil && !p.includedByRoot() {
		p.transpileScript = transpile.Identity{}
		p.transpileStyle = transpile.Identity{}
		return
	}

	if p.manifest != nil && p.manifest.Porter != nil && p.manifest.Porter.Transpiler != "" {
		p.applyTranspilerName(p.manifest.Porter.Transpiler)
		return
	}

	if p.hasConfigFile("tsconfig.json") || p.hasAnyConfigFile(babelConfigNames) {
		p.transpileScript = transpile.ESBuild{}
		p.transpileStyle = transpile.Identity{}
		return
	}

	p.transpileScript = transpile.Identity{}
	p.transpileStyle = transpile.Identity{}
}

func (p *Packet) includedByRoot() bool {
	root := p.root()
	if root.manifest == nil || root.manifest.Porter == nil {
		return false
	}
	for _, pattern := range root.manifest.Porter.Include {
		if ok, _ := doublestar.Match(pattern, p.name); ok {
			return true
		}
	}
	return false
}

func (p *Packet) applyTranspilerName(name string) {
	switch name {
	case "esbuild", "typescript", "babel":
		p.transpileScript = transpile.ESBuild{}
	case "json":
		p.transpileScript = transpile.JSON{}
	default:
		p.transpileScript = transpile.Identity{}
	}
	p.transpileStyle = transpile.Identity{}
}

func (p *Packet) hasConfigFile(name string) bool {
	_, err := p.fsys.Stat(filepath.Join(p.dir, name))
	return err == nil
}

func (p *Packet) hasAnyConfigFile(names []string) bool {
	for _, n := range names {
		if p.hasConfigFile(n) {
			return true
		}
	}
	return false
}

// ParseEntry parses file (Packet-relative) as a root entry point
// (spec.md §4.3).
func (p *Packet) ParseEntry(file string) (*module.Module, error) {
	mod, err := p.loadModule(file)
	if err != nil {
		return nil, err
	}
	mod.IsRootEntry = true
	return mod, nil
}

func canonicalID(file string) string {
	ext := filepath.Ext(file)
	switch ext {
	case ".css", ".less":
		return strings.TrimSuffix(file, ext) + ".css"
	default:
		return strings.TrimSuffix(file, ext) + ".js"
	}
}

// loadModule parses file if not already parsed, inserting the Module
// into p.modules before parsing its children so cycles are a no-op on
// second visit (spec.md §4.3). A Module whose parse fails is removed
// again, so a later call retries the parse.
func (p *Packet) loadModule(file string) (*module.Module, error) {
	file = filepath.ToSlash(file)
	id := canonicalID(file)

	p.modMu.Lock()
	if existing, ok := p.modules[id]; ok {
		p.modMu.Unlock()
		return existing, nil
	}
	mod := &module.Module{
		Id:     id,
		File:   file,
		Fpath:  filepath.Join(p.dir, filepath.FromSlash(file)),
		Packet: p,
	}
	p.modules[id] = mod
	p.modMu.Unlock()

	if err := p.parseInto(mod); err != nil {
		p.modMu.Lock()
		delete(p.modules, id)
		p.modMu.Unlock()
		return nil, err
	}
	return mod, nil
}

// Reload re-parses relPath's Module in place, replacing its
// Source/Code/Map/Children without changing its identity (spec.md §4.6).
func (p *Packet) Reload(relPath string) (*module.Module, error) {
	relPath = filepath.ToSlash(relPath)
	id := canonicalID(relPath)

	p.modMu.Lock()
	mod, ok := p.modules[id]
	p.modMu.Unlock()
	if !ok {
		return p.loadModule(relPath)
	}
	if err := p.parseInto(mod); err != nil {
		return nil, err
	}
	return mod, nil
}

func (p *Packet) parseInto(mod *module.Module) error {
	source, err := p.fsys.ReadFile(mod.Fpath)
	if err != nil {
		return &ParseError{File: mod.Fpath, Err: err}
	}
	mod.Source = string(source)

	isStyle := mod.IsStyle()
	var specs []match.Specifier
	if isStyle {
		specs, err = match.FindAllCSS(source)
	} else {
		specs, err = match.FindAll(source)
	}
	if err != nil {
		return err
	}

	code, mapJSON, err := p.transpileModule(mod, isStyle)
	if err != nil {
		return err
	}
	mod.Code = code
	mod.Map = mapJSON

	children := make([]*module.Module, 0, len(specs))
	for _, spec := range specs {
		res, rerr := p.resolveSpecifier(filepath.Dir(mod.Fpath), isStyle, spec.Value)
		if rerr != nil {
			p.logger.Warning("resolving %q from %s: %v", spec.Value, mod.Fpath, rerr)
			continue
		}

		owner := p
		if res.target != nil {
			owner = res.target
		}

		var child *module.Module
		if res.fake || res.target == nil {
			child = fakeModule(owner, spec.Value)
		} else {
			c, cerr := res.target.loadModule(res.file)
			if cerr != nil {
				p.logger.Warning("parsing %q from %s: %v", spec.Value, mod.Fpath, cerr)
				continue
			}
			child = c
		}
		children = append(children, child)
	}
	mod.Children = children
	return nil
}

func fakeModule(owner *Packet, spec string) *module.Module {
	return &module.Module{Id: canonicalID(spec), Fake: true, Packet: owner}
}

// transpileModule consults the Cache before invoking the transpiler, so
// a cache hit never runs a transform (spec.md §4.3, §4.4).
func (p *Packet) transpileModule(mod *module.Module, isStyle bool) (code, mapJSON string, err error) {
	script := p.transpileScript
	if strings.HasSuffix(mod.File, ".json") {
		script = transpile.JSON{}
	}

	var fingerprint string
	if isStyle {
		fingerprint = p.transpileStyle.Fingerprint()
	} else {
		fingerprint = script.Fingerprint()
	}

	var sourceHash string
	if p.cache != nil {
		sourceHash = cache.SourceHash(mod.Source, fingerprint)
		if cachedCode, cachedMap, ok, cerr := p.cache.Read(mod.Id, sourceHash); cerr == nil && ok {
			return cachedCode, cachedMap, nil
		}
	}

	var rawCode string
	var sm *sourcemap.Map
	if isStyle {
		rawCode, sm, err = p.transpileStyle.TranspileStyle(mod.Source, mod.Fpath)
	} else {
		rawCode, sm, err = script.TranspileScript(mod.Source, mod.Fpath)
	}
	if err != nil {
		return "", "", err
	}

	if sm != nil {
		data, merr := json.Marshal(sm)
		if merr != nil {
			return "", "", fmt.Errorf("packet: encoding source map for %s: %w", mod.Fpath, merr)
		}
		mapJSON = string(data)
	}
	code = rawCode

	if p.cache != nil {
		if werr := p.cache.Write(mod.Id, sourceHash, code, mapJSON); werr != nil {
			p.logger.Warning("cache write for %s: %v", mod.Id, werr)
		}
	}
	return code, mapJSON, nil
}

// resolution is the internal result of resolveSpecifier: either a
// concrete (Packet, file) pair or an unresolved/fake placeholder.
type resolution struct {
	target *Packet
	file   string
	fake   bool
}

// resolveSpecifier implements spec.md §4.2 steps 1-4, delegating the
// extension/directory-index rules (steps 5-6) to the resolve package.
func (p *Packet) resolveSpecifier(referringDir string, referringIsStyle bool, spec string) (resolution, error) {
	kind := resolve.KindScript
	if referringIsStyle {
		kind = resolve.KindStyle
	}

	if resolve.IsRelative(spec) {
		return p.resolveWithinPacket(referringDir, spec, kind)
	}

	if rewritten, ok := resolve.ApplyAlias(p.root().aliases, spec); ok {
		return p.resolveWithinPacket(p.dir, rewritten, kind)
	}

	name, subpath := resolve.ParseBareSpecifier(spec)
	dep, err := p.resolveBareSpecifier(name)
	if err != nil {
		return resolution{}, err
	}
	if dep == nil {
		return resolution{fake: true}, nil
	}

	target, err := dep.mainTarget(subpath)
	if err != nil {
		return resolution{target: dep, fake: true}, nil
	}

	if rewrite, disabled, ok := dep.manifest.BrowserRewrite(target); ok {
		if disabled {
			return resolution{target: dep, fake: true}, nil
		}
		target = rewrite
	}

	resolved, isDir, found := resolve.ResolveCandidate(p.fsys, p.logger, dep.dir, target, kind)
	if !found {
		return resolution{target: dep, fake: true}, nil
	}
	if isDir {
		dep.recordFolder(filepath.Join(dep.dir, target))
	}
	return resolution{target: dep, file: resolved}, nil
}

// mainTarget resolves subpath ("" for the package root) against the
// dependency's exports map, falling back to legacy unrestricted
// subpath access when the manifest has no "exports" field at all.
func (dep *Packet) mainTarget(subpath string) (string, error) {
	if dep.manifest.Exports == nil {
		if subpath == "" {
			if dep.manifest.Main != "" {
				return dep.manifest.Main, nil
			}
			return "index.js", nil
		}
		return strings.TrimPrefix(subpath, "/"), nil
	}

	exportSubpath := "."
	if subpath != "" {
		exportSubpath = "." + subpath
	}
	return dep.manifest.ResolveExport(exportSubpath)
}

func (p *Packet) resolveWithinPacket(dir, candidate string, kind resolve.Kind) (resolution, error) {
	resolved, isDir, found := resolve.ResolveCandidate(p.fsys, p.logger, dir, candidate, kind)
	if !found {
		return resolution{target: p, fake: true}, nil
	}
	absResolved := filepath.Join(dir, resolved)
	if isDir {
		p.recordFolder(filepath.Dir(absResolved))
	}
	rel, err := filepath.Rel(p.dir, absResolved)
	if err != nil {
		return resolution{}, err
	}
	return resolution{target: p, file: filepath.ToSlash(rel)}, nil
}

func (p *Packet) recordFolder(absDir string) {
	rel, err := filepath.Rel(p.dir, absDir)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	p.folderMu.Lock()
	p.folders[rel] = struct{}{}
	p.folderMu.Unlock()
}

// resolveBareSpecifier walks upward from p's directory looking for
// node_modules/<name>, interning one Packet per directory so the whole
// forest shares a consistent (name, version) pair (spec.md §4.2 step 3).
// A nil, nil return means "not found"; the caller represents that as an
// unresolved (fake) Module rather than an error.
func (p *Packet) resolveBareSpecifier(name string) (*Packet, error) {
	p.depMu.Lock()
	if dep, ok := p.deps[name]; ok {
		p.depMu.Unlock()
		return dep, nil
	}
	p.depMu.Unlock()

	dir := p.dir
	for {
		candidate := filepath.Join(dir, "node_modules", name)
		if info, err := p.fsys.Stat(candidate); err == nil && info.IsDir() {
			dep, err := p.loadDependency(candidate)
			if err != nil {
				return nil, err
			}
			p.depMu.Lock()
			p.deps[name] = dep
			p.depMu.Unlock()
			return dep, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	p.logger.Warning("dependency %q not found in node_modules above %s", name, p.dir)
	return nil, nil
}

func (p *Packet) loadDependency(dir string) (*Packet, error) {
	if existing, ok := p.registry.get(dir); ok {
		return existing, nil
	}

	m, err := manifest.ParseFile(p.fsys, filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("packet: reading manifest for %s: %w", dir, err)
	}

	root := p.root()
	_, isolated := root.isolateNames[m.Name]

	dep := &Packet{
		fsys:     p.fsys,
		logger:   p.logger,
		cache:    p.cache,
		registry: p.registry,
		dir:      dir,
		name:     m.Name,
		version:  m.Version,
		manifest: m,
		parent:   p,
		isolated: isolated,
		modules:  make(map[string]*module.Module),
		folders:  make(map[string]struct{}),
		deps:     make(map[string]*Packet),
	}
	dep.prepare()
	p.registry.set(dir, dep)
	return dep, nil
}
