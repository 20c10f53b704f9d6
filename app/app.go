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

// Package app wires fs, cache, packet, bundle and watch together into
// the single entry point httpasset and cmd both build on: a Config, the
// root Packet it drives, and ReadAsset, the dispatcher behind spec.md
// §6's asset id contract.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/porterhq/porter/bundle"
	"github.com/porterhq/porter/cache"
	"github.com/porterhq/porter/fs"
	"github.com/porterhq/porter/manifest"
	"github.com/porterhq/porter/packet"
	"github.com/porterhq/porter/resolve"
	"github.com/porterhq/porter/watch"
)

// ErrNotFound is returned by ReadAsset when id names nothing Porter can
// serve.
var ErrNotFound = fmt.Errorf("app: asset not found")

// AssetError wraps a failure resolving or building an asset.
type AssetError struct {
	Id  string
	Err error
}

func (e *AssetError) Error() string { return fmt.Sprintf("app: %s: %v", e.Id, e.Err) }
func (e *AssetError) Unwrap() error { return e.Err }

// Asset is one servable response: either a built bundle or a raw,
// passed-through source file (spec.md §6).
type Asset struct {
	Code        string
	Map         string
	ContentType string
	ETag        string
	ContentHash string
}

const serviceWorkerSource = `self.addEventListener('install', function () { self.skipWaiting(); });
self.addEventListener('activate', function (event) { event.waitUntil(self.clients.claim()); });
`

// bundleKey identifies one cached *bundle.Bundle: Obtain's own cache is
// keyed only by the entries signature, so it cannot tell a main=true
// request (loader prepended) from a main=false one (loader omitted,
// Options{Loader: &false}) for the same entry — App keeps the two apart
// by folding `main` into this key instead.
type bundleKey struct {
	dir    string
	id     string
	format string
	main   bool
}

// App holds the shared Cache, the root Packet forest it drives, and (in
// dev mode) one Watcher per source path, dispatching asset requests
// through ReadAsset (spec.md §6).
type App struct {
	Config Config
	Cache  *cache.Cache
	Root   *packet.Packet
	logger resolve.Logger
	fsys   fs.FileSystem

	watchers []*watch.Watcher

	mu      sync.Mutex
	bundles map[bundleKey]*bundle.Bundle
}

// New builds the root Packet for cfg.Root, merges cfg.TranspileInclude
// into its manifest's transpile.include list, marks the closure of every
// configured preload entry, and — when dev is true — starts a recursive
// Watcher over each of cfg.Paths.
func New(f fs.FileSystem, logger resolve.Logger, cfg Config, dev bool) (*App, error) {
	if logger == nil {
		logger = resolve.NopLogger{}
	}

	c := cache.New(cfg.Dest)
	if !cfg.CachePersist {
		if err := c.RemoveAll(cfg.CacheExcept...); err != nil {
			return nil, &AssetError{Err: err}
		}
	}

	root, err := packet.NewRoot(f, logger, c, cfg.Root, packet.Options{
		Aliases: cfg.ResolveAlias,
		Isolate: cfg.BundleExclude,
	})
	if err != nil {
		return nil, &AssetError{Err: err}
	}

	// TranspileInclude is consulted lazily by each dependency Packet's
	// prepare() at first encounter, not at root construction time, so
	// merging it in here (after NewRoot, before any dependency is
	// touched) is sufficient for it to take effect everywhere.
	if len(cfg.TranspileInclude) > 0 {
		m := root.Manifest()
		if m.Porter == nil {
			m.Porter = &manifest.TranspileConfig{}
		}
		m.Porter.Include = append(append([]string(nil), m.Porter.Include...), cfg.TranspileInclude...)
	}

	a := &App{
		Config:  cfg,
		Cache:   c,
		Root:    root,
		logger:  logger,
		fsys:    f,
		bundles: make(map[bundleKey]*bundle.Bundle),
	}

	if err := a.markPreloads(); err != nil {
		return nil, err
	}

	if dev {
		for _, p := range cfg.Paths {
			dir := filepath.Join(cfg.Root, p)
			w, err := watch.New(root, dir, logger)
			if err != nil {
				return nil, &AssetError{Err: err}
			}
			a.watchers = append(a.watchers, w)
		}
	}

	return a, nil
}

// Close stops every Watcher started in dev mode.
func (a *App) Close() error {
	var first error
	for _, w := range a.watchers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// markPreloads parses each configured preload entry and flags its whole
// transitive family as Preloaded, so Bundle's traversal rules (spec.md
// §4.5) can tell a preloaded dependency apart from an ordinary one.
func (a *App) markPreloads() error {
	for _, entry := range a.Config.Preload {
		mod, err := a.Root.ParseEntry(entry)
		if err != nil {
			return &AssetError{Id: entry, Err: err}
		}
		mod.IsPreload = true
		for _, m := range mod.Family() {
			m.Preloaded = true
		}
	}
	return nil
}

// ReadAsset resolves id to a servable Asset, dispatching through the
// special ids of spec.md §6 before falling back to an ordinary root or
// dependency bundle build.
func (a *App) ReadAsset(ctx context.Context, id string, main bool) (Asset, error) {
	switch id {
	case "loader.js":
		return a.loaderAsset(false)
	case "loaderConfig.json":
		return a.loaderConfigAsset()
	case "porter-sw.js":
		return Asset{Code: serviceWorkerSource, ContentType: "application/javascript", ContentHash: cache.ShortHash([]byte(serviceWorkerSource))}, nil
	}

	if strings.HasSuffix(id, ".map") {
		return a.mapAsset(ctx, strings.TrimSuffix(id, ".map"), main)
	}

	if pk, rel, ok := a.splitDependencyID(id); ok {
		return a.bundledAsset(pk, rel, main)
	}

	if a.Config.SourceServe && a.isSourcePath(id) {
		return a.rawSourceAsset(a.Root, id)
	}

	return a.bundledAsset(a.Root, id, main)
}

// loaderAsset serves the standalone `loader.js` id: the runtime loader
// with its lock config appended (spec.md §6), distinct from the copy
// Bundle prepends inline to a root-entry bundle.
func (a *App) loaderAsset(minify bool) (Asset, error) {
	src, err := bundle.LoaderSource(minify)
	if err != nil {
		return Asset{}, &AssetError{Id: "loader.js", Err: err}
	}
	src += bundle.LockPrelude(a.Root.LockSnapshot())
	return Asset{Code: src, ContentType: "application/javascript", ContentHash: cache.ShortHash([]byte(src))}, nil
}

// loaderConfigAsset serves `loaderConfig.json`, the serialized system
// descriptor (spec.md §6): the same lock table as loader.js, in a form a
// non-bundle consumer (e.g. a service worker precache list) can parse
// without evaluating JavaScript.
func (a *App) loaderConfigAsset() (Asset, error) {
	data, err := json.Marshal(struct {
		Lock map[string]string `json:"lock"`
	}{Lock: a.Root.LockSnapshot()})
	if err != nil {
		return Asset{}, &AssetError{Id: "loaderConfig.json", Err: err}
	}
	return Asset{Code: string(data), ContentType: "application/json", ContentHash: cache.ShortHash(data)}, nil
}

func (a *App) mapAsset(ctx context.Context, id string, main bool) (Asset, error) {
	asset, err := a.ReadAsset(ctx, id, main)
	if err != nil {
		return Asset{}, err
	}
	if asset.Map == "" {
		return Asset{}, &AssetError{Id: id + ".map", Err: ErrNotFound}
	}
	return Asset{Code: asset.Map, ContentType: "application/json", ContentHash: cache.ShortHash([]byte(asset.Map))}, nil
}

// splitDependencyID tells a `<name>/<version>/<path>` dependency asset
// id apart from an ordinary root entry id that happens to contain
// slashes (e.g. "components/home.js"), using the root's lock snapshot as
// the single source of truth rather than counting path segments: id is a
// dependency request only if its leading segment names a Packet actually
// present in the lock table AND the next segment is that Packet's exact
// locked version.
func (a *App) splitDependencyID(id string) (*packet.Packet, string, bool) {
	lock := a.Root.LockSnapshot()

	for _, name := range candidateNames(id) {
		version, locked := lock[name]
		if !locked {
			continue
		}
		rest := strings.TrimPrefix(id, name+"/")
		if !strings.HasPrefix(rest, version+"/") {
			continue
		}
		rel := strings.TrimPrefix(rest, version+"/")
		dep, ok := a.Root.Dependency(name)
		if !ok {
			continue
		}
		return dep, rel, true
	}
	return nil, "", false
}

// candidateNames yields the possible leading-segment names for id, longest
// first, so a scoped name like "@scope/name" is tried before its bare
// first segment "@scope".
func candidateNames(id string) []string {
	parts := strings.Split(id, "/")
	if len(parts) == 0 {
		return nil
	}
	var out []string
	if strings.HasPrefix(parts[0], "@") && len(parts) > 1 {
		out = append(out, parts[0]+"/"+parts[1])
	}
	out = append(out, parts[0])
	return out
}

// bundledAsset builds (or reuses the cached) Bundle for one entry of pk,
// keyed by (packet, id, format, main) so a main=true and a main=false
// request for the same entry never collide in Bundle's own entries-only
// cache.
func (a *App) bundledAsset(pk *packet.Packet, id string, main bool) (Asset, error) {
	if _, err := pk.ParseEntry(id); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return Asset{}, &AssetError{Id: id, Err: ErrNotFound}
		}
		return Asset{}, &AssetError{Id: id, Err: err}
	}

	format := canonicalFormat(id)
	result, err := a.obtain(pk, id, format, main)
	if err != nil {
		return Asset{}, err
	}

	contentType := "application/javascript"
	if format == ".css" {
		contentType = "text/css"
	}
	return Asset{
		Code:        result.Code,
		Map:         result.Map,
		ContentType: contentType,
		ETag:        result.ETag,
		ContentHash: result.ContentHash,
	}, nil
}

// obtain is the shared core behind bundledAsset and Build: it finds or
// creates the (packet, id, format, main)-keyed Bundle and returns its
// built Result, registering it with every dev-mode Watcher so future
// reloads invalidate it.
func (a *App) obtain(pk *packet.Packet, id, format string, main bool) (bundle.Result, error) {
	key := bundleKey{dir: pk.Dir(), id: id, format: format, main: main}

	a.mu.Lock()
	b, ok := a.bundles[key]
	if !ok {
		// ScopeAll: App's asset ids are deliverables, not per-module
		// debug builds, so by default a bundle inlines every reachable
		// dependency module — spec.md §8 S1 ("body containing
		// define("home.js", define("home_dep.js", define("yen"") only
		// holds if the served bundle crosses Packet boundaries by
		// default. bundle.exclude (Options.Isolate, spec.md §6) is the
		// escape hatch: an isolated Packet's modules are skipped by
		// Bundle.shouldDescend regardless of scope.
		b = bundle.New(pk, []string{id}, format, bundle.ScopeAll)
		a.bundles[key] = b
	}
	a.mu.Unlock()

	opts := bundle.Options{}
	if !main {
		disabled := false
		opts.Loader = &disabled
	}

	result, err := b.Obtain(opts)
	if err != nil {
		return bundle.Result{}, &AssetError{Id: id, Err: err}
	}

	for _, w := range a.watchers {
		w.Watch(b)
	}
	return result, nil
}

func canonicalFormat(id string) string {
	if strings.HasSuffix(id, ".css") {
		return ".css"
	}
	return ".js"
}

// isSourcePath reports whether id looks like a raw, untranspiled source
// path rather than a bundle id, for the SourceServe passthrough.
func (a *App) isSourcePath(id string) bool {
	for _, p := range a.Config.Paths {
		if strings.HasPrefix(id, strings.TrimPrefix(p, "./")+"/") {
			return true
		}
	}
	return false
}

// rawSourceAsset serves a file straight from disk, for devtools
// (spec.md §6 source.serve). No transpilation, no caching: it is read
// fresh on every request.
func (a *App) rawSourceAsset(pk *packet.Packet, rel string) (Asset, error) {
	data, err := a.fsys.ReadFile(filepath.Join(pk.Dir(), filepath.FromSlash(rel)))
	if err != nil {
		return Asset{}, &AssetError{Id: rel, Err: ErrNotFound}
	}
	contentType := "application/javascript"
	if strings.HasSuffix(rel, ".css") {
		contentType = "text/css"
	}
	return Asset{Code: string(data), ContentType: contentType, ContentHash: cache.ShortHash(data)}, nil
}
