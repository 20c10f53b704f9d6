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

// Package watch drives a recursive filesystem watch over a Packet's
// source root and the debounced reload pipeline of spec.md §4.6:
// Packet.Reload on a changed file, then a 100ms-debounced Invalidate +
// Obtain for every registered Bundle reachable from the reloaded
// Module.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/porterhq/porter/bundle"
	"github.com/porterhq/porter/module"
	"github.com/porterhq/porter/packet"
	"github.com/porterhq/porter/resolve"
)

// debounceWindow is the 100ms coalescing window named in spec.md §4.6.
const debounceWindow = 100 * time.Millisecond

// Bundle states (spec.md §4.6 state machine).
const (
	StateIdle       = "idle"
	StateDirty      = "dirty"
	StateRebuilding = "rebuilding"
)

// WatchError wraps a failure setting up or operating a recursive watch.
type WatchError struct {
	Path string
	Err  error
}

func (e *WatchError) Error() string { return fmt.Sprintf("watch: %s: %v", e.Path, e.Err) }
func (e *WatchError) Unwrap() error { return e.Err }

type bundleState struct {
	mu           sync.Mutex
	state        string
	timer        *time.Timer
	pendingDirty bool
}

// Watcher watches one Packet's source root and drives the reload
// pipeline for whichever Bundles are registered with it via Watch.
// fsnotify talks to the real OS directory tree directly rather than
// through fs.FileSystem: there is no way to receive change
// notifications from an in-memory fs.FileSystem, so the Watcher is
// inherently OS-filesystem-only (documented in DESIGN.md).
type Watcher struct {
	packet *packet.Packet
	root   string
	logger resolve.Logger
	fsw    *fsnotify.Watcher

	mu      sync.Mutex
	bundles map[*bundle.Bundle]*bundleState

	done chan struct{}
}

// New starts a recursive watch over root (the Packet's directory or a
// source directory beneath it) and begins dispatching events in a
// background goroutine. Changed paths reach Packet.Reload relative to
// the Packet's directory.
func New(p *packet.Packet, root string, logger resolve.Logger) (*Watcher, error) {
	if logger == nil {
		logger = resolve.NopLogger{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &WatchError{Path: root, Err: err}
	}

	w := &Watcher{
		packet:  p,
		root:    root,
		logger:  logger,
		fsw:     fsw,
		bundles: make(map[*bundle.Bundle]*bundleState),
		done:    make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return &WatchError{Path: path, Err: err}
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return &WatchError{Path: path, Err: err}
		}
		return nil
	})
}

// Watch registers b so any future change beneath a Module in its
// transitive family triggers a debounced Invalidate + Obtain.
func (w *Watcher) Watch(b *bundle.Bundle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.bundles[b]; !ok {
		w.bundles[b] = &bundleState{state: StateIdle}
	}
}

// Unwatch stops driving reload for b and cancels any pending debounce.
func (w *Watcher) Unwatch(b *bundle.Bundle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.bundles[b]; ok {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
		}
		st.mu.Unlock()
		delete(w.bundles, b)
	}
}

// Close releases the underlying watch handles and stops the dispatch
// goroutine (spec.md §5 "Filesystem watchers expose a destroy").
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warning("watch: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warning("watching new directory: %v", err)
			}
			return
		}
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.packet.Dir(), ev.Name)
	if err != nil {
		return
	}
	if err := w.Reload("change", filepath.ToSlash(rel)); err != nil {
		w.logger.Warning("reloading %s: %v", rel, err)
	}
}

// Reload re-parses relPath and schedules every registered Bundle whose
// family contains the reloaded Module (spec.md §4.6, steps 1-3). It is
// the explicit, idempotent entry point platforms with unreliable native
// recursive watch must be able to call directly: Packet.Reload simply
// re-parses the Module in place, and scheduling a Bundle that is
// already dirty or rebuilding only resets or extends its debounce
// window, so calling Reload twice for the same path and event is safe.
func (w *Watcher) Reload(event, relPath string) error {
	mod, err := w.packet.Reload(relPath)
	if err != nil {
		return &WatchError{Path: relPath, Err: err}
	}

	w.mu.Lock()
	targets := make([]*bundle.Bundle, 0, len(w.bundles))
	for b := range w.bundles {
		targets = append(targets, b)
	}
	w.mu.Unlock()

	for _, b := range targets {
		if familyContains(b, mod) {
			w.schedule(b)
		}
	}
	return nil
}

func familyContains(b *bundle.Bundle, mod *module.Module) bool {
	for _, id := range b.Entries {
		entry, ok := b.Packet.Module(id)
		if !ok {
			continue
		}
		for _, m := range entry.Family() {
			if m == mod {
				return true
			}
		}
	}
	return false
}

// schedule advances b's state machine on an invalidating change
// (spec.md §4.6): idle moves to dirty and arms the debounce timer;
// dirty just extends the window; a reload arriving mid-rebuild is
// remembered so the Bundle returns to dirty (and rebuilds again) as
// soon as the in-flight rebuild completes.
func (w *Watcher) schedule(b *bundle.Bundle) {
	w.mu.Lock()
	st, ok := w.bundles[b]
	w.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.state {
	case StateIdle:
		st.state = StateDirty
		st.timer = time.AfterFunc(debounceWindow, func() { w.rebuild(b, st) })
	case StateDirty:
		if st.timer != nil {
			st.timer.Reset(debounceWindow)
		}
	case StateRebuilding:
		st.pendingDirty = true
	}
}

func (w *Watcher) rebuild(b *bundle.Bundle, st *bundleState) {
	st.mu.Lock()
	st.state = StateRebuilding
	st.timer = nil
	st.mu.Unlock()

	b.Invalidate()
	if _, err := b.Obtain(bundle.Options{}); err != nil {
		w.logger.Warning("rebuilding bundle: %v", err)
	}

	st.mu.Lock()
	if st.pendingDirty {
		st.pendingDirty = false
		st.state = StateDirty
		st.timer = time.AfterFunc(debounceWindow, func() { w.rebuild(b, st) })
	} else {
		st.state = StateIdle
	}
	st.mu.Unlock()
}
