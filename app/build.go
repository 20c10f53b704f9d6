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

package app

import (
	"encoding/json"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// scriptExtensions are the on-disk extensions Build's entry discovery
// walks for, in the order the Resolver tries them (spec.md §4.2 step 5).
var scriptExtensions = []string{".js", ".jsx", ".ts", ".tsx"}

// BuildResult is one entry's production artifact, named the way
// spec.md §6's "Persisted layout" describes it.
type BuildResult struct {
	Entry       string
	Output      string
	OutputPath  string
	ContentHash string
}

// Build produces a production artifact for every configured entry (or,
// when Config.Entries is empty, every script file discoverEntries finds
// under Config.Paths — spec.md §6's default), then writes the
// root Packet's manifest mapping each logical entry id to its hashed
// output filename (spec.md §6 "Persisted layout").
func (a *App) Build() ([]BuildResult, error) {
	entries := a.Config.Entries
	if len(entries) == 0 {
		discovered, err := a.discoverEntries()
		if err != nil {
			return nil, err
		}
		entries = discovered
	}

	results := make([]BuildResult, 0, len(entries))
	logical := make(map[string]string, len(entries))

	for _, id := range entries {
		if _, err := a.Root.ParseEntry(id); err != nil {
			return nil, &AssetError{Id: id, Err: err}
		}
		result, err := a.obtain(a.Root, id, canonicalFormat(id), true)
		if err != nil {
			return nil, err
		}
		results = append(results, BuildResult{
			Entry:       id,
			Output:      result.Output,
			OutputPath:  result.OutputPath,
			ContentHash: result.ContentHash,
		})
		logical[id] = result.OutputPath

		if cssID, ok := cssCompanion(id); ok {
			if _, ok := a.Root.Module(cssID); ok {
				if cssResult, err := a.obtain(a.Root, cssID, ".css", false); err == nil {
					results = append(results, BuildResult{
						Entry:       cssID,
						Output:      cssResult.Output,
						OutputPath:  cssResult.OutputPath,
						ContentHash: cssResult.ContentHash,
					})
					logical[cssID] = cssResult.OutputPath
				}
			}
		}
	}

	if err := a.writeManifest(logical); err != nil {
		return nil, err
	}
	return results, nil
}

// cssCompanion reports the stylesheet id a script entry would carry if
// one exists alongside it (same stem, ".css" extension), so Build can
// opportunistically publish it too.
func cssCompanion(id string) (string, bool) {
	if !strings.HasSuffix(id, ".js") {
		return "", false
	}
	return strings.TrimSuffix(id, ".js") + ".css", true
}

// discoverEntries walks Config.Paths for every .js/.jsx/.ts/.tsx file,
// skipping node_modules and dot-directories. Nothing else is excluded:
// a file that other discovered files import is still listed, and so is
// a cache destination that lies under a walked path.
func (a *App) discoverEntries() ([]string, error) {
	var ids []string
	seen := make(map[string]bool)

	for _, p := range a.Config.Paths {
		root := filepath.Join(a.Config.Root, p)
		err := iofs.WalkDir(a.fsys, toSlashRoot(root), func(path string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") {
					return iofs.SkipDir
				}
				return nil
			}
			if !hasScriptExtension(path) {
				return nil
			}
			rel, relErr := filepath.Rel(a.Root.Dir(), path)
			if relErr != nil {
				return nil
			}
			id := canonicalEntryID(rel)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return nil, &AssetError{Err: err}
		}
	}

	sort.Strings(ids)
	return ids, nil
}

func hasScriptExtension(path string) bool {
	for _, ext := range scriptExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func canonicalEntryID(rel string) string {
	rel = filepath.ToSlash(rel)
	ext := filepath.Ext(rel)
	return strings.TrimSuffix(rel, ext) + ".js"
}

func toSlashRoot(p string) string {
	return filepath.ToSlash(p)
}

// writeManifest persists dest/manifest.json, mapping each logical entry
// id to its hashed output path (spec.md §6).
func (a *App) writeManifest(logical map[string]string) error {
	names := make([]string, 0, len(logical))
	for name := range logical {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make(map[string]string, len(logical))
	for _, name := range names {
		ordered[name] = logical[name]
	}

	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return &AssetError{Err: err}
	}
	if err := a.Cache.WriteFile("manifest.json", data); err != nil {
		return &AssetError{Err: err}
	}
	return nil
}
