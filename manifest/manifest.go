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

// Package manifest parses the package.json-shaped manifest that describes
// a Packet: its name, version, main entry, browser-field overrides,
// declared dependencies, and optional transpiler configuration.
package manifest

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/porterhq/porter/fs"
)

// ErrNotExported is returned when a subpath is not reachable through the
// package's exports map.
var ErrNotExported = errors.New("manifest: not exported by package.json")

// TranspileConfig is the optional "porter"/"transpile" block a Packet's
// manifest may carry, consulted once during the Packet's prepare step to select a
// transpiler and fix its options (spec.md §4.3).
type TranspileConfig struct {
	// Transpiler names the chosen backend ("babel", "typescript", "none").
	Transpiler string `json:"transpiler,omitempty"`
	// Include lists dependency Packet names that should be transpiled
	// despite being external (spec.md §6 transpile.include).
	Include []string `json:"include,omitempty"`
	// Options are passed through to the transpiler unexamined; they are
	// folded into the Cache's sourceHash fingerprint.
	Options json.RawMessage `json:"options,omitempty"`
}

// Manifest is the subset of package.json relevant to Packet resolution.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main,omitempty"`
	Module       string            `json:"module,omitempty"`
	Exports      any               `json:"exports,omitempty"`
	Browser      any               `json:"browser,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Porter       *TranspileConfig  `json:"porter,omitempty"`
}

// Parse parses manifest data.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseFile parses a package.json file through the given FileSystem.
func ParseFile(f fs.FileSystem, path string) (*Manifest, error) {
	data, err := f.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// BrowserRewrite reports the pre-resolution rewrite the manifest's
// "browser" field applies to a given on-disk-relative path, per
// spec.md §4.2 step 4. ok is false when the field has no entry for path.
// When disabled is true, the candidate must resolve to an empty
// placeholder module with no dependencies.
func (m *Manifest) BrowserRewrite(path string) (rewrite string, disabled bool, ok bool) {
	fields, isMap := m.Browser.(map[string]any)
	if !isMap {
		return "", false, false
	}

	for _, key := range browserKeyCandidates(path) {
		value, present := fields[key]
		if !present {
			continue
		}
		switch v := value.(type) {
		case bool:
			if !v {
				return "", true, true
			}
			return "", false, false
		case string:
			return v, false, true
		}
	}
	return "", false, false
}

// browserKeyCandidates lists the manifest keys that could refer to path:
// the path itself, the path with a leading "./", and the path with its
// final extension removed, whatever that extension is (package.json
// browser maps commonly key bare module names without extension).
func browserKeyCandidates(path string) []string {
	candidates := []string{path}
	if !strings.HasPrefix(path, "./") && !strings.HasPrefix(path, "../") {
		candidates = append(candidates, "./"+path)
	}
	if ext := lastExt(path); ext != "" {
		trimmed := strings.TrimSuffix(path, ext)
		candidates = append(candidates, trimmed)
		if !strings.HasPrefix(trimmed, "./") && !strings.HasPrefix(trimmed, "../") {
			candidates = append(candidates, "./"+trimmed)
		}
	}
	return candidates
}

func lastExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && strings.LastIndexByte(path, '/') < i {
		return path[i:]
	}
	return ""
}

// DefaultConditions is the export condition priority used when resolving
// a conditional "exports" map in a browser context.
var DefaultConditions = []string{"browser", "import", "default"}

// ResolveExport resolves a subpath export ("." for main) to its target
// file, falling back to the "main" field when there is no "exports" map.
func (m *Manifest) ResolveExport(subpath string) (string, error) {
	if m.Exports == nil {
		if m.Main != "" && subpath == "." {
			return trimDotSlash(m.Main), nil
		}
		return "", ErrNotExported
	}

	if exportStr, ok := m.Exports.(string); ok {
		if subpath == "." {
			return trimDotSlash(exportStr), nil
		}
		return "", ErrNotExported
	}

	exportsMap, ok := m.Exports.(map[string]any)
	if !ok {
		return "", ErrNotExported
	}

	hasSubpaths := false
	for key := range exportsMap {
		if strings.HasPrefix(key, ".") {
			hasSubpaths = true
			break
		}
	}
	if !hasSubpaths {
		if subpath == "." {
			return resolveConditions(exportsMap)
		}
		return "", ErrNotExported
	}

	value, ok := exportsMap[subpath]
	if !ok {
		return "", ErrNotExported
	}
	return resolveExportValue(value)
}

func resolveExportValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return trimDotSlash(v), nil
	case map[string]any:
		return resolveConditions(v)
	}
	return "", ErrNotExported
}

func resolveConditions(conditions map[string]any) (string, error) {
	for _, cond := range DefaultConditions {
		value, ok := conditions[cond]
		if !ok {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			if result, err := resolveConditions(nested); err == nil {
				return result, nil
			}
			continue
		}
		if str, ok := value.(string); ok {
			return trimDotSlash(str), nil
		}
	}
	return "", ErrNotExported
}

func trimDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}
