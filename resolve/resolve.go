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

// Package resolve provides the low-level specifier-resolution primitives
// described in spec.md §4.2: relative-path rules, alias rewriting,
// extension probing, and directory-index probing. The upward bare-
// specifier walk through the Packet forest (step 3) lives in the packet
// package, which owns the lock table these helpers don't know about.
package resolve

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/porterhq/porter/fs"
)

// Logger receives non-fatal resolution diagnostics (spec.md §4.2 step 7,
// §9 open question (b)).
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// NopLogger discards all messages.
type NopLogger struct{}

func (NopLogger) Warning(format string, args ...any) {}
func (NopLogger) Debug(format string, args ...any)   {}

// StderrLogger writes Warning messages to os.Stderr the way the
// teacher's cmd/trace.go reports per-file resolution issues; Debug
// messages are discarded unless Verbose is set.
type StderrLogger struct {
	Verbose bool
}

func (l StderrLogger) Warning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

func (l StderrLogger) Debug(format string, args ...any) {
	if l.Verbose {
		fmt.Fprintf(os.Stderr, "Debug: "+format+"\n", args...)
	}
}

// Kind selects which extension/index ordering applies (spec.md §4.2 step 5).
type Kind int

const (
	KindScript Kind = iota
	KindStyle
)

// ScriptExtensions and StyleExtensions are the probing orders for each Kind.
var (
	ScriptExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".json"}
	StyleExtensions  = []string{".css", ".less"}
)

func extensionsFor(kind Kind) []string {
	if kind == KindStyle {
		return StyleExtensions
	}
	return ScriptExtensions
}

// ResolveError is returned when a specifier could not be mapped to a
// file and no fallback placeholder is allowed (spec.md §7).
type ResolveError struct {
	Specifier string
	From      string
}

func (e *ResolveError) Error() string {
	return "resolve: cannot resolve " + e.Specifier + " from " + e.From
}

// IsRelative reports whether specifier begins with "./" or "../"
// (spec.md §4.2 step 1).
func IsRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

// ApplyAlias rewrites specifier using the longest matching prefix in
// aliases, restarting resolution at the Packet root (spec.md §4.2 step 2).
func ApplyAlias(aliases map[string]string, specifier string) (rewritten string, ok bool) {
	bestPrefix := ""
	bestTarget := ""
	for prefix, target := range aliases {
		if specifier == prefix || strings.HasPrefix(specifier, prefix+"/") {
			if len(prefix) > len(bestPrefix) {
				bestPrefix, bestTarget = prefix, target
			}
		}
	}
	if bestPrefix == "" {
		return "", false
	}
	rest := strings.TrimPrefix(specifier, bestPrefix)
	return bestTarget + rest, true
}

// ParseBareSpecifier splits a bare specifier into its package name and
// subpath, honoring @scope/name packages (spec.md §4.2 step 3).
func ParseBareSpecifier(specifier string) (name, subpath string) {
	if strings.HasPrefix(specifier, "@") {
		parts := strings.SplitN(specifier, "/", 3)
		if len(parts) >= 2 {
			name = parts[0] + "/" + parts[1]
		} else {
			name = specifier
		}
	} else if idx := strings.Index(specifier, "/"); idx > 0 {
		name = specifier[:idx]
	} else {
		name = specifier
	}
	if len(specifier) > len(name) {
		subpath = specifier[len(name):]
	}
	return name, subpath
}

// ResolveCandidate applies the extension rule (step 5) then the
// directory-index rule (step 6) to candidate (a path relative to dir,
// with or without an extension). It reports the resolved path relative
// to dir, whether it resolved via a directory index, and whether
// resolution succeeded. A case-insensitive filesystem match that
// differs in case from the on-disk path is reported as a warning but
// still succeeds (step 7).
func ResolveCandidate(f fs.FileSystem, logger Logger, dir, candidate string, kind Kind) (resolved string, isDirIndex bool, ok bool) {
	if logger == nil {
		logger = NopLogger{}
	}

	abs := filepath.Join(dir, candidate)
	parent, base := filepath.Dir(abs), filepath.Base(abs)

	if hasKnownExtension(abs, kind) {
		if actual, found := lookup(f, logger, parent, base); found {
			return relOf(dir, filepath.Join(parent, actual)), false, true
		}
	} else {
		for _, ext := range extensionsFor(kind) {
			if actual, found := lookup(f, logger, parent, base+ext); found {
				return relOf(dir, filepath.Join(parent, actual)), false, true
			}
		}
	}

	if dirActual, found := lookupDir(f, logger, parent, base); found {
		absDir := filepath.Join(parent, dirActual)
		for _, ext := range extensionsFor(kind) {
			name := "index" + ext
			if actual, found := lookup(f, logger, absDir, name); found {
				return relOf(dir, filepath.Join(absDir, actual)), true, true
			}
		}
	}

	return "", false, false
}

func hasKnownExtension(p string, kind Kind) bool {
	ext := filepath.Ext(p)
	for _, known := range extensionsFor(kind) {
		if ext == known {
			return true
		}
	}
	return false
}

// lookup resolves want as a file within dir, preferring an exact,
// case-sensitive match. A case-insensitive match is accepted but warned
// about, since it would fail to resolve on a case-sensitive filesystem
// (spec.md §4.2 step 7).
func lookup(f fs.FileSystem, logger Logger, dir, want string) (actual string, ok bool) {
	entries, err := f.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var fold string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == want {
			return name, true
		}
		if fold == "" && strings.EqualFold(name, want) {
			fold = name
		}
	}
	if fold != "" {
		logger.Warning("case mismatch resolving %q in %q: found %q on disk", want, dir, fold)
		return fold, true
	}
	return "", false
}

func lookupDir(f fs.FileSystem, logger Logger, dir, want string) (actual string, ok bool) {
	entries, err := f.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var fold string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == want {
			return name, true
		}
		if fold == "" && strings.EqualFold(name, want) {
			fold = name
		}
	}
	if fold != "" {
		logger.Warning("case mismatch resolving %q in %q: found %q on disk", want, dir, fold)
		return fold, true
	}
	return "", false
}

func relOf(dir, abs string) string {
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ListDir returns the entries directly inside dir whose names match
// pattern (a doublestar glob), joined to dir. It records nothing and does
// not descend into subdirectories; Packet.Folders is filled during
// resolution, not by ListDir.
func ListDir(f fs.FileSystem, dir, pattern string) ([]string, error) {
	var matches []string
	entries, err := f.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		ok, err := doublestar.Match(pattern, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, path.Join(dir, entry.Name()))
		}
	}
	return matches, nil
}
