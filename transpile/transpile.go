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

// Package transpile implements the per-Packet transpiler slot chosen
// during prepare (spec.md §4.3): Identity and JSON are always
// available, ESBuild is selected when a Packet's manifest names it or
// the Packet's own directory holds a TypeScript or babel-style
// configuration file (subdirectories are not searched).
package transpile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/porterhq/porter/sourcemap"
)

// Script transpiles one script Module's source into runnable code.
type Script interface {
	TranspileScript(source, sourcePath string) (code string, m *sourcemap.Map, err error)
	Fingerprint() string
}

// Style transpiles one stylesheet Module's source.
type Style interface {
	TranspileStyle(source, sourcePath string) (code string, m *sourcemap.Map, err error)
	Fingerprint() string
}

// Identity passes source through unchanged. It is the default for
// Packets with no transpiler configuration.
type Identity struct{}

func (Identity) TranspileScript(source, sourcePath string) (string, *sourcemap.Map, error) {
	return source, nil, nil
}

func (Identity) TranspileStyle(source, sourcePath string) (string, *sourcemap.Map, error) {
	return source, nil, nil
}

func (Identity) Fingerprint() string { return "identity" }

// JSON wraps a JSON document as a CommonJS module, the transpile step a
// `require("./data.json")` specifier resolves through.
type JSON struct{}

func (JSON) TranspileScript(source, sourcePath string) (string, *sourcemap.Map, error) {
	var v any
	if err := json.Unmarshal([]byte(source), &v); err != nil {
		return "", nil, fmt.Errorf("transpile: invalid JSON in %s: %w", sourcePath, err)
	}
	return "module.exports = " + strings.TrimSpace(source) + ";\n", nil, nil
}

func (JSON) Fingerprint() string { return "json" }

// Error reports a failed transpile with the diagnostics esbuild produced.
type Error struct {
	Path     string
	Messages []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transpile: %s: %s", e.Path, strings.Join(e.Messages, "; "))
}

// ESBuild transpiles TypeScript/JSX and modern script syntax down to a
// target runtime using esbuild's single-file Transform API. It has no
// CSS loader, so it only implements Script; Packets serving stylesheets
// keep the Identity Style.
type ESBuild struct {
	// Target names an ECMAScript version ("es2015".."es2020"); empty
	// keeps esbuild's default of esnext.
	Target string
	Minify bool
}

func (e ESBuild) TranspileScript(source, sourcePath string) (string, *sourcemap.Map, error) {
	opts := api.TransformOptions{
		Sourcemap:  api.SourceMapExternal,
		Target:     targetFor(e.Target),
		Loader:     loaderFor(sourcePath),
		Sourcefile: sourcePath,

		MinifyWhitespace:  e.Minify,
		MinifyIdentifiers: e.Minify,
		MinifySyntax:      e.Minify,
	}

	result := api.Transform(source, opts)
	if len(result.Errors) > 0 {
		return "", nil, &Error{Path: sourcePath, Messages: messageTexts(result.Errors)}
	}

	m, err := decodeMap(result.JSSourceMap, sourcePath)
	if err != nil {
		return "", nil, err
	}
	return string(result.JS), m, nil
}

func (e ESBuild) Fingerprint() string {
	minify := ""
	if e.Minify {
		minify = ",minify"
	}
	return "esbuild:" + e.Target + minify
}

func targetFor(t string) api.Target {
	switch t {
	case "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	default:
		return api.ESNext
	}
}

func loaderFor(path string) api.Loader {
	switch {
	case strings.HasSuffix(path, ".tsx"):
		return api.LoaderTSX
	case strings.HasSuffix(path, ".ts"):
		return api.LoaderTS
	case strings.HasSuffix(path, ".jsx"):
		return api.LoaderJSX
	case strings.HasSuffix(path, ".json"):
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

func messageTexts(msgs []api.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func decodeMap(raw []byte, sourcePath string) (*sourcemap.Map, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m sourcemap.Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("transpile: decode source map for %s: %w", sourcePath, err)
	}
	return &m, nil
}
