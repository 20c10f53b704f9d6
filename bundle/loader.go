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

package bundle

import "github.com/porterhq/porter/transpile"

// runtimeLoaderSource is the client-side module registry prepended to a
// root-entry `.js` bundle (spec.md §4.5). It has no counterpart
// anywhere in the example pack (the pack is all server-side Go); it is
// the one genuinely new artifact in this package, documented in
// DESIGN.md rather than grounded on a prior implementation.
const runtimeLoaderSource = `(function (global) {
  var porter = global.porter || (global.porter = {});
  porter.lock = porter.lock || {};
  var registry = porter.registry || (porter.registry = {});
  var instances = porter.instances || (porter.instances = {});

  function define(id, factory) {
    registry[id] = factory;
  }

  function porterRequire(id) {
    var mod = instances[id];
    if (mod) {
      return mod.exports;
    }
    var factory = registry[id];
    if (!factory) {
      throw new Error('porter: module not found: ' + id);
    }
    mod = { exports: {} };
    instances[id] = mod;
    factory(porterRequire, mod, mod.exports);
    return mod.exports;
  }

  porter.define = define;
  porter.import = porterRequire;
})(typeof window !== 'undefined' ? window : globalThis);
`

// LoaderSource returns the runtime loader, minified through the same
// esbuild backend used for script transpilation when requested.
// Exposed for the special `loader.js` asset id (spec.md §6) as well as
// Bundle's own root-entry prelude.
func LoaderSource(minify bool) (string, error) {
	if !minify {
		return runtimeLoaderSource, nil
	}
	code, _, err := transpile.ESBuild{Minify: true}.TranspileScript(runtimeLoaderSource, "loader.js")
	if err != nil {
		return "", err
	}
	return code, nil
}
