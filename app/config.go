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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config enumerates the configuration keys of spec.md §6. It is
// populated from Viper-bound Cobra flags the way the teacher's
// main.go/cmd/trace wires --package/--output.
type Config struct {
	// Root is the project directory.
	Root string
	// Paths is the ordered list of source roots within Root.
	Paths []string
	// Dest is the cache and published artifact directory.
	Dest string
	// Entries is the explicit entry module list; empty means every
	// non-root-entry .js file.
	Entries []string
	// Preload is the ordered list of preload entries whose closure is
	// pre-attached to root bundles.
	Preload []string
	// BundleExclude names Packets whose contents must not be inlined
	// into root bundles (spec.md's "isolated" Packets).
	BundleExclude []string
	// TranspileInclude names dependency Packets that should be
	// transpiled despite being external.
	TranspileInclude []string
	// ResolveAlias is the specifier prefix rewrite table applied before
	// bare-specifier resolution.
	ResolveAlias map[string]string
	// SourceServe exposes raw sources for devtools.
	SourceServe bool
	// SourceRoot is the public URL prefix for source-map source paths.
	SourceRoot string
	// CacheExcept lists ids excluded from the startup cache purge.
	CacheExcept []string
	// CachePersist keeps the cache across restarts when true.
	CachePersist bool
}

// DefaultConfig mirrors the defaults named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		Root:       ".",
		Paths:      []string{"."},
		Dest:       "public",
		SourceRoot: "/",
	}
}

// BindFlags registers every Config key as a persistent Cobra flag bound
// through Viper, following the teacher's PersistentFlags/BindPFlag
// wiring in main.go.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("root", ".", "project directory")
	flags.StringSlice("paths", []string{"."}, "ordered list of source roots within root")
	flags.String("dest", "public", "cache and published artifact directory")
	flags.StringSlice("entries", nil, "explicit entry module list (default: every non-root .js file)")
	flags.StringSlice("preload", nil, "ordered list of preload entries")
	flags.StringSlice("bundle-exclude", nil, "Packet names never inlined into root bundles")
	flags.StringSlice("transpile-include", nil, "dependency Packet names transpiled despite being external")
	flags.StringToString("resolve-alias", nil, "specifier prefix rewrite table")
	flags.Bool("source-serve", false, "expose raw sources for devtools")
	flags.String("source-root", "/", "public URL prefix for source-map source paths")
	flags.StringSlice("cache-except", nil, "ids excluded from the startup cache purge")
	flags.Bool("cache-persist", false, "keep the cache across restarts")

	for _, name := range []string{
		"root", "paths", "dest", "entries", "preload", "bundle-exclude",
		"transpile-include", "resolve-alias", "source-serve", "source-root",
		"cache-except", "cache-persist",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// ConfigFromViper reads the keys BindFlags registered back into a
// Config, called once at startup after Cobra has parsed flags and
// Viper has merged any porter.yaml/PORTER_* sources.
func ConfigFromViper() Config {
	return Config{
		Root:             viper.GetString("root"),
		Paths:            viper.GetStringSlice("paths"),
		Dest:             viper.GetString("dest"),
		Entries:          viper.GetStringSlice("entries"),
		Preload:          viper.GetStringSlice("preload"),
		BundleExclude:    viper.GetStringSlice("bundle-exclude"),
		TranspileInclude: viper.GetStringSlice("transpile-include"),
		ResolveAlias:     viper.GetStringMapString("resolve-alias"),
		SourceServe:      viper.GetBool("source-serve"),
		SourceRoot:       viper.GetString("source-root"),
		CacheExcept:      viper.GetStringSlice("cache-except"),
		CachePersist:     viper.GetBool("cache-persist"),
	}
}
