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

// Package serve provides the serve command for porter: a development
// HTTP server that builds assets fresh on every request and hot-reloads
// them on filesystem change (spec.md §1, §4.6).
package serve

import (
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porterhq/porter/app"
	"github.com/porterhq/porter/fs"
	"github.com/porterhq/porter/httpasset"
	"github.com/porterhq/porter/resolve"
)

// Cmd is the serve cobra command.
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the project's assets, rebuilding on change",
	Long: `Serve starts an HTTP server over the project's Packet/Module graph.
Every GET /<id> request is resolved, transpiled and bundled on demand
(spec.md §6); a filesystem watch invalidates affected Bundles as source
files change (spec.md §4.6).`,
	RunE: run,
}

func init() {
	Cmd.Flags().String("addr", ":5000", "address to listen on")
	_ = viper.BindPFlag("addr", Cmd.Flags().Lookup("addr"))
}

func run(cmd *cobra.Command, args []string) error {
	cfg := app.ConfigFromViper()

	a, err := app.New(fs.NewOSFileSystem(), resolve.StderrLogger{}, cfg, true)
	if err != nil {
		return fmt.Errorf("porter serve: %w", err)
	}
	defer a.Close()

	addr := viper.GetString("addr")
	log.Printf("porter: serving %s on %s", cfg.Root, addr)
	return http.ListenAndServe(addr, httpasset.New(a))
}
