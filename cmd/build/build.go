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

// Package build provides the build command for porter: it precompiles
// every configured (or discovered) entry into dest, the way a
// production deploy serves precompiled artifacts instead of building
// them fresh per request (spec.md §1).
package build

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/porterhq/porter/app"
	"github.com/porterhq/porter/fs"
	"github.com/porterhq/porter/resolve"
)

// Cmd is the build cobra command.
var Cmd = &cobra.Command{
	Use:   "build",
	Short: "Precompile every entry into the dest directory",
	Long: `Build resolves the project's Packet/Module graph, bundles every
configured (or discovered) entry, and publishes the resulting artifacts
and manifest.json under dest, for serving by a production deployment
that never builds on request.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg := app.ConfigFromViper()

	a, err := app.New(fs.NewOSFileSystem(), resolve.StderrLogger{}, cfg, false)
	if err != nil {
		return fmt.Errorf("porter build: %w", err)
	}
	defer a.Close()

	results, err := a.Build()
	if err != nil {
		return fmt.Errorf("porter build: %w", err)
	}

	for _, r := range results {
		fmt.Printf("%s -> %s\n", r.Entry, r.OutputPath)
	}
	return nil
}
