/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

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

// Package graph provides the graph command for sheaf.
package graph

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
	"bennypowers.dev/sheaf/cmd/build"
	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/internal/config"
	"bennypowers.dev/sheaf/internal/logging"
	"bennypowers.dev/sheaf/internal/output"
)

// Cmd is the graph command.
var Cmd = &cobra.Command{
	Use:   "graph [entries...]",
	Short: "Print the module and chunk graphs of a build",
	Long: `Build the entries in memory and print the module graph, its import
cycles and the chunks the modules were split into, as JSON. Nothing is
written to the output directory.`,
	Example: `  # Inspect how the configured entries are split
  sheaf graph

  # Modules only, written to a file
  sheaf graph src/main.js --modules-only -o graph.json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindBuildFlags(viper.GetViper(), cmd.Flags())
	},
	RunE: run,
}

func init() {
	config.AddBuildFlags(Cmd.Flags())
	Cmd.Flags().Bool("modules-only", false, "Omit the chunk graph")
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := logging.FromViper(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, err := build.Load(args)
	if err != nil {
		return err
	}
	cfg.OutDir = ""
	osfs := fs.NewOSFileSystem()
	b, err := bundler.New(cfg, osfs)
	if err != nil {
		return err
	}
	b.WithLogger(logger.With("graph"))

	res, err := b.Build(cmd.Context())
	if err != nil {
		return fmt.Errorf("building graph: %w", err)
	}
	chunks := res.Chunks
	if modulesOnly, _ := cmd.Flags().GetBool("modules-only"); modulesOnly {
		chunks = nil
	}
	return output.JSON(osfs, cmd.OutOrStdout(), output.NewReport(b.Config().Root, res.Graph, chunks))
}
