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

// Package resolve provides the resolve command for sheaf.
package resolve

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

// Cmd is the resolve command.
var Cmd = &cobra.Command{
	Use:   "resolve <specifier>",
	Short: "Show how an import specifier resolves",
	Long: `Resolve an import specifier the way a build would and print the
module it maps to, along with every file the lookup consulted.`,
	Example: `  # Resolve a package from the project directory
  sheaf resolve lit

  # Resolve relative to a source directory under other conditions
  sheaf resolve ./utils.js --from src --conditions node,import,default`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindBuildFlags(viper.GetViper(), cmd.Flags())
	},
	RunE: run,
}

func init() {
	Cmd.Flags().String("from", ".", "Directory of the importing file, relative to the root")
	Cmd.Flags().StringSlice("conditions", nil, "Export condition priority")
	Cmd.Flags().String("platform", "", "Target platform (browser, node, neutral)")
	Cmd.Flags().StringArray("alias", nil, "FROM=TO specifier alias (can be repeated)")
	Cmd.Flags().StringArray("external", nil, "Specifier left to the runtime (can be repeated)")
}

// Resolution is the printed result.
type Resolution struct {
	Specifier string   `json:"specifier"`
	From      string   `json:"from"`
	Path      string   `json:"path,omitempty"`
	External  bool     `json:"external,omitempty"`
	Package   string   `json:"package,omitempty"`
	Consulted []string `json:"consulted"`
	Error     string   `json:"error,omitempty"`
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := logging.FromViper(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, err := build.Load(nil)
	if err != nil {
		return err
	}
	osfs := fs.NewOSFileSystem()
	b, err := bundler.New(cfg, osfs)
	if err != nil {
		return err
	}
	b.WithLogger(logger.With("resolve"))

	from, _ := cmd.Flags().GetString("from")
	res, consulted, resolveErr := b.Resolve(args[0], from)
	out := Resolution{
		Specifier: args[0],
		From:      from,
		Path:      res.Path,
		External:  res.External,
		Package:   res.PackageName,
		Consulted: consulted,
	}
	if resolveErr != nil {
		out.Error = resolveErr.Error()
	}
	if err := output.JSON(osfs, cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if resolveErr != nil {
		return fmt.Errorf("cannot resolve %q", args[0])
	}
	return nil
}
