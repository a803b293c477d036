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

// Package watch provides the watch command for sheaf: a development
// server with hot module replacement.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
	"bennypowers.dev/sheaf/cmd/build"
	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/hmr"
	"bennypowers.dev/sheaf/internal/config"
	"bennypowers.dev/sheaf/internal/logging"
	"bennypowers.dev/sheaf/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Cmd is the watch command.
var Cmd = &cobra.Command{
	Use:   "watch [entries...]",
	Short: "Serve a build and keep it current as files change",
	Long: `Build the entries, serve the result from memory and rebuild
incrementally as files change. Connected pages receive hot updates over
a WebSocket, or reload when an update cannot be applied in place.

Prometheus metrics are served at /metrics.`,
	Example: `  # Serve the configured entries on localhost:8080
  sheaf watch

  # Also write every rebuild to the output directory
  sheaf watch index.html --write --addr :3000`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindBuildFlags(viper.GetViper(), cmd.Flags())
	},
	RunE: run,
}

func init() {
	config.AddBuildFlags(Cmd.Flags())
	Cmd.Flags().String("addr", "localhost:8080", "Address the development server listens on")
	Cmd.Flags().Bool("write", false, "Write every rebuild to the output directory")
	Cmd.Flags().Duration("window", hmr.DefaultWindow, "Time to gather file changes into one rebuild")
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
	if write, _ := cmd.Flags().GetBool("write"); !write {
		cfg.OutDir = ""
	}
	if cmd.Flags().Changed("window") {
		cfg.HMR.Window, _ = cmd.Flags().GetDuration("window")
	}

	m := metrics.New()
	b, err := bundler.New(cfg, fs.NewOSFileSystem())
	if err != nil {
		return err
	}
	b.WithLogger(logger.With("watch")).WithMetrics(m)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := b.Watch(ctx, func(u hmr.Update) {
		switch u.Type {
		case hmr.TypeUpdate:
			logger.Info("updated %v", u.UpdatedModules)
		case hmr.TypeError:
			logger.Error("%s", u.Message)
		default:
			logger.Info("%s: %s", u.Type, u.Message)
		}
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := bundler.NewServer(sub, cfg.Output.PublicPath)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	addr, _ := cmd.Flags().GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "serving http://%s%s\n", addr, cfg.Output.PublicPath)

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	case <-sub.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, sub.Close())
}
