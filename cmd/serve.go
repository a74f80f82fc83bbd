package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"updatecenter/internal/config"
	"updatecenter/internal/updatecenter"
	"updatecenter/pkg/logging"
)

// serveHome overrides the update center's home directory. Defaults to the
// user config directory when unset.
var serveHome string

// serveCmd starts the update center: it loads the site registry, launches
// the installer worker, and serves the status API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the update center's job queue and status API",
	Long: `Starts the update center: loads the persisted site registry,
launches the single-threaded installer worker and the bounded metadata
refresh pool, and serves the status API (job state, connection checks,
restart control, and Prometheus metrics) until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	home := serveHome
	if home == "" {
		home = config.GetDefaultHomeOrPanic()
	}

	cfg, err := config.Load(home)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.Info("serve", "starting update center at %s (listen=%s)", cfg.Home, cfg.ListenAddr)

	center, err := updatecenter.NewCenter(cfg, nil, nil)
	if err != nil {
		return fmt.Errorf("initializing update center: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := center.Start(ctx); err != nil {
		return fmt.Errorf("starting update center: %w", err)
	}
	defer center.Shutdown()

	status := updatecenter.NewStatusServer(center, cfg)
	return status.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHome, "home", "", "Update center home directory (defaults to the user config directory)")
}
