package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/logging"
	"github.com/farellandr/enrollhub/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the booking and payment API.

The schema must already exist; run "enrollhub migrate up" first. When
SWEEP_INTERVAL is set, pending payments are also reconciled in the
background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(app)

			return app.Start(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile stale pending payments once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(app)

			report, err := app.Sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Printf("checked=%d paid=%d failed=%d pending=%d errored=%d\n",
				report.Checked, report.Paid, report.Failed, report.Pending, report.Errored)
			return nil
		},
	}
}

func buildApp(ctx context.Context) (*server.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	return server.Build(ctx, cfg, log)
}

func closeApp(app *server.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		app.Log.WithError(err).Warn("shutdown incomplete")
	}
}
