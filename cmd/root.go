// Package cmd defines and implements the CLI commands for the
// filings-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/config"
	"github.com/quantfold/filings-crawler/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the services shared by all subcommands.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger
}

// Close flushes shared resources.
func (a *App) Close() {
	if a.Logger != nil {
		a.Logger.Sync() //nolint:errcheck // best-effort flush
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filings-crawler",
		Short: "Resumable concurrent scraper for 13F filings.",
		Long: `filings-crawler ingests ownership summaries and holdings from the
13f.info filings site into a durable, deduplicated SQLite store. A run can be
stopped at any point and resumed without re-fetching completed reports or
duplicating rows.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, &App{Cfg: cfg, Logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := cmd.Context().Value(appKey).(*App); ok && app != nil {
				app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml; env overrides with prefix FILINGS)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newAnalyzeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute is the main entry point. It installs signal handling so an
// interrupted run shuts down gracefully and remains resumable.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
