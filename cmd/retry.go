package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/clock/system"
	"github.com/quantfold/filings-crawler/internal/fetcher"
	"github.com/quantfold/filings-crawler/internal/retrier"
	"github.com/quantfold/filings-crawler/internal/store"
	"github.com/quantfold/filings-crawler/internal/worker"
)

func newRetryCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-drives previously failed reports",
		Long: `Reads the failed_reports table and resubmits each report through the
same fetch/parse/persist machinery as the primary pass. The pass is
idempotent; run it as often as needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := app.Cfg
			if workers > 0 {
				cfg.Scrape.MaxWorkers = workers
			}

			clk := system.New()
			st, err := store.Open(cfg.DBPath(), clk, app.Logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				if cerr := st.Close(); cerr != nil {
					app.Logger.Warn("failed to close store", zap.Error(cerr))
				}
			}()

			f := fetcher.New(fetcher.Config{
				BaseURL:   cfg.Source.BaseURL,
				UserAgent: cfg.HTTP.UserAgent,
				Timeout:   cfg.HTTPTimeout(),
			}, app.Logger)

			r := retrier.New(st, f, worker.NewScraper(f, app.Logger), cfg.Scrape.MaxWorkers, app.Logger)
			if err := r.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run retry pass: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default from config)")
	return cmd
}
