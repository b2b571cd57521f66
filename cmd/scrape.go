package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/api"
	"github.com/quantfold/filings-crawler/internal/clock/system"
	"github.com/quantfold/filings-crawler/internal/config"
	"github.com/quantfold/filings-crawler/internal/fetcher"
	"github.com/quantfold/filings-crawler/internal/metrics"
	"github.com/quantfold/filings-crawler/internal/pipeline"
	"github.com/quantfold/filings-crawler/internal/store"
	"github.com/quantfold/filings-crawler/internal/worker"
)

func newScrapeCmd() *cobra.Command {
	var (
		lettersArg string
		workers    int
		outDir     string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs the primary ingestion pass",
		Long: `Enumerates managers letter by letter, skips reports the store already
holds, and fetches the rest through a bounded worker pool. Interrupting the
run is safe: completed reports are durable and the next run resumes where
this one stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := app.Cfg
			if workers > 0 {
				cfg.Scrape.MaxWorkers = workers
			}
			if outDir != "" {
				cfg.Scrape.OutDir = outDir
			}
			letters := cfg.Scrape.Letters
			if lettersArg != "" {
				letters = config.ParseLetters(lettersArg)
			}
			return runScrape(cmd.Context(), app.Logger, cfg, letters)
		},
	}

	cmd.Flags().StringVar(&lettersArg, "letters", "", `index letters to process, e.g. "a-c,0" (default: all)`)
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default from config)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory for the store (default from config)")
	return cmd
}

func runScrape(ctx context.Context, logger *zap.Logger, cfg config.Config, letters []string) error {
	clk := system.New()
	st, err := store.Open(cfg.DBPath(), clk, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close store", zap.Error(cerr))
		}
	}()

	if cfg.Server.Enabled {
		metrics.Init()
		srv := api.NewServer(st, logger)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			if serr := srv.ListenAndServe(ctx, addr); serr != nil {
				logger.Warn("status server stopped", zap.Error(serr))
			}
		}()
	}

	f := fetcher.New(fetcher.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, logger)

	coord := pipeline.New(
		f,
		st,
		worker.NewScraper(f, logger),
		cfg.Scrape.MaxWorkers,
		pipeline.NewCheckpoint(cfg.CheckpointPath()),
		clk,
		logger,
	)

	if err := coord.Run(ctx, letters); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run ingestion pass: %w", err)
	}
	return nil
}
