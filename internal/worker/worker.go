// Package worker executes the fetch/parse stage for single work items.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/filings"
	"github.com/quantfold/filings-crawler/internal/metrics"
)

// Source fetches and parses the holdings for one report. Implemented by
// the Colly fetcher in production and by fakes in tests.
type Source interface {
	ReportHoldings(ctx context.Context, item filings.ReportWorkItem) ([]filings.HoldingRecord, error)
}

// Scraper turns one ReportWorkItem into a parsed Result. It is stateless
// apart from read-only configuration: invocations are independent and a
// single Scraper is shared by every pool goroutine. It never retries;
// retry policy lives in the retrier.
type Scraper struct {
	source Source
	logger *zap.Logger
}

// NewScraper constructs a Scraper.
func NewScraper(source Source, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{source: source, logger: logger}
}

// Scrape fetches and parses item. Failures come back as typed
// *filings.FetchError values for the coordinator to classify; they are
// never acted on here.
func (s *Scraper) Scrape(ctx context.Context, item filings.ReportWorkItem) (filings.Result, error) {
	start := time.Now()
	holdings, err := s.source.ReportHoldings(ctx, item)
	metrics.ObserveFetchDuration(time.Since(start))
	if err != nil {
		return filings.Result{}, err
	}
	if len(holdings) == 0 {
		return filings.Result{}, filings.NewFetchError(filings.ErrMalformed, "parse report", item.Link,
			fmt.Errorf("no holdings parsed"))
	}

	summary := item.Summary
	summary.ReportLink = item.Link
	summary.Manager = item.Manager
	summary.Quarter = item.Quarter
	if summary.HoldingsCount == "" {
		summary.HoldingsCount = strconv.Itoa(len(holdings))
	}

	s.logger.Debug("report scraped",
		zap.String("report", item.Link),
		zap.Int("holdings", len(holdings)),
		zap.Duration("dur", time.Since(start)),
	)
	return filings.Result{Summary: summary, Holdings: holdings}, nil
}
