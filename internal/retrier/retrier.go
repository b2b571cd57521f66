// Package retrier re-drives previously failed reports through the same
// fetch/parse/persist machinery as the primary pass.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/dispatcher"
	"github.com/quantfold/filings-crawler/internal/filings"
	"github.com/quantfold/filings-crawler/internal/metrics"
	"github.com/quantfold/filings-crawler/internal/worker"
)

// Store is the persistence surface of the retry pass.
type Store interface {
	ListFailed(ctx context.Context) ([]filings.FailedReport, error)
	SaveReport(ctx context.Context, summary filings.SummaryRecord, holdings []filings.HoldingRecord) error
	RecordFailure(ctx context.Context, item filings.ReportWorkItem, cause string) error
}

// Listing re-derives listing-page metadata for failed reports. The failure
// row only keeps identity fields, so the summary has to be re-fetched
// before a recovered report can persist a full summary row.
type Listing interface {
	ManagerFilings(ctx context.Context, managerURL string) ([]filings.ReportWorkItem, error)
}

// Retrier runs one explicit retry pass over the failed_reports table.
// There is no attempt cap or backoff: the pass is idempotent, so invoking
// it again is the retry strategy.
type Retrier struct {
	store   Store
	listing Listing
	scraper *worker.Scraper
	workers int
	logger  *zap.Logger
}

// New constructs a Retrier.
func New(store Store, listing Listing, scraper *worker.Scraper, workers int, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{store: store, listing: listing, scraper: scraper, workers: workers, logger: logger}
}

// Run resubmits every failed report. Listing metadata is re-fetched per
// affected manager first, so a recovery persists the full summary row.
// Success replaces the failure row with durable holdings/summary rows;
// repeat failure updates Error and LastTried in place. Each outcome
// appends one audit entry.
func (r *Retrier) Run(ctx context.Context) error {
	runID := uuid.New().String()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("pass", "retry"))
	metrics.Init()

	failed, err := r.store.ListFailed(ctx)
	if err != nil {
		return err
	}
	logger.Info("retrying failed reports", zap.Int("count", len(failed)))
	if len(failed) == 0 {
		return nil
	}

	summaries := r.relist(ctx, logger, failed)

	pool := dispatcher.New(r.workers, r.scraper, logger)
	items := make(chan filings.ReportWorkItem, r.workers)
	out := make(chan filings.Outcome, r.workers)
	go pool.Run(ctx, items, out)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		storeErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for outcome := range out {
			if err := r.applyOutcome(ctx, logger, outcome); err != nil {
				errMu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				errMu.Unlock()
			}
		}
	}()

feed:
	for _, fr := range failed {
		item := filings.ReportWorkItem{
			Link:    fr.ReportLink,
			Manager: fr.Manager,
			Quarter: fr.Quarter,
			Summary: summaries[fr.ReportLink],
		}
		select {
		case items <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(items)
	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	if storeErr != nil {
		return storeErr
	}
	return ctx.Err()
}

// relist re-fetches the filings listing for every manager with failed
// reports and indexes the summary metadata by report link. A manager that
// cannot be re-listed is logged and its reports proceed with identity
// fields only.
func (r *Retrier) relist(ctx context.Context, logger *zap.Logger, failed []filings.FailedReport) map[string]filings.SummaryRecord {
	managers := make(map[string]struct{})
	for _, fr := range failed {
		managers[fr.Manager] = struct{}{}
	}

	summaries := make(map[string]filings.SummaryRecord)
	for m := range managers {
		if ctx.Err() != nil {
			return summaries
		}
		reports, err := r.listing.ManagerFilings(ctx, m)
		if err != nil {
			logger.Warn("could not re-list manager filings",
				zap.String("manager", m),
				zap.Error(err),
			)
			continue
		}
		for _, item := range reports {
			summaries[item.Link] = item.Summary
		}
	}
	return summaries
}

func (r *Retrier) applyOutcome(ctx context.Context, logger *zap.Logger, outcome filings.Outcome) error {
	if outcome.Err != nil {
		if ctx.Err() != nil && (errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded)) {
			return nil
		}
		if err := r.store.RecordFailure(context.WithoutCancel(ctx), outcome.Item, outcome.Err.Error()); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		metrics.ReportProcessed(string(filings.StatusFailed))
		logger.Warn("still failing",
			zap.String("report", outcome.Item.Link),
			zap.String("kind", string(filings.KindOf(outcome.Err))),
			zap.Error(outcome.Err),
		)
		return nil
	}

	if err := r.store.SaveReport(context.WithoutCancel(ctx), outcome.Result.Summary, outcome.Result.Holdings); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	metrics.ReportProcessed(string(filings.StatusScraped))
	metrics.HoldingsSubmitted(len(outcome.Result.Holdings))
	logger.Info("recovered report",
		zap.String("report", outcome.Item.Link),
		zap.Int("holdings", len(outcome.Result.Holdings)),
	)
	return nil
}
