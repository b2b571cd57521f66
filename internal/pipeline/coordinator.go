// Package pipeline wires the work enumerator, the scrape pool and the
// store into the resumable ingestion pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/clock"
	"github.com/quantfold/filings-crawler/internal/dispatcher"
	"github.com/quantfold/filings-crawler/internal/filings"
	"github.com/quantfold/filings-crawler/internal/metrics"
	"github.com/quantfold/filings-crawler/internal/worker"
)

// Listing enumerates managers and their reports: the external website
// collaborator.
type Listing interface {
	ManagerLinks(ctx context.Context, letter string) ([]string, error)
	ManagerFilings(ctx context.Context, managerURL string) ([]filings.ReportWorkItem, error)
}

// Store is the persistence surface the coordinator writes through. Item
// records are only ever submitted here, never mutated in place.
type Store interface {
	HasReport(ctx context.Context, link string) (bool, error)
	SaveReport(ctx context.Context, summary filings.SummaryRecord, holdings []filings.HoldingRecord) error
	RecordFailure(ctx context.Context, item filings.ReportWorkItem, cause string) error
	RecordSkip(ctx context.Context, link string) error
}

// Coordinator drives one primary ingestion pass: enumerate work
// letter-major, skip what the store already has, dispatch the rest to the
// pool, and apply the success/failure protocol to each outcome.
type Coordinator struct {
	listing    Listing
	store      Store
	scraper    *worker.Scraper
	workers    int
	checkpoint *Checkpoint
	clock      clock.Clock
	logger     *zap.Logger
}

// New constructs a Coordinator.
func New(
	listing Listing,
	store Store,
	scraper *worker.Scraper,
	workers int,
	checkpoint *Checkpoint,
	clk clock.Clock,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = NewCheckpoint("")
	}
	return &Coordinator{
		listing:    listing,
		store:      store,
		scraper:    scraper,
		workers:    workers,
		checkpoint: checkpoint,
		clock:      clk,
		logger:     logger,
	}
}

// Run executes one pass over letters. Item-level failures are recorded and
// never abort the pass; only store-level write failures or context
// cancellation end it early. A letter is checkpointed only once every one
// of its outcomes has been durably applied.
func (c *Coordinator) Run(ctx context.Context, letters []string) error {
	runID := uuid.New().String()
	logger := c.logger.With(zap.String("run_id", runID))
	metrics.Init()

	done, err := c.checkpoint.Load()
	if err != nil {
		return err
	}

	track := newTracker(c.clock)
	for _, letter := range letters {
		if done[letter] {
			logger.Info("skipping letter, already marked done", zap.String("letter", strings.ToUpper(letter)))
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Info("processing letter", zap.String("letter", strings.ToUpper(letter)))
		complete, err := c.runLetter(ctx, logger, letter, track)
		if err != nil {
			return err
		}
		if !complete {
			continue
		}
		if err := c.checkpoint.Mark(letter); err != nil {
			return err
		}
	}

	logger.Info("pass finished",
		zap.Int64("reports_processed", track.done.Load()),
		zap.String("elapsed", fmtETA(c.clock.Now().Sub(track.start))),
	)
	return ctx.Err()
}

// runLetter processes every manager under one letter through the pool and
// blocks until all of the letter's outcomes are persisted. complete is
// false when enumeration of some manager failed, so the letter must not be
// checkpointed.
func (c *Coordinator) runLetter(ctx context.Context, logger *zap.Logger, letter string, track *tracker) (complete bool, err error) {
	managers, err := c.listing.ManagerLinks(ctx, letter)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Error("manager listing failed", zap.String("letter", letter), zap.Error(err))
		return false, nil
	}

	pool := dispatcher.New(c.workers, c.scraper, logger)
	items := make(chan filings.ReportWorkItem, c.workers)
	out := make(chan filings.Outcome, c.workers)
	go pool.Run(ctx, items, out)

	var (
		wg         sync.WaitGroup
		storeErrMu sync.Mutex
		storeErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for outcome := range out {
			if err := c.applyOutcome(ctx, logger, outcome, track); err != nil {
				storeErrMu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				storeErrMu.Unlock()
			}
		}
	}()

	complete, enumErr := c.enumerate(ctx, logger, managers, items, track)
	close(items)
	wg.Wait()

	storeErrMu.Lock()
	defer storeErrMu.Unlock()
	switch {
	case storeErr != nil:
		return false, storeErr
	case enumErr != nil:
		return false, enumErr
	default:
		return complete, nil
	}
}

// enumerate walks managers report-minor, emitting live work and auditing
// skips inline. It returns complete=false when any manager could not be
// fully enumerated.
func (c *Coordinator) enumerate(
	ctx context.Context,
	logger *zap.Logger,
	managers []string,
	items chan<- filings.ReportWorkItem,
	track *tracker,
) (bool, error) {
	complete := true
	for _, m := range managers {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		reports, err := c.listing.ManagerFilings(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			logger.Error("manager filings failed", zap.String("manager", m), zap.Error(err))
			complete = false
			continue
		}
		for _, item := range reports {
			exists, err := c.store.HasReport(ctx, item.Link)
			if err != nil {
				return false, fmt.Errorf("skip check: %w", err)
			}
			if exists {
				if err := c.store.RecordSkip(ctx, item.Link); err != nil {
					return false, err
				}
				metrics.ReportProcessed(string(filings.StatusSkipped))
				logger.Debug("skipped report, already scraped", zap.String("report", item.Link))
				continue
			}
			track.dispatch()
			select {
			case items <- item:
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return complete, nil
}

// applyOutcome persists one pool result: the success path writes the
// atomic summary+holdings batch, the failure path upserts the failure row.
// Both append their audit entry inside the store transaction.
func (c *Coordinator) applyOutcome(ctx context.Context, logger *zap.Logger, outcome filings.Outcome, track *tracker) error {
	if outcome.Err != nil {
		if ctx.Err() != nil && (errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded)) {
			// Shutdown, not a report-level failure: the item stays
			// unrecorded and the skip-check re-drives it next run.
			return nil
		}
		if err := c.store.RecordFailure(context.WithoutCancel(ctx), outcome.Item, outcome.Err.Error()); err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		metrics.ReportProcessed(string(filings.StatusFailed))
		logger.Warn("report failed",
			zap.String("report", outcome.Item.Link),
			zap.String("kind", string(filings.KindOf(outcome.Err))),
			zap.Error(outcome.Err),
		)
		track.complete()
		return nil
	}

	if err := c.store.SaveReport(context.WithoutCancel(ctx), outcome.Result.Summary, outcome.Result.Holdings); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	metrics.ReportProcessed(string(filings.StatusScraped))
	metrics.HoldingsSubmitted(len(outcome.Result.Holdings))

	done, elapsed, avg, eta := track.complete()
	logger.Info("report scraped",
		zap.String("report", outcome.Item.Link),
		zap.Int("holdings", len(outcome.Result.Holdings)),
		zap.Int64("done", done),
		zap.Duration("avg", avg),
		zap.String("elapsed", fmtETA(elapsed)),
		zap.String("eta", fmtETA(eta)),
	)
	return nil
}
