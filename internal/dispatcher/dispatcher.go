// Package dispatcher fans work items out to a bounded pool of scrape
// goroutines.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/filings"
	"github.com/quantfold/filings-crawler/internal/metrics"
	"github.com/quantfold/filings-crawler/internal/worker"
)

// Pool runs a fixed number of workers over an item channel, publishing one
// Outcome per item. Items complete out of order; the coordinator applies
// the success/failure protocol on the consuming side.
type Pool struct {
	size    int
	scraper *worker.Scraper
	logger  *zap.Logger
}

// New creates a Pool of the given size.
func New(size int, scraper *worker.Scraper, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, scraper: scraper, logger: logger}
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// Run consumes items until the channel closes or the context finishes,
// then closes out. Each worker drains in-flight work before exiting, so a
// canceled run never drops an accepted item silently: it surfaces as a
// context-error outcome. The consumer must keep draining out until it
// closes.
func (p *Pool) Run(ctx context.Context, items <-chan filings.ReportWorkItem, out chan<- filings.Outcome) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, items, out)
		}()
	}
	wg.Wait()
	close(out)
}

func (p *Pool) work(ctx context.Context, items <-chan filings.ReportWorkItem, out chan<- filings.Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			metrics.WorkerStarted()
			res, err := p.scraper.Scrape(ctx, item)
			metrics.WorkerStopped()

			// Unconditional send: an accepted item always gets its
			// outcome, even after cancellation.
			out <- filings.Outcome{Item: item, Result: res, Err: err}
		}
	}
}
