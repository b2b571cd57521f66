package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quantfold/filings-crawler/internal/clock"
)

// tracker accumulates per-pass progress for ETA logging.
type tracker struct {
	clock      clock.Clock
	start      time.Time
	dispatched atomic.Int64
	done       atomic.Int64
}

func newTracker(clk clock.Clock) *tracker {
	return &tracker{clock: clk, start: clk.Now()}
}

func (t *tracker) dispatch() {
	t.dispatched.Add(1)
}

// complete records one finished item and returns (done, elapsed, avg, eta).
func (t *tracker) complete() (int64, time.Duration, time.Duration, time.Duration) {
	done := t.done.Add(1)
	elapsed := t.clock.Now().Sub(t.start)
	avg := elapsed / time.Duration(done)
	remaining := t.dispatched.Load() - done
	if remaining < 0 {
		remaining = 0
	}
	return done, elapsed, avg, avg * time.Duration(remaining)
}

// fmtETA renders a duration as HH:MM:SS for progress logs.
func fmtETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
