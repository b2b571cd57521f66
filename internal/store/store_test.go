package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/filings-crawler/internal/filings"
)

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filings.db")
	s, err := Open(path, &tickingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func sampleReport(link string) (filings.SummaryRecord, []filings.HoldingRecord) {
	summary := filings.SummaryRecord{
		Manager:       "https://13f.info/manager/m1",
		Quarter:       "Q1 2023",
		HoldingsCount: "2",
		Value:         "1500",
		TopHoldings:   "AAPL, MSFT",
		Form:          "13F-HR",
		DateFiled:     "2023-05-12",
		FilingID:      "0001234",
		ReportLink:    link,
	}
	holdings := []filings.HoldingRecord{
		{Symbol: "AAPL", IssuerName: "Apple Inc", Value: "1000", ReportLink: link, Manager: summary.Manager, Quarter: summary.Quarter},
		{Symbol: "MSFT", IssuerName: "Microsoft Corp", Value: "500", ReportLink: link, Manager: summary.Manager, Quarter: summary.Quarter},
	}
	return summary, holdings
}

// TestSaveReportRoundTrip persists a report and verifies all rows plus the
// scraped audit entry land.
func TestSaveReportRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	summary, holdings := sampleReport("https://13f.info/13f/r1")

	require.NoError(t, s.SaveReport(ctx, summary, holdings))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Reports)
	require.Equal(t, int64(2), stats.Holdings)
	require.Equal(t, int64(1), stats.Summaries)
	require.Equal(t, int64(1), stats.Scraped)

	exists, err := s.HasReport(ctx, summary.ReportLink)
	require.NoError(t, err)
	require.True(t, exists)
}

// TestSaveReportIsIdempotent re-ingests the same report and expects no new
// holdings or summary rows, only an additional audit entry.
func TestSaveReportIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	summary, holdings := sampleReport("https://13f.info/13f/r1")

	require.NoError(t, s.SaveReport(ctx, summary, holdings))
	require.NoError(t, s.SaveReport(ctx, summary, holdings))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Holdings)
	require.Equal(t, int64(1), stats.Summaries)
	require.Equal(t, int64(2), stats.Scraped)
}

// TestConcurrentDuplicateWriters hammers the same report from many
// goroutines; the unique index must leave exactly one row per symbol.
func TestConcurrentDuplicateWriters(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	summary, holdings := sampleReport("https://13f.info/13f/r1")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveReport(ctx, summary, holdings)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Holdings)
	require.Equal(t, int64(1), stats.Summaries)
}

// TestSaveReportAtomicity interrupts a batch via context cancellation and
// verifies the store contains none of the report's rows.
func TestSaveReportAtomicity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	summary, holdings := sampleReport("https://13f.info/13f/r1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.SaveReport(ctx, summary, holdings))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Holdings)
	require.Zero(t, stats.Summaries)
	require.Zero(t, stats.Scraped)
}

// TestFailureRoundTrip records a failure, verifies the row and audit entry,
// then confirms a later success clears the failure record.
func TestFailureRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	summary, holdings := sampleReport("https://13f.info/13f/r2")
	item := filings.ReportWorkItem{
		Link:    summary.ReportLink,
		Manager: summary.Manager,
		Quarter: summary.Quarter,
		Summary: summary,
	}

	require.NoError(t, s.RecordFailure(ctx, item, "fetch report: timeout"))

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, item.Link, failed[0].ReportLink)
	require.Contains(t, failed[0].Error, "timeout")
	require.False(t, failed[0].LastTried.IsZero())

	// A repeat failure updates in place rather than duplicating.
	require.NoError(t, s.RecordFailure(ctx, item, "fetch report: reset"))
	failed, err = s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].Error, "reset")

	require.NoError(t, s.SaveReport(ctx, summary, holdings))
	failed, err = s.ListFailed(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.LogFailed)
	require.Equal(t, int64(1), stats.Scraped)
}

// TestRecordSkipAppendsAudit verifies the skip path produces exactly one
// audit entry and nothing else.
func TestRecordSkipAppendsAudit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSkip(ctx, "https://13f.info/13f/r1"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Skipped)
	require.Zero(t, stats.Holdings)
}

// TestAuditTimestampsOrderedUnderContention stalls audit writers behind a
// held write lock and verifies timestamps still land in insertion order:
// the clock has to be read under the lock, not before it.
func TestAuditTimestampsOrderedUnderContention(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	blocker, err := s.DB().Conn(ctx)
	require.NoError(t, err)
	defer blocker.Close() //nolint:errcheck // released via COMMIT below
	_, err = blocker.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordSkip(ctx, "https://13f.info/13f/r1")
		}()
	}

	// Let the writers queue up on the lock before releasing it.
	time.Sleep(50 * time.Millisecond)
	_, err = blocker.ExecContext(ctx, `COMMIT`)
	require.NoError(t, err)

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.DB().QueryContext(ctx, `SELECT Timestamp FROM scrape_log ORDER BY rowid`)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck // read-only cleanup

	var prev string
	var n int
	for rows.Next() {
		var ts string
		require.NoError(t, rows.Scan(&ts))
		require.GreaterOrEqual(t, ts, prev)
		prev = ts
		n++
	}
	require.NoError(t, rows.Err())
	require.Equal(t, 4, n)
}

// TestListFailedToleratesBadTimestamp returns rows whose LastTried cannot
// be parsed with a zero time rather than failing the listing.
func TestListFailedToleratesBadTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO failed_reports (ReportLink, Manager, Quarter, Error, LastTried)
		VALUES ('https://13f.info/13f/r9', 'https://13f.info/manager/m1', 'Q1 2023', 'boom', 'not-a-time')`)
	require.NoError(t, err)

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.True(t, failed[0].LastTried.IsZero())
}

// TestAuditTimestampsMonotonic checks scrape_log timestamps never decrease
// in insertion order.
func TestAuditTimestampsMonotonic(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordSkip(ctx, "https://13f.info/13f/r1"))
	}

	rows, err := s.DB().QueryContext(ctx, `SELECT Timestamp FROM scrape_log ORDER BY rowid`)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck // read-only cleanup

	var prev string
	for rows.Next() {
		var ts string
		require.NoError(t, rows.Scan(&ts))
		require.GreaterOrEqual(t, ts, prev)
		prev = ts
	}
	require.NoError(t, rows.Err())
}
