package retrier

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/filings-crawler/internal/filings"
	"github.com/quantfold/filings-crawler/internal/store"
	"github.com/quantfold/filings-crawler/internal/worker"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeSource struct {
	mu       sync.Mutex
	holdings map[string][]filings.HoldingRecord
	errs     map[string]error
}

func (f *fakeSource) ReportHoldings(_ context.Context, item filings.ReportWorkItem) ([]filings.HoldingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[item.Link]; err != nil {
		return nil, err
	}
	return f.holdings[item.Link], nil
}

type fakeListing struct {
	mu      sync.Mutex
	reports map[string][]filings.ReportWorkItem
	errs    map[string]error
}

func (f *fakeListing) ManagerFilings(_ context.Context, managerURL string) ([]filings.ReportWorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[managerURL]; err != nil {
		return nil, err
	}
	return f.reports[managerURL], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "filings.db"),
		&fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func seedFailure(t *testing.T, st *store.Store, link string) filings.ReportWorkItem {
	t.Helper()
	item := filings.ReportWorkItem{
		Link:    link,
		Manager: "https://13f.info/manager/m1",
		Quarter: "Q1 2023",
	}
	require.NoError(t, st.RecordFailure(context.Background(), item, "fetch report: timeout"))
	return item
}

// TestRunRecoversFailedReport drives a failed report to success: the
// failure row disappears and holdings plus a complete summary row appear,
// with the listing metadata re-fetched from the manager page.
func TestRunRecoversFailedReport(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	item := seedFailure(t, st, "https://13f.info/13f/r2")

	source := &fakeSource{
		holdings: map[string][]filings.HoldingRecord{
			item.Link: {
				{Symbol: "NVDA", IssuerName: "Nvidia Corp", Value: "750", ReportLink: item.Link, Manager: item.Manager, Quarter: item.Quarter},
			},
		},
		errs: map[string]error{},
	}
	listing := &fakeListing{
		reports: map[string][]filings.ReportWorkItem{
			item.Manager: {{
				Link:    item.Link,
				Manager: item.Manager,
				Quarter: item.Quarter,
				Summary: filings.SummaryRecord{
					Manager:       item.Manager,
					Quarter:       item.Quarter,
					HoldingsCount: "1",
					Value:         "750",
					TopHoldings:   "NVDA",
					Form:          "13F-HR",
					DateFiled:     "2023-05-12",
					FilingID:      "0001234",
					ReportLink:    item.Link,
				},
			}},
		},
	}
	r := New(st, listing, worker.NewScraper(source, nil), 2, nil)

	require.NoError(t, r.Run(ctx))

	failed, err := st.ListFailed(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Holdings)
	require.Equal(t, int64(1), stats.Summaries)
	require.Equal(t, int64(1), stats.Scraped)
	require.Equal(t, int64(1), stats.LogFailed)

	var value, form, filed string
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT Value, Form, DateFiled FROM summaries WHERE ReportLink = ?`, item.Link).
		Scan(&value, &form, &filed))
	require.Equal(t, "750", value)
	require.Equal(t, "13F-HR", form)
	require.Equal(t, "2023-05-12", filed)
}

// TestRunRecoversWhenRelistFails still recovers the report when the
// manager listing cannot be re-fetched: the summary row carries identity
// fields only.
func TestRunRecoversWhenRelistFails(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	item := seedFailure(t, st, "https://13f.info/13f/r2")

	source := &fakeSource{
		holdings: map[string][]filings.HoldingRecord{
			item.Link: {
				{Symbol: "NVDA", IssuerName: "Nvidia Corp", Value: "750", ReportLink: item.Link, Manager: item.Manager, Quarter: item.Quarter},
			},
		},
		errs: map[string]error{},
	}
	listing := &fakeListing{
		errs: map[string]error{
			item.Manager: filings.NewFetchError(filings.ErrTransient, "fetch manager filings", item.Manager, context.DeadlineExceeded),
		},
	}
	r := New(st, listing, worker.NewScraper(source, nil), 2, nil)

	require.NoError(t, r.Run(ctx))

	failed, err := st.ListFailed(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)

	var manager, quarter string
	require.NoError(t, st.DB().QueryRowContext(ctx,
		`SELECT Manager, Quarter FROM summaries WHERE ReportLink = ?`, item.Link).
		Scan(&manager, &quarter))
	require.Equal(t, item.Manager, manager)
	require.Equal(t, item.Quarter, quarter)
}

// TestRunUpdatesRepeatFailureInPlace keeps a single failure row with a
// refreshed error and timestamp, plus one more failed audit entry.
func TestRunUpdatesRepeatFailureInPlace(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	item := seedFailure(t, st, "https://13f.info/13f/r2")

	source := &fakeSource{
		holdings: map[string][]filings.HoldingRecord{},
		errs: map[string]error{
			item.Link: filings.NewFetchError(filings.ErrTransient, "fetch report", item.Link, context.DeadlineExceeded),
		},
	}
	r := New(st, &fakeListing{}, worker.NewScraper(source, nil), 2, nil)

	before, err := st.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, r.Run(ctx))

	after, err := st.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Contains(t, after[0].Error, "deadline exceeded")
	require.True(t, after[0].LastTried.After(before[0].LastTried))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.LogFailed)
}

// TestRunWithNoFailures is a no-op pass.
func TestRunWithNoFailures(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	r := New(st, &fakeListing{}, worker.NewScraper(&fakeSource{}, nil), 2, nil)
	require.NoError(t, r.Run(context.Background()))
}
