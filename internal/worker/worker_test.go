package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfold/filings-crawler/internal/filings"
)

type fakeSource struct {
	holdings []filings.HoldingRecord
	err      error
}

func (f *fakeSource) ReportHoldings(context.Context, filings.ReportWorkItem) ([]filings.HoldingRecord, error) {
	return f.holdings, f.err
}

// TestScrapeSuccess builds a result with the listing summary attached.
func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	src := &fakeSource{holdings: []filings.HoldingRecord{{Symbol: "AAPL"}, {Symbol: "MSFT"}}}
	s := NewScraper(src, nil)
	item := filings.ReportWorkItem{
		Link:    "https://13f.info/13f/r1",
		Manager: "m1",
		Quarter: "Q1 2023",
		Summary: filings.SummaryRecord{Value: "1500", Form: "13F-HR"},
	}

	res, err := s.Scrape(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, res.Holdings, 2)
	require.Equal(t, item.Link, res.Summary.ReportLink)
	require.Equal(t, "m1", res.Summary.Manager)
	require.Equal(t, "Q1 2023", res.Summary.Quarter)
	require.Equal(t, "1500", res.Summary.Value)
	require.Equal(t, "2", res.Summary.HoldingsCount)
}

// TestScrapeEmptyHoldingsIsMalformed treats a parse that yields nothing as
// a malformed payload.
func TestScrapeEmptyHoldingsIsMalformed(t *testing.T) {
	t.Parallel()

	s := NewScraper(&fakeSource{}, nil)
	_, err := s.Scrape(context.Background(), filings.ReportWorkItem{Link: "r1"})
	require.Error(t, err)
	require.Equal(t, filings.ErrMalformed, filings.KindOf(err))
}

// TestScrapePropagatesTypedErrors passes source errors through untouched.
func TestScrapePropagatesTypedErrors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: filings.NewFetchError(filings.ErrTransient, "fetch report", "r1", context.DeadlineExceeded)}
	s := NewScraper(src, nil)
	_, err := s.Scrape(context.Background(), filings.ReportWorkItem{Link: "r1"})
	require.Error(t, err)
	require.Equal(t, filings.ErrTransient, filings.KindOf(err))
}
