// Package fetcher implements the filings-website collaborator using Colly:
// manager listings per index letter, report listings per manager, and
// holdings per report (JSON endpoint with HTML table fallback).
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/filings"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher wraps a base Colly collector. Each call clones the collector, so
// concurrent use from many workers is safe: no state is shared between
// invocations beyond the read-only config.
type Fetcher struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{cfg: cfg, base: c, logger: logger}
}

// visit runs a collector against url, honoring context cancellation. The
// HTTP round trip itself is bounded by the collector's request timeout.
func (f *Fetcher) visit(ctx context.Context, c *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (f *Fetcher) absolute(href string) string {
	if strings.HasPrefix(href, "/") {
		return f.cfg.BaseURL + href
	}
	return href
}

// ManagerLinks returns the sorted, deduplicated manager URLs listed under
// one index letter.
func (f *Fetcher) ManagerLinks(ctx context.Context, letter string) ([]string, error) {
	url := fmt.Sprintf("%s/managers/%s", f.cfg.BaseURL, letter)
	seen := map[string]struct{}{}

	c := f.base.Clone()
	c.OnHTML(`a[href^='/manager/']`, func(e *colly.HTMLElement) {
		seen[f.absolute(e.Attr("href"))] = struct{}{}
	})

	if err := f.visit(ctx, c, url); err != nil {
		return nil, filings.NewFetchError(filings.ErrTransient, "fetch manager list", url, err)
	}

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	f.logger.Info("collected managers",
		zap.String("letter", strings.ToUpper(letter)),
		zap.Int("count", len(links)),
	)
	return links, nil
}

// ManagerFilings walks a manager's filings table, following rel=next
// pagination, and returns one work item per report row. Rows without a
// report link are dropped: a summary that cannot be keyed by ReportLink
// cannot participate in dedup or resume.
func (f *Fetcher) ManagerFilings(ctx context.Context, managerURL string) ([]filings.ReportWorkItem, error) {
	var items []filings.ReportWorkItem

	url := managerURL
	for url != "" {
		var next string

		c := f.base.Clone()
		c.OnHTML(`table#managerFilings tbody tr`, func(e *colly.HTMLElement) {
			cols := e.ChildTexts("td")
			href := e.ChildAttr("a[href]", "href")
			if len(cols) != 7 || href == "" {
				return
			}
			link := f.absolute(href)
			items = append(items, filings.ReportWorkItem{
				Link:    link,
				Manager: managerURL,
				Quarter: cols[0],
				Summary: filings.SummaryRecord{
					Manager:       managerURL,
					Quarter:       cols[0],
					HoldingsCount: cols[1],
					Value:         cols[2],
					TopHoldings:   cols[3],
					Form:          cols[4],
					DateFiled:     cols[5],
					FilingID:      cols[6],
					ReportLink:    link,
				},
			})
		})
		c.OnHTML(`a[rel='next']`, func(e *colly.HTMLElement) {
			next = f.absolute(e.Attr("href"))
		})

		if err := f.visit(ctx, c, url); err != nil {
			return nil, filings.NewFetchError(filings.ErrTransient, "fetch manager filings", url, err)
		}
		url = next
	}
	return items, nil
}

// ReportHoldings fetches one report page and parses its holdings. The
// aggregated table carries a data-url attribute pointing at a JSON
// endpoint; when present that is preferred, otherwise the inline HTML
// table is parsed.
func (f *Fetcher) ReportHoldings(ctx context.Context, item filings.ReportWorkItem) ([]filings.HoldingRecord, error) {
	var (
		found    bool
		dataURL  string
		fallback []filings.HoldingRecord
	)

	c := f.base.Clone()
	c.OnHTML(`#filingAggregated`, func(e *colly.HTMLElement) {
		found = true
		dataURL = e.Attr("data-url")
		fallback = parseHoldingsTable(e, item)
	})

	if err := f.visit(ctx, c, item.Link); err != nil {
		return nil, filings.NewFetchError(filings.ErrTransient, "fetch report", item.Link, err)
	}
	if !found {
		return nil, filings.NewFetchError(filings.ErrMalformed, "parse report", item.Link,
			fmt.Errorf("no aggregated holdings table"))
	}

	if dataURL != "" {
		holdings, err := f.fetchHoldingsJSON(ctx, f.absolute(dataURL), item)
		if err == nil {
			return holdings, nil
		}
		f.logger.Warn("holdings json endpoint failed, using html table",
			zap.String("report", item.Link),
			zap.Error(err),
		)
	}
	return fallback, nil
}

// fetchHoldingsJSON pulls the aggregated holdings endpoint. The payload is
// {"data": [[Symbol, IssuerName, Class, CUSIP, Value, Percent, Shares,
// Principal, OptionType, ...], ...]} with mixed string/number cells.
func (f *Fetcher) fetchHoldingsJSON(ctx context.Context, url string, item filings.ReportWorkItem) ([]filings.HoldingRecord, error) {
	var body []byte

	c := f.base.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})

	if err := f.visit(ctx, c, url); err != nil {
		return nil, filings.NewFetchError(filings.ErrTransient, "fetch holdings json", url, err)
	}

	var payload struct {
		Data [][]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, filings.NewFetchError(filings.ErrMalformed, "decode holdings json", url, err)
	}

	holdings := make([]filings.HoldingRecord, 0, len(payload.Data))
	for _, row := range payload.Data {
		holdings = append(holdings, filings.HoldingRecord{
			Symbol:     cell(row, 0),
			IssuerName: cell(row, 1),
			Class:      cell(row, 2),
			CUSIP:      cell(row, 3),
			Value:      cell(row, 4),
			Percent:    cell(row, 5),
			Shares:     cell(row, 6),
			Principal:  cell(row, 7),
			OptionType: cell(row, 8),
			ReportLink: item.Link,
			Manager:    item.Manager,
			Quarter:    item.Quarter,
		})
	}
	return holdings, nil
}

// parseHoldingsTable reads the inline HTML table, mapping cells to columns
// by header name.
func parseHoldingsTable(e *colly.HTMLElement, item filings.ReportWorkItem) []filings.HoldingRecord {
	headers := e.ChildTexts("th")
	var holdings []filings.HoldingRecord
	e.ForEach("tbody tr", func(_ int, row *colly.HTMLElement) {
		cells := row.ChildTexts("td")
		if len(cells) == 0 {
			return
		}
		rec := map[string]string{}
		for i, h := range headers {
			if i < len(cells) {
				rec[h] = cells[i]
			}
		}
		holdings = append(holdings, filings.HoldingRecord{
			Symbol:     rec["Symbol"],
			IssuerName: rec["Issuer Name"],
			Class:      rec["Class"],
			CUSIP:      rec["CUSIP"],
			Value:      rec["Value ($000)"],
			Percent:    rec["Percent"],
			Shares:     rec["Shares"],
			Principal:  rec["Principal"],
			OptionType: rec["Option Type"],
			ReportLink: item.Link,
			Manager:    item.Manager,
			Quarter:    item.Quarter,
		})
	})
	return holdings
}

func cell(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
