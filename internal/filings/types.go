// Package filings defines the domain model for the 13F ingestion pipeline:
// work items, parsed records, failure rows and audit statuses shared by the
// enumerator, the worker pool and the store.
package filings

import "time"

// ReportWorkItem identifies one (manager, quarter, report) ingestion unit.
// Link is the natural key for the report; Summary carries the listing-page
// metadata captured at enumeration time so a successful parse can persist
// the summary row atomically with its holdings.
type ReportWorkItem struct {
	Link    string
	Manager string
	Quarter string
	Summary SummaryRecord
}

// SummaryRecord is one row per report: at most one per ReportLink.
// Value is kept as the source's text representation to avoid float rounding.
type SummaryRecord struct {
	Manager       string
	Quarter       string
	HoldingsCount string
	Value         string
	TopHoldings   string
	Form          string
	DateFiled     string
	FilingID      string
	ReportLink    string
}

// HoldingRecord is one row per (ReportLink, Symbol) pair. Manager and
// Quarter are denormalized onto every row for query convenience.
type HoldingRecord struct {
	Symbol     string
	IssuerName string
	Class      string
	CUSIP      string
	Value      string
	Percent    string
	Shares     string
	Principal  string
	OptionType string
	ReportLink string
	Manager    string
	Quarter    string
}

// FailedReport records the last failed ingestion attempt for a report.
// ReportLink is the primary key: at most one live failure row per report.
type FailedReport struct {
	ReportLink string
	Manager    string
	Quarter    string
	Error      string
	LastTried  time.Time
}

// LogStatus is the outcome recorded in the scrape_log audit table.
type LogStatus string

// Audit statuses: one entry is appended per ingestion attempt outcome.
const (
	StatusScraped LogStatus = "scraped"
	StatusSkipped LogStatus = "skipped"
	StatusFailed  LogStatus = "failed"
)

// Result is the outcome of one fetch/parse invocation for a work item.
type Result struct {
	Summary  SummaryRecord
	Holdings []HoldingRecord
}

// Outcome pairs a work item with its pool result so the coordinator can
// apply the success/failure protocol after out-of-order completion.
type Outcome struct {
	Item   ReportWorkItem
	Result Result
	Err    error
}
