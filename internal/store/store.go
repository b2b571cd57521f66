// Package store owns the durable SQLite store for the ingestion pipeline.
//
// The store is the sole writer of the four tables (summaries, holdings,
// failed_reports, scrape_log) and enforces the dedup invariants at the
// schema level: application-side existence checks only avoid unnecessary
// fetches, the unique indexes are what make concurrent duplicate writes
// safe. Each caller goroutine gets its own connection from the database/sql
// pool; SQLite's transactional engine arbitrates conflicting writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/clock"
	"github.com/quantfold/filings-crawler/internal/filings"
)

const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS summaries (
	Manager TEXT, Quarter TEXT, HoldingsCount INTEGER,
	Value TEXT, TopHoldings TEXT, Form TEXT,
	DateFiled TEXT, FilingID TEXT, ReportLink TEXT
);
CREATE TABLE IF NOT EXISTS holdings (
	Symbol TEXT, IssuerName TEXT, Class TEXT, CUSIP TEXT,
	Value TEXT, Percent TEXT, Shares TEXT,
	Principal TEXT, OptionType TEXT,
	ReportLink TEXT, Manager TEXT, Quarter TEXT
);
CREATE TABLE IF NOT EXISTS failed_reports (
	ReportLink TEXT PRIMARY KEY,
	Manager TEXT,
	Quarter TEXT,
	Error TEXT,
	LastTried TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS scrape_log (
	ReportLink TEXT,
	Status TEXT,
	Timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_holding
	ON holdings(ReportLink, Symbol);
CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_summary
	ON summaries(ReportLink);
`

// Store wraps the SQLite database file holding all pipeline state.
type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

// Open creates (if needed) and migrates the database file at path.
// The parent directory is created when missing.
func Open(path string, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create out dir: %w", err)
		}
	}
	// _txlock=immediate takes SQLite's write lock at BEGIN, so every clock
	// read inside a transaction happens while holding the lock. scrape_log
	// timestamps are therefore non-decreasing in insertion order even when
	// writers contend.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, clock: clk, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(timeLayout)
}

// HasReport reports whether link already has durable holdings or summary
// rows. A positive answer lets the enumerator skip the fetch entirely.
func (s *Store) HasReport(ctx context.Context, link string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM holdings WHERE ReportLink = ?
			UNION ALL
			SELECT 1 FROM summaries WHERE ReportLink = ?
		)`, link, link).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("existence check %s: %w", link, err)
	}
	return exists, nil
}

// SaveReport persists a parsed report in a single transaction: the summary
// row, every holding row, the scraped audit entry, and removal of any prior
// failure record. INSERT OR IGNORE against the unique indexes makes the
// write idempotent; a concurrent duplicate writer loses the index conflict
// and that is treated as success, the data is already present.
func (s *Store) SaveReport(ctx context.Context, summary filings.SummaryRecord, holdings []filings.HoldingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO holdings
		(Symbol, IssuerName, Class, CUSIP, Value, Percent, Shares, Principal, OptionType, ReportLink, Manager, Quarter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare holdings insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // read-only cleanup

	for _, h := range holdings {
		if _, err := stmt.ExecContext(ctx,
			h.Symbol, h.IssuerName, h.Class, h.CUSIP, h.Value, h.Percent,
			h.Shares, h.Principal, h.OptionType, h.ReportLink, h.Manager, h.Quarter,
		); err != nil {
			return fmt.Errorf("insert holding %s/%s: %w", h.ReportLink, h.Symbol, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO summaries
		(Manager, Quarter, HoldingsCount, Value, TopHoldings, Form, DateFiled, FilingID, ReportLink)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.Manager, summary.Quarter, summary.HoldingsCount, summary.Value,
		summary.TopHoldings, summary.Form, summary.DateFiled, summary.FilingID, summary.ReportLink,
	); err != nil {
		return fmt.Errorf("insert summary %s: %w", summary.ReportLink, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM failed_reports WHERE ReportLink = ?`, summary.ReportLink); err != nil {
		return fmt.Errorf("clear failed report %s: %w", summary.ReportLink, err)
	}

	if err := appendLog(ctx, tx, summary.ReportLink, filings.StatusScraped, s.now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// RecordFailure upserts the failure row for the item and appends the failed
// audit entry in one transaction. Repeat failures update Error and
// LastTried in place; ReportLink is the primary key so the row is never
// duplicated.
func (s *Store) RecordFailure(ctx context.Context, item filings.ReportWorkItem, cause string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO failed_reports (ReportLink, Manager, Quarter, Error, LastTried)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ReportLink) DO UPDATE SET Error = excluded.Error, LastTried = excluded.LastTried`,
		item.Link, item.Manager, item.Quarter, cause, now,
	); err != nil {
		return fmt.Errorf("upsert failed report %s: %w", item.Link, err)
	}

	if err := appendLog(ctx, tx, item.Link, filings.StatusFailed, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failure tx: %w", err)
	}
	return nil
}

// RecordSkip appends a skipped audit entry for an already-satisfied item.
// Runs in its own transaction so the timestamp is stamped under the write
// lock, like every other audit entry.
func (s *Store) RecordSkip(ctx context.Context, link string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin skip tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := appendLog(ctx, tx, link, filings.StatusSkipped, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit skip tx: %w", err)
	}
	return nil
}

func appendLog(ctx context.Context, tx *sql.Tx, link string, status filings.LogStatus, ts string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scrape_log (ReportLink, Status, Timestamp) VALUES (?, ?, ?)`,
		link, status, ts,
	); err != nil {
		return fmt.Errorf("append %s log %s: %w", status, link, err)
	}
	return nil
}

// ListFailed returns all live failure rows, ordered by last attempt.
func (s *Store) ListFailed(ctx context.Context) ([]filings.FailedReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ReportLink, Manager, Quarter, Error, LastTried FROM failed_reports ORDER BY LastTried`)
	if err != nil {
		return nil, fmt.Errorf("list failed reports: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cleanup

	var out []filings.FailedReport
	for rows.Next() {
		var fr filings.FailedReport
		var lastTried string
		if err := rows.Scan(&fr.ReportLink, &fr.Manager, &fr.Quarter, &fr.Error, &lastTried); err != nil {
			return nil, fmt.Errorf("scan failed report: %w", err)
		}
		if ts, perr := time.Parse(timeLayout, lastTried); perr == nil {
			fr.LastTried = ts.UTC()
		} else {
			s.logger.Warn("unparseable LastTried on failed report, treating as zero",
				zap.String("report", fr.ReportLink),
				zap.String("value", lastTried),
				zap.Error(perr),
			)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed reports: %w", err)
	}
	return out, nil
}

// Stats summarizes store contents for progress and status reporting.
type Stats struct {
	Reports   int64 `json:"reports"`
	Holdings  int64 `json:"holdings"`
	Summaries int64 `json:"summaries"`
	Failed    int64 `json:"failed"`
	Scraped   int64 `json:"log_scraped"`
	Skipped   int64 `json:"log_skipped"`
	LogFailed int64 `json:"log_failed"`
}

// Stats counts rows across the four tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	steps := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(DISTINCT ReportLink) FROM holdings`, &st.Reports},
		{`SELECT COUNT(*) FROM holdings`, &st.Holdings},
		{`SELECT COUNT(*) FROM summaries`, &st.Summaries},
		{`SELECT COUNT(*) FROM failed_reports`, &st.Failed},
		{`SELECT COUNT(*) FROM scrape_log WHERE Status = 'scraped'`, &st.Scraped},
		{`SELECT COUNT(*) FROM scrape_log WHERE Status = 'skipped'`, &st.Skipped},
		{`SELECT COUNT(*) FROM scrape_log WHERE Status = 'failed'`, &st.LogFailed},
	}
	for _, step := range steps {
		if err := s.db.QueryRowContext(ctx, step.query).Scan(step.dst); err != nil {
			return Stats{}, fmt.Errorf("stats query: %w", err)
		}
	}
	return st, nil
}

// DB exposes the underlying handle for read-only analysis queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
