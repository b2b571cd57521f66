// Package analysis provides read-only reporting queries over the finished
// store, with CSV/JSON export.
package analysis

import (
	"context"
	"database/sql"
	"fmt"
)

// Query is one built-in report over the four store tables.
type Query struct {
	Key   string
	Title string
	SQL   string
}

// Queries returns the built-in reports in menu order.
func Queries() []Query {
	return []Query{
		{"1", "Total Reports Scraped",
			`SELECT COUNT(DISTINCT ReportLink) AS Reports FROM holdings;`},

		{"2", "Total Holdings Saved",
			`SELECT COUNT(*) AS Holdings FROM holdings;`},

		{"3", "Failed Reports Left",
			`SELECT COUNT(*) AS Failed FROM failed_reports;`},

		{"4", "Log Status Summary",
			`SELECT Status, COUNT(*) AS Count FROM scrape_log GROUP BY Status;`},

		{"5", "Top 10 Most Common Assets", `
			SELECT COALESCE(NULLIF(Symbol, ''), NULLIF(IssuerName, ''), 'UNKNOWN_ASSET') AS Asset,
			       COUNT(*) AS Count
			FROM holdings
			GROUP BY Asset
			ORDER BY Count DESC
			LIMIT 10;`},

		{"6", "Largest Portfolios by Value", `
			SELECT Manager, SUM(CAST(Value AS INT)) AS TotalValue
			FROM holdings
			GROUP BY Manager
			ORDER BY TotalValue DESC
			LIMIT 10;`},

		{"7", "Holdings Count per Quarter", `
			SELECT Quarter, COUNT(*) AS Count
			FROM holdings
			GROUP BY Quarter
			ORDER BY CAST(substr(Quarter, instr(Quarter, ' ') + 1) AS INT) * 10 +
			         CAST(substr(Quarter, 2, 1) AS INT) DESC;`},

		{"8", "Institutional Momentum (Top 10 Rising Assets)", `
			WITH this_q AS (
			    SELECT COALESCE(NULLIF(Symbol, ''), NULLIF(IssuerName, ''), 'UNKNOWN_ASSET') AS Asset,
			           COUNT(DISTINCT Manager) AS ManagersNow
			    FROM holdings
			    WHERE Quarter = (SELECT MAX(Quarter) FROM holdings)
			    GROUP BY Asset
			),
			prev_q AS (
			    SELECT COALESCE(NULLIF(Symbol, ''), NULLIF(IssuerName, ''), 'UNKNOWN_ASSET') AS Asset,
			           COUNT(DISTINCT Manager) AS ManagersPrev
			    FROM holdings
			    WHERE Quarter = (SELECT MAX(Quarter) FROM holdings WHERE Quarter < (SELECT MAX(Quarter) FROM holdings))
			    GROUP BY Asset
			)
			SELECT this_q.Asset,
			       this_q.ManagersNow,
			       COALESCE(prev_q.ManagersPrev, 0) AS ManagersPrev,
			       (this_q.ManagersNow - COALESCE(prev_q.ManagersPrev, 0)) AS Change
			FROM this_q
			LEFT JOIN prev_q ON this_q.Asset = prev_q.Asset
			ORDER BY Change DESC
			LIMIT 10;`},
	}
}

// Lookup finds a built-in query by its menu key.
func Lookup(key string) (Query, bool) {
	for _, q := range Queries() {
		if q.Key == key {
			return q, true
		}
	}
	return Query{}, false
}

// ResultSet is a materialized query result.
type ResultSet struct {
	Headers []string
	Rows    [][]string
}

// Run executes q against db and materializes all rows as strings.
func Run(ctx context.Context, db *sql.DB, q Query) (ResultSet, error) {
	rows, err := db.QueryContext(ctx, q.SQL)
	if err != nil {
		return ResultSet{}, fmt.Errorf("run query %q: %w", q.Title, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cleanup

	headers, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("query columns: %w", err)
	}

	rs := ResultSet{Headers: headers}
	values := make([]sql.NullString, len(headers))
	scan := make([]any, len(headers))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return ResultSet{}, fmt.Errorf("scan query row: %w", err)
		}
		row := make([]string, len(headers))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("iterate query rows: %w", err)
	}
	return rs, nil
}
