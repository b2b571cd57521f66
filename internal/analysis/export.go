package analysis

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// Render writes the result set as an aligned text table.
func Render(w io.Writer, rs ResultSet) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow := func(cells []string) error {
		for i, c := range cells {
			if i > 0 {
				if _, err := fmt.Fprint(tw, "\t"); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(tw, c); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(tw)
		return err
	}
	if err := writeRow(rs.Headers); err != nil {
		return fmt.Errorf("render headers: %w", err)
	}
	for _, row := range rs.Rows {
		if err := writeRow(row); err != nil {
			return fmt.Errorf("render row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	return nil
}

// ExportCSV writes the result set to path as CSV with a header row.
func ExportCSV(path string, rs ResultSet) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close() //nolint:errcheck // flushed below

	w := csv.NewWriter(f)
	if err := w.Write(rs.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rs.Rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ExportJSON writes the result set to path as an array of objects keyed by
// column name.
func ExportJSON(path string, rs ResultSet) error {
	objects := make([]map[string]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		obj := make(map[string]string, len(rs.Headers))
		for i, h := range rs.Headers {
			if i < len(row) {
				obj[h] = row[i]
			}
		}
		objects = append(objects, obj)
	}
	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json export: %w", err)
	}
	return nil
}
