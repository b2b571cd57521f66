package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/filings-crawler/internal/analysis"
	"github.com/quantfold/filings-crawler/internal/clock/system"
	"github.com/quantfold/filings-crawler/internal/store"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		queryKey   string
		exportCSV  string
		exportJSON string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Runs built-in reporting queries against the store",
		Long: `Executes one of the built-in read-only SQL reports over the scraped
store and prints it as a table. Results can also be exported to CSV or JSON.
Run without --query to list the available reports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			if queryKey == "" {
				for _, q := range analysis.Queries() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s. %s\n", q.Key, q.Title)
				}
				return nil
			}

			q, ok := analysis.Lookup(queryKey)
			if !ok {
				return fmt.Errorf("unknown query %q, run without --query to see the menu", queryKey)
			}

			st, err := store.Open(app.Cfg.DBPath(), system.New(), app.Logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				if cerr := st.Close(); cerr != nil {
					app.Logger.Warn("failed to close store", zap.Error(cerr))
				}
			}()

			rs, err := analysis.Run(cmd.Context(), st.DB(), q)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "=== %s ===\n", q.Title)
			if err := analysis.Render(cmd.OutOrStdout(), rs); err != nil {
				return err
			}
			if exportCSV != "" {
				if err := analysis.ExportCSV(exportCSV, rs); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Exported to CSV: %s\n", exportCSV)
			}
			if exportJSON != "" {
				if err := analysis.ExportJSON(exportJSON, rs); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Exported to JSON: %s\n", exportJSON)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&queryKey, "query", "", "query number to run (see menu)")
	cmd.Flags().StringVar(&exportCSV, "export-csv", "", "export result to a CSV file")
	cmd.Flags().StringVar(&exportJSON, "export-json", "", "export result to a JSON file")
	return cmd
}
