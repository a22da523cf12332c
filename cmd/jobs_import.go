package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/leadfile"
	"github.com/homereach/contact-cli/internal/store"
)

var (
	importCSVPath  string
	importXLSXPath string
	importTenant   string
)

var jobsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load contact jobs from a lead spreadsheet",
	Long: `import reads a CSV or XLSX lead export and enqueues one contact job per
row. Rows that fail validation are reported with their row number and
skipped; the rest of the file still loads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (importCSVPath == "") == (importXLSXPath == "") {
			return eris.New("pass exactly one of --csv or --xlsx")
		}

		tenant := importTenant
		if tenant == "" {
			tenant = cfg.Contact.Tenant
		}

		result, err := readLeadFile(importCSVPath, importXLSXPath, tenant)
		if err != nil {
			return err
		}

		for _, rowErr := range result.Errors {
			zap.L().Warn("lead row skipped",
				zap.Int("row", rowErr.Row),
				zap.String("reason", rowErr.Message))
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		created, failed := importLeads(cmd.Context(), st, result)

		zap.L().Info("lead file imported",
			zap.String("tenant", tenant),
			zap.Int("created", created),
			zap.Int("skipped_rows", len(result.Errors)),
			zap.Int("create_failures", failed))
		fmt.Printf("imported %d job(s), skipped %d row(s)\n", created, len(result.Errors)+failed)
		return nil
	},
}

func init() {
	jobsImportCmd.Flags().StringVar(&importCSVPath, "csv", "", "lead CSV to import")
	jobsImportCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "lead XLSX to import")
	jobsImportCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant to enqueue for (defaults to contact.tenant)")
	jobsCmd.AddCommand(jobsImportCmd)
}

func readLeadFile(csvPath, xlsxPath, tenant string) (*leadfile.Result, error) {
	if csvPath != "" {
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", csvPath)
		}
		defer f.Close()
		return leadfile.ReadCSV(f, tenant)
	}
	return leadfile.ReadXLSX(xlsxPath, tenant)
}

// importLeads enqueues every parsed job, logging and counting the ones the
// store rejects rather than aborting the batch.
func importLeads(ctx context.Context, st store.Store, result *leadfile.Result) (created, failed int) {
	for _, job := range result.Jobs {
		if _, err := st.CreateJob(ctx, job); err != nil {
			zap.L().Warn("enqueue imported lead",
				zap.String("lead_id", job.LeadID),
				zap.Error(err))
			failed++
			continue
		}
		created++
	}
	return created, failed
}
