package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homereach/contact-cli/internal/leadfile"
)

var (
	exportOutPath string
	exportTenant  string
	exportPortal  string
	exportState   string
	exportLimit   int
)

var jobsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write jobs and extracted phones to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildJobFilter(exportTenant, exportPortal, exportState, exportLimit)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.ListJobs(cmd.Context(), filter)
		if err != nil {
			return eris.Wrap(err, "list jobs for export")
		}
		if len(jobs) == 0 {
			zap.L().Info("nothing to export")
			return nil
		}

		if err := leadfile.WriteXLSX(exportOutPath, jobs); err != nil {
			return err
		}

		zap.L().Info("jobs exported",
			zap.String("path", exportOutPath),
			zap.Int("count", len(jobs)))
		fmt.Printf("wrote %d job(s) to %s\n", len(jobs), exportOutPath)
		return nil
	},
}

func init() {
	jobsExportCmd.Flags().StringVar(&exportOutPath, "out", "jobs.xlsx", "output workbook path")
	jobsExportCmd.Flags().StringVar(&exportTenant, "tenant", "", "filter by tenant")
	jobsExportCmd.Flags().StringVar(&exportPortal, "portal", "", "filter by portal")
	jobsExportCmd.Flags().StringVar(&exportState, "state", "", "filter by state")
	jobsExportCmd.Flags().IntVar(&exportLimit, "limit", 5000, "maximum rows to export")
	jobsCmd.AddCommand(jobsExportCmd)
}
