package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/crmboard/internal/report"
)

var (
	exportPeriod int
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analytics to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Aggregator.GetComprehensiveAnalytics(ctx, exportPeriod)
		if err != nil {
			return err
		}

		if err := report.WriteXLSX(result, exportOut); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().IntVar(&exportPeriod, "period", 15, "analysis period in days")
	exportCmd.Flags().StringVar(&exportOut, "out", "analytics.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}
