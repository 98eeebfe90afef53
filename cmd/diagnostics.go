package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Probe CRM connectivity and API permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.Client.RunDiagnostics(ctx)
		if err != nil {
			return err
		}

		for _, p := range report.Probes {
			status := "ok"
			if !p.Success {
				status = "FAIL"
			}
			fmt.Printf("%-14s %-4s %4dms", p.Name, status, p.LatencyMS)
			if p.Error != "" {
				fmt.Printf("  %s", p.Error)
			}
			fmt.Println()
		}

		if !report.Healthy() {
			fmt.Println("\nSome probes failed. Check the connection's API permissions.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
}
