package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sells-group/crmboard/internal/analytics"
)

var (
	analyticsPeriod int
	analyticsJSON   bool
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Compute lead analytics for the recent period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Aggregator.GetComprehensiveAnalytics(ctx, analyticsPeriod)
		if err != nil {
			return err
		}

		if analyticsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printAnalytics(result)
		return nil
	},
}

func printAnalytics(a *analytics.Analytics) {
	fmt.Println("PERIOD")
	for _, ps := range []analytics.PeriodStats{a.Day, a.Week, a.Fortnight} {
		fmt.Printf("  %2dd  leads=%-4d sales=%-4d value=%-14s conversion=%s\n",
			ps.WindowDays, ps.TotalLeads, ps.Sales, ps.SalesValueFmt, ps.ConversionRate)
	}

	if len(a.Vendors) > 0 {
		fmt.Println("\nVENDORS")
		for _, name := range sortedKeys(a.Vendors) {
			g := a.Vendors[name]
			fmt.Printf("  %-20s leads=%-4d sales=%-4d value=%-14s conversion=%s proposals=%s\n",
				g.Name, g.TotalLeads, g.Sales, g.SalesValueFmt, g.ConversionRate, g.ProposalRate)
		}
	}

	if len(a.Personas) > 0 {
		fmt.Println("\nPERSONAS")
		for _, name := range sortedKeys(a.Personas) {
			g := a.Personas[name]
			fmt.Printf("  %-20s leads=%-4d sales=%-4d value=%-14s conversion=%s\n",
				g.Name, g.TotalLeads, g.Sales, g.SalesValueFmt, g.ConversionRate)
		}
	}
}

func sortedKeys(m map[string]*analytics.DimensionStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	analyticsCmd.Flags().IntVar(&analyticsPeriod, "period", 15, "analysis period in days (widened to 15 minimum)")
	analyticsCmd.Flags().BoolVar(&analyticsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(analyticsCmd)
}
