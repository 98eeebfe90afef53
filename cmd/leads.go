package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	leadsFrom string
	leadsTo   string
	leadsJSON bool
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List leads created in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		start, end, err := parseDateRange(leadsFrom, leadsTo)
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		leads, err := e.Client.FetchLeads(ctx, start, end)
		if err != nil {
			return err
		}

		if leadsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(leads)
		}

		fmt.Printf("%-10s %-30s %-10s %s\n", "ID", "NAME", "STATUS", "CREATED")
		for _, l := range leads {
			enriched := e.Aggregator.Enrich(l)
			fmt.Printf("%-10d %-30s %-10s %s\n",
				l.ID,
				truncate(l.Name, 30),
				enriched.StatusLabel,
				time.Unix(l.CreatedAt, 0).UTC().Format("2006-01-02"),
			)
		}
		fmt.Printf("\n%d leads\n", len(leads))
		return nil
	},
}

// parseDateRange turns --from/--to day strings into an inclusive instant
// range. --to defaults to now, --from to 15 days before the range end.
func parseDateRange(from, to string) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "invalid --to %q", to)
		}
		// Include the whole end day.
		end = t.AddDate(0, 0, 1).Add(-time.Second)
	}

	start := end.AddDate(0, 0, -15)
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "invalid --from %q", from)
		}
		start = t
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, eris.Errorf("range end %s before start %s", to, from)
	}
	return start, end, nil
}

// truncate shortens s to at most n runes. Byte slicing would split
// multi-byte runes; lead names are pt-BR text full of accents.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	leadsCmd.Flags().StringVar(&leadsFrom, "from", "", "range start (YYYY-MM-DD), default 15 days ago")
	leadsCmd.Flags().StringVar(&leadsTo, "to", "", "range end (YYYY-MM-DD), default today")
	leadsCmd.Flags().BoolVar(&leadsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(leadsCmd)
}
