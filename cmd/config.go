package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		masked := *cfg
		masked.Kommo.ClientSecret = mask(cfg.Kommo.ClientSecret)
		masked.Store.DatabaseURL = maskDSN(cfg.Store.DatabaseURL)

		out, err := yaml.Marshal(&masked)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func mask(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// maskDSN hides credentials embedded in postgres URLs; plain sqlite paths
// pass through.
func maskDSN(dsn string) string {
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == '@' {
			return "****" + dsn[i:]
		}
	}
	return dsn
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
