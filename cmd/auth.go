package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crmboard/internal/store"
	"github.com/sells-group/crmboard/pkg/kommo"
)

var authCode string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the CRM connection",
}

var authConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Exchange an authorization code and store the connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("connect"); err != nil {
			return err
		}
		if authCode == "" {
			return eris.New("auth: --code is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client := kommo.NewClient(kommo.Config{
			Domain:       cfg.Kommo.Domain,
			ClientID:     cfg.Kommo.ClientID,
			ClientSecret: cfg.Kommo.ClientSecret,
			RedirectURI:  cfg.Kommo.RedirectURI,
		})

		tokens, err := client.TokenManager().ExchangeCode(ctx, authCode)
		if err != nil {
			return eris.Wrap(err, "auth: exchange code")
		}

		conn := &store.Connection{
			Domain:       cfg.Kommo.Domain,
			ClientID:     cfg.Kommo.ClientID,
			ClientSecret: cfg.Kommo.ClientSecret,
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    tokens.ExpiresAt,
			RedirectURI:  cfg.Kommo.RedirectURI,
		}
		if err := st.SaveConnection(ctx, conn); err != nil {
			return err
		}

		zap.L().Info("auth: connection stored", zap.String("domain", conn.Domain))
		fmt.Printf("Connected to %s\n", conn.Domain)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored connection state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		conn, err := st.GetConnection(ctx, cfg.Kommo.Domain)
		if err != nil {
			return err
		}
		if conn == nil {
			fmt.Println("No connection configured. Run `crmboard auth connect --code <code>`.")
			return nil
		}

		fmt.Printf("Domain:      %s\n", conn.Domain)
		fmt.Printf("Client ID:   %s\n", conn.ClientID)
		if conn.ExpiresAt.IsZero() {
			fmt.Println("Expires:     unknown")
		} else {
			fmt.Printf("Expires:     %s\n", conn.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Printf("Updated:     %s\n", conn.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

var authDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Revoke the refresh token and delete the connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// Revocation is cleanup: a failure must not block the delete.
		e.Client.TokenManager().Revoke(ctx)

		if err := e.Store.DeleteConnection(ctx, cfg.Kommo.Domain); err != nil {
			return err
		}
		fmt.Printf("Disconnected %s\n", cfg.Kommo.Domain)
		return nil
	},
}

func init() {
	authConnectCmd.Flags().StringVar(&authCode, "code", "", "OAuth authorization code from the CRM consent redirect")

	authCmd.AddCommand(authConnectCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authDisconnectCmd)
	rootCmd.AddCommand(authCmd)
}
