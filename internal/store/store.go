// Package store persists CRM connection configuration: account domain,
// OAuth client credentials and the current token pair. The rest of the
// application consumes this as input and writes back only refreshed tokens.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Connection is one configured CRM connection.
type Connection struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store defines the persistence interface for CRM connections. Get returns
// (nil, nil) when no connection exists for the domain; callers translate
// that into their own "setup required" signal.
type Store interface {
	SaveConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, domain string) (*Connection, error)
	UpdateTokens(ctx context.Context, domain, accessToken, refreshToken string, expiresAt time.Time) error
	DeleteConnection(ctx context.Context, domain string) error

	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string
	DatabaseURL string
}

// Open creates a Store for the configured driver ("sqlite" or "postgres")
// and runs migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", "sqlite":
		s, err = NewSQLite(opts.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
