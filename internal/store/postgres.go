package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS connections (
	id            TEXT PRIMARY KEY,
	domain        TEXT NOT NULL UNIQUE,
	client_id     TEXT NOT NULL,
	client_secret TEXT NOT NULL,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	redirect_uri  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_connections_domain ON connections(domain);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conn.UpdatedAt = now
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (id, domain, client_id, client_secret, access_token, refresh_token, expires_at, redirect_uri, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (domain) DO UPDATE SET
		   client_id = EXCLUDED.client_id,
		   client_secret = EXCLUDED.client_secret,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   redirect_uri = EXCLUDED.redirect_uri,
		   updated_at = EXCLUDED.updated_at`,
		conn.ID, conn.Domain, conn.ClientID, conn.ClientSecret,
		conn.AccessToken, conn.RefreshToken, nullableTime(conn.ExpiresAt),
		conn.RedirectURI, conn.CreatedAt, conn.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save connection")
}

func (s *PostgresStore) GetConnection(ctx context.Context, domain string) (*Connection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, domain, client_id, client_secret, access_token, refresh_token, expires_at, redirect_uri, created_at, updated_at
		 FROM connections WHERE domain = $1`,
		domain,
	)

	var conn Connection
	var expiresAt *time.Time
	err := row.Scan(&conn.ID, &conn.Domain, &conn.ClientID, &conn.ClientSecret,
		&conn.AccessToken, &conn.RefreshToken, &expiresAt,
		&conn.RedirectURI, &conn.CreatedAt, &conn.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get connection")
	}
	if expiresAt != nil {
		conn.ExpiresAt = *expiresAt
	}
	return &conn, nil
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, domain, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4 WHERE domain = $5`,
		accessToken, refreshToken, nullableTime(expiresAt), time.Now().UTC(), domain,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update tokens")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no connection for domain %q", domain)
	}
	return nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, domain string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE domain = $1`, domain)
	return eris.Wrap(err, "postgres: delete connection")
}
