package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS connections (
	id            TEXT PRIMARY KEY,
	domain        TEXT NOT NULL UNIQUE,
	client_id     TEXT NOT NULL,
	client_secret TEXT NOT NULL,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    DATETIME,
	redirect_uri  TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_connections_domain ON connections(domain);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveConnection(ctx context.Context, conn *Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conn.UpdatedAt = now
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, domain, client_id, client_secret, access_token, refresh_token, expires_at, redirect_uri, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET
		   client_id = excluded.client_id,
		   client_secret = excluded.client_secret,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   redirect_uri = excluded.redirect_uri,
		   updated_at = excluded.updated_at`,
		conn.ID, conn.Domain, conn.ClientID, conn.ClientSecret,
		conn.AccessToken, conn.RefreshToken, nullableTime(conn.ExpiresAt),
		conn.RedirectURI, conn.CreatedAt, conn.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save connection")
}

func (s *SQLiteStore) GetConnection(ctx context.Context, domain string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, domain, client_id, client_secret, access_token, refresh_token, expires_at, redirect_uri, created_at, updated_at
		 FROM connections WHERE domain = ?`,
		domain,
	)

	var conn Connection
	var expiresAt sql.NullTime
	err := row.Scan(&conn.ID, &conn.Domain, &conn.ClientID, &conn.ClientSecret,
		&conn.AccessToken, &conn.RefreshToken, &expiresAt,
		&conn.RedirectURI, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get connection")
	}
	if expiresAt.Valid {
		conn.ExpiresAt = expiresAt.Time
	}
	return &conn, nil
}

func (s *SQLiteStore) UpdateTokens(ctx context.Context, domain, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ? WHERE domain = ?`,
		accessToken, refreshToken, nullableTime(expiresAt), time.Now().UTC(), domain,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update tokens")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update tokens rows")
	}
	if n == 0 {
		return eris.Errorf("sqlite: no connection for domain %q", domain)
	}
	return nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE domain = ?`, domain)
	return eris.Wrap(err, "sqlite: delete connection")
}

// nullableTime maps the zero time to NULL so "expiry unknown" survives a
// round trip.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
