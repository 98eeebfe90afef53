package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetConnection_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, domain, client_id, client_secret, access_token, refresh_token, expires_at, redirect_uri, created_at, updated_at`).
		WithArgs("unknown.kommo.com").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetConnection(context.Background(), "unknown.kommo.com")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConnection_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	expires := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "domain", "client_id", "client_secret", "access_token",
		"refresh_token", "expires_at", "redirect_uri", "created_at", "updated_at",
	}).AddRow("conn-1", "example.kommo.com", "cid", "secret", "access-1",
		"refresh-1", &expires, "https://example.com/callback", now, now)

	mock.ExpectQuery(`FROM connections WHERE domain = \$1`).
		WithArgs("example.kommo.com").
		WillReturnRows(rows)

	got, err := s.GetConnection(context.Background(), "example.kommo.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "conn-1", got.ID)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConnection_NullExpiry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "domain", "client_id", "client_secret", "access_token",
		"refresh_token", "expires_at", "redirect_uri", "created_at", "updated_at",
	}).AddRow("conn-1", "example.kommo.com", "cid", "secret", "access-1",
		"refresh-1", (*time.Time)(nil), "", now, now)

	mock.ExpectQuery(`FROM connections WHERE domain = \$1`).
		WithArgs("example.kommo.com").
		WillReturnRows(rows)

	got, err := s.GetConnection(context.Background(), "example.kommo.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveConnection_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(domain\)`).
		WithArgs(pgxmock.AnyArg(), "example.kommo.com", "cid", "secret",
			"access-1", "refresh-1", pgxmock.AnyArg(), "https://example.com/callback",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	conn := &Connection{
		Domain:       "example.kommo.com",
		ClientID:     "cid",
		ClientSecret: "secret",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		RedirectURI:  "https://example.com/callback",
	}
	err := s.SaveConnection(context.Background(), conn)
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateTokens(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE connections SET access_token = \$1`).
		WithArgs("access-2", "refresh-2", pgxmock.AnyArg(), pgxmock.AnyArg(), "example.kommo.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateTokens(context.Background(), "example.kommo.com", "access-2", "refresh-2", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateTokens_MissingConnection(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE connections SET access_token = \$1`).
		WithArgs("a", "r", pgxmock.AnyArg(), pgxmock.AnyArg(), "nobody.kommo.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateTokens(context.Background(), "nobody.kommo.com", "a", "r", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connection")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteConnection(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM connections WHERE domain = \$1`).
		WithArgs("example.kommo.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := s.DeleteConnection(context.Background(), "example.kommo.com")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS connections`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
