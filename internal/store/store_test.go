package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "open.db")

	s, err := Open(context.Background(), Options{Driver: "sqlite", DatabaseURL: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	// Migrations already ran; the store is ready for writes.
	require.NoError(t, s.SaveConnection(context.Background(), testConnection()))
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "default.db")

	s, err := Open(context.Background(), Options{DatabaseURL: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
