package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docq/docq/internal/resource"
)

// openTestStore opens a store on a throwaway database file.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testResource builds resource metadata and ensures its table exists.
func newTestResource(t *testing.T, s *Store, cfg resource.Config) *resource.Resource {
	t.Helper()
	res, err := resource.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.EnsureResource(context.Background(), res))
	return res
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestEnsureResource_Idempotent(t *testing.T) {
	s := openTestStore(t)
	res := newTestResource(t, s, resource.Config{Name: "people"})

	// A second call must not fail or clobber data.
	require.NoError(t, s.EnsureResource(context.Background(), res))

	_, err := s.CreateRecord(context.Background(), res, []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	require.NoError(t, s.EnsureResource(context.Background(), res))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM people").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_SchemaHasAuditLog(t *testing.T) {
	s := openTestStore(t)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'audit_log'",
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "audit_log", name)
}
