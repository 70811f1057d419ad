// Package dbtest opens migrated embedded databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/db"
)

// New returns a migrated SQLite database in a temporary directory. It is
// closed when the test ends.
func New(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "chat.db")
	conn, err := db.Open(db.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}
