package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-sync-service/internal/db"
	"chat-sync-service/internal/db/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn := dbtest.New(t)
	require.NoError(t, db.Migrate(conn))

	var tables []string
	require.NoError(t, conn.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	require.Equal(t, []string{
		"blocked_users",
		"conversation_members",
		"conversations",
		"message_deletions",
		"message_reactions",
		"messages",
		"pinned_messages",
		"users",
	}, tables)
}

func TestSQLiteKeepsQuestionBindvars(t *testing.T) {
	conn := dbtest.New(t)
	require.Equal(t, "SELECT 1 WHERE 1 = ?", conn.Rebind("SELECT 1 WHERE 1 = ?"))
}

func TestSQLiteStoresSortableTimes(t *testing.T) {
	conn, err := db.Open(db.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "plain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE stamps (at DATETIME NOT NULL)`)
	require.NoError(t, err)
	early := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	late := early.Add(90 * time.Minute)
	_, err = conn.Exec(`INSERT INTO stamps (at) VALUES (?), (?)`, late, early)
	require.NoError(t, err)

	var raw []string
	require.NoError(t, conn.Select(&raw, `SELECT CAST(at AS TEXT) FROM stamps ORDER BY at`))
	require.Equal(t, []string{"2026-03-10 09:00:00+00:00", "2026-03-10 10:30:00+00:00"}, raw)

	var older int
	require.NoError(t, conn.Get(&older, `SELECT COUNT(*) FROM stamps WHERE at < ?`, late))
	require.Equal(t, 1, older)
}
