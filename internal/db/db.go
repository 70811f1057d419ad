package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"chat-sync-service/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Connect initializes the database connection and runs migrations.
func Connect(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if db.DriverName() == DriverPostgres {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLife)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

// Open connects without migrating. SQLite is limited to a single connection so
// writers never contend for the file lock, and times are written as ISO text
// unless the DSN picks a _time_format itself.
func Open(driver, dsn string) (*sqlx.DB, error) {
	if driver == DriverSQLite {
		dsn = withSQLiteTimeFormat(dsn)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// withSQLiteTimeFormat keeps stored DATETIME text ordered chronologically so
// comparisons such as last_activity_at < ? hold.
func withSQLiteTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_time_format=sqlite"
	}
	return dsn + "?_time_format=sqlite"
}

// Migrate applies the schema for the connection's dialect. Statements are
// idempotent.
func Migrate(db *sqlx.DB) error {
	migrations := postgresMigrations
	if db.DriverName() == DriverSQLite {
		migrations = sqliteMigrations
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        full_name TEXT NOT NULL DEFAULT '',
        username TEXT,
        email TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_key ON users (username) WHERE username IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS conversations (
        id BIGSERIAL PRIMARY KEY,
        kind TEXT NOT NULL,
        user_low TEXT,
        user_high TEXT,
        name TEXT,
        created_by TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        last_activity_at TIMESTAMPTZ NOT NULL,
        UNIQUE(user_low, user_high)
    );`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
        conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        user_id TEXT NOT NULL,
        joined_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY(conversation_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS conversation_members_user_idx ON conversation_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        sender_id TEXT NOT NULL,
        receiver_id TEXT,
        body TEXT NOT NULL DEFAULT '',
        image_url TEXT NOT NULL DEFAULT '',
        status TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        edited_at TIMESTAMPTZ,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        client_token TEXT,
        UNIQUE(sender_id, client_token)
    );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at, id);`,
	`CREATE INDEX IF NOT EXISTS messages_pair_status_idx ON messages (receiver_id, sender_id, status);`,
	`CREATE TABLE IF NOT EXISTS message_reactions (
        message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
        user_id TEXT NOT NULL,
        emoji TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        UNIQUE(message_id, user_id, emoji)
    );`,
	`CREATE TABLE IF NOT EXISTS message_deletions (
        message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
        user_id TEXT NOT NULL,
        deleted_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY(message_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS pinned_messages (
        conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
        message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
        pinned_by TEXT NOT NULL,
        pinned_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY(conversation_id, message_id)
    );`,
	`CREATE TABLE IF NOT EXISTS blocked_users (
        blocker_id TEXT NOT NULL,
        blocked_id TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY(blocker_id, blocked_id)
    );`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		username TEXT UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		user_low TEXT,
		user_high TEXT,
		name TEXT,
		created_by TEXT,
		created_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL,
		UNIQUE(user_low, user_high)
	);`,
	`CREATE TABLE IF NOT EXISTS conversation_members (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY(conversation_id, user_id)
	);`,
	`CREATE INDEX IF NOT EXISTS conversation_members_user_idx ON conversation_members (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT,
		body TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		status TEXT,
		created_at DATETIME NOT NULL,
		edited_at DATETIME,
		is_deleted BOOLEAN NOT NULL DEFAULT 0,
		client_token TEXT,
		UNIQUE(sender_id, client_token)
	);`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, id);`,
	`CREATE INDEX IF NOT EXISTS messages_pair_status_idx ON messages (receiver_id, sender_id, status);`,
	`CREATE TABLE IF NOT EXISTS message_reactions (
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		emoji TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(message_id, user_id, emoji)
	);`,
	`CREATE TABLE IF NOT EXISTS message_deletions (
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		deleted_at DATETIME NOT NULL,
		PRIMARY KEY(message_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS pinned_messages (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		pinned_by TEXT NOT NULL,
		pinned_at DATETIME NOT NULL,
		PRIMARY KEY(conversation_id, message_id)
	);`,
	`CREATE TABLE IF NOT EXISTS blocked_users (
		blocker_id TEXT NOT NULL,
		blocked_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY(blocker_id, blocked_id)
	);`,
}
