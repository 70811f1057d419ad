package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: staging
http:
  addr: ":9000"
database:
  driver: sqlite
  dsn: "file:test.db"
auth:
  jwt_secret: from-file
messaging:
  edit_window: 5m
`), 0o600))

	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Minute, cfg.Messaging.EditWindow)
	assert.Equal(t, 3*time.Second, cfg.Messaging.TypingTTL)
	assert.Equal(t, int64(2<<20), cfg.Blob.MaxImageBytes)
	assert.Equal(t, int64(5<<20), cfg.Blob.MaxAvatarBytes)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Messaging.EditWindow)
	assert.Equal(t, ":8083", cfg.HTTP.Addr)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", "oracle")

	_, err := Load("")
	require.Error(t, err)
}
