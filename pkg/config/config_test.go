package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embedg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: file-token
  application_id: "100"
api:
  port: 9000
storage:
  driver: sqlite
  sqlite_path: /tmp/x.db
cache:
  webhook_ttl: 2m
`)
	t.Setenv("EMBEDG_DISCORD_TOKEN", "env-token")
	t.Setenv("EMBEDG_API_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "100", cfg.Discord.ApplicationID)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Cache.WebhookTTL)
	assert.Equal(t, 4096, cfg.Cache.Size)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.False(t, cfg.OAuthEnabled())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("EMBEDG_DISCORD_TOKEN", "t")
	t.Setenv("EMBEDG_DISCORD_APPLICATION_ID", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Discord.Token = "t"
		c.Discord.ApplicationID = "1"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Discord.Token = "" }, wantErr: "discord.token"},
		{name: "no app id", mutate: func(c *Config) { c.Discord.ApplicationID = "" }, wantErr: "application_id"},
		{name: "bad port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "mongo without uri", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, wantErr: "mongo_uri"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Driver = "etcd" }, wantErr: "storage.driver"},
		{name: "redis without url", mutate: func(c *Config) { c.Cache.Driver = "redis" }, wantErr: "redis_url"},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Driver = "disk" }, wantErr: "cache.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
