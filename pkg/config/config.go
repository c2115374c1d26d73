// Package config loads the embedg configuration.
//
// Values come from an optional YAML file and are then overridden by
// EMBEDG_* environment variables, e.g. EMBEDG_DISCORD_TOKEN or
// EMBEDG_STORAGE_DRIVER.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "EMBEDG_"

type Config struct {
	Discord DiscordConfig `yaml:"discord" envPrefix:"DISCORD_"`
	API     APIConfig     `yaml:"api" envPrefix:"API_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Cache   CacheConfig   `yaml:"cache" envPrefix:"CACHE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
	// ApplicationID is the bot's application id. It doubles as the bot user
	// id and as the owner id of the webhooks the bot creates.
	ApplicationID string `yaml:"application_id" env:"APPLICATION_ID"`
	ClientSecret  string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL   string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

type APIConfig struct {
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	// AllowedOrigins are matched as prefixes by the CORS middleware.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type StorageConfig struct {
	Driver        string `yaml:"driver" env:"DRIVER"` // mongo | sqlite | file
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	SQLitePath    string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	DataDir       string `yaml:"data_dir" env:"DATA_DIR"`
}

type CacheConfig struct {
	Driver     string        `yaml:"driver" env:"DRIVER"` // memory | redis
	RedisURL   string        `yaml:"redis_url" env:"REDIS_URL"`
	Size       int           `yaml:"size" env:"SIZE"`
	WebhookTTL time.Duration `yaml:"webhook_ttl" env:"WEBHOOK_TTL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

// Default returns the configuration used when neither file nor env set a value.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			SessionTTL: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver:        "file",
			MongoDatabase: "embedg",
			SQLitePath:    "embedg.db",
			DataDir:       "data",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			Size:       4096,
			WebhookTTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("discord.token is required")
	}
	if c.Discord.ApplicationID == "" {
		return errors.New("discord.application_id is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "mongo":
		if c.Storage.MongoURI == "" {
			return errors.New("storage.mongo_uri is required for the mongo driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case "file":
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for the file driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Cache.Driver) {
	case "memory":
		if c.Cache.Size <= 0 {
			return errors.New("cache.size must be positive")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// OAuthEnabled reports whether the Discord login flow can be served.
func (c *Config) OAuthEnabled() bool {
	return c.Discord.ClientSecret != "" && c.Discord.RedirectURL != ""
}

// Addr is the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
