// Package config loads driftlane server configuration from a YAML file,
// environment variables, and flags, in that order of increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	DatabaseType string `mapstructure:"database_type"` // postgres | mysql
	DatabaseDSN  string `mapstructure:"database_dsn"`

	TokenSecret string `mapstructure:"token_secret"`

	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`

	ReaperInterval time.Duration `mapstructure:"reaper_interval"`

	MigrationsPath string `mapstructure:"migrations_path"`

	// MigrationLockTimeout bounds how long a replica waits to acquire the
	// migration lock before giving up; MigrationLockPollInterval is the
	// starting interval between acquisition attempts, doubling up to a
	// 5s ceiling; MigrationLockStaleAfter is how old a table-fallback
	// lock row can be before a competing replica treats it as abandoned.
	MigrationLockTimeout      time.Duration `mapstructure:"migration_lock_timeout"`
	MigrationLockPollInterval time.Duration `mapstructure:"migration_lock_poll_interval"`
	MigrationLockStaleAfter   time.Duration `mapstructure:"migration_lock_stale_after"`
}

// Defaults returns a Config populated with sane defaults, grounded in the
// conventions the corpus's own servers ship (listen ":8080", postgres by
// default).
func Defaults() Config {
	return Config{
		ListenAddr:     ":8080",
		DatabaseType:   "postgres",
		DefaultTTL:     30 * time.Minute,
		MaxTTL:         24 * time.Hour,
		ReaperInterval: 30 * time.Second,
		MigrationsPath: "internal/platformdb/migrations",

		MigrationLockTimeout:      30 * time.Second,
		MigrationLockPollInterval: 200 * time.Millisecond,
		MigrationLockStaleAfter:   5 * time.Minute,
	}
}

// BindFlags registers the config fields on fs so the cobra command can
// surface them as CLI flags.
func BindFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("listen-addr", d.ListenAddr, "HTTP listen address")
	fs.String("db-type", d.DatabaseType, "database type (postgres or mysql)")
	fs.String("db-dsn", "", "database connection string")
	fs.String("token-secret", "", "HMAC secret for environment bearer tokens")
	fs.Duration("default-ttl", d.DefaultTTL, "default environment TTL")
	fs.Duration("max-ttl", d.MaxTTL, "maximum environment TTL")
	fs.Duration("reaper-interval", d.ReaperInterval, "TTL reaper poll interval")
	fs.Duration("migration-lock-timeout", d.MigrationLockTimeout, "max time to wait for the migration lock")
	fs.Duration("migration-lock-poll-interval", d.MigrationLockPollInterval, "starting interval between migration lock acquisition attempts")
	fs.Duration("migration-lock-stale-after", d.MigrationLockStaleAfter, "age at which a table-fallback migration lock row is considered abandoned")
	fs.String("config", "", "path to a YAML config file")
}

// Load reads configuration from (in increasing priority) defaults, the YAML
// file named by the "config" flag (if set), DRIFTLANE_* environment
// variables, then bound flags.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("database_type", d.DatabaseType)
	v.SetDefault("default_ttl", d.DefaultTTL)
	v.SetDefault("max_ttl", d.MaxTTL)
	v.SetDefault("reaper_interval", d.ReaperInterval)
	v.SetDefault("migrations_path", d.MigrationsPath)
	v.SetDefault("migration_lock_timeout", d.MigrationLockTimeout)
	v.SetDefault("migration_lock_poll_interval", d.MigrationLockPollInterval)
	v.SetDefault("migration_lock_stale_after", d.MigrationLockStaleAfter)

	v.SetEnvPrefix("DRIFTLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgPath, _ := fs.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", cfgPath, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		ListenAddr:     v.GetString("listen-addr"),
		DatabaseType:   v.GetString("db-type"),
		DatabaseDSN:    v.GetString("db-dsn"),
		TokenSecret:    v.GetString("token-secret"),
		DefaultTTL:     v.GetDuration("default-ttl"),
		MaxTTL:         v.GetDuration("max-ttl"),
		ReaperInterval: v.GetDuration("reaper-interval"),
		MigrationsPath: v.GetString("migrations_path"),

		MigrationLockTimeout:      v.GetDuration("migration-lock-timeout"),
		MigrationLockPollInterval: v.GetDuration("migration-lock-poll-interval"),
		MigrationLockStaleAfter:   v.GetDuration("migration-lock-stale-after"),
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("database DSN is required (use --db-dsn or DRIFTLANE_DB_DSN)")
	}
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("token secret is required (use --token-secret or DRIFTLANE_TOKEN_SECRET)")
	}

	return cfg, nil
}
