package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/config"
)

func newFlagSet(t *testing.T) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	return fs
}

func TestLoadRequiresDatabaseDSN(t *testing.T) {
	fs := newFlagSet(t)
	require.NoError(t, fs.Set("token-secret", "x"))

	_, err := config.Load(fs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database DSN")
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	fs := newFlagSet(t)
	require.NoError(t, fs.Set("db-dsn", "postgres://localhost/x"))

	_, err := config.Load(fs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token secret")
}

func TestLoadAppliesDefaultsAndFlagOverrides(t *testing.T) {
	fs := newFlagSet(t)
	require.NoError(t, fs.Set("db-dsn", "postgres://localhost/x"))
	require.NoError(t, fs.Set("token-secret", "shh"))
	require.NoError(t, fs.Set("listen-addr", ":9090"))
	require.NoError(t, fs.Set("default-ttl", "10m"))

	cfg, err := config.Load(fs)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "postgres", cfg.DatabaseType)
	require.Equal(t, 10*time.Minute, cfg.DefaultTTL)
	require.Equal(t, 24*time.Hour, cfg.MaxTTL)
	require.Equal(t, 30*time.Second, cfg.ReaperInterval)
	require.Equal(t, 30*time.Second, cfg.MigrationLockTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.MigrationLockPollInterval)
	require.Equal(t, 5*time.Minute, cfg.MigrationLockStaleAfter)
}

func TestDefaultsMatchBoundFlagDefaults(t *testing.T) {
	d := config.Defaults()
	require.Equal(t, ":8080", d.ListenAddr)
	require.Equal(t, "postgres", d.DatabaseType)
	require.Equal(t, 30*time.Minute, d.DefaultTTL)
	require.Equal(t, 24*time.Hour, d.MaxTTL)
}
