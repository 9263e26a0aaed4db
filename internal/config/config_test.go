package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("api-key", "", "")
	fs.String("api-base-url", "", "")
	fs.String("db-dsn", "", "")
	fs.String("redis-addr", "", "")
	fs.Bool("fresh", false, "")
	fs.Bool("resume", false, "")
	return fs
}

func TestLoadRequiresExactlyOneMode(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Set("api-key", "k"))
	require.NoError(t, fs.Set("db-dsn", "dsn"))

	_, err := Load(fs, nil)
	require.Error(t, err)

	require.NoError(t, fs.Set("fresh", "true"))
	require.NoError(t, fs.Set("resume", "true"))
	_, err = Load(fs, nil)
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Set("api-key", "k"))
	require.NoError(t, fs.Set("db-dsn", "dsn"))
	require.NoError(t, fs.Set("fresh", "true"))

	cfg, err := Load(fs, []string{"P1", "P2"})
	require.NoError(t, err)
	require.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	require.Equal(t, DefaultRedisAddr, cfg.RedisAddr)
	require.Equal(t, []string{"P1", "P2"}, cfg.Seeds)
}

func TestLoadMissingAPIKey(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Set("db-dsn", "dsn"))
	require.NoError(t, fs.Set("resume", "true"))

	_, err := Load(fs, nil)
	require.Error(t, err)
}
