// Package config resolves worker configuration from CLI flags layered over
// environment variables, following the same flag/env precedence the rest of
// this corpus uses for its CLI tools.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended (with an underscore) to every config key when
// resolving its environment variable form, e.g. api-key -> CITECRAWL_API_KEY.
const EnvPrefix = "citecrawl"

// Config holds everything a worker process needs to run the crawl loop.
type Config struct {
	APIKey     string
	APIBaseURL string
	DBDSN      string
	RedisAddr  string
	Fresh      bool
	Resume     bool
	Seeds      []string
}

// Defaults for flags that aren't mandatory.
const (
	DefaultAPIBaseURL = "https://api.scholarly.example/graph/v1"
	DefaultRedisAddr  = "127.0.0.1:6379"
)

// Load binds the given flag set to viper with CITECRAWL_* environment
// overrides and returns the resolved Config. seeds are the positional
// arguments left after flag parsing.
func Load(flags *pflag.FlagSet, seeds []string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"api-key", "api-base-url", "db-dsn", "redis-addr", "fresh", "resume"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	cfg := Config{
		APIKey:     v.GetString("api-key"),
		APIBaseURL: v.GetString("api-base-url"),
		DBDSN:      v.GetString("db-dsn"),
		RedisAddr:  v.GetString("redis-addr"),
		Fresh:      v.GetBool("fresh"),
		Resume:     v.GetBool("resume"),
		Seeds:      seeds,
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = DefaultRedisAddr
	}

	return cfg, cfg.Validate()
}

// Validate enforces the fatal-at-startup config invariants from the
// lifecycle controller: exactly one of fresh/resume, and the mandatory
// connection settings are present.
func (c Config) Validate() error {
	if c.Fresh == c.Resume {
		return fmt.Errorf("exactly one of --fresh or --resume is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (--api-key or CITECRAWL_API_KEY)")
	}
	if c.DBDSN == "" {
		return fmt.Errorf("database DSN is required (--db-dsn or CITECRAWL_DB_DSN)")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis address is required (--redis-addr or CITECRAWL_REDIS_ADDR)")
	}
	return nil
}
