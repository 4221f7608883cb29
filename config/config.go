// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads finchat settings from defaults, an optional config
// file, FINCHAT_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FINCHAT"

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

type Config struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	UseResponses bool   `mapstructure:"use_responses"`

	MaxTurns       int    `mapstructure:"max_turns"`
	MaxHistory     int    `mapstructure:"max_history"`
	MaxQueryLength int    `mapstructure:"max_query_length"`
	CheckpointRuns int    `mapstructure:"checkpoint_runs"`
	Structured     bool   `mapstructure:"structured"`
	Tracing        bool   `mapstructure:"tracing"`
	PolicyFile     string `mapstructure:"policy_file"`
	// Webhook receiving session events as JSON.
	EventsURL string `mapstructure:"events_url"`
	Debug     bool   `mapstructure:"debug"`

	Database Database `mapstructure:"database"`
	History  History  `mapstructure:"history"`
	Log      Log      `mapstructure:"log"`
	Web      Web      `mapstructure:"web"`
}

type Database struct {
	// sqlite, sqlite3 or pgx.
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	RowLimit int    `mapstructure:"row_limit"`
	// Load the demo tables into an empty SQLite warehouse.
	Seed bool `mapstructure:"seed"`
}

type History struct {
	// memory, sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Web struct {
	Addr          string `mapstructure:"addr"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
	Burst         int    `mapstructure:"burst"`
}

var defaults = map[string]any{
	"api_key":             "",
	"base_url":            "",
	"model":               "gpt-4o",
	"use_responses":       true,
	"max_turns":           12,
	"max_history":         20,
	"max_query_length":    2000,
	"checkpoint_runs":     128,
	"structured":          false,
	"tracing":             false,
	"policy_file":         "",
	"events_url":          "",
	"debug":               false,
	"database.driver":     "sqlite",
	"database.dsn":        "finchat.db",
	"database.row_limit":  100,
	"database.seed":       true,
	"history.driver":      "memory",
	"history.dsn":         "",
	"log.level":           "info",
	"log.format":          "text",
	"web.addr":            ":8080",
	"web.rate_per_minute": 30,
	"web.burst":           5,
}

// Flags maps command-line flag names to configuration keys.
var Flags = map[string]string{
	"model":     "model",
	"db-driver": "database.driver",
	"db-dsn":    "database.dsn",
	"log-level": "log.level",
	"addr":      "web.addr",
}

// Load reads the configuration. An empty path looks for finchat.yaml (or
// .toml, .json) in the working directory and in $HOME/.config/finchat; a
// missing file is not an error in that case. Flags may be nil; only the
// flags named in Flags that exist in the set are bound.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("base_url", EnvPrefix+"_BASE_URL", "OPENAI_BASE_URL"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("debug", EnvPrefix+"_DEBUG", "DEBUG"); err != nil {
		return Config{}, err
	}

	if flags != nil {
		for name, key := range Flags {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("finchat")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/finchat")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed at run time.
func (c Config) Validate() error {
	var errs []error
	if c.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("max_history must not be negative, got %d", c.MaxHistory))
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.History.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required by the postgres history store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported history driver %q", c.History.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}
	if c.Web.RatePerMinute < 0 || c.Web.Burst < 0 {
		errs = append(errs, errors.New("web rate limits must not be negative"))
	}
	return errors.Join(errs...)
}

// CheckAPIKey returns ErrMissingAPIKey when no credential is configured.
func (c Config) CheckAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Warnings lists configuration problems worth showing at startup. They do
// not prevent finchat from starting.
func (c Config) Warnings() []string {
	var w []string
	if c.CheckAPIKey() != nil {
		w = append(w, "OPENAI_API_KEY is not set: queries will fail until it is configured")
	}
	if c.Database.DSN == "" {
		w = append(w, "no database DSN configured: data agents have no SQL tools")
	}
	if c.Tracing && c.CheckAPIKey() != nil {
		w = append(w, "tracing is enabled but traces cannot be exported without an API key")
	}
	return w
}
