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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "DEBUG",
		"FINCHAT_API_KEY", "FINCHAT_MODEL", "FINCHAT_DATABASE_DSN", "FINCHAT_MAX_TURNS",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cleanEnv(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 12, cfg.MaxTurns)
	assert.Equal(t, 20, cfg.MaxHistory)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.Database.RowLimit)
	assert.True(t, cfg.Database.Seed)
	assert.Equal(t, "memory", cfg.History.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Web.Addr)
	assert.Empty(t, cfg.APIKey)
	assert.ErrorIs(t, cfg.CheckAPIKey(), ErrMissingAPIKey)
}

func TestLoadFile(t *testing.T) {
	cleanEnv(t)
	path := writeFile(t, "finchat.yaml", `
model: gpt-4.1-mini
max_turns: 8
database:
  driver: pgx
  dsn: postgres://localhost/finance
history:
  driver: sqlite
  dsn: history.db
web:
  rate_per_minute: 10
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1-mini", cfg.Model)
	assert.Equal(t, 8, cfg.MaxTurns)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/finance", cfg.Database.DSN)
	assert.Equal(t, 100, cfg.Database.RowLimit)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, 10, cfg.Web.RatePerMinute)
	assert.Equal(t, 5, cfg.Web.Burst)
}

func TestLoadFileFromWorkingDirectory(t *testing.T) {
	cleanEnv(t)
	require.NoError(t, os.WriteFile("finchat.yaml", []byte("model: from-cwd\n"), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-cwd", cfg.Model)
}

func TestLoadMissingFile(t *testing.T) {
	cleanEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	cleanEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("FINCHAT_MODEL", "o3")
	t.Setenv("FINCHAT_DATABASE_DSN", "warehouse.db")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "o3", cfg.Model)
	assert.Equal(t, "warehouse.db", cfg.Database.DSN)
	assert.True(t, cfg.Debug)
	assert.NoError(t, cfg.CheckAPIKey())
}

func TestLoadPrefixedAPIKeyWins(t *testing.T) {
	cleanEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-generic")
	t.Setenv("FINCHAT_API_KEY", "sk-finchat")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-finchat", cfg.APIKey)
}

func TestLoadFlags(t *testing.T) {
	cleanEnv(t)
	t.Setenv("FINCHAT_MODEL", "from-env")

	fs := pflag.NewFlagSet("finchat", pflag.ContinueOnError)
	fs.String("model", "", "")
	fs.String("db-dsn", "", "")
	fs.Bool("verbose", false, "")
	require.NoError(t, fs.Parse([]string{"--model", "from-flag"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Model)
	assert.Equal(t, "finchat.db", cfg.Database.DSN)
}

func TestLoadInvalid(t *testing.T) {
	cleanEnv(t)
	path := writeFile(t, "finchat.yaml", `
max_turns: 0
database:
  driver: oracle
history:
  driver: postgres
log:
  format: xml
`)
	_, err := Load(path, nil)
	require.Error(t, err)
	for _, msg := range []string{
		"max_turns must be positive",
		`unsupported database driver "oracle"`,
		"history.dsn is required",
		`unsupported log format "xml"`,
	} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestWarnings(t *testing.T) {
	cfg := Config{Database: Database{DSN: "x.db"}}
	assert.Equal(t, []string{"OPENAI_API_KEY is not set: queries will fail until it is configured"}, cfg.Warnings())

	cfg.APIKey = "sk-test"
	assert.Empty(t, cfg.Warnings())

	cfg.Database.DSN = ""
	assert.Len(t, cfg.Warnings(), 1)
}
