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

// Package logging builds the structured logger shared by every finchat
// component. Components receive a *slog.Logger explicitly; nothing in
// finchat reads a package-level logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/tracing"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Params struct {
	// Minimum level name: debug, info, warn or error.
	// Defaults to "info".
	Level string

	// Output format. Defaults to FormatText.
	Format Format

	// Destination of log records. Defaults to os.Stderr.
	Writer io.Writer

	// Forces debug level regardless of Level.
	Debug bool
}

// New returns a logger configured from params. The DEBUG environment
// variable, when set to "1" or "true", also forces debug level.
func New(params Params) (*slog.Logger, error) {
	level, err := ParseLevel(params.Level)
	if err != nil {
		return nil, err
	}
	if params.Debug || DebugFlagEnabled("DEBUG") {
		level = slog.LevelDebug
	}

	w := params.Writer
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	switch params.Format {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", params.Format)
	}
}

// ParseLevel maps a level name to a slog.Level. The empty string is "info".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Install routes the agents framework's own logging through l, so that
// framework and application records share one handler.
func Install(l *slog.Logger) {
	agents.SetLogger(l)
	tracing.SetLogger(l)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func DebugFlagEnabled(flag string) bool {
	v, ok := os.LookupEnv(flag)
	return ok && (v == "1" || strings.ToLower(v) == "true")
}
