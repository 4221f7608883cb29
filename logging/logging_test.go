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

package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Setenv("DEBUG", "")

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Params{Level: "warn", Writer: &buf})
		require.NoError(t, err)

		l.Info("hidden")
		l.Warn("shown", "k", "v")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown k=v")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := New(Params{Format: FormatJSON, Writer: &buf})
		require.NoError(t, err)

		l.Info("hello")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("debug env", func(t *testing.T) {
		t.Setenv("DEBUG", "true")
		var buf bytes.Buffer
		l, err := New(Params{Level: "error", Writer: &buf})
		require.NoError(t, err)

		l.Debug("traced")
		assert.Contains(t, buf.String(), "traced")
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New(Params{Format: "xml"})
		assert.Error(t, err)
	})
}
