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

package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nlpodyssey/finchat/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exchange(i int) []trace.Message {
	return []trace.Message{
		trace.Human(fmt.Sprintf("question %d", i)),
		trace.AI("Supervisor", fmt.Sprintf("answer %d", i)),
	}
}

// storeContract checks the behaviour every Store must share.
func storeContract(t *testing.T, newStore func(t *testing.T, max int) Store) {
	ctx := t.Context()

	t.Run("empty session", func(t *testing.T) {
		s := newStore(t, 20)
		conv, err := s.Load(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, "nobody", conv.SessionID)
		assert.Zero(t, conv.Len())
	})

	t.Run("append and load in order", func(t *testing.T) {
		s := newStore(t, 20)
		require.NoError(t, s.Append(ctx, "s1", exchange(1)...))
		require.NoError(t, s.Append(ctx, "s1", exchange(2)...))
		require.NoError(t, s.Append(ctx, "s1"))

		conv, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, append(exchange(1), exchange(2)...), conv.Messages)
	})

	t.Run("trims oldest first", func(t *testing.T) {
		s := newStore(t, 4)
		for i := 1; i <= 5; i++ {
			require.NoError(t, s.Append(ctx, "s1", exchange(i)...))
		}

		conv, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, append(exchange(4), exchange(5)...), conv.Messages)
	})

	t.Run("sessions are isolated and clearable", func(t *testing.T) {
		s := newStore(t, 20)
		require.NoError(t, s.Append(ctx, "a", exchange(1)...))
		require.NoError(t, s.Append(ctx, "b", exchange(2)...))
		require.NoError(t, s.Clear(ctx, "a"))

		conv, err := s.Load(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, conv.Len())

		conv, err = s.Load(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, exchange(2), conv.Messages)
	})

	t.Run("tool calls survive", func(t *testing.T) {
		s := newStore(t, 20)
		m := trace.AI("data_prep", "", trace.ToolCall{ID: "1", Name: "sql_db_query", Arguments: `{"query":"SELECT 1"}`})
		require.NoError(t, s.Append(ctx, "s", m))
		conv, err := s.Load(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, []trace.Message{m}, conv.Messages)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T, max int) Store {
		s := NewMemoryStore(max)
		t.Cleanup(func() { assert.NoError(t, s.Close()) })
		return s
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(0)
	require.NoError(t, s.Close())
	_, err := s.Load(t.Context(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Append(t.Context(), "x", trace.Human("q")), ErrClosed)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore(0)
	require.NoError(t, s.Append(ctx, "s", trace.AI("a", "", trace.ToolCall{Name: "x"})))

	conv, err := s.Load(ctx, "s")
	require.NoError(t, err)
	conv.Messages[0].ToolCalls[0].Name = "changed"

	conv, err = s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "x", conv.Messages[0].ToolCalls[0].Name)
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T, max int) Store {
		s, err := NewSQLiteStore(t.Context(), SQLiteParams{
			DBDataSourceName: filepath.Join(t.TempDir(), "history.db"),
			MaxMessages:      max,
		})
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, s.Close()) })
		return s
	})
}

func TestSQLiteStore_SkipsCorruptedRows(t *testing.T) {
	ctx := t.Context()
	s, err := NewSQLiteStore(ctx, SQLiteParams{DBDataSourceName: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })

	require.NoError(t, s.Append(ctx, "s", trace.Human("ok")))
	_, err = s.db.ExecContext(ctx, `INSERT INTO "chat_messages" (session_id, message_data) VALUES ('s', 'not json')`)
	require.NoError(t, err)

	conv, err := s.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []trace.Message{trace.Human("ok")}, conv.Messages)
}

func TestTrim(t *testing.T) {
	msgs := append(exchange(1), exchange(2)...)
	assert.Equal(t, exchange(2), Trim(msgs, 2))
	assert.Equal(t, msgs, Trim(msgs, 10))
	assert.Equal(t, msgs, Trim(msgs, 0))
}

func TestNewSessionID(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 5, 1, 0, time.UTC)
	assert.Equal(t, "session_20250307_090501", NewSessionID(ts))
}
