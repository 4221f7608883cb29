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
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/segmentio/encoding/json"
)

// SQLiteStore is a SQLite-based Store.
//
// By default it uses a shared in-memory database that is lost when the
// process ends. For persistent storage, provide a file path.
type SQLiteStore struct {
	dbDSN         string
	sessionTable  string
	messagesTable string
	max           int
	logger        *slog.Logger
	db            *sql.DB
	mu            sync.Mutex
}

type SQLiteParams struct {
	// Optional database data source name.
	// Defaults to "file::memory:?cache=shared".
	DBDataSourceName string

	// Optional name of the table to store session metadata.
	// Defaults to "chat_sessions".
	SessionTable string

	// Optional name of the table to store messages.
	// Defaults to "chat_messages".
	MessagesTable string

	// Messages kept per session. Defaults to DefaultMaxMessages.
	MaxMessages int

	Logger *slog.Logger
}

// NewSQLiteStore opens the database and creates the schema if needed.
func NewSQLiteStore(ctx context.Context, params SQLiteParams) (_ *SQLiteStore, err error) {
	s := &SQLiteStore{
		dbDSN:         cmp.Or(params.DBDataSourceName, "file::memory:?cache=shared"),
		sessionTable:  cmp.Or(params.SessionTable, "chat_sessions"),
		messagesTable: cmp.Or(params.MessagesTable, "chat_messages"),
		max:           cmp.Or(params.MaxMessages, DefaultMaxMessages),
		logger:        params.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	s.db, err = sql.Open("sqlite3", s.dbDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}

	defer func() {
		if err != nil {
			if e := s.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	_, err = s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	err = s.initDB(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (_ ConversationContext, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_data FROM "%s"
		WHERE session_id = ?
		ORDER BY id ASC
	`, s.messagesTable), sessionID)
	if err != nil {
		return ConversationContext{}, fmt.Errorf("error querying session messages: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	conv := ConversationContext{SessionID: sessionID}
	for rows.Next() {
		var data string
		if err = rows.Scan(&data); err != nil {
			return ConversationContext{}, fmt.Errorf("sql rows scan error: %w", err)
		}
		var m trace.Message
		if e := json.Unmarshal([]byte(data), &m); e != nil {
			s.logger.Warn("skipping corrupted history message", slog.String("session_id", sessionID), slog.String("error", e.Error()))
			continue
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err = rows.Err(); err != nil {
		return ConversationContext{}, fmt.Errorf("sql rows scan error: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...trace.Message) (err error) {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if e := tx.Rollback(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO "%s" (session_id) VALUES (?)`, s.sessionTable),
		sessionID)
	if err != nil {
		return fmt.Errorf("error ensuring session row: %w", err)
	}

	for _, m := range msgs {
		data, e := json.Marshal(m)
		if e != nil {
			return fmt.Errorf("error JSON marshaling message: %w", e)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO "%s" (session_id, message_data) VALUES (?, ?)`, s.messagesTable),
			sessionID, string(data))
		if err != nil {
			return fmt.Errorf("error inserting message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM "%s"
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM "%s" WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)
	`, s.messagesTable, s.messagesTable), sessionID, sessionID, s.max)
	if err != nil {
		return fmt.Errorf("error trimming session messages: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE "%s" SET updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`, s.sessionTable),
		sessionID)
	if err != nil {
		return fmt.Errorf("error updating session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM "%s" WHERE session_id = ?`, s.messagesTable), sessionID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM "%s" WHERE session_id = ?`, s.sessionTable), sessionID)
	return err
}

func (s *SQLiteStore) initDB(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			session_id TEXT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, s.sessionTable))
	if err != nil {
		return fmt.Errorf("error creating session table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES "%s" (session_id) ON DELETE CASCADE
		)
	`, s.messagesTable, s.sessionTable))
	if err != nil {
		return fmt.Errorf("error creating messages table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS "idx_%s_session_id" ON "%s" (session_id, id)`,
		s.messagesTable, s.messagesTable))
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	return nil
}

// Close the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
