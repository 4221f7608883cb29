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

// Package history stores the conversation context of chat sessions.
//
// Every store keeps only the most recent messages of a session, evicting
// the oldest first once the configured maximum is exceeded.
package history

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/nlpodyssey/finchat/trace"
)

// DefaultMaxMessages is the retention limit used when none is configured.
const DefaultMaxMessages = 20

var ErrClosed = errors.New("history store is closed")

// ConversationContext is the ordered list of prior messages of a session.
type ConversationContext struct {
	SessionID string          `json:"session_id"`
	Messages  []trace.Message `json:"messages"`
}

func (c ConversationContext) Len() int { return len(c.Messages) }

// Store persists conversation contexts keyed by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) (ConversationContext, error)
	Append(ctx context.Context, sessionID string, msgs ...trace.Message) error
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// NewSessionID returns a session identifier derived from t, in the form
// "session_YYYYMMDD_HHMMSS".
func NewSessionID(t time.Time) string {
	return "session_" + t.Format("20060102_150405")
}

// Trim returns the newest max messages of msgs. A non-positive max keeps
// everything.
func Trim(msgs []trace.Message, max int) []trace.Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// MemoryStore keeps conversation contexts in process memory.
type MemoryStore struct {
	max    int
	mu     sync.RWMutex
	data   map[string][]trace.Message
	closed bool
}

func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &MemoryStore{max: max, data: make(map[string][]trace.Message)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ConversationContext{}, ErrClosed
	}
	return ConversationContext{SessionID: sessionID, Messages: trace.Clone(s.data[sessionID])}, nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...trace.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	all := append(s.data[sessionID], trace.Clone(msgs)...)
	s.data[sessionID] = slices.Clone(Trim(all, s.max))
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.data, sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
