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

package chat

import (
	"sync"
	"time"

	"github.com/nlpodyssey/finchat/runner"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SessionState tallies the queries of one session.
type SessionState struct {
	SessionID string        `json:"session_id"`
	Status    Status        `json:"status"`
	LastQuery string        `json:"last_query"`
	LastAgent string        `json:"last_agent"`
	LastError string        `json:"last_error"`
	Queries   int           `json:"queries"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Tokens    uint64        `json:"tokens"`
	Elapsed   time.Duration `json:"elapsed"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type stateStore struct {
	mu   sync.RWMutex
	data map[string]SessionState
	now  func() time.Time
}

func newStateStore(now func() time.Time) *stateStore {
	return &stateStore{data: make(map[string]SessionState), now: now}
}

func (s *stateStore) get(sessionID string) (SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[sessionID]
	return st, ok
}

func (s *stateStore) started(sessionID, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[sessionID]
	st.SessionID = sessionID
	st.Status = StatusRunning
	st.LastQuery = query
	st.UpdatedAt = s.now()
	s.data[sessionID] = st
}

func (s *stateStore) finished(sessionID string, result runner.ExecutionResult) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[sessionID]
	st.SessionID = sessionID
	st.Queries++
	if result.Success {
		st.Status = StatusCompleted
		st.Succeeded++
		st.LastError = ""
	} else {
		st.Status = StatusFailed
		st.Failed++
		st.LastError = result.Error
	}
	if result.LastAgent != "" {
		st.LastAgent = result.LastAgent
	}
	st.Tokens += result.Usage.Total
	st.Elapsed += result.Duration
	st.UpdatedAt = s.now()
	s.data[sessionID] = st
	return st
}

func (s *stateStore) reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.data[sessionID]; ok {
		st.Status = StatusIdle
		st.LastQuery = ""
		st.LastError = ""
		st.UpdatedAt = s.now()
		s.data[sessionID] = st
	}
}
