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

package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nlpodyssey/finchat/present"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	asked    []string
	sessions []string
	history  map[string][]trace.Message
	cleared  []string
	ready    error
}

func newFakeService() *fakeService {
	return &fakeService{history: make(map[string][]trace.Message)}
}

func (f *fakeService) Ask(_ context.Context, sessionID, query string, opts present.Options) (present.Report, runner.ExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, query)
	f.sessions = append(f.sessions, sessionID)
	f.history[sessionID] = append(f.history[sessionID],
		trace.Message{Role: trace.RoleHuman, Content: query},
		trace.Message{Role: trace.RoleAI, Agent: "Supervisor", Content: "answer to " + query},
	)
	rep := present.Report{
		Success:       true,
		Query:         query,
		Answer:        "answer to " + query,
		SessionID:     sessionID,
		Collaboration: "Supervisor → data_prep",
		Tools: []present.ToolRow{
			{Index: 1, Agent: "data_prep", Tool: "sql_db_query"},
		},
		Summary: present.ExecutionSummary{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, Duration: time.Second, Success: true},
	}
	if opts.Verbose {
		rep.RawPreview = "raw"
	}
	return rep, runner.ExecutionResult{Success: true}
}

func (f *fakeService) History(_ context.Context, sessionID string) ([]trace.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trace.Message{}, f.history[sessionID]...), nil
}

func (f *fakeService) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, sessionID)
	delete(f.history, sessionID)
	return nil
}

func (f *fakeService) Ready(context.Context) error { return f.ready }

func newServer(t *testing.T, svc Service, perMinute int) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(Params{Service: svc, RatePerMinute: perMinute, Burst: 1, Registry: reg})
	require.NoError(t, err)
	return s, reg
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresService(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	s, _ := newServer(t, newFakeService(), 0)
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/ws")
}

func TestCreateSession(t *testing.T) {
	s, _ := newServer(t, newFakeService(), 0)
	rec := do(t, s, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["session_id"], 36)
}

func TestQuery(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 0)

	rec := do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"revenue of AAPL","verbose":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep present.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.True(t, rep.Success)
	assert.Equal(t, "answer to revenue of AAPL", rep.Answer)
	assert.Equal(t, "s1", rep.SessionID)
	assert.Equal(t, "raw", rep.RawPreview)
	assert.Equal(t, []string{"s1"}, svc.sessions)
}

func TestQueryRejectsBadInput(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 0)

	rec := do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is required")

	rec = do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, svc.asked)
}

func TestQueryRateLimit(t *testing.T) {
	svc := newFakeService()
	s, reg := newServer(t, svc, 1)

	rec := do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"first"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"second"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	rec = do(t, s, http.MethodPost, "/api/sessions/s2/query", `{"query":"other session"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"first", "other session"}, svc.asked)

	families, err := reg.Gather()
	require.NoError(t, err)
	var limited float64
	for _, mf := range families {
		if mf.GetName() == "finchat_rate_limited_total" {
			limited = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, limited)
}

func TestHistoryAndClear(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 0)

	do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"hello"}`)

	rec := do(t, s, http.MethodGet, "/api/sessions/s1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SessionID string          `json:"session_id"`
		Messages  []trace.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "s1", body.SessionID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, trace.RoleHuman, body.Messages[0].Role)
	assert.Equal(t, "Supervisor", body.Messages[1].Agent)

	rec = do(t, s, http.MethodDelete, "/api/sessions/s1/history", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s1"}, svc.cleared)

	rec = do(t, s, http.MethodGet, "/api/sessions/s1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestHealth(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 0)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	svc.ready = errors.New("OPENAI_API_KEY is not set")
	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
	assert.Contains(t, rec.Body.String(), "OPENAI_API_KEY is not set")
}

func TestMetrics(t *testing.T) {
	s, _ := newServer(t, newFakeService(), 0)
	do(t, s, http.MethodPost, "/api/sessions/s1/query", `{"query":"hello"}`)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `finchat_queries_total{outcome="success"} 1`)
	assert.Contains(t, body, `finchat_tool_calls_total{tool="sql_db_query"} 1`)
	assert.Contains(t, body, `finchat_tokens_total{kind="input"} 10`)
	assert.Contains(t, body, `finchat_tokens_total{kind="output"} 5`)
	assert.Contains(t, body, "finchat_query_duration_seconds_count 1")
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketChat(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 0)
	conn := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"query":"hello"}`)))

	status := readFrame(t, conn)
	assert.Equal(t, FrameStatus, status.Type)
	assert.Equal(t, "processing", status.Status)
	require.NotEmpty(t, status.SessionID)

	report := readFrame(t, conn)
	assert.Equal(t, FrameReport, report.Type)
	require.NotNil(t, report.Report)
	assert.Equal(t, "answer to hello", report.Report.Answer)
	assert.Equal(t, status.SessionID, report.SessionID)

	// The connection keeps its session for later messages.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"query":"again"}`)))
	readFrame(t, conn)
	again := readFrame(t, conn)
	assert.Equal(t, status.SessionID, again.SessionID)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []string{status.SessionID, status.SessionID}, svc.sessions)
}

func TestWebSocketErrors(t *testing.T) {
	svc := newFakeService()
	s, _ := newServer(t, svc, 1)
	conn := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "invalid message", f.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"session_id":"s1","query":""}`)))
	f = readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "query is required", f.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"session_id":"s1","query":"first"}`)))
	assert.Equal(t, FrameStatus, readFrame(t, conn).Type)
	assert.Equal(t, FrameReport, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"session_id":"s1","query":"second"}`)))
	f = readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "rate limit exceeded", f.Error)
}

func TestSessionLimiter(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	clock := func() time.Time { return now }

	assert.Nil(t, newSessionLimiter(0, 1, clock))
	assert.True(t, (*sessionLimiter)(nil).allow("a"))

	l := newSessionLimiter(2, 1, clock)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	now = now.Add(limiterTTL + time.Minute)
	assert.True(t, l.allow("c"))
	assert.Len(t, l.entries, 1)
}
