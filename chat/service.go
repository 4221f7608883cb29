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

// Package chat ties the query runner, the tool-call extractor and the
// presentation formatter into the service used by the command line and web
// front ends.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nlpodyssey/finchat/datasource"
	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/history"
	"github.com/nlpodyssey/finchat/present"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/finchat/trace"
)

type Params struct {
	Runner *runner.Runner

	// Same store the runner was given. Optional.
	History history.Store

	// Optional. Closed with the service.
	Warehouse *datasource.Warehouse

	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service answers queries. Queries of one session run one at a time;
// different sessions run concurrently.
type Service struct {
	runner    *runner.Runner
	extractor *extract.Extractor
	history   history.Store
	warehouse *datasource.Warehouse
	publisher Publisher
	states    *stateStore
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(params Params) (*Service, error) {
	if params.Runner == nil {
		return nil, errors.New("chat: missing runner")
	}
	s := &Service{
		runner:    params.Runner,
		history:   params.History,
		warehouse: params.Warehouse,
		publisher: params.Publisher,
		logger:    params.Logger,
		now:       params.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	s.states = newStateStore(s.now)

	var nested extract.NestedSource
	if cp := params.Runner.Checkpoints(); cp != nil {
		nested = cp
	}
	s.extractor = extract.New(s.logger, nested)
	return s, nil
}

// Warehouse returns the data source, or nil when none is configured.
func (s *Service) Warehouse() *datasource.Warehouse { return s.warehouse }

// Ask runs query in the given session and returns the rendered report
// together with the raw execution result.
func (s *Service) Ask(ctx context.Context, sessionID, query string, opts present.Options) (present.Report, runner.ExecutionResult) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.states.started(sessionID, query)
	s.publish(ctx, Event{Type: EventQueryStarted, SessionID: sessionID, Payload: map[string]any{"query": query}})

	result := s.runner.Run(ctx, sessionID, query)
	records := s.extractor.Extract(ctx, result.RunID, result.Trace)
	report := present.Build(result, records, opts)

	st := s.states.finished(sessionID, result)
	s.logger.Info("query finished",
		slog.String("session_id", sessionID),
		slog.String("run_id", result.RunID),
		slog.Bool("success", result.Success),
		slog.String("error_kind", string(result.ErrorKind)),
		slog.Int("tool_calls", len(records)),
		slog.Duration("duration", result.Duration),
		slog.Int("session_queries", st.Queries))

	ev := Event{Type: EventQueryCompleted, SessionID: sessionID, RunID: result.RunID, Payload: report.Summary}
	if !result.Success {
		ev.Type = EventQueryFailed
		ev.Payload = map[string]any{"error": result.Error, "kind": result.ErrorKind}
	}
	s.publish(ctx, ev)
	return report, result
}

// History returns the stored conversation of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]trace.Message, error) {
	if s.history == nil {
		return []trace.Message{}, nil
	}
	conv, err := s.history.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Messages == nil {
		return []trace.Message{}, nil
	}
	return conv.Messages, nil
}

// Clear forgets the conversation of a session. The session tally is kept.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if s.history != nil {
		if err := s.history.Clear(ctx, sessionID); err != nil {
			return err
		}
	}
	s.states.reset(sessionID)
	s.publish(ctx, Event{Type: EventHistoryCleared, SessionID: sessionID})
	return nil
}

// Session returns the tally of a session, if it ran any query.
func (s *Service) Session(sessionID string) (SessionState, bool) {
	return s.states.get(sessionID)
}

// Ready runs the same checks a query would, without running one.
func (s *Service) Ready(ctx context.Context) error {
	return s.runner.Preflight(ctx)
}

func (s *Service) Close() error {
	var errs []error
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	if s.warehouse != nil {
		errs = append(errs, s.warehouse.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = new(sync.Mutex)
		s.locks[sessionID] = l
	}
	return l
}

func (s *Service) publish(ctx context.Context, ev Event) {
	ev.Timestamp = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}
