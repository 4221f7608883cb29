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

package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/nlpodyssey/openai-agents-go/agents"
)

// DefaultCheckpointRuns is how many runs a CheckpointStore remembers.
const DefaultCheckpointRuns = 128

var ErrNoCheckpoint = errors.New("no checkpoint for run")

type runIDKey struct{}

// WithRunID returns a context carrying the id of the current execution.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the execution id set by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// CheckpointStore keeps the tool calls made by sub-agents invoked as tools.
// Those runs are nested inside a tool invocation, so their items never
// reach the trace of the parent run.
//
// It implements extract.NestedSource.
type CheckpointStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []extract.NestedCall]
}

// NewCheckpointStore returns a store remembering the most recent runs.
func NewCheckpointStore(runs int) (*CheckpointStore, error) {
	if runs <= 0 {
		runs = DefaultCheckpointRuns
	}
	cache, err := lru.New[string, []extract.NestedCall](runs)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint cache: %w", err)
	}
	return &CheckpointStore{cache: cache}, nil
}

// Record stores the tool calls found in a nested run under the run id
// carried by ctx. Without a run id it does nothing.
func (s *CheckpointStore) Record(ctx context.Context, parent string, result agents.RunResult) {
	runID, ok := RunIDFromContext(ctx)
	if !ok {
		return
	}
	calls := nestedCalls(parent, trace.FromRunItems("", result.NewItems))
	if len(calls) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.cache.Get(runID)
	s.cache.Add(runID, append(slices.Clone(prev), calls...))
}

func (s *CheckpointStore) NestedCalls(_ context.Context, runID string) ([]extract.NestedCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls, ok := s.cache.Get(runID)
	if !ok {
		return nil, ErrNoCheckpoint
	}
	return slices.Clone(calls), nil
}

// OutputExtractor returns a function suitable for
// agents.AgentAsToolParams.CustomOutputExtractor. It records the nested run
// and returns its final text.
func (s *CheckpointStore) OutputExtractor(parent string) func(context.Context, agents.RunResult) (string, error) {
	return func(ctx context.Context, result agents.RunResult) (string, error) {
		s.Record(ctx, parent, result)
		if text, ok := result.FinalOutput.(string); ok && text != "" {
			return text, nil
		}
		msgs := trace.FromRunItems("", result.NewItems)
		if text := trace.FinalAnswer(msgs); text != "" {
			return text, nil
		}
		return trace.Stringify(result.FinalOutput), nil
	}
}

func nestedCalls(parent string, msgs []trace.Message) []extract.NestedCall {
	var calls []extract.NestedCall
	for _, m := range msgs {
		switch {
		case m.HasToolCalls():
			for _, c := range m.ToolCalls {
				calls = append(calls, extract.NestedCall{
					Parent:    parent,
					Agent:     m.Agent,
					CallID:    c.ID,
					Tool:      c.Name,
					Arguments: c.Arguments,
				})
			}
		case m.Role == trace.RoleTool:
			for i := len(calls) - 1; i >= 0; i-- {
				if !calls[i].HasOutput && calls[i].CallID == m.ToolCallID {
					calls[i].Output = m.Content
					calls[i].HasOutput = true
					break
				}
			}
		}
	}
	return calls
}

var _ extract.NestedSource = (*CheckpointStore)(nil)
