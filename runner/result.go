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
	"time"

	"github.com/nlpodyssey/finchat/trace"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/usage"
)

// ErrorKind classifies why an execution failed.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindInput         ErrorKind = "input"
	ErrorKindConfig        ErrorKind = "config"
	ErrorKindProvider      ErrorKind = "provider"
	ErrorKindMaxTurns      ErrorKind = "max_turns"
	ErrorKindGuardrail     ErrorKind = "guardrail"
	ErrorKindModelBehavior ErrorKind = "model_behavior"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindInternal      ErrorKind = "internal"
)

// TokenUsage is the token accounting of one execution.
type TokenUsage struct {
	Requests uint64 `json:"requests"`
	Input    uint64 `json:"input"`
	Output   uint64 `json:"output"`
	Total    uint64 `json:"total"`
}

func tokenUsageFrom(u *usage.Usage) TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	t := TokenUsage{
		Requests: u.Requests,
		Input:    u.InputTokens,
		Output:   u.OutputTokens,
		Total:    u.TotalTokens,
	}
	if t.Total == 0 {
		t.Total = t.Input + t.Output
	}
	return t
}

// ExecutionResult is the outcome of one query.
type ExecutionResult struct {
	Success   bool      `json:"success"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	SessionID string `json:"session_id"`
	// RunID identifies this execution in the checkpoint store.
	RunID string `json:"run_id"`

	Trace     []trace.Message `json:"trace"`
	AgentFlow []string        `json:"agent_flow"`
	LastAgent string          `json:"last_agent,omitempty"`

	Usage     TokenUsage    `json:"usage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Raw is the framework result of a successful run.
	Raw *agents.RunResult `json:"-"`
}

// Answerer is implemented by structured final outputs that carry a
// user-facing answer.
type Answerer interface {
	Answer() string
}

func classify(err error) ErrorKind {
	var (
		maxTurns    agents.MaxTurnsExceededError
		inputTrip   agents.InputGuardrailTripwireTriggeredError
		outputTrip  agents.OutputGuardrailTripwireTriggeredError
		behavior    agents.ModelBehaviorError
		userErr     agents.UserError
		panicErr    *panicError
		configError *ConfigError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	case errors.As(err, &configError), errors.As(err, &userErr):
		return ErrorKindConfig
	case errors.As(err, &maxTurns):
		return ErrorKindMaxTurns
	case errors.As(err, &inputTrip), errors.As(err, &outputTrip):
		return ErrorKindGuardrail
	case errors.As(err, &behavior):
		return ErrorKindModelBehavior
	case errors.As(err, &panicErr):
		return ErrorKindInternal
	default:
		return ErrorKindProvider
	}
}

// ConfigError reports a configuration problem detected before a query is
// sent to the agents.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "agent run panicked: " + trace.Stringify(e.value)
}
