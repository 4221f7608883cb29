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
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nlpodyssey/finchat/history"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/usage"
)

const (
	DefaultMaxTurns = 12

	NoResponseText = "No response generated"
	NoQueryText    = "no query provided"
)

// Params configures a Runner.
type Params struct {
	// Starting agent of every execution. Required.
	Agent *agents.Agent

	// Base configuration of the framework runner. MaxTurns, when zero, is
	// replaced with DefaultMaxTurns.
	RunConfig agents.RunConfig

	// Optional conversation store. Without it every query is independent.
	History history.Store

	// Optional. Nested tool calls recorded during a run are keyed by the
	// run id assigned here.
	Checkpoints *CheckpointStore

	// Optional check executed before each query, typically verifying
	// credentials and data source reachability.
	Preflight func(context.Context) error

	Logger *slog.Logger

	// Clock override for tests.
	Now func() time.Time
}

// Runner executes one query at a time against the agent graph.
type Runner struct {
	agent       *agents.Agent
	config      agents.RunConfig
	history     history.Store
	checkpoints *CheckpointStore
	preflight   func(context.Context) error
	logger      *slog.Logger
	now         func() time.Time
}

func New(params Params) (*Runner, error) {
	if params.Agent == nil {
		return nil, errors.New("runner: missing starting agent")
	}
	r := &Runner{
		agent:       params.Agent,
		config:      params.RunConfig,
		history:     params.History,
		checkpoints: params.Checkpoints,
		preflight:   params.Preflight,
		logger:      params.Logger,
		now:         params.Now,
	}
	if r.config.MaxTurns == 0 {
		r.config.MaxTurns = DefaultMaxTurns
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

func (r *Runner) Agent() *agents.Agent { return r.agent }

func (r *Runner) Checkpoints() *CheckpointStore { return r.checkpoints }

// Preflight runs the configured pre-query check. Failures are wrapped in
// a *ConfigError.
func (r *Runner) Preflight(ctx context.Context) error {
	if r.preflight == nil {
		return nil
	}
	if err := r.preflight(ctx); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// Run executes query in the given session. It never returns an error:
// failures are reported through ExecutionResult.Success and Error.
func (r *Runner) Run(ctx context.Context, sessionID, query string) (result ExecutionResult) {
	started := r.now()
	result = ExecutionResult{
		Query:     query,
		SessionID: sessionID,
		RunID:     uuid.NewString(),
		StartedAt: started,
	}
	logger := r.logger.With(
		slog.String("session_id", sessionID),
		slog.String("run_id", result.RunID),
	)
	defer func() {
		result.Duration = r.now().Sub(started)
		if result.Trace == nil {
			result.Trace = []trace.Message{}
		}
		result.AgentFlow = trace.Agents(result.Trace)
		if result.AgentFlow == nil {
			result.AgentFlow = []string{}
		}
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		r.fail(&result, ErrorKindInput, errors.New(NoQueryText))
		return result
	}
	result.Query = query

	if err := r.Preflight(ctx); err != nil {
		r.fail(&result, ErrorKindConfig, err)
		logger.Warn("preflight check failed", slog.String("error", err.Error()))
		return result
	}

	input := []agents.TResponseInputItem{}
	if r.history != nil {
		conv, err := r.history.Load(ctx, sessionID)
		if err != nil {
			logger.Warn("failed to load conversation history", slog.String("error", err.Error()))
		} else {
			input = historyInput(conv.Messages)
		}
	}
	input = append(input, agents.UserMessage(query))

	tracker := usage.NewUsage()
	runCtx := usage.NewContext(WithRunID(ctx, result.RunID), tracker)

	logger.Debug("running agents", slog.Int("input_items", len(input)))
	runResult, err := r.runAgents(runCtx, input)
	result.Usage = tokenUsageFrom(tracker)

	if err != nil {
		r.fail(&result, classify(err), err)
		var agentsErr *agents.AgentsError
		if errors.As(err, &agentsErr) && agentsErr.RunData != nil {
			result.Trace = trace.FromRunItems(query, agentsErr.RunData.NewItems)
			result.LastAgent = trace.AgentName(agentsErr.RunData.LastAgent)
			if result.Usage.Requests == 0 {
				result.Usage = sumUsage(agentsErr.RunData.RawResponses)
			}
		} else {
			result.Trace = []trace.Message{trace.Human(query)}
		}
		logger.Error("agent run failed",
			slog.String("kind", string(result.ErrorKind)),
			slog.String("error", err.Error()))
		return result
	}

	result.Raw = runResult
	result.Trace = trace.FromRunItems(query, runResult.NewItems)
	result.LastAgent = trace.AgentName(runResult.LastAgent)
	if result.Usage.Requests == 0 {
		result.Usage = sumUsage(runResult.RawResponses)
	}
	result.Answer = answerOf(runResult.FinalOutput, result.Trace)
	result.Success = true

	if r.history != nil {
		err := r.history.Append(ctx, sessionID,
			trace.Human(query),
			trace.AI(result.LastAgent, result.Answer))
		if err != nil {
			logger.Warn("failed to save conversation history", slog.String("error", err.Error()))
		}
	}

	logger.Debug("agent run completed",
		slog.String("last_agent", result.LastAgent),
		slog.Int("items", len(runResult.NewItems)),
		slog.Uint64("total_tokens", result.Usage.Total))
	return result
}

func (r *Runner) runAgents(ctx context.Context, input []agents.TResponseInputItem) (res *agents.RunResult, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, &panicError{value: v}
		}
	}()
	return agents.Runner{Config: r.config}.RunInputs(ctx, r.agent, input)
}

func (r *Runner) fail(result *ExecutionResult, kind ErrorKind, err error) {
	result.Success = false
	result.ErrorKind = kind
	result.Error = fmt.Sprintf("Error during execution: %s", describe(err))
	result.Answer = result.Error
}

func describe(err error) string {
	var agentsErr *agents.AgentsError
	if errors.As(err, &agentsErr) && agentsErr.RunData != nil && agentsErr.RunData.LastAgent != nil {
		return fmt.Sprintf("%s (last agent: %s)", err.Error(), agentsErr.RunData.LastAgent.Name)
	}
	return err.Error()
}

func historyInput(msgs []trace.Message) []agents.TResponseInputItem {
	input := make([]agents.TResponseInputItem, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case trace.RoleHuman:
			input = append(input, agents.UserMessage(m.Content))
		case trace.RoleAI:
			if !m.HasToolCalls() {
				input = append(input, agents.AssistantMessage(m.Content))
			}
		}
	}
	return input
}

func answerOf(finalOutput any, msgs []trace.Message) string {
	switch v := finalOutput.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case Answerer:
		if a := v.Answer(); a != "" {
			return a
		}
	}
	if a := trace.FinalAnswer(msgs); a != "" {
		return a
	}
	return NoResponseText
}

func sumUsage(responses []agents.ModelResponse) TokenUsage {
	total := usage.NewUsage()
	for _, r := range responses {
		if r.Usage != nil {
			total.Add(r.Usage)
		}
	}
	return tokenUsageFrom(total)
}
