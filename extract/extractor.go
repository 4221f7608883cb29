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

// Package extract recovers a flat, ordered list of tool invocations from a
// conversation trace.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/finchat/trace"
)

// NestedSource exposes tool calls made inside sub-agent runs, which never
// reach the top-level trace. Implementations are best-effort: an error or
// an empty result only means that nothing more can be recovered.
type NestedSource interface {
	NestedCalls(ctx context.Context, runID string) ([]NestedCall, error)
}

type Extractor struct {
	logger *slog.Logger
	nested NestedSource
}

// New returns an Extractor. Both arguments are optional.
func New(logger *slog.Logger, nested NestedSource) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{logger: logger, nested: nested}
}

// Extract returns the tool calls found in msgs, followed by those the
// nested source knows for runID.
//
// It never fails: malformed messages are skipped and a panic while walking
// the trace ends extraction with the records gathered so far. The input is
// not modified, and identical inputs give identical outputs.
func (e *Extractor) Extract(ctx context.Context, runID string, msgs []trace.Message) []ToolCallRecord {
	records := e.fromTrace(msgs)
	records = append(records, e.fromNested(ctx, runID)...)

	out := make([]ToolCallRecord, len(records))
	for i, r := range records {
		r.Index = i + 1
		r.matched = false
		out[i] = r
	}
	return out
}

func (e *Extractor) fromTrace(msgs []trace.Message) (records []ToolCallRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("tool-call extraction interrupted", slog.String("panic", fmt.Sprint(r)),
				slog.Int("records", len(records)))
		}
	}()

	for i, m := range msgs {
		switch m.Role {
		case trace.RoleAI:
			for _, call := range m.ToolCalls {
				if call.Name == "" {
					e.logger.Debug("skipping tool call without name", slog.Int("message", i))
					continue
				}
				records = append(records, newRecord(m.Agent, call))
			}
		case trace.RoleTool:
			if j := matchPending(records, m); j >= 0 {
				attachResult(&records[j], m.Content)
				continue
			}
			e.logger.Debug("orphaned tool result",
				slog.Int("message", i),
				slog.String("call_id", m.ToolCallID),
				slog.String("tool", m.ToolName))
			records = append(records, orphanRecord(m))
		}
	}

	for i := range records {
		if !records[i].matched && !records[i].IsTransfer() {
			records[i].Result = PendingResultText
		}
	}
	return records
}

func (e *Extractor) fromNested(ctx context.Context, runID string) (records []ToolCallRecord) {
	if e.nested == nil || runID == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("nested extraction panicked", slog.String("panic", fmt.Sprint(r)))
			records = nil
		}
	}()

	calls, err := e.nested.NestedCalls(ctx, runID)
	if err != nil {
		e.logger.Debug("nested extraction unavailable", slog.String("run_id", runID), slog.String("error", err.Error()))
		return nil
	}

	for _, c := range calls {
		if c.Tool == "" {
			continue
		}
		r := newRecord(c.Agent, trace.ToolCall{ID: c.CallID, Name: c.Tool, Arguments: c.Arguments})
		r.Source = SourceNested
		r.Inferred = true
		switch {
		case r.IsTransfer():
		case c.HasOutput:
			r.Result = PreviewResult(c.Output)
		default:
			r.Result = PendingResultText
		}
		records = append(records, r)
	}
	return records
}

func newRecord(agent string, call trace.ToolCall) ToolCallRecord {
	if agent == "" {
		agent = UnknownAgent
	}
	r := ToolCallRecord{
		CallID:  call.ID,
		Agent:   agent,
		Tool:    call.Name,
		Purpose: Purpose(call.Name),
		Source:  SourceTrace,
	}
	if IsTransfer(call.Name) {
		r.Args = TransferArgs
		r.ArgsState = ArgsNone
		r.Result = TransferConfirmation(call.Name)
		return r
	}
	r.Args, r.ArgsState = FormatArgs(call.Arguments)
	return r
}

func orphanRecord(m trace.Message) ToolCallRecord {
	tool := m.ToolName
	if tool == "" {
		tool = "unknown_tool"
	}
	r := ToolCallRecord{
		CallID:    m.ToolCallID,
		Agent:     UnknownAgent,
		Tool:      tool,
		Purpose:   Purpose(tool),
		Args:      UnavailableText,
		ArgsState: ArgsUnavailable,
		Result:    PreviewResult(m.Content),
		Source:    SourceOrphan,
		Inferred:  true,
	}
	if IsTransfer(tool) {
		r.Args, r.ArgsState = TransferArgs, ArgsNone
		r.Result = TransferConfirmation(tool)
	}
	return r
}

// matchPending finds the nearest preceding unmatched record for a tool
// result: by call id when the result carries one, else by tool name.
func matchPending(records []ToolCallRecord, m trace.Message) int {
	if m.ToolCallID != "" {
		for j := len(records) - 1; j >= 0; j-- {
			if !records[j].matched && records[j].Source == SourceTrace && records[j].CallID == m.ToolCallID {
				return j
			}
		}
	}
	if m.ToolName != "" {
		for j := len(records) - 1; j >= 0; j-- {
			if !records[j].matched && records[j].Source == SourceTrace && records[j].Tool == m.ToolName {
				return j
			}
		}
	}
	return -1
}

func attachResult(r *ToolCallRecord, content string) {
	r.matched = true
	if r.IsTransfer() {
		return
	}
	r.Result = PreviewResult(content)
}
