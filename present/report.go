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

// Package present turns an execution result and its tool-call records into
// the views shown by the front ends.
package present

import (
	"fmt"
	"time"

	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/finchat/textutil"
	"github.com/nlpodyssey/finchat/trace"
	"github.com/segmentio/encoding/json"
)

const (
	DefaultFlowLimit  = 120
	DefaultRawPreview = 200
	UserPreviewLimit  = 50
)

type Options struct {
	// Verbose enables the raw trace preview.
	Verbose bool
	// Maximum length in runes of agent responses in the flow.
	FlowLimit int
	// Maximum length in runes of the raw trace preview.
	RawPreview int
}

func (o Options) withDefaults() Options {
	if o.FlowLimit <= 0 {
		o.FlowLimit = DefaultFlowLimit
	}
	if o.RawPreview <= 0 {
		o.RawPreview = DefaultRawPreview
	}
	return o
}

// ExecutionSummary holds the aggregate metrics of one query.
type ExecutionSummary struct {
	InputTokens  uint64        `json:"input_tokens"`
	OutputTokens uint64        `json:"output_tokens"`
	TotalTokens  uint64        `json:"total_tokens"`
	Requests     uint64        `json:"requests"`
	Duration     time.Duration `json:"duration"`
	Agents       int           `json:"agents"`
	ToolCalls    int           `json:"tool_calls"`
	Transfers    int           `json:"transfers"`
	SQLQueries   int           `json:"sql_queries"`
	CodeRuns     int           `json:"code_runs"`
	NestedCalls  int           `json:"nested_calls"`
	Success      bool          `json:"success"`
}

// Row is a label/value pair of a two-column table.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Report is everything a front end needs to render one query.
type Report struct {
	Success   bool   `json:"success"`
	Query     string `json:"query"`
	Answer    string `json:"answer"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`

	Collaboration string     `json:"collaboration"`
	Flow          []FlowStep `json:"flow"`
	Tools         []ToolRow  `json:"tools"`
	Tokens        []Row      `json:"tokens"`
	Stats         []Row      `json:"stats"`

	Summary    ExecutionSummary `json:"summary"`
	RawPreview string           `json:"raw_preview,omitempty"`
}

// Build assembles the report of an execution. It does not modify its
// arguments.
func Build(result runner.ExecutionResult, records []extract.ToolCallRecord, opts Options) Report {
	opts = opts.withDefaults()
	summary := Summarize(result, records)
	r := Report{
		Success:       result.Success,
		Query:         result.Query,
		Answer:        result.Answer,
		Error:         result.Error,
		SessionID:     result.SessionID,
		RunID:         result.RunID,
		Collaboration: Collaboration(result.Trace),
		Flow:          Flow(result.Trace, opts.FlowLimit),
		Tools:         ToolTable(records),
		Tokens:        TokenRows(summary),
		Stats:         StatRows(summary),
		Summary:       summary,
	}
	if opts.Verbose {
		r.RawPreview = RawPreview(result.Trace, opts.RawPreview)
	}
	return r
}

// Summarize derives the execution summary from a result and its records.
func Summarize(result runner.ExecutionResult, records []extract.ToolCallRecord) ExecutionSummary {
	s := ExecutionSummary{
		InputTokens:  result.Usage.Input,
		OutputTokens: result.Usage.Output,
		TotalTokens:  result.Usage.Total,
		Requests:     result.Usage.Requests,
		Duration:     result.Duration,
		ToolCalls:    len(records),
		Success:      result.Success,
	}

	agents := make(map[string]struct{})
	for _, name := range result.AgentFlow {
		agents[name] = struct{}{}
	}
	for _, r := range records {
		if r.Agent != extract.UnknownAgent {
			agents[r.Agent] = struct{}{}
		}
		switch {
		case r.IsTransfer():
			s.Transfers++
		case r.Tool == "sql_db_query":
			s.SQLQueries++
		case extract.IsCodeTool(r.Tool):
			s.CodeRuns++
		}
		if r.Source == extract.SourceNested {
			s.NestedCalls++
		}
	}
	s.Agents = len(agents)
	return s
}

func TokenRows(s ExecutionSummary) []Row {
	return []Row{
		{"Input Tokens", fmt.Sprint(s.InputTokens)},
		{"Output Tokens", fmt.Sprint(s.OutputTokens)},
		{"Total Tokens", fmt.Sprint(s.TotalTokens)},
		{"Requests", fmt.Sprint(s.Requests)},
	}
}

func StatRows(s ExecutionSummary) []Row {
	success := "No"
	if s.Success {
		success = "Yes"
	}
	return []Row{
		{"Execution Time", fmt.Sprintf("%.2fs", s.Duration.Seconds())},
		{"Agents Involved", fmt.Sprint(s.Agents)},
		{"Total Tool Calls", fmt.Sprint(s.ToolCalls)},
		{"SQL Queries", fmt.Sprint(s.SQLQueries)},
		{"Python Scripts", fmt.Sprint(s.CodeRuns)},
		{"Agent Transfers", fmt.Sprint(s.Transfers)},
		{"Nested Calls", fmt.Sprint(s.NestedCalls)},
		{"Success", success},
	}
}

// RawPreview returns the beginning of the JSON encoded trace.
func RawPreview(msgs []trace.Message, limit int) string {
	if limit <= 0 {
		limit = DefaultRawPreview
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Sprintf("<<%s>>", err)
	}
	return textutil.Clip(string(b), limit)
}
