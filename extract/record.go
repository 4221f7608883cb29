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

package extract

// Source tells where a ToolCallRecord was recovered from.
type Source string

const (
	// SourceTrace records pair a tool call request found in the trace.
	SourceTrace Source = "trace"
	// SourceOrphan records come from a tool result with no matching request.
	SourceOrphan Source = "orphan"
	// SourceNested records come from a sub-agent run recorded out of band.
	SourceNested Source = "nested"
)

// ArgsState distinguishes calls without arguments from calls whose
// arguments could not be recovered.
type ArgsState string

const (
	ArgsPresent     ArgsState = "present"
	ArgsNone        ArgsState = "none"
	ArgsUnavailable ArgsState = "unavailable"
)

const (
	UnknownAgent = "unknown"

	TransferArgs      = "-"
	NoArgsText        = "(no arguments)"
	UnavailableText   = "(arguments unavailable)"
	EmptyResultText   = "(empty result)"
	PendingResultText = "(no result)"

	ResultPreviewLength = 40
)

// ToolCallRecord is one normalized tool invocation.
type ToolCallRecord struct {
	Index     int       `json:"index"`
	CallID    string    `json:"call_id,omitempty"`
	Agent     string    `json:"agent"`
	Tool      string    `json:"tool"`
	Purpose   string    `json:"purpose"`
	Args      string    `json:"args"`
	ArgsState ArgsState `json:"args_state"`
	Result    string    `json:"result"`
	Source    Source    `json:"source"`

	// Inferred is true when the record was not paired from a request and a
	// result both present in the top-level trace.
	Inferred bool `json:"inferred"`

	matched bool
}

// IsTransfer reports whether the record is an agent transfer.
func (r ToolCallRecord) IsTransfer() bool {
	return IsTransfer(r.Tool)
}

// NestedCall is a tool call made inside a sub-agent run, together with its
// output when one was produced.
type NestedCall struct {
	// Agent that invoked the sub-agent as a tool.
	Parent    string `json:"parent"`
	Agent     string `json:"agent"`
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
	HasOutput bool   `json:"has_output"`
}
