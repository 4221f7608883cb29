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

// Package trace holds the message model of one end-to-end query execution.
//
// A trace is the ordered sequence of messages produced by the agent run:
// the user query, agent responses, the tool calls those responses request
// and the tool results that answer them.
package trace

import "slices"

type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// ToolCall is a structured request, embedded in an agent response, to
// invoke a named capability.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Raw argument payload as produced by the model, usually a JSON object.
	// Empty when the call shape does not expose arguments.
	Arguments string `json:"arguments"`
}

// Message is one step of the trace.
type Message struct {
	Role Role `json:"role"`

	// Agent that produced the message. Empty for human messages and for
	// tool results whose producer is not known.
	Agent string `json:"agent,omitempty"`

	Content string `json:"content,omitempty"`

	// Tool calls requested by an AI message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Set on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func Human(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

func AI(agent, content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Agent: agent, Content: content, ToolCalls: calls}
}

func ToolResult(callID, toolName, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, ToolName: toolName, Content: content}
}

// HasToolCalls reports whether m is an AI message requesting tools.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAI && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	return m
}

// Clone returns a deep copy of msgs.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Agents returns the agents that produced AI messages, in order of first
// appearance.
func Agents(msgs []Message) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.Role != RoleAI || m.Agent == "" {
			continue
		}
		if _, ok := seen[m.Agent]; ok {
			continue
		}
		seen[m.Agent] = struct{}{}
		names = append(names, m.Agent)
	}
	return names
}

// FinalAnswer returns the content of the last AI message without tool
// calls, or the empty string.
func FinalAnswer(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == RoleAI && !m.HasToolCalls() && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
