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

package trace

import (
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/segmentio/encoding/json"
)

// FromRunItems converts the items generated by an agent run into a trace.
// The query, when not empty, becomes the leading human message.
//
// Consecutive tool calls issued by the same agent, with no text in
// between, are folded into a single AI message.
func FromRunItems(query string, items []agents.RunItem) []Message {
	var msgs []Message
	if query != "" {
		msgs = append(msgs, Human(query))
	}

	callNames := make(map[string]string)

	appendCall := func(agent string, call ToolCall) {
		if call.ID != "" {
			callNames[call.ID] = call.Name
		}
		if n := len(msgs); n > 0 {
			last := &msgs[n-1]
			if last.Role == RoleAI && last.Agent == agent && last.Content == "" && len(last.ToolCalls) > 0 {
				last.ToolCalls = append(last.ToolCalls, call)
				return
			}
		}
		msgs = append(msgs, AI(agent, "", call))
	}

	for _, item := range items {
		switch v := item.(type) {
		case agents.MessageOutputItem:
			text := agents.ItemHelpers().TextMessageOutput(v)
			if strings.TrimSpace(text) == "" {
				continue
			}
			msgs = append(msgs, AI(AgentName(v.Agent), text))
		case agents.HandoffCallItem:
			appendCall(AgentName(v.Agent), ToolCall{
				ID:        v.RawItem.CallID,
				Name:      v.RawItem.Name,
				Arguments: v.RawItem.Arguments,
			})
		case agents.ToolCallItem:
			appendCall(AgentName(v.Agent), toolCallFromRaw(v.RawItem))
		case agents.HandoffOutputItem:
			var callID, output string
			if out := v.RawItem.OfFunctionCallOutput; out != nil {
				callID = out.CallID
				output = out.Output
			}
			if target := AgentName(v.TargetAgent); target != "" {
				output = "Successfully transferred to " + target
			}
			msgs = append(msgs, ToolResult(callID, callNames[callID], output))
		case agents.ToolCallOutputItem:
			callID := toolOutputCallID(v.RawItem)
			msgs = append(msgs, ToolResult(callID, callNames[callID], Stringify(v.Output)))
		}
	}
	return msgs
}

// AgentName returns the agent's name, or the empty string for nil.
func AgentName(a *agents.Agent) string {
	if a == nil {
		return ""
	}
	return a.Name
}

func toolCallFromRaw(raw agents.ToolCallItemType) ToolCall {
	switch v := raw.(type) {
	case agents.ResponseFunctionToolCall:
		return ToolCall{ID: v.CallID, Name: v.Name, Arguments: v.Arguments}
	case agents.ResponseComputerToolCall:
		return ToolCall{ID: v.CallID, Name: "computer"}
	case agents.ResponseOutputItemLocalShellCall:
		return ToolCall{ID: v.CallID, Name: "local_shell"}
	case agents.ResponseFileSearchToolCall:
		return ToolCall{ID: v.ID, Name: "file_search"}
	case agents.ResponseFunctionWebSearch:
		return ToolCall{ID: v.ID, Name: "web_search"}
	case agents.ResponseCodeInterpreterToolCall:
		return ToolCall{ID: v.ID, Name: "code_interpreter"}
	case agents.ResponseOutputItemImageGenerationCall:
		return ToolCall{ID: v.ID, Name: "image_generation"}
	case agents.ResponseOutputItemMcpCall:
		return ToolCall{ID: v.ID, Name: v.Name, Arguments: v.Arguments}
	default:
		return ToolCall{Name: fmt.Sprintf("%T", raw)}
	}
}

func toolOutputCallID(raw agents.ToolCallOutputRawItem) string {
	switch v := raw.(type) {
	case agents.ResponseInputItemFunctionCallOutputParam:
		return v.CallID
	case agents.ResponseInputItemComputerCallOutputParam:
		return v.CallID
	case agents.ResponseInputItemLocalShellCallOutputParam:
		return v.ID
	default:
		return ""
	}
}

// Stringify renders a tool output value as text. Strings are returned as
// they are, other values as compact JSON when possible.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
