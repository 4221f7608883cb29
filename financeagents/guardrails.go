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

package financeagents

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultMaxQueryLength = 2000

// Rules checked on top of the strict output schema, which cannot express
// length constraints.
const finalResponseRules = `{
	"type": "object",
	"required": ["thought_process", "result"],
	"properties": {
		"thought_process": {"type": "string"},
		"result": {"type": "string", "minLength": 1, "pattern": "\\S"}
	}
}`

// QueryGuardrail trips when the latest user message is empty or longer
// than maxLength runes.
func QueryGuardrail(maxLength int) agents.InputGuardrail {
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}
	return agents.InputGuardrail{
		Name: "query_input",
		GuardrailFunction: func(_ context.Context, _ *agents.Agent, input agents.Input) (agents.GuardrailFunctionOutput, error) {
			query := strings.TrimSpace(lastUserMessage(input))
			n := utf8.RuneCountInString(query)
			reason := ""
			switch {
			case n == 0:
				reason = "empty query"
			case n > maxLength:
				reason = fmt.Sprintf("query longer than %d characters", maxLength)
			}
			return agents.GuardrailFunctionOutput{
				TripwireTriggered: reason != "",
				OutputInfo: map[string]any{
					"length": n,
					"reason": reason,
				},
			}, nil
		},
	}
}

// FinalResponseGuardrail trips when a structured final response has no
// usable result.
func FinalResponseGuardrail() (agents.OutputGuardrail, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(finalResponseRules))
	if err != nil {
		return agents.OutputGuardrail{}, fmt.Errorf("invalid final response rules: %w", err)
	}
	return agents.OutputGuardrail{
		Name: "final_response_output",
		GuardrailFunction: func(_ context.Context, _ *agents.Agent, output any) (agents.GuardrailFunctionOutput, error) {
			resp, ok := output.(FinalResponse)
			if !ok {
				return agents.GuardrailFunctionOutput{}, nil
			}
			result, err := schema.Validate(gojsonschema.NewGoLoader(resp))
			if err != nil {
				return agents.GuardrailFunctionOutput{}, fmt.Errorf("failed to validate final response: %w", err)
			}
			var problems []string
			for _, e := range result.Errors() {
				problems = append(problems, e.String())
			}
			return agents.GuardrailFunctionOutput{
				TripwireTriggered: !result.Valid(),
				OutputInfo: map[string]any{
					"errors": problems,
				},
			}, nil
		},
	}, nil
}

func lastUserMessage(input agents.Input) string {
	switch v := input.(type) {
	case agents.InputString:
		return v.String()
	case agents.InputItems:
		for i := len(v) - 1; i >= 0; i-- {
			msg := v[i].OfMessage
			if msg == nil || msg.Role != "user" {
				continue
			}
			if msg.Content.OfString.Valid() {
				return msg.Content.OfString.Value
			}
			return ""
		}
	}
	return ""
}
