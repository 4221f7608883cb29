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

package present

import (
	"strings"

	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/textutil"
	"github.com/nlpodyssey/finchat/trace"
)

type StepKind string

const (
	StepUser     StepKind = "user"
	StepTransfer StepKind = "transfer"
	StepResponse StepKind = "response"
)

// FlowStep is one entry of the agent flow.
type FlowStep struct {
	Kind   StepKind `json:"kind"`
	Agent  string   `json:"agent,omitempty"`
	Target string   `json:"target,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Flow returns the sequence of user turns, transfers and agent responses
// found in msgs. Response text is truncated to limit runes.
func Flow(msgs []trace.Message, limit int) []FlowStep {
	if limit <= 0 {
		limit = DefaultFlowLimit
	}
	steps := []FlowStep{}
	for _, m := range msgs {
		switch m.Role {
		case trace.RoleHuman:
			steps = append(steps, FlowStep{
				Kind: StepUser,
				Text: textutil.Clip(textutil.CollapseSpace(m.Content), UserPreviewLimit),
			})
		case trace.RoleAI:
			agent := extract.DisplayAgent(m.Agent)
			if text := textutil.CollapseSpace(m.Content); text != "" {
				steps = append(steps, FlowStep{
					Kind:  StepResponse,
					Agent: agent,
					Text:  textutil.Truncate(text, limit),
				})
			}
			for _, c := range m.ToolCalls {
				if !extract.IsTransfer(c.Name) {
					continue
				}
				steps = append(steps, FlowStep{
					Kind:   StepTransfer,
					Agent:  agent,
					Target: extract.DisplayAgent(extract.TransferTarget(c.Name)),
				})
			}
		}
	}
	return steps
}

// Collaboration renders the order in which agents were active, such as
// "Supervisor → Data Prep → Supervisor".
func Collaboration(msgs []trace.Message) string {
	var seq []string
	for _, m := range msgs {
		if m.Role != trace.RoleAI || m.Agent == "" {
			continue
		}
		name := extract.DisplayAgent(m.Agent)
		if n := len(seq); n > 0 && seq[n-1] == name {
			continue
		}
		seq = append(seq, name)
	}
	return strings.Join(seq, " → ")
}
