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
	"slices"

	"github.com/nlpodyssey/finchat/extract"
)

// ToolRow is one row of the tool-call table.
type ToolRow struct {
	Index    int            `json:"index"`
	Agent    string         `json:"agent"`
	Tool     string         `json:"tool"`
	Purpose  string         `json:"purpose"`
	Args     string         `json:"args"`
	Result   string         `json:"result"`
	Source   extract.Source `json:"source"`
	Inferred bool           `json:"inferred"`
}

// Agents listed first in the tool table, in this order.
var agentOrder = []string{"Supervisor", "Data Prep", "Interpreter"}

// ToolTable returns one row per record, grouped by agent. Within a group
// rows keep their extraction order.
func ToolTable(records []extract.ToolCallRecord) []ToolRow {
	rows := make([]ToolRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, ToolRow{
			Index:    r.Index,
			Agent:    extract.DisplayAgent(r.Agent),
			Tool:     extract.DisplayTool(r.Tool),
			Purpose:  r.Purpose,
			Args:     r.Args,
			Result:   r.Result,
			Source:   r.Source,
			Inferred: r.Inferred,
		})
	}

	unknown := extract.DisplayAgent(extract.UnknownAgent)
	rank := make(map[string]int)
	for i, name := range agentOrder {
		rank[name] = i
	}
	for _, row := range rows {
		if _, ok := rank[row.Agent]; !ok && row.Agent != unknown {
			rank[row.Agent] = len(rank)
		}
	}
	rank[unknown] = len(rank)

	slices.SortStableFunc(rows, func(a, b ToolRow) int {
		return rank[a.Agent] - rank[b.Agent]
	})
	return rows
}
