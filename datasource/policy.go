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

package datasource

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.finchat.tools.decision"

// DefaultPolicy lets only the data agents use the SQL tools and keeps
// queries away from the system catalogs.
const DefaultPolicy = `package finchat.tools

sql_agents := {"data_prep", "analyst"}

max_query_length := 8000

deny contains "agent is not allowed to use SQL tools" if {
	startswith(input.tool, "sql_db_")
	not input.agent in sql_agents
}

deny contains "query is too long" if {
	input.tool in {"sql_db_query", "sql_db_query_checker"}
	count(input.args.query) > max_query_length
}

deny contains "system catalog access is not allowed" if {
	input.tool in {"sql_db_query", "sql_db_query_checker"}
	regex.match("(?i)\\b(sqlite_master|sqlite_schema|sqlite_temp_master|pg_catalog|information_schema)\\b", input.args.query)
}

decision := {
	"allow": count(deny) == 0,
	"reasons": sort(deny),
}
`

// PolicyInput is the document a tool call is evaluated against.
type PolicyInput struct {
	Agent string         `json:"agent"`
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
}

type Decision struct {
	Allow   bool
	Reasons []string
}

// Policy decides whether an agent may run a tool with given arguments.
// A nil Policy allows everything.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles a rego module defining data.finchat.tools.decision.
// An empty module selects DefaultPolicy.
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	if module == "" {
		module = DefaultPolicy
	}
	r := rego.New(
		rego.Query(policyQuery),
		rego.Module("tool_policy.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tool policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// LoadPolicy reads a rego module from path.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool policy: %w", err)
	}
	return NewPolicy(ctx, string(b))
}

func (p *Policy) Evaluate(ctx context.Context, input PolicyInput) (Decision, error) {
	if p == nil {
		return Decision{Allow: true}, nil
	}
	if input.Args == nil {
		input.Args = map[string]any{}
	}
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("tool policy did not produce a decision")
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case bool:
		return Decision{Allow: v}, nil
	case map[string]any:
		d := Decision{}
		d.Allow, _ = v["allow"].(bool)
		if reasons, ok := v["reasons"].([]any); ok {
			for _, r := range reasons {
				d.Reasons = append(d.Reasons, fmt.Sprint(r))
			}
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("unexpected tool policy decision of type %T", v)
	}
}
