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
	"log/slog"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/segmentio/encoding/json"
)

const (
	ToolListTables   = "sql_db_list_tables"
	ToolSchema       = "sql_db_schema"
	ToolQuery        = "sql_db_query"
	ToolQueryChecker = "sql_db_query_checker"
)

type ToolsParams struct {
	// Name of the agent the tools are given to, as seen by the policy.
	Agent  string
	Policy *Policy
	Logger *slog.Logger
}

type listTablesArgs struct{}

type schemaArgs struct {
	TableNames string `json:"table_names" jsonschema:"description=Comma-separated list of tables to describe. Call sql_db_list_tables first."`
}

type queryArgs struct {
	Query string `json:"query" jsonschema:"description=A single read-only SQL SELECT statement."`
}

// Tools returns the function tools exposing w to an agent.
func Tools(w *Warehouse, params ToolsParams) ([]agents.Tool, error) {
	if params.Logger == nil {
		params.Logger = slog.New(slog.DiscardHandler)
	}
	tb := toolBuilder{params: params}

	listTables, err := newTool(tb, ToolListTables,
		"List the tables available in the financial database.",
		func(ctx context.Context, _ listTablesArgs) (string, error) {
			tables, err := w.ListTables(ctx)
			if err != nil {
				return "", err
			}
			return strings.Join(tables, ", "), nil
		})
	if err != nil {
		return nil, err
	}

	schema, err := newTool(tb, ToolSchema,
		"Return the definition and sample rows of the given tables.",
		func(ctx context.Context, args schemaArgs) (string, error) {
			var names []string
			for _, n := range strings.Split(args.TableNames, ",") {
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			}
			return w.TableSchema(ctx, names...)
		})
	if err != nil {
		return nil, err
	}

	query, err := newTool(tb, ToolQuery,
		"Run a read-only SQL query and return the columns and rows as JSON. "+
			"If the query fails, rewrite it and try again.",
		func(ctx context.Context, args queryArgs) (string, error) {
			res, err := w.Query(ctx, args.Query)
			if err != nil {
				return "", err
			}
			return res.JSON(), nil
		})
	if err != nil {
		return nil, err
	}

	checker, err := newTool(tb, ToolQueryChecker,
		"Check a SQL query before running it with sql_db_query.",
		func(ctx context.Context, args queryArgs) (string, error) {
			q, err := w.CheckQuery(ctx, args.Query)
			if err != nil {
				return "", err
			}
			return "The query is valid: " + q, nil
		})
	if err != nil {
		return nil, err
	}

	return []agents.Tool{listTables, schema, query, checker}, nil
}

type toolBuilder struct {
	params ToolsParams
}

// newTool builds a strict function tool whose invocations are checked
// against the policy before the handler runs.
func newTool[T any](tb toolBuilder, name, description string, handler func(context.Context, T) (string, error)) (agents.FunctionTool, error) {
	schema, err := ParamsSchema[T]()
	if err != nil {
		return agents.FunctionTool{}, fmt.Errorf("tool %s: %w", name, err)
	}
	schema["description"] = description

	logger := tb.params.Logger.With(slog.String("tool", name))
	return agents.FunctionTool{
		Name:             name,
		Description:      description,
		ParamsJSONSchema: schema,
		StrictJSONSchema: param.NewOpt(true),
		OnInvokeTool: func(ctx context.Context, arguments string) (any, error) {
			var raw map[string]any
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &raw); err != nil {
					return nil, fmt.Errorf("failed to parse arguments: %w", err)
				}
			}
			decision, err := tb.params.Policy.Evaluate(ctx, PolicyInput{
				Agent: tb.params.Agent,
				Tool:  name,
				Args:  raw,
			})
			if err != nil {
				return nil, err
			}
			if !decision.Allow {
				logger.Warn("tool call blocked by policy", slog.Any("reasons", decision.Reasons))
				return "Blocked by policy: " + strings.Join(decision.Reasons, "; "), nil
			}

			var args T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &args); err != nil {
					return nil, fmt.Errorf("failed to parse arguments: %w", err)
				}
			}
			out, err := handler(ctx, args)
			if err != nil {
				logger.Debug("tool call failed", slog.String("error", err.Error()))
				return nil, err
			}
			return out, nil
		},
	}, nil
}

// ParamsSchema returns the strict JSON schema of the argument type T.
func ParamsSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}

	var zero T
	var schema *jsonschema.Schema
	if t := reflect.TypeOf(zero); t.Kind() == reflect.Struct && t.NumField() == 0 {
		schema = &jsonschema.Schema{
			Version:              jsonschema.Version,
			Type:                 "object",
			Properties:           jsonschema.NewProperties(),
			AdditionalProperties: jsonschema.FalseSchema,
		}
	} else {
		schema = reflector.Reflect(&zero)
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	return agents.EnsureStrictJSONSchema(m)
}
