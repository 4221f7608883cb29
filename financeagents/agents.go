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

// Package financeagents builds the agent graph answering financial data
// questions.
package financeagents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/finchat/datasource"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/openai-agents-go/agents"
)

// Agent names. Handoff tools are derived from them, so the Data Prep agent
// is reached with transfer_to_data_prep.
const (
	SupervisorName       = "Supervisor"
	DataPrepName         = "data_prep"
	InterpreterName      = "interpreter"
	AnalystName          = "analyst"
	QueryInterpreterName = "query_interpreter"

	TransferBackTool   = "transfer_back_to_supervisor"
	AnalystTool        = "analyst"
	InterpretQueryTool = "interpret_query"
)

// FinalResponse is the structured output of the Supervisor.
type FinalResponse struct {
	ThoughtProcess string `json:"thought_process" jsonschema:"description=Thought process of the supervisor agent"`
	Result         string `json:"result" jsonschema:"description=Final answer to the user query"`
}

func (r FinalResponse) Answer() string { return r.Result }

type TimeFilter struct {
	StartDate string `json:"start_date" jsonschema:"description=YYYY-MM-DD or empty"`
	EndDate   string `json:"end_date" jsonschema:"description=YYYY-MM-DD or empty"`
	Period    string `json:"period" jsonschema:"description=Relative period such as 6M or 1Y, or empty"`
}

type MetricOperation struct {
	Metric    string `json:"metric"`
	Operation string `json:"operation" jsonschema:"enum=latest,enum=avg,enum=sum,enum=total"`
}

// QueryInterpretation is the structured form of a user query.
type QueryInterpretation struct {
	Intent           string            `json:"intent"`
	DashboardName    string            `json:"dashboard_name"`
	Metrics          []string          `json:"metrics"`
	Entities         []string          `json:"entities"`
	TimeFilters      TimeFilter        `json:"time_filters"`
	MetricOperations []MetricOperation `json:"metric_operations"`
	Clarification    string            `json:"clarification"`
}

type Params struct {
	// Model name used by every agent, resolved by the run's model provider.
	ModelName string
	// Model instance used by every agent. Takes precedence over ModelName.
	Model agents.Model
	// Per-agent model instances, keyed by agent name. Take precedence over
	// Model.
	Models map[string]agents.Model

	// Without a warehouse the data agents have no SQL tools.
	Warehouse *datasource.Warehouse
	Policy    *datasource.Policy

	// Records the tool calls of agents invoked as tools.
	Checkpoints *runner.CheckpointStore

	// Structured makes the Supervisor answer with a FinalResponse.
	Structured bool

	MaxQueryLength int

	Logger *slog.Logger
}

// Graph holds the agents. Supervisor is the starting agent.
type Graph struct {
	Supervisor       *agents.Agent
	DataPrep         *agents.Agent
	Interpreter      *agents.Agent
	Analyst          *agents.Agent
	QueryInterpreter *agents.Agent
}

// Build creates the agent graph.
func Build(params Params) (*Graph, error) {
	if params.Logger == nil {
		params.Logger = slog.New(slog.DiscardHandler)
	}
	g := &Graph{
		Supervisor: agents.New(SupervisorName),
		DataPrep: agents.New(DataPrepName).
			WithHandoffDescription("Explores the database, writes and runs SQL queries and returns the results.").
			WithInstructions(dataPrepPrompt),
		Interpreter: agents.New(InterpreterName).
			WithHandoffDescription("Clarifies ambiguous queries and extracts entities, metrics and time ranges.").
			WithInstructions(interpreterPrompt),
		Analyst: agents.New(AnalystName).
			WithInstructions(analystPrompt),
		QueryInterpreter: agents.New(QueryInterpreterName).
			WithInstructions(queryInterpreterPrompt).
			WithOutputType(agents.OutputType[QueryInterpretation]()),
	}
	for _, a := range []*agents.Agent{g.Supervisor, g.DataPrep, g.Interpreter, g.Analyst, g.QueryInterpreter} {
		setModel(a, params)
	}

	if params.Warehouse != nil {
		for _, a := range []*agents.Agent{g.DataPrep, g.Analyst} {
			tools, err := datasource.Tools(params.Warehouse, datasource.ToolsParams{
				Agent:  a.Name,
				Policy: params.Policy,
				Logger: params.Logger,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to build tools of %s: %w", a.Name, err)
			}
			a.WithTools(tools...)
		}
	} else {
		params.Logger.Warn("no data source configured, data agents have no SQL tools")
	}

	g.DataPrep.AddTool(g.Analyst.AsTool(agents.AgentAsToolParams{
		ToolName:              AnalystTool,
		ToolDescription:       "Delegate a multi-step analysis to a financial analyst. Input: the analysis request.",
		CustomOutputExtractor: outputExtractor(params.Checkpoints, DataPrepName),
	}))
	g.Interpreter.AddTool(g.QueryInterpreter.AsTool(agents.AgentAsToolParams{
		ToolName:              InterpretQueryTool,
		ToolDescription:       "Structure a financial query into intent, entities, metrics and time filters. Input: the user query.",
		CustomOutputExtractor: outputExtractor(params.Checkpoints, InterpreterName),
	}))

	back := agents.HandoffFromAgent(agents.HandoffFromAgentParams{
		Agent:                   g.Supervisor,
		ToolNameOverride:        TransferBackTool,
		ToolDescriptionOverride: "Return control to the Supervisor with your findings.",
	})
	g.DataPrep.WithHandoffs(back)
	g.Interpreter.WithHandoffs(back)

	g.Supervisor.
		WithInstructions(supervisorInstructions(params.Structured, g.DataPrep, g.Interpreter)).
		WithAgentHandoffs(g.DataPrep, g.Interpreter).
		WithInputGuardrails([]agents.InputGuardrail{QueryGuardrail(params.MaxQueryLength)})
	if params.Structured {
		gr, err := FinalResponseGuardrail()
		if err != nil {
			return nil, err
		}
		g.Supervisor.
			WithOutputType(agents.OutputType[FinalResponse]()).
			WithOutputGuardrails([]agents.OutputGuardrail{gr})
	}
	return g, nil
}

func setModel(a *agents.Agent, params Params) {
	switch {
	case params.Models[a.Name] != nil:
		a.WithModelInstance(params.Models[a.Name])
	case params.Model != nil:
		a.WithModelInstance(params.Model)
	case params.ModelName != "":
		a.WithModel(params.ModelName)
	}
}

func outputExtractor(store *runner.CheckpointStore, parent string) func(context.Context, agents.RunResult) (string, error) {
	if store == nil {
		return nil
	}
	return store.OutputExtractor(parent)
}
