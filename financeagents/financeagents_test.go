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
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/finchat/datasource"
	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/logging"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/agentstesting"
	"github.com/nlpodyssey/openai-agents-go/tracing"
	"github.com/openai/openai-go/v2/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tracing.SetTracingDisabled(true)
	os.Exit(m.Run())
}

func toolCall(id, name, args string) responses.ResponseOutputItemUnion {
	return responses.ResponseOutputItemUnion{
		ID:        "fc_" + id,
		CallID:    id,
		Type:      "function_call",
		Name:      name,
		Arguments: args,
	}
}

func turn(items ...responses.ResponseOutputItemUnion) agentstesting.FakeModelTurnOutput {
	return agentstesting.FakeModelTurnOutput{Value: items}
}

func fakeModel(turns ...agentstesting.FakeModelTurnOutput) *agentstesting.FakeModel {
	m := agentstesting.NewFakeModel(false, nil)
	m.AddMultipleTurnOutputs(turns)
	return m
}

func openWarehouse(t *testing.T) *datasource.Warehouse {
	t.Helper()
	w, err := datasource.Open(t.Context(), datasource.Params{
		Driver: datasource.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "warehouse.db"),
		Seed:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func newRunner(t *testing.T, g *Graph, checkpoints *runner.CheckpointStore) *runner.Runner {
	t.Helper()
	r, err := runner.New(runner.Params{
		Agent:       g.Supervisor,
		RunConfig:   agents.RunConfig{TracingDisabled: true, MaxTurns: runner.DefaultMaxTurns},
		Checkpoints: checkpoints,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	return r
}

func toolNames(a *agents.Agent) []string {
	var names []string
	for _, t := range a.Tools {
		names = append(names, t.ToolName())
	}
	return names
}

func instructions(a *agents.Agent) string {
	s, _ := a.Instructions.(agents.InstructionsStr)
	return string(s)
}

func TestBuildGraph(t *testing.T) {
	w := openWarehouse(t)
	g, err := Build(Params{ModelName: "gpt-4o", Warehouse: w})
	require.NoError(t, err)

	assert.Equal(t, SupervisorName, g.Supervisor.Name)
	assert.Equal(t, []*agents.Agent{g.DataPrep, g.Interpreter}, g.Supervisor.AgentHandoffs)
	assert.Contains(t, instructions(g.Supervisor), "data_prep")
	assert.Len(t, g.Supervisor.InputGuardrails, 1)
	assert.Empty(t, g.Supervisor.OutputGuardrails)
	assert.Nil(t, g.Supervisor.OutputType)

	assert.Equal(t, []string{
		datasource.ToolListTables,
		datasource.ToolSchema,
		datasource.ToolQuery,
		datasource.ToolQueryChecker,
		AnalystTool,
	}, toolNames(g.DataPrep))
	assert.Equal(t, []string{InterpretQueryTool}, toolNames(g.Interpreter))
	assert.Len(t, toolNames(g.Analyst), 4)

	for _, a := range []*agents.Agent{g.DataPrep, g.Interpreter} {
		require.Len(t, a.Handoffs, 1)
		assert.Equal(t, TransferBackTool, a.Handoffs[0].ToolName)
	}
	assert.NotNil(t, g.QueryInterpreter.OutputType)
	assert.Equal(t, "transfer_to_data_prep", agents.DefaultHandoffToolName(g.DataPrep))
}

func TestBuildWithoutWarehouse(t *testing.T) {
	g, err := Build(Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{AnalystTool}, toolNames(g.DataPrep))
	assert.Empty(t, g.Analyst.Tools)
}

func TestBuildStructured(t *testing.T) {
	g, err := Build(Params{Structured: true})
	require.NoError(t, err)
	assert.NotNil(t, g.Supervisor.OutputType)
	assert.Len(t, g.Supervisor.OutputGuardrails, 1)
	assert.Contains(t, instructions(g.Supervisor), "thought_process")
}

func TestQueryGuardrailTrips(t *testing.T) {
	model := fakeModel(turn(agentstesting.GetTextMessage("never reached")))
	g, err := Build(Params{Model: model, MaxQueryLength: 10})
	require.NoError(t, err)

	result := newRunner(t, g, nil).Run(t.Context(), "s1", "this query is far too long")
	assert.False(t, result.Success)
	assert.Equal(t, runner.ErrorKindGuardrail, result.ErrorKind)
}

func TestQueryGuardrailAllowsShortQuery(t *testing.T) {
	model := fakeModel(turn(agentstesting.GetTextMessage("Hi!")))
	g, err := Build(Params{Model: model, MaxQueryLength: 10})
	require.NoError(t, err)

	result := newRunner(t, g, nil).Run(t.Context(), "s1", "hello")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Hi!", result.Answer)
}

func TestLastUserMessage(t *testing.T) {
	assert.Equal(t, "plain", lastUserMessage(agents.InputString("plain")))
	assert.Equal(t, "second", lastUserMessage(agents.InputItems{
		agents.UserMessage("first"),
		agents.AssistantMessage("reply"),
		agents.UserMessage("second"),
	}))
	assert.Equal(t, "", lastUserMessage(agents.InputItems{agents.AssistantMessage("reply")}))
}

func TestStructuredFinalResponse(t *testing.T) {
	model := fakeModel(turn(agentstesting.GetFinalOutputMessage(`{"thought_process":"greeting","result":"Hello"}`)))
	g, err := Build(Params{Model: model, Structured: true})
	require.NoError(t, err)

	result := newRunner(t, g, nil).Run(t.Context(), "s1", "hi")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Hello", result.Answer)
	assert.Equal(t, FinalResponse{ThoughtProcess: "greeting", Result: "Hello"}, result.Raw.FinalOutput)
}

func TestStructuredFinalResponseBlankResult(t *testing.T) {
	model := fakeModel(turn(agentstesting.GetFinalOutputMessage(`{"thought_process":"nothing","result":"  "}`)))
	g, err := Build(Params{Model: model, Structured: true})
	require.NoError(t, err)

	result := newRunner(t, g, nil).Run(t.Context(), "s1", "hi")
	assert.False(t, result.Success)
	assert.Equal(t, runner.ErrorKindGuardrail, result.ErrorKind)
}

func TestDataPrepRoundTrip(t *testing.T) {
	w := openWarehouse(t)
	models := map[string]agents.Model{
		SupervisorName: fakeModel(
			turn(toolCall("h1", "transfer_to_data_prep", "{}")),
			turn(agentstesting.GetTextMessage("There are 5 companies in the database.")),
		),
		DataPrepName: fakeModel(
			turn(toolCall("c1", datasource.ToolQuery, `{"query":"SELECT COUNT(*) AS n FROM companies"}`)),
			turn(toolCall("h2", TransferBackTool, "{}")),
		),
	}
	g, err := Build(Params{Models: models, Warehouse: w})
	require.NoError(t, err)

	result := newRunner(t, g, nil).Run(t.Context(), "s1", "How many companies are there?")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "There are 5 companies in the database.", result.Answer)
	assert.Equal(t, []string{SupervisorName, DataPrepName}, result.AgentFlow)

	records := extract.New(nil, nil).Extract(t.Context(), result.RunID, result.Trace)
	require.Len(t, records, 3)

	assert.Equal(t, "transfer_to_data_prep", records[0].Tool)
	assert.Equal(t, SupervisorName, records[0].Agent)
	assert.Equal(t, extract.TransferArgs, records[0].Args)

	assert.Equal(t, datasource.ToolQuery, records[1].Tool)
	assert.Equal(t, DataPrepName, records[1].Agent)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM companies", records[1].Args)
	assert.Equal(t, "Execute SQL query", records[1].Purpose)
	assert.Contains(t, records[1].Result, "5")
	assert.False(t, records[1].Inferred)

	assert.Equal(t, TransferBackTool, records[2].Tool)
	assert.Equal(t, DataPrepName, records[2].Agent)
	assert.Equal(t, "Return control to Supervisor", records[2].Purpose)
}

func TestAnalystNestedCalls(t *testing.T) {
	w := openWarehouse(t)
	checkpoints, err := runner.NewCheckpointStore(0)
	require.NoError(t, err)

	models := map[string]agents.Model{
		SupervisorName: fakeModel(
			turn(toolCall("h1", "transfer_to_data_prep", "{}")),
			turn(agentstesting.GetTextMessage("Apple had the highest revenue.")),
		),
		DataPrepName: fakeModel(
			turn(toolCall("a1", AnalystTool, `{"input":"which company had the highest 2024 revenue?"}`)),
			turn(toolCall("h2", TransferBackTool, "{}")),
		),
		AnalystName: fakeModel(
			turn(toolCall("q1", datasource.ToolQuery,
				`{"query":"SELECT ticker FROM financials WHERE fiscal_year = 2024 ORDER BY revenue DESC LIMIT 1"}`)),
			turn(agentstesting.GetTextMessage("AAPL")),
		),
	}
	g, err := Build(Params{Models: models, Warehouse: w, Checkpoints: checkpoints})
	require.NoError(t, err)

	result := newRunner(t, g, checkpoints).Run(t.Context(), "s1", "Which company had the highest revenue in 2024?")
	require.True(t, result.Success, result.Error)

	records := extract.New(nil, checkpoints).Extract(t.Context(), result.RunID, result.Trace)
	require.Len(t, records, 4)

	assert.Equal(t, AnalystTool, records[1].Tool)
	assert.Equal(t, "AAPL", records[1].Result)

	nested := records[3]
	assert.Equal(t, extract.SourceNested, nested.Source)
	assert.Equal(t, AnalystName, nested.Agent)
	assert.Equal(t, datasource.ToolQuery, nested.Tool)
	assert.True(t, nested.Inferred)
	assert.Contains(t, nested.Result, "AAPL")
	assert.Equal(t, 4, nested.Index)
}
