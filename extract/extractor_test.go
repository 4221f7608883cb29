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

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nlpodyssey/finchat/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaTrace() []trace.Message {
	return []trace.Message{
		trace.Human("show schema"),
		trace.AI("Supervisor", "", trace.ToolCall{ID: "call_1", Name: "transfer_to_data_prep", Arguments: "{}"}),
		trace.ToolResult("call_1", "transfer_to_data_prep", "transferred"),
		trace.AI("data_prep", "...schema..."),
		trace.AI("data_prep", "", trace.ToolCall{ID: "call_2", Name: "transfer_back_to_supervisor"}),
		trace.ToolResult("call_2", "transfer_back_to_supervisor", "transferred back"),
		trace.AI("Supervisor", "final"),
	}
}

func TestExtract_SchemaTranscript(t *testing.T) {
	got := New(nil, nil).Extract(t.Context(), "", schemaTrace())

	require.Len(t, got, 2)
	assert.Equal(t, ToolCallRecord{
		Index:     1,
		CallID:    "call_1",
		Agent:     "Supervisor",
		Tool:      "transfer_to_data_prep",
		Purpose:   "Delegate to Data Prep",
		Args:      "-",
		ArgsState: ArgsNone,
		Result:    "Successfully transferred to data_prep",
		Source:    SourceTrace,
	}, got[0])
	assert.Equal(t, ToolCallRecord{
		Index:     2,
		CallID:    "call_2",
		Agent:     "data_prep",
		Tool:      "transfer_back_to_supervisor",
		Purpose:   "Return control to Supervisor",
		Args:      "-",
		ArgsState: ArgsNone,
		Result:    "Successfully transferred to supervisor",
		Source:    SourceTrace,
	}, got[1])
}

func TestExtract_EveryRequestGetsItsResult(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("%d calls", n), func(t *testing.T) {
			msgs := []trace.Message{trace.Human("q")}
			for i := range n {
				id := fmt.Sprintf("c%d", i)
				msgs = append(msgs,
					trace.AI("data_prep", "", trace.ToolCall{ID: id, Name: "sql_db_query", Arguments: `{"query":"SELECT 1"}`}),
					trace.ToolResult(id, "sql_db_query", fmt.Sprintf(`[[%d]]`, i)),
				)
			}

			got := New(nil, nil).Extract(t.Context(), "", msgs)

			require.Len(t, got, n)
			for i, r := range got {
				assert.Equal(t, i+1, r.Index)
				assert.Equal(t, fmt.Sprint(i), r.Result)
				assert.NotEqual(t, PendingResultText, r.Result)
				assert.False(t, r.Inferred)
			}
		})
	}
}

func TestExtract_ParallelCallsMatchedByID(t *testing.T) {
	msgs := []trace.Message{
		trace.AI("data_prep", "",
			trace.ToolCall{ID: "a", Name: "sql_db_schema", Arguments: `{"table_names":"prices"}`},
			trace.ToolCall{ID: "b", Name: "sql_db_schema", Arguments: `{"table_names":"companies"}`},
		),
		trace.ToolResult("b", "sql_db_schema", "companies schema"),
		trace.ToolResult("a", "sql_db_schema", "prices schema"),
	}

	got := New(nil, nil).Extract(t.Context(), "", msgs)

	require.Len(t, got, 2)
	assert.Equal(t, "table_names=prices", got[0].Args)
	assert.Equal(t, "prices schema", got[0].Result)
	assert.Equal(t, "table_names=companies", got[1].Args)
	assert.Equal(t, "companies schema", got[1].Result)
}

func TestExtract_MatchByNameWhenIDMissing(t *testing.T) {
	msgs := []trace.Message{
		trace.AI("data_prep", "", trace.ToolCall{Name: "sql_db_list_tables", Arguments: "{}"}),
		trace.AI("data_prep", "", trace.ToolCall{Name: "sql_db_list_tables", Arguments: "{}"}),
		{Role: trace.RoleTool, ToolName: "sql_db_list_tables", Content: "second"},
	}

	got := New(nil, nil).Extract(t.Context(), "", msgs)

	require.Len(t, got, 2)
	assert.Equal(t, PendingResultText, got[0].Result)
	assert.Equal(t, "second", got[1].Result)
	assert.Equal(t, NoArgsText, got[1].Args)
	assert.Equal(t, ArgsNone, got[1].ArgsState)
}

func TestExtract_OrphanResult(t *testing.T) {
	msgs := []trace.Message{
		trace.Human("q"),
		trace.ToolResult("zz", "sql_db_query", "orphan rows"),
	}

	got := New(nil, nil).Extract(t.Context(), "", msgs)

	require.Len(t, got, 1)
	assert.Equal(t, UnknownAgent, got[0].Agent)
	assert.Equal(t, "zz", got[0].CallID)
	assert.Equal(t, SourceOrphan, got[0].Source)
	assert.True(t, got[0].Inferred)
	assert.Equal(t, ArgsUnavailable, got[0].ArgsState)
	assert.Equal(t, "orphan rows", got[0].Result)
}

func TestExtract_NoToolCalls(t *testing.T) {
	got := New(nil, nil).Extract(t.Context(), "", []trace.Message{trace.Human("hi"), trace.AI("Supervisor", "hello")})
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestExtract_TransferArgsNeverBlank(t *testing.T) {
	for _, args := range []string{"", "{}", `{"reason":"needs data"}`, "not json"} {
		msgs := []trace.Message{
			trace.AI("Supervisor", "", trace.ToolCall{ID: "1", Name: "transfer_to_interpreter", Arguments: args}),
		}
		got := New(nil, nil).Extract(t.Context(), "", msgs)
		require.Len(t, got, 1)
		assert.Equal(t, TransferArgs, got[0].Args, "args %q", args)
		assert.Equal(t, "Successfully transferred to interpreter", got[0].Result)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	msgs := append(schemaTrace(),
		trace.AI("data_prep", "", trace.ToolCall{ID: "q", Name: "sql_db_query", Arguments: `{"query":"SELECT *\n  FROM prices"}`}),
		trace.ToolResult("q", "", `{"columns":["ticker"],"rows":[["AAPL"],["MSFT"]]}`),
		trace.ToolResult("nope", "", "lost"),
	)
	snapshot := trace.Clone(msgs)
	src := &fakeNested{calls: []NestedCall{{Agent: "analyst", CallID: "n1", Tool: "sql_db_query", Arguments: `{"query":"SELECT 2"}`}}}
	x := New(nil, src)

	first := x.Extract(t.Context(), "run", msgs)
	second := x.Extract(t.Context(), "run", msgs)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, msgs)
	assert.Equal(t, "SELECT *\n  FROM prices", first[2].Args)
	assert.Equal(t, "AAPL (+1 more)", first[2].Result)
}

type fakeNested struct {
	calls []NestedCall
	err   error
	panic bool
}

func (f *fakeNested) NestedCalls(context.Context, string) ([]NestedCall, error) {
	if f.panic {
		panic("broken store")
	}
	return f.calls, f.err
}

func TestExtract_Nested(t *testing.T) {
	msgs := []trace.Message{
		trace.AI("data_prep", "", trace.ToolCall{ID: "t", Name: "analyst", Arguments: `{"input":"trend"}`}),
		trace.ToolResult("t", "analyst", "upward"),
	}

	t.Run("appended after top-level calls", func(t *testing.T) {
		src := &fakeNested{calls: []NestedCall{
			{Parent: "analyst", Agent: "analyst", CallID: "n1", Tool: "sql_db_query", Arguments: `{"query":"SELECT 1"}`, Output: "[[1]]", HasOutput: true},
			{Parent: "analyst", Agent: "analyst", CallID: "n2", Tool: "sql_db_schema", Arguments: ""},
			{Agent: "analyst"},
		}}
		got := New(nil, src).Extract(t.Context(), "run-1", msgs)

		require.Len(t, got, 3)
		assert.Equal(t, SourceTrace, got[0].Source)
		assert.Equal(t, "input=trend", got[0].Args)

		assert.Equal(t, 2, got[1].Index)
		assert.Equal(t, SourceNested, got[1].Source)
		assert.True(t, got[1].Inferred)
		assert.Equal(t, "SELECT 1", got[1].Args)
		assert.Equal(t, "1", got[1].Result)

		assert.Equal(t, ArgsUnavailable, got[2].ArgsState)
		assert.Equal(t, PendingResultText, got[2].Result)
	})

	t.Run("errors fall back to top-level calls", func(t *testing.T) {
		got := New(nil, &fakeNested{err: errors.New("no checkpoints")}).Extract(t.Context(), "run-1", msgs)
		assert.Len(t, got, 1)
	})

	t.Run("panics fall back to top-level calls", func(t *testing.T) {
		got := New(nil, &fakeNested{panic: true}).Extract(t.Context(), "run-1", msgs)
		assert.Len(t, got, 1)
	})

	t.Run("no run id", func(t *testing.T) {
		got := New(nil, &fakeNested{calls: []NestedCall{{Tool: "x"}}}).Extract(t.Context(), "", msgs)
		assert.Len(t, got, 1)
	})
}
