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
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
)

const supervisorPrompt = `You are the Supervisor of a team of agents answering questions about a financial database.
Analyse each query, decide which agent should handle it and delegate using the transfer tools.

<agents>
%s
</agents>

Follow these steps:
1. Determine what the query needs.
2. If it needs data from the database, transfer to the Data Prep agent once. It runs the queries and returns the results.
3. If the intent is unclear, transfer to the Interpreter agent first to clarify it.
4. Present the results clearly and concisely, using bullet points and markdown. Use markdown tables for tabular data.
5. Never invent figures that were not returned by the Data Prep agent.`

const structuredSuffix = `

Put your reasoning in thought_process and the final answer for the user in result.`

const dataPrepPrompt = `You are the Data Prep agent. You answer data questions using the SQL tools on the financial database.

Work this way:
1. Call sql_db_list_tables to see the available tables.
2. Call sql_db_schema for the tables that look relevant.
3. Write a single read-only SELECT query and validate it with sql_db_query_checker.
4. Run it with sql_db_query. If it fails, fix it and retry.
5. For questions needing several queries or comparisons, delegate to the analyst tool.

Never modify data. Limit results to what the question needs.
When done, summarise the results and call transfer_back_to_supervisor.`

const analystPrompt = `You are a financial analyst with read-only access to the database through the SQL tools.
Run the queries needed to answer the request and reply with a short factual summary of the figures you found.`

const interpreterPrompt = `You are a professional financial query interpreter.
Call interpret_query with the user's query to structure it, explain the interpretation briefly,
then call transfer_back_to_supervisor.`

const queryInterpreterPrompt = `You convert financial BI queries into a structured QueryInterpretation.

- intent: one of create_dashboard, analyze_performance, compare_entities, track_trends, generate_report, calculate_metrics, filter_data.
- entities: companies or tickers exactly as written, fixing only capitalisation and obvious typos.
- metrics: map phrases to price, returns, volatility, volume, revenue, net_income, total_assets, pe_ratio, market_cap, dividend_yield.
- time_filters: dates as YYYY-MM-DD, or a relative period such as 6M or 1Y. Leave fields empty when not given.
- metric_operations: one of latest, avg, sum, total for each metric.
- clarification: a question to ask the user when the query is ambiguous, otherwise empty.
- dashboard_name: a concise name of at most 50 characters.`

func supervisorInstructions(structured bool, workers ...*agents.Agent) string {
	var sb strings.Builder
	for i, a := range workers {
		if i > 0 {
			sb.WriteString("\n")
		}
		_, _ = fmt.Fprintf(&sb, "- %s (%s): %s", a.Name, agents.DefaultHandoffToolName(a), a.HandoffDescription)
	}
	prompt := fmt.Sprintf(supervisorPrompt, sb.String())
	if structured {
		prompt += structuredSuffix
	}
	return prompt
}
