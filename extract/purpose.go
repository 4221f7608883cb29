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
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	transferToPrefix   = "transfer_to_"
	transferBackPrefix = "transfer_back_to_"

	DefaultPurpose = "Tool execution"
)

var knownPurposes = map[string]string{
	"sql_db_list_tables":   "List database tables",
	"sql_db_schema":        "Get table schema",
	"sql_db_query":         "Execute SQL query",
	"sql_db_query_checker": "Validate SQL query",
	"interpret_query":      "Interpret query",
	"analyst":              "Run nested analysis",
}

// IsTransfer reports whether tool is a structural agent transfer.
func IsTransfer(tool string) bool {
	return strings.HasPrefix(tool, transferToPrefix) || strings.HasPrefix(tool, transferBackPrefix)
}

// TransferTarget returns the agent named by a transfer tool, or the empty
// string when tool is not a transfer.
func TransferTarget(tool string) string {
	switch {
	case strings.HasPrefix(tool, transferBackPrefix):
		return strings.TrimPrefix(tool, transferBackPrefix)
	case strings.HasPrefix(tool, transferToPrefix):
		return strings.TrimPrefix(tool, transferToPrefix)
	}
	return ""
}

// TransferConfirmation is the fixed result shown for a transfer.
func TransferConfirmation(tool string) string {
	return "Successfully transferred to " + TransferTarget(tool)
}

// Purpose returns the human-readable purpose of a tool.
func Purpose(tool string) string {
	if strings.HasPrefix(tool, transferBackPrefix) {
		return "Return control to " + DisplayAgent(TransferTarget(tool))
	}
	if strings.HasPrefix(tool, transferToPrefix) {
		return "Delegate to " + DisplayAgent(TransferTarget(tool))
	}
	if p, ok := knownPurposes[tool]; ok {
		return p
	}
	if IsCodeTool(tool) {
		return "Execute Python code"
	}
	return DefaultPurpose
}

// DisplayTool returns a short display name for a tool.
func DisplayTool(tool string) string {
	switch {
	case strings.HasPrefix(tool, "sql_db_"):
		return "SQL: " + titleWords(strings.TrimPrefix(tool, "sql_db_"))
	case IsCodeTool(tool):
		return "Python Sandbox"
	}
	return tool
}

// DisplayAgent turns an agent identifier such as "data_prep" into a
// display name such as "Data Prep".
func DisplayAgent(name string) string {
	if name == "" {
		return DisplayAgent(UnknownAgent)
	}
	return titleWords(name)
}

// IsCodeTool reports whether tool executes Python code.
func IsCodeTool(tool string) bool {
	t := strings.ToLower(tool)
	return strings.Contains(t, "python") || strings.Contains(t, "sandbox") || strings.Contains(t, "pyodide")
}

func titleWords(s string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
