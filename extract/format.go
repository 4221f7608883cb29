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
	"fmt"
	"slices"
	"strings"

	"github.com/nlpodyssey/finchat/textutil"
	"github.com/segmentio/encoding/json"
)

var (
	sqlArgKeys  = []string{"query", "sql", "sql_query"}
	codeArgKeys = []string{"code", "python_code", "script"}
)

// FormatArgs renders a raw tool argument payload.
//
// SQL arguments are returned verbatim, code arguments with surrounding
// whitespace trimmed, and any other object as a key=value listing with
// sorted keys. A payload that is missing or cannot be decoded yields
// ArgsUnavailable; an empty object yields ArgsNone.
func FormatArgs(raw string) (string, ArgsState) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnavailableText, ArgsUnavailable
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		var str string
		if json.Unmarshal([]byte(s), &str) == nil {
			if str = strings.TrimSpace(str); str != "" {
				return str, ArgsPresent
			}
			return NoArgsText, ArgsNone
		}
		return UnavailableText, ArgsUnavailable
	}
	if len(obj) == 0 {
		return NoArgsText, ArgsNone
	}

	for _, key := range sqlArgKeys {
		if v, ok := stringArg(obj, key); ok {
			if strings.TrimSpace(v) == "" {
				return UnavailableText, ArgsUnavailable
			}
			return v, ArgsPresent
		}
	}
	for _, key := range codeArgKeys {
		if v, ok := stringArg(obj, key); ok {
			if v = strings.TrimSpace(v); v == "" {
				return UnavailableText, ArgsUnavailable
			}
			return v, ArgsPresent
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + rawText(obj[k])
	}
	return strings.Join(parts, ", "), ArgsPresent
}

func stringArg(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// PreviewResult renders a short preview of a tool output.
//
// Tabular output shows its first row, lists their first item, each with a
// count of what was left out. Everything else is whitespace-collapsed and
// clipped to ResultPreviewLength runes.
func PreviewResult(output string) string {
	s := strings.TrimSpace(output)
	if s == "" {
		return EmptyResultText
	}

	first, more := s, 0
	switch s[0] {
	case '[', '{':
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			var ok bool
			if first, more, ok = previewStructured(v); !ok {
				return "(no rows)"
			}
		}
	default:
		if lines := nonEmptyLines(s); len(lines) > 1 {
			first, more = lines[0], len(lines)-1
		}
	}

	preview := textutil.Clip(textutil.CollapseSpace(first), ResultPreviewLength)
	if more > 0 {
		preview += fmt.Sprintf(" (+%d more)", more)
	}
	return preview
}

func previewStructured(v any) (first string, more int, ok bool) {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return "", 0, false
		}
		return valueText(x[0]), len(x) - 1, true
	case map[string]any:
		if rows, isRows := x["rows"].([]any); isRows {
			if len(rows) == 0 {
				return "", 0, false
			}
			return valueText(rows[0]), len(rows) - 1, true
		}
		return valueText(x), 0, true
	}
	return valueText(v), 0, true
}

func valueText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = valueText(e)
		}
		return strings.Join(parts, " | ")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + valueText(x[k])
		}
		return strings.Join(parts, ", ")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
