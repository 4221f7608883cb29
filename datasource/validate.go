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
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnsafeSQL is matched by every SQLValidationError.
var ErrUnsafeSQL = errors.New("unsafe SQL")

// SQLValidationError explains why a query was rejected.
type SQLValidationError struct {
	Query  string
	Reason string
}

func (e *SQLValidationError) Error() string { return e.Reason }

func (e *SQLValidationError) Is(target error) bool { return target == ErrUnsafeSQL }

// Statements that may never appear in a query, wherever they are.
var dangerousKeywords = map[string]struct{}{
	"drop": {}, "delete": {}, "truncate": {}, "alter": {}, "update": {},
	"insert": {}, "create": {}, "grant": {}, "revoke": {}, "merge": {},
	"attach": {}, "detach": {}, "pragma": {}, "vacuum": {},
}

// Leading keywords reported as dangerous rather than as a non-SELECT
// statement.
var destructiveStatements = map[string]struct{}{
	"drop": {}, "delete": {}, "truncate": {}, "alter": {},
	"grant": {}, "revoke": {}, "attach": {}, "detach": {},
}

// ValidateSQL checks that q is a single read-only statement and returns it
// trimmed. Comments and the content of string literals and quoted
// identifiers are ignored.
func ValidateSQL(q string) (string, error) {
	trimmed := strings.TrimSpace(q)
	reject := func(format string, a ...any) (string, error) {
		return "", &SQLValidationError{Query: trimmed, Reason: fmt.Sprintf(format, a...)}
	}

	words, statements, err := scanSQL(trimmed)
	if err != nil {
		return reject("%s", err)
	}
	if len(words) == 0 {
		return reject("empty SQL query")
	}
	if statements > 1 {
		return reject("only a single SQL statement is allowed")
	}

	first := words[0]
	if first != "select" && first != "with" {
		if _, ok := destructiveStatements[first]; ok {
			return reject("dangerous SQL operation '%s' is not allowed", first)
		}
		return reject("only SELECT queries are allowed")
	}
	for _, w := range words[1:] {
		if _, ok := dangerousKeywords[w]; ok {
			return reject("dangerous SQL operation '%s' is not allowed", w)
		}
	}
	return trimmed, nil
}

// scanSQL returns the lower-cased bare words of q and the number of
// non-empty statements it contains.
func scanSQL(q string) (words []string, statements int, err error) {
	rs := []rune(q)
	n := len(rs)
	pending := false
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	for i := 0; i < n; i++ {
		r := rs[i]
		switch {
		case r == '-' && i+1 < n && rs[i+1] == '-':
			flush()
			for i < n && rs[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < n && rs[i+1] == '*':
			flush()
			end := -1
			for j := i + 2; j+1 < n; j++ {
				if rs[j] == '*' && rs[j+1] == '/' {
					end = j + 1
					break
				}
			}
			if end < 0 {
				return nil, 0, errors.New("unterminated comment")
			}
			i = end
		case r == '\'' || r == '"' || r == '`':
			flush()
			pending = true
			end := -1
			for j := i + 1; j < n; j++ {
				if rs[j] == r {
					if j+1 < n && rs[j+1] == r {
						j++
						continue
					}
					end = j
					break
				}
			}
			if end < 0 {
				return nil, 0, errors.New("unterminated quoted string")
			}
			i = end
		case r == ';':
			flush()
			if pending {
				statements++
				pending = false
			}
		case unicode.IsLetter(r) || r == '_' || (word.Len() > 0 && unicode.IsDigit(r)):
			word.WriteRune(r)
			pending = true
		default:
			flush()
			if !unicode.IsSpace(r) {
				pending = true
			}
		}
	}
	flush()
	if pending {
		statements++
	}
	return words, statements, nil
}
