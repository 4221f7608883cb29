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

// Package textutil provides length-bounded text helpers.
//
// Lengths are counted in runes, and cuts only happen between grapheme
// clusters, so an emoji with modifiers or a joined sequence is either kept
// whole or dropped whole.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

const Ellipsis = "..."

// Clip shortens s to at most limit runes, replacing the tail with Ellipsis
// when something was cut.
func Clip(s string, limit int) string {
	return cut(s, limit, false)
}

// Truncate shortens s to at most limit runes like Clip, but prefers to cut
// at the last sentence or clause boundary that keeps at least half of the
// available room. The punctuation at the boundary is replaced by Ellipsis.
func Truncate(s string, limit int) string {
	return cut(s, limit, true)
}

// CollapseSpace replaces every run of whitespace with a single space and
// trims the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cut(s string, limit int, atBoundary bool) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	budget := limit - utf8.RuneCountInString(Ellipsis)
	suffix := Ellipsis
	if budget <= 0 {
		budget, suffix = limit, ""
	}

	var (
		end      int // byte offset of the hard cut
		boundary int // byte offset of the last boundary punctuation
		runes    int
		bRunes   int
	)
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cluster := gr.Str()
		n := utf8.RuneCountInString(cluster)
		if runes+n > budget {
			break
		}
		from, to := gr.Positions()
		if isBoundary(cluster) {
			boundary, bRunes = from, runes
		}
		runes += n
		end = to
	}

	if atBoundary && boundary > 0 && bRunes*2 >= budget {
		end = boundary
	}
	return strings.TrimRight(s[:end], " \t\r\n") + suffix
}

func isBoundary(cluster string) bool {
	switch cluster {
	case ".", "!", "?", ";", ":", ",", "\n", "\r\n":
		return true
	}
	return false
}
