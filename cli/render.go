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

package cli

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/fatih/color"
	"github.com/nlpodyssey/finchat/chat"
	"github.com/nlpodyssey/finchat/extract"
	"github.com/nlpodyssey/finchat/present"
	"github.com/nlpodyssey/finchat/textutil"
	"golang.org/x/term"
)

const (
	defaultWidth = 100
	ruleWidth    = 60
	argsWidth    = 50
)

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Renderer writes reports to a terminal or a plain stream.
type Renderer struct {
	out      io.Writer
	markdown bool
	width    int
}

// NewRenderer returns a Renderer for out. Answers are rendered as markdown
// only when out is a terminal.
func NewRenderer(out io.Writer) *Renderer {
	r := &Renderer{out: out, width: defaultWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.markdown = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			r.width = w
		}
	}
	return r
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *Renderer) println(args ...any) {
	_, _ = fmt.Fprintln(r.out, args...)
}

func rule() string { return strings.Repeat("=", ruleWidth) }

// BannerInfo is the configuration status shown at startup.
type BannerInfo struct {
	Started   string
	APIKeySet bool
	Model     string
	Database  string
	SessionID string
	Verbose   bool
	Warnings  []string
}

func (r *Renderer) Banner(info BannerInfo) {
	r.println()
	r.println(rule())
	r.println(cyan("FINCHAT: MULTI-AGENT FINANCIAL DATA ASSISTANT"))
	r.println(rule())
	if info.Started != "" {
		r.printf("Started: %s\n", info.Started)
	}
	r.println()
	r.println("Configuration:")
	r.println(strings.Repeat("-", 30))
	if info.APIKeySet {
		r.printf("API Key:  %s\n", green("set"))
		r.printf("Status:   %s\n", green("ready"))
	} else {
		r.printf("API Key:  %s\n", red("not set"))
		r.printf("Status:   %s\n", yellow("limited mode"))
	}
	r.printf("Model:    %s\n", info.Model)
	r.printf("Database: %s\n", cmp.Or(info.Database, "none"))
	r.printf("Session:  %s\n", info.SessionID)
	if info.Verbose {
		r.printf("Verbose:  %s\n", green("enabled"))
	}
	r.println(strings.Repeat("-", 30))
	for _, w := range info.Warnings {
		r.printf("%s %s\n", yellow("warning:"), w)
	}
	r.println()
	r.println("Type your questions below. Type /help for commands, exit to quit.")
	r.println(rule())
}

func (r *Renderer) Help() {
	r.println("Commands:")
	r.println("  /clear     forget the conversation history of this session")
	r.println("  /verbose   toggle the detailed execution report")
	r.println("  /help      show this help")
	r.println("  exit       leave (also q, quit, bye or Ctrl+D)")
}

// Report renders one query. The verbose form adds the agent flow tree, the
// tool, token and statistics tables and the raw trace preview.
func (r *Renderer) Report(rep present.Report, verbose bool) {
	title, border := green("SUCCESS"), lipgloss.Color("42")
	if !rep.Success {
		title, border = red("FAILED"), lipgloss.Color("160")
	}

	var parts []string
	if rep.Answer != "" && rep.Success {
		parts = append(parts, cyan("Answer:")+"\n"+r.answer(rep.Answer))
	}
	if rep.Error != "" {
		parts = append(parts, red("Error:")+"\n"+rep.Error)
	}
	if !verbose && rep.Collaboration != "" {
		collab := "Agent collaboration:\n  " + rep.Collaboration
		if used := toolsUsed(rep.Tools); used != "" {
			collab += "\n  Tools used: " + used
		}
		parts = append(parts, collab)
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(min(r.width, defaultWidth) - 2)
	r.println()
	r.println(title)
	r.println(panel.Render(strings.Join(parts, "\n\n")))

	if !verbose {
		return
	}
	if len(rep.Flow) > 0 {
		r.println()
		r.println(FlowTree(rep.Flow))
	}
	if len(rep.Tools) > 0 {
		r.println()
		r.println(cyan("Tool calls"))
		r.println(ToolTable(rep.Tools))
	}
	r.println()
	r.println(cyan("Token usage"))
	r.println(rowTable("Type", "Count", rep.Tokens))
	r.println()
	r.println(cyan("Execution"))
	r.println(rowTable("Metric", "Value", rep.Stats))
	if rep.RawPreview != "" {
		r.println()
		r.printf("%s %s\n", cyan("Raw trace:"), gray(rep.RawPreview))
	}
}

func (r *Renderer) answer(text string) string {
	if !r.markdown {
		return text
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(r.width, defaultWidth)-8),
	)
	if err != nil {
		return text
	}
	out, err := md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}

// Summary renders the tally of a session.
func (r *Renderer) Summary(sessionID string, st chat.SessionState) {
	r.println()
	r.println(cyan("Session summary"))
	r.printf("  Queries processed: %d\n", st.Queries)
	r.printf("  Succeeded:         %d\n", st.Succeeded)
	r.printf("  Failed:            %d\n", st.Failed)
	r.printf("  Tokens used:       %d\n", st.Tokens)
	r.printf("  Time spent:        %.2fs\n", st.Elapsed.Seconds())
	r.printf("  Session ID:        %s\n", sessionID)
}

// FlowTree renders flow steps as a tree rooted at "Agent Flow".
func FlowTree(steps []present.FlowStep) string {
	t := tree.Root("Agent Flow").
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(dimStyle).
		RootStyle(lipgloss.NewStyle().Bold(true))
	for _, s := range steps {
		switch s.Kind {
		case present.StepUser:
			t.Child("User: " + s.Text)
		case present.StepTransfer:
			t.Child(fmt.Sprintf("%s → %s", s.Agent, s.Target))
		case present.StepResponse:
			t.Child(fmt.Sprintf("%s: %s", s.Agent, s.Text))
		}
	}
	return t.String()
}

// ToolTable renders tool rows, marking inferred rows with an asterisk.
func ToolTable(rows []present.ToolRow) string {
	t := newTable("#", "Agent", "Tool", "Purpose", "Arguments", "Result")
	for _, row := range rows {
		idx := fmt.Sprint(row.Index)
		if row.Inferred {
			idx += "*"
		}
		t.Row(idx, row.Agent, row.Tool, row.Purpose, textutil.Clip(row.Args, argsWidth), row.Result)
	}
	return t.String()
}

func rowTable(label, value string, rows []present.Row) string {
	t := newTable(label, value)
	for _, row := range rows {
		t.Row(row.Label, row.Value)
	}
	return t.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// toolsUsed lists the distinct non-transfer tools of rows.
func toolsUsed(rows []present.ToolRow) string {
	var names []string
	for _, row := range rows {
		if row.Args == extract.TransferArgs || slices.Contains(names, row.Tool) {
			continue
		}
		names = append(names, row.Tool)
	}
	return strings.Join(names, ", ")
}
