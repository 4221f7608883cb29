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
	"bufio"
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/nlpodyssey/finchat/chat"
	"github.com/nlpodyssey/finchat/present"
	"github.com/nlpodyssey/finchat/runner"
)

var exitWords = []string{"q", "exit", "quit", "bye"}

// Asker is the part of chat.Service the REPL uses.
type Asker interface {
	Ask(ctx context.Context, sessionID, query string, opts present.Options) (present.Report, runner.ExecutionResult)
	Clear(ctx context.Context, sessionID string) error
	Session(sessionID string) (chat.SessionState, bool)
}

type REPL struct {
	Service   Asker
	Renderer  *Renderer
	SessionID string
	Verbose   bool
}

// Run reads queries from r until an exit word, end of input or the
// cancellation of ctx, answering each one before reading the next.
func (l *REPL) Run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer l.summary()
	for n := 1; ; {
		l.Renderer.printf("\n[Query #%d] > ", n)

		var line string
		select {
		case <-ctx.Done():
			l.Renderer.println("\nInterrupted, shutting down.")
			return nil
		case s, ok := <-lines:
			if !ok {
				l.Renderer.println()
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = s
		}

		query := strings.TrimSpace(line)
		switch cmd := strings.ToLower(query); {
		case slices.Contains(exitWords, cmd):
			l.Renderer.println("Goodbye!")
			return nil
		case cmd == "":
			l.Renderer.println(yellow("Please enter a valid query."))
			continue
		case strings.HasPrefix(cmd, "/"):
			if err := l.command(ctx, cmd); err != nil {
				l.Renderer.printf("%s %v\n", red("error:"), err)
			}
			continue
		}

		l.Renderer.printf("Processing: %q\n", query)
		report, result := l.Service.Ask(ctx, l.SessionID, query, present.Options{Verbose: l.Verbose})
		n++
		l.Renderer.Report(report, l.Verbose)
		if result.ErrorKind == runner.ErrorKindConfig {
			l.Renderer.println(gray("Tip: set OPENAI_API_KEY and check the database settings for full functionality."))
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			l.Renderer.println("\nInterrupted, shutting down.")
			return nil
		}
	}
}

func (l *REPL) command(ctx context.Context, cmd string) error {
	switch cmd {
	case "/clear":
		if err := l.Service.Clear(ctx, l.SessionID); err != nil {
			return err
		}
		l.Renderer.println("Conversation history cleared.")
	case "/verbose":
		l.Verbose = !l.Verbose
		state := "disabled"
		if l.Verbose {
			state = "enabled"
		}
		l.Renderer.printf("Verbose mode %s.\n", state)
	case "/help":
		l.Renderer.Help()
	default:
		l.Renderer.printf("Unknown command %s. Type /help for the list of commands.\n", cmd)
	}
	return nil
}

func (l *REPL) summary() {
	st, _ := l.Service.Session(l.SessionID)
	l.Renderer.Summary(l.SessionID, st)
}
