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

// Package cli implements the finchat command line: an interactive chat
// loop, one-shot queries and data source inspection.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nlpodyssey/finchat/chat"
	"github.com/nlpodyssey/finchat/config"
	"github.com/nlpodyssey/finchat/history"
	"github.com/nlpodyssey/finchat/logging"
	"github.com/nlpodyssey/finchat/present"
	"github.com/spf13/cobra"
)

// App holds what the commands need from the outside world.
type App struct {
	Version string

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Defaults to chat.Open.
	Open func(ctx context.Context, params chat.OpenParams) (*chat.Service, error)

	// Clock used for generated session ids.
	Now func() time.Time
}

type options struct {
	configPath string
	verbose    bool
	sessionID  string
}

// NewRootCommand builds the finchat command tree. Without a subcommand it
// starts the interactive chat.
func NewRootCommand(app App) *cobra.Command {
	if app.In == nil {
		app.In = os.Stdin
	}
	if app.Out == nil {
		app.Out = os.Stdout
	}
	if app.Err == nil {
		app.Err = os.Stderr
	}
	if app.Open == nil {
		app.Open = chat.Open
	}
	if app.Now == nil {
		app.Now = time.Now
	}
	opts := new(options)

	root := &cobra.Command{
		Use:   "finchat",
		Short: "Ask questions about financial data in plain language",
		Long: `finchat answers questions about a financial database with a team of agents:
a Supervisor delegates to a Data Prep agent that writes and runs SQL and to an
Interpreter agent that clarifies ambiguous requests.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, app, opts)
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path of the configuration file")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Show agent flow, tool calls, token usage and raw trace")
	pf.StringVarP(&opts.sessionID, "session", "s", "", "Session id (default: generated)")
	pf.StringP("model", "m", "", "Model name")
	pf.String("db-driver", "", "Database driver: sqlite, sqlite3 or pgx")
	pf.String("db-dsn", "", "Database data source name")
	pf.String("log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start an interactive chat (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runChat(cmd, app, opts)
			},
		},
		&cobra.Command{
			Use:   "ask <query>",
			Short: "Answer a single query and exit",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAsk(cmd, app, opts, strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "tables",
			Short: "List the tables of the financial database",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTables(cmd, app, opts)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "finchat %s\n", app.Version)
			},
		},
	)
	return root
}

type session struct {
	cfg     config.Config
	service *chat.Service
	id      string
}

func open(cmd *cobra.Command, app App, opts *options) (*session, error) {
	cfg, err := config.Load(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Params{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Writer: app.Err,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	svc, err := app.Open(cmd.Context(), chat.OpenParams{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	id := opts.sessionID
	if id == "" {
		id = history.NewSessionID(app.Now())
	}
	return &session{cfg: cfg, service: svc, id: id}, nil
}

func runChat(cmd *cobra.Command, app App, opts *options) error {
	s, err := open(cmd, app, opts)
	if err != nil {
		return err
	}
	defer s.service.Close()

	r := NewRenderer(app.Out)
	r.Banner(BannerInfo{
		Started:   app.Now().Format(time.DateTime),
		APIKeySet: s.cfg.CheckAPIKey() == nil,
		Model:     s.cfg.Model,
		Database:  s.cfg.Database.DSN,
		SessionID: s.id,
		Verbose:   opts.verbose,
		Warnings:  s.cfg.Warnings(),
	})
	repl := &REPL{Service: s.service, Renderer: r, SessionID: s.id, Verbose: opts.verbose}
	return repl.Run(cmd.Context(), app.In)
}

func runAsk(cmd *cobra.Command, app App, opts *options, query string) error {
	s, err := open(cmd, app, opts)
	if err != nil {
		return err
	}
	defer s.service.Close()

	report, result := s.service.Ask(cmd.Context(), s.id, query, present.Options{Verbose: opts.verbose})
	NewRenderer(app.Out).Report(report, opts.verbose)
	if !result.Success {
		return fmt.Errorf("query failed (%s)", result.ErrorKind)
	}
	return nil
}

func runTables(cmd *cobra.Command, app App, opts *options) error {
	s, err := open(cmd, app, opts)
	if err != nil {
		return err
	}
	defer s.service.Close()

	w := s.service.Warehouse()
	if w == nil {
		return errors.New("no data source available (check the database settings)")
	}
	tables, err := w.ListTables(cmd.Context())
	if err != nil {
		return err
	}
	for _, t := range tables {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), t)
	}
	return nil
}
