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

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/finchat/config"
	"github.com/nlpodyssey/finchat/datasource"
	"github.com/nlpodyssey/finchat/financeagents"
	"github.com/nlpodyssey/finchat/history"
	"github.com/nlpodyssey/finchat/logging"
	"github.com/nlpodyssey/finchat/runner"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"
)

const WorkflowName = "finchat"

type OpenParams struct {
	Config config.Config
	Logger *slog.Logger

	// Model used by every agent instead of the OpenAI provider. The API
	// key check is skipped when set.
	Model agents.Model

	// Overrides the publisher derived from Config.EventsURL.
	Publisher Publisher
}

// Open wires the data source, the agents, the history store and the runner
// described by the configuration.
//
// An unreachable data source does not make Open fail: the service starts
// and every query reports the problem as a configuration error.
func Open(ctx context.Context, params OpenParams) (_ *Service, err error) {
	cfg := params.Config
	logger := params.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logging.Install(logger)

	var closers []func() error
	defer func() {
		if err != nil {
			for _, c := range closers {
				err = errors.Join(err, c())
			}
		}
	}()

	var (
		warehouse    *datasource.Warehouse
		warehouseErr error
	)
	if cfg.Database.DSN != "" {
		warehouse, warehouseErr = datasource.Open(ctx, datasource.Params{
			Driver:   cfg.Database.Driver,
			DSN:      cfg.Database.DSN,
			RowLimit: cfg.Database.RowLimit,
			Seed:     cfg.Database.Seed && cfg.Database.Driver != datasource.DriverPgx,
			Logger:   logger,
		})
		if warehouseErr != nil {
			logger.Warn("data source unavailable", slog.String("error", warehouseErr.Error()))
		} else {
			closers = append(closers, warehouse.Close)
		}
	}

	policy, err := loadPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	checkpoints, err := runner.NewCheckpointStore(cfg.CheckpointRuns)
	if err != nil {
		return nil, err
	}

	graph, err := financeagents.Build(financeagents.Params{
		ModelName:      cfg.Model,
		Model:          params.Model,
		Warehouse:      warehouse,
		Policy:         policy,
		Checkpoints:    checkpoints,
		Structured:     cfg.Structured,
		MaxQueryLength: cfg.MaxQueryLength,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	store, err := openHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.Close)

	runConfig := agents.RunConfig{
		MaxTurns:        uint64(cfg.MaxTurns),
		TracingDisabled: !cfg.Tracing,
		WorkflowName:    WorkflowName,
	}
	if params.Model == nil {
		providerParams := agents.OpenAIProviderParams{UseResponses: param.NewOpt(cfg.UseResponses)}
		if cfg.APIKey != "" {
			providerParams.APIKey = param.NewOpt(cfg.APIKey)
		}
		if cfg.BaseURL != "" {
			providerParams.BaseURL = param.NewOpt(cfg.BaseURL)
		}
		runConfig.ModelProvider = agents.NewOpenAIProvider(providerParams)
	}

	r, err := runner.New(runner.Params{
		Agent:       graph.Supervisor,
		RunConfig:   runConfig,
		History:     store,
		Checkpoints: checkpoints,
		Preflight:   preflight(cfg, params.Model != nil, warehouse, warehouseErr),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	publisher := params.Publisher
	if publisher == nil && cfg.EventsURL != "" {
		publisher = NewHTTPPublisher(cfg.EventsURL, nil)
	}

	return NewService(Params{
		Runner:    r,
		History:   store,
		Warehouse: warehouse,
		Publisher: publisher,
		Logger:    logger,
	})
}

func loadPolicy(ctx context.Context, path string) (*datasource.Policy, error) {
	if path == "" {
		return datasource.NewPolicy(ctx, "")
	}
	return datasource.LoadPolicy(ctx, path)
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (history.Store, error) {
	switch cfg.History.Driver {
	case "", "memory":
		return history.NewMemoryStore(cfg.MaxHistory), nil
	case "sqlite":
		return history.NewSQLiteStore(ctx, history.SQLiteParams{
			DBDataSourceName: cfg.History.DSN,
			MaxMessages:      cfg.MaxHistory,
			Logger:           logger,
		})
	case "postgres":
		return history.NewPostgresStore(ctx, history.PostgresParams{
			ConnectionString: cfg.History.DSN,
			MaxMessages:      cfg.MaxHistory,
			Logger:           logger,
		})
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.History.Driver)
	}
}

func preflight(cfg config.Config, localModel bool, w *datasource.Warehouse, openErr error) func(context.Context) error {
	return func(ctx context.Context) error {
		if !localModel && cfg.CheckAPIKey() != nil {
			return config.ErrMissingAPIKey
		}
		if openErr != nil {
			return fmt.Errorf("data source unavailable: %w", openErr)
		}
		if w != nil {
			if err := w.Ping(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
