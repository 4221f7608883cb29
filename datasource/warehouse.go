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

// Package datasource gives the agents read-only access to the financial
// data warehouse.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3
	DriverSQLite  = "sqlite"  // modernc.org/sqlite
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
)

const (
	DefaultRowLimit        = 100
	DefaultSchemaCacheSize = 64
	SampleRows             = 3
)

var ErrUnknownTable = errors.New("table not found")

type Params struct {
	Driver string
	DSN    string

	// Maximum number of rows returned by Query.
	RowLimit int

	SchemaCacheSize int

	// Seed creates the demo tables when the warehouse has no tables.
	Seed bool

	Logger *slog.Logger
}

// Warehouse runs read-only queries against a SQL database.
type Warehouse struct {
	db       *sql.DB
	driver   string
	rowLimit int
	schemas  *lru.Cache[string, string]
	logger   *slog.Logger
}

// Open connects to the database described by params and verifies the
// connection.
func Open(ctx context.Context, params Params) (_ *Warehouse, err error) {
	switch params.Driver {
	case DriverSQLite3, DriverSQLite, DriverPgx:
	case "":
		return nil, errors.New("missing database driver")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", params.Driver)
	}
	if params.DSN == "" {
		return nil, errors.New("missing database DSN")
	}

	db, err := sql.Open(params.Driver, params.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, db.Close())
		}
	}()
	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	w, err := newWarehouse(db, params)
	if err != nil {
		return nil, err
	}

	if params.Seed {
		tables, err := w.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		if len(tables) == 0 {
			w.logger.Info("seeding demo warehouse")
			if err = Seed(ctx, db); err != nil {
				return nil, err
			}
		}
	}
	return w, nil
}

func newWarehouse(db *sql.DB, params Params) (*Warehouse, error) {
	if params.RowLimit <= 0 {
		params.RowLimit = DefaultRowLimit
	}
	if params.SchemaCacheSize <= 0 {
		params.SchemaCacheSize = DefaultSchemaCacheSize
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.DiscardHandler)
	}
	schemas, err := lru.New[string, string](params.SchemaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &Warehouse{
		db:       db,
		driver:   params.Driver,
		rowLimit: params.RowLimit,
		schemas:  schemas,
		logger:   params.Logger,
	}, nil
}

func (w *Warehouse) Driver() string { return w.driver }

func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("data source unreachable: %w", err)
	}
	return nil
}

func (w *Warehouse) Close() error {
	w.schemas.Purge()
	return w.db.Close()
}

func (w *Warehouse) postgres() bool { return w.driver == DriverPgx }

// ListTables returns the user tables, sorted by name.
func (w *Warehouse) ListTables(ctx context.Context) ([]string, error) {
	q := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if w.postgres() {
		q = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	}
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// TableSchema describes the named tables: their definition followed by a
// few sample rows. Descriptions are cached.
func (w *Warehouse) TableSchema(ctx context.Context, names ...string) (string, error) {
	if len(names) == 0 {
		return "", errors.New("no table names given")
	}
	tables, err := w.ListTables(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if !slices.Contains(tables, name) {
			return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
		}
		if s, ok := w.schemas.Get(name); ok {
			parts = append(parts, s)
			continue
		}
		s, err := w.describeTable(ctx, name)
		if err != nil {
			return "", err
		}
		w.schemas.Add(name, s)
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (w *Warehouse) describeTable(ctx context.Context, name string) (string, error) {
	var ddl string
	var err error
	if w.postgres() {
		ddl, err = w.postgresDDL(ctx, name)
	} else {
		err = w.db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&ddl)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read definition of table %q: %w", name, err)
	}

	sample, err := w.run(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), SampleRows), SampleRows)
	if err != nil {
		return "", fmt.Errorf("failed to sample table %q: %w", name, err)
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(ddl))
	_, _ = fmt.Fprintf(&sb, "\n\n/*\n%d rows from %s table:\n", len(sample.Rows), name)
	sb.WriteString(strings.Join(sample.Columns, "\t"))
	for _, row := range sample.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.Join(cells, "\t"))
	}
	sb.WriteString("\n*/")
	return sb.String(), nil
}

func (w *Warehouse) postgresDDL(ctx context.Context, name string) (string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var col, typ, nullable string
		if err := rows.Scan(&col, &typ, &nullable); err != nil {
			return "", err
		}
		def := "\t" + quoteIdent(col) + " " + strings.ToUpper(typ)
		if nullable == "NO" {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", quoteIdent(name), strings.Join(cols, ",\n")), nil
}

// QueryResult holds the rows returned by a query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// JSON returns the result in the form handed to the agents.
func (r QueryResult) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

// Query validates q with ValidateSQL and runs it. At most the configured
// row limit is returned.
func (w *Warehouse) Query(ctx context.Context, q string) (QueryResult, error) {
	q, err := ValidateSQL(q)
	if err != nil {
		return QueryResult{}, err
	}
	start := time.Now()
	res, err := w.run(ctx, q, w.rowLimit)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query failed: %w", err)
	}
	w.logger.Debug("query executed",
		slog.Int("rows", res.RowCount),
		slog.Bool("truncated", res.Truncated),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// CheckQuery validates q and asks the database to plan it without
// running it.
func (w *Warehouse) CheckQuery(ctx context.Context, q string) (string, error) {
	q, err := ValidateSQL(q)
	if err != nil {
		return "", err
	}
	rows, err := w.db.QueryContext(ctx, "EXPLAIN "+strings.TrimSuffix(q, ";"))
	if err != nil {
		return "", fmt.Errorf("invalid query: %w", err)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return "", fmt.Errorf("invalid query: %w", err)
	}
	return q, nil
}

func (w *Warehouse) run(ctx context.Context, q string, limit int) (QueryResult, error) {
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return QueryResult{}, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{}, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
