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
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Demo warehouse used when no data source is configured.
var seedStatements = []string{
	`CREATE TABLE companies (
	ticker TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	sector TEXT NOT NULL,
	country TEXT NOT NULL
)`,
	`CREATE TABLE financials (
	ticker TEXT NOT NULL REFERENCES companies (ticker),
	fiscal_year INTEGER NOT NULL,
	revenue REAL NOT NULL,
	net_income REAL NOT NULL,
	total_assets REAL NOT NULL,
	PRIMARY KEY (ticker, fiscal_year)
)`,
	`CREATE TABLE prices (
	ticker TEXT NOT NULL REFERENCES companies (ticker),
	trade_date TEXT NOT NULL,
	close REAL NOT NULL,
	volume INTEGER NOT NULL,
	PRIMARY KEY (ticker, trade_date)
)`,
	`INSERT INTO companies (ticker, name, sector, country) VALUES
	('AAPL', 'Apple Inc.', 'Technology', 'US'),
	('MSFT', 'Microsoft Corporation', 'Technology', 'US'),
	('JPM', 'JPMorgan Chase & Co.', 'Financials', 'US'),
	('XOM', 'Exxon Mobil Corporation', 'Energy', 'US'),
	('NESN', 'Nestle S.A.', 'Consumer Staples', 'CH')`,
	`INSERT INTO financials (ticker, fiscal_year, revenue, net_income, total_assets) VALUES
	('AAPL', 2023, 383285, 96995, 352583),
	('AAPL', 2024, 391035, 93736, 364980),
	('MSFT', 2023, 211915, 72361, 411976),
	('MSFT', 2024, 245122, 88136, 512163),
	('JPM', 2023, 158104, 49552, 3875393),
	('JPM', 2024, 177556, 58471, 4002814),
	('XOM', 2023, 344582, 36010, 376317),
	('XOM', 2024, 349585, 33680, 453475),
	('NESN', 2023, 101209, 12138, 126517),
	('NESN', 2024, 97155, 11089, 128400)`,
	`INSERT INTO prices (ticker, trade_date, close, volume) VALUES
	('AAPL', '2024-12-30', 252.20, 35557500),
	('AAPL', '2024-12-31', 250.42, 39480700),
	('MSFT', '2024-12-30', 424.83, 13158700),
	('MSFT', '2024-12-31', 421.50, 13246500),
	('JPM', '2024-12-30', 238.03, 6900400),
	('JPM', '2024-12-31', 239.71, 5728900),
	('XOM', '2024-12-30', 106.05, 12540200),
	('XOM', '2024-12-31', 107.57, 11866000),
	('NESN', '2024-12-30', 74.86, 4125300),
	('NESN', '2024-12-31', 74.88, 3402900)`,
}

// Seed creates and fills the demo tables in a single transaction.
func Seed(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, stmt := range seedStatements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to seed warehouse: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	return nil
}
