// Copyright (c) 2025-2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package db provides sqlite temp-file fixtures for tests against the
// alertdb schema.
package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/ace-correlate/alertcore/internal/alertdb"
)

func SetupSchema(ctx context.Context, tx *sql.Tx) error {
	return alertdb.CreateSchema(ctx, tx)
}

// WithTestDatabase opens a fresh sqlite temp-file database with the alertdb
// schema already applied.
func WithTestDatabase(t testing.TB) (*sql.DB, error) {
	database, _, err := WithTestDatabasePath(t)
	return database, err
}

// WithTestDatabasePath is WithTestDatabase but also returns the backing
// file path, so a test can hand it to a re-exec'd subprocess for
// cross-process contention testing (see internal/alertlock's
// TestCrossProcessContention).
func WithTestDatabasePath(t testing.TB) (*sql.DB, string, error) {
	f, err := os.CreateTemp(t.TempDir(), t.Name()+".db")
	if err != nil {
		return nil, "", err
	}

	if err = f.Close(); err != nil {
		return nil, "", err
	}

	database, err := sql.Open("sqlite3", f.Name())
	if err != nil {
		return nil, "", err
	}

	// sqlite3 serializes writers at the file level; capping the Go-side pool
	// to one connection avoids spurious SQLITE_BUSY errors under concurrent
	// test access instead of relying on busy-timeout retries.
	database.SetMaxOpenConns(1)

	tx, err := database.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, "", err
	}

	if err := SetupSchema(context.Background(), tx); err != nil {
		tx.Rollback() //nolint:errcheck // surfacing the schema error is what matters

		return nil, "", err
	}

	if err := tx.Commit(); err != nil {
		return nil, "", err
	}

	return database, f.Name(), nil
}
