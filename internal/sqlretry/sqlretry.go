// Copyright (c) 2023-2026 Canonical Ltd
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

// Package sqlretry classifies SQL errors by MySQL error code and retries
// deadlocks, matching original_source/lib/saq/database.py's
// execute_with_retry.
package sqlretry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// MySQL error codes named in spec.md §7.
const (
	ErrCodeDeadlock     = 1205
	ErrCodeLockWaitTime = 1213
	ErrCodeDuplicate    = 1062
)

// DefaultMaxRetries is the N=2 default spec.md §4.2's "Failure semantics"
// names for deadlock retry.
const DefaultMaxRetries = 2

// IsDeadlock reports whether err is a retryable deadlock/lock-wait-timeout
// error, for either the mysql or sqlite3 driver.
func IsDeadlock(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == ErrCodeDeadlock || mysqlErr.Number == ErrCodeLockWaitTime
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	return false
}

// IsDuplicateKey reports whether err is a duplicate-key violation, treated
// as success for insert-ignore patterns per spec.md §7.
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == ErrCodeDuplicate
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	return false
}

// WithRetry runs fn, retrying up to maxRetries times on a deadlock error
// with the backoff/v4 exponential policy, matching execute_with_retry.
// Non-deadlock errors and exhausted retries propagate unchanged.
func WithRetry(ctx context.Context, maxRetries int, fn func() error) error {
	attempt := 0

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}

		attempt++

		if IsDeadlock(err) && attempt <= maxRetries {
			return err
		}

		return backoff.Permanent(err)
	}, policy)
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	return b
}
