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

// Package alertlock implements the distributed, expiring, transferable
// alert lock described in spec.md §4.2: a cooperative lock whose state is
// the (lock_owner, lock_id, lock_time) triple on the alerts row, safe
// against races between independent processes on possibly different hosts,
// backed entirely by atomic UPDATE ... WHERE statements plus a read-back of
// the owner token. Grounded on ACEAlertLock in
// original_source/lib/saq/database.py.
package alertlock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ace-correlate/alertcore/internal/obs"
	"github.com/ace-correlate/alertcore/internal/sqlretry"
)

// Dialect abstracts the "evaluate expiry using the database's clock, not
// the client's" SQL fragments spec.md §4.2 requires, since sqlite and MySQL
// spell NOW() and "seconds since" differently.
type Dialect interface {
	// NowExpr is a SQL expression yielding the database's current timestamp.
	NowExpr() string
	// ElapsedSecondsExpr is a SQL expression computing seconds elapsed
	// between the named column and the database's current time.
	ElapsedSecondsExpr(column string) string
}

// SQLiteDialect is the reference dialect used by the test suite and the
// `sqlite` deployment mode.
type SQLiteDialect struct{}

func (SQLiteDialect) NowExpr() string { return "CURRENT_TIMESTAMP" }

func (SQLiteDialect) ElapsedSecondsExpr(column string) string {
	return fmt.Sprintf("CAST((julianday('now') - julianday(%s)) * 86400 AS INTEGER)", column)
}

// MySQLDialect is used by the `mysql` deployment mode, matching the
// original system's own database.
type MySQLDialect struct{}

func (MySQLDialect) NowExpr() string { return "NOW()" }

func (MySQLDialect) ElapsedSecondsExpr(column string) string {
	return fmt.Sprintf("TIMESTAMPDIFF(SECOND, %s, NOW())", column)
}

// Lock is a DistributedAlertLock bound to a single alert row.
type Lock struct {
	db      *sql.DB
	dialect Dialect
	alertID int64
	node    string
	timeout time.Duration
	retries int
	metrics *obs.Metrics

	mu    sync.Mutex
	token string
}

// Option configures a Lock.
type Option func(*Lock)

// WithDialect overrides the SQL dialect (default SQLiteDialect{}).
func WithDialect(d Dialect) Option {
	return func(l *Lock) { l.dialect = d }
}

// WithMaxRetries overrides the deadlock retry count (default
// sqlretry.DefaultMaxRetries).
func WithMaxRetries(n int) Option {
	return func(l *Lock) { l.retries = n }
}

// WithMetrics reports lock acquisition outcomes (acquired/contended/stolen)
// to m.
func WithMetrics(m *obs.Metrics) Option {
	return func(l *Lock) { l.metrics = m }
}

// New creates a Lock for alertID. node identifies the current host/process
// and is recorded as lock_owner; timeout is the configured lock_timeout.
func New(db *sql.DB, alertID int64, node string, timeout time.Duration, opts ...Option) *Lock {
	l := &Lock{
		db:      db,
		dialect: SQLiteDialect{},
		alertID: alertID,
		node:    node,
		timeout: timeout,
		retries: sqlretry.DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// AlertID returns the alert row this lock is bound to.
func (l *Lock) AlertID() int64 {
	return l.alertID
}

// Lock attempts to acquire the lock, following spec.md §4.2's lock()
// operation: a plain conditional claim on an unlocked row, or, if the row
// is held but its lock_time has exceeded timeout, an expired-steal.
func (l *Lock) Lock(ctx context.Context) (bool, error) {
	token := uuid.New().String()

	var acquired bool

	err := sqlretry.WithRetry(ctx, l.retries, func() error {
		var err error
		acquired, err = l.tryLock(ctx, token)

		return err
	})
	if err != nil {
		return false, fmt.Errorf("locking alert %d: %w", l.alertID, err)
	}

	if acquired {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}

	return acquired, nil
}

func (l *Lock) tryLock(ctx context.Context, token string) (bool, error) {
	_, err := l.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE alerts SET lock_owner = ?, lock_id = ?, lock_time = %s WHERE id = ? AND lock_owner IS NULL`,
		l.dialect.NowExpr(),
	), l.node, token, l.alertID)
	if err != nil {
		return false, err
	}

	var (
		lockID  sql.NullString
		expired sql.NullBool
	)

	err = l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT lock_id, %s >= ? FROM alerts WHERE id = ?`, l.dialect.ElapsedSecondsExpr("lock_time"),
	), int64(l.timeout/time.Second), l.alertID).Scan(&lockID, &expired)
	if err != nil {
		return false, err
	}

	if lockID.Valid && lockID.String == token {
		l.metrics.IncLockAcquired()
		return true, nil
	}

	// expired is NULL when lock_time is NULL (no lock to steal).
	if !expired.Valid {
		return false, nil
	}

	if !expired.Bool {
		// Actively held by someone else, evaluated against the database's
		// own clock so client/server clock skew can't extend or shorten the
		// lease across hosts.
		l.metrics.IncLockContended()
		return false, nil
	}

	// Expired: attempt to steal by conditioning on the observed old token.
	oldID := lockID.String

	_, err = l.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE alerts SET lock_owner = ?, lock_id = ?, lock_time = %s WHERE id = ? AND lock_id = ?`,
		l.dialect.NowExpr(),
	), l.node, token, l.alertID, oldID)
	if err != nil {
		return false, err
	}

	var reLockID sql.NullString

	err = l.db.QueryRowContext(ctx,
		`SELECT lock_id FROM alerts WHERE id = ?`, l.alertID,
	).Scan(&reLockID)
	if err != nil {
		return false, err
	}

	stole := reLockID.Valid && reLockID.String == token
	if stole {
		l.metrics.IncLockStolen()
	}

	return stole, nil
}

// Unlock releases the lock if still held by this holder's token, matching
// unlock() in spec.md §4.2. Returns false (without error) if the lock was
// already lost to expiry or theft.
func (l *Lock) Unlock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		log.Warn().Int64("alert_id", l.alertID).Msg("unlock called without a held token")
		return false, nil
	}

	var affected int64

	err := sqlretry.WithRetry(ctx, l.retries, func() error {
		res, err := l.db.ExecContext(ctx,
			`UPDATE alerts SET lock_owner = NULL, lock_id = NULL, lock_time = NULL WHERE id = ? AND lock_id = ?`,
			l.alertID, token,
		)
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return false, fmt.Errorf("unlocking alert %d: %w", l.alertID, err)
	}

	l.mu.Lock()
	l.token = ""
	l.mu.Unlock()

	return affected > 0, nil
}

// Refresh extends the lock's lock_time and rotates lock_transaction_id,
// matching refresh() in spec.md §4.2. Same zero-rows-affected semantics as
// Unlock.
func (l *Lock) Refresh(ctx context.Context) (bool, error) {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		return false, nil
	}

	txnID := uuid.New().String()

	var affected int64

	err := sqlretry.WithRetry(ctx, l.retries, func() error {
		res, err := l.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE alerts SET lock_time = %s, lock_transaction_id = ? WHERE id = ? AND lock_id = ?`,
			l.dialect.NowExpr(),
		), txnID, l.alertID, token)
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return false, fmt.Errorf("refreshing lock on alert %d: %w", l.alertID, err)
	}

	if affected == 0 {
		l.mu.Lock()
		l.token = ""
		l.mu.Unlock()

		return false, nil
	}

	return true, nil
}

// IsLocked reports whether the row is held, consulting the database for
// both the token and its freshness (the spec.md §9 "DB-truth" resolution of
// the original's inconsistent self-reporting).
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	var expired sql.NullBool

	err := l.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s >= ? FROM alerts WHERE id = ?`, l.dialect.ElapsedSecondsExpr("lock_time"),
	), int64(l.timeout/time.Second), l.alertID).Scan(&expired)
	if err != nil {
		return false, fmt.Errorf("checking lock state on alert %d: %w", l.alertID, err)
	}

	// expired is NULL when lock_time is NULL (unlocked); otherwise the
	// comparison is evaluated by the database, not the client, so the lock
	// can be shared correctly across hosts with different clocks.
	return expired.Valid && !expired.Bool, nil
}

// HasCurrentLock reports whether this holder's in-memory token is set. It
// never consults the database.
func (l *Lock) HasCurrentLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.token != ""
}

// TransferTo moves this holder's in-memory token into other, so the row
// continues to appear locked while ownership crosses a process boundary
// (e.g. parent handing a locked alert to a child worker). It does not touch
// the database.
func (l *Lock) TransferTo(other *Lock) {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	other.mu.Lock()
	other.token = token
	other.mu.Unlock()
}

// CreateProxy returns a new Lock bound to the same alert row with no
// token, for handing to a child process that will later receive the
// token via TransferTo and call Unlock itself.
func (l *Lock) CreateProxy() *Lock {
	return &Lock{
		db:      l.db,
		dialect: l.dialect,
		alertID: l.alertID,
		node:    l.node,
		timeout: l.timeout,
		retries: l.retries,
	}
}
