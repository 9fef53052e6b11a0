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

// Package workqueue implements the workload queue described in spec.md
// §4.5: a table of (id, alert_id, node) rows where node NULL means
// unclaimed. Grounded on add_sql_work_item/request_correlation in
// original_source/lib/saq/database.py.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ace-correlate/alertcore/internal/alertdb"
)

// ErrEmpty is returned by Claim when no unclaimed workload row exists.
var ErrEmpty = errors.New("workqueue: no unclaimed work")

// Queue wraps alertdb.Repository's workload methods with the
// producer/consumer vocabulary spec.md §4.5 describes, and the polling
// convenience a BroSMTPConsumer-style worker loop needs.
type Queue struct {
	repo *alertdb.Repository
	node string

	pollInterval time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithPollInterval overrides how long ClaimWait sleeps between empty-queue
// polls (default 5s).
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

// New creates a Queue whose consumer identity (the "node" column) is node,
// matching the teacher's systemID-as-consumer-identity convention in
// internal/workflow/worker.WorkerPool.
func New(repo *alertdb.Repository, node string, opts ...Option) *Queue {
	q := &Queue{
		repo:         repo,
		node:         node,
		pollInterval: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Node returns the consumer identity this Queue claims work as.
func (q *Queue) Node() string {
	return q.node
}

// Enqueue inserts an unclaimed workload row for alertID, matching
// add_sql_work_item. There is a 1:1 relationship between an alert and at
// most one live workload row; callers are responsible for not enqueueing a
// second row for an alert that already has one outstanding (mirroring
// request_correlation's existence check before inserting).
func (q *Queue) Enqueue(ctx context.Context, alertID int64) error {
	if err := q.repo.EnqueueWorkload(ctx, alertID); err != nil {
		return fmt.Errorf("enqueueing alert %d: %w", alertID, err)
	}

	return nil
}

// Claim atomically assigns one unclaimed workload row to this Queue's node
// and returns it. It returns ErrEmpty, not an error, when the queue is
// empty, so callers can distinguish "nothing to do right now" from a real
// failure.
func (q *Queue) Claim(ctx context.Context) (*alertdb.WorkloadItem, error) {
	item, err := q.repo.ClaimWorkload(ctx, q.node)
	if err != nil {
		return nil, fmt.Errorf("claiming work for node %q: %w", q.node, err)
	}

	if item == nil {
		return nil, ErrEmpty
	}

	return item, nil
}

// ClaimWait blocks, polling at pollInterval, until a workload item is
// claimed or ctx is done.
func (q *Queue) ClaimWait(ctx context.Context) (*alertdb.WorkloadItem, error) {
	for {
		item, err := q.Claim(ctx)
		if err == nil {
			return item, nil
		}

		if !errors.Is(err, ErrEmpty) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Release returns a claimed workload item to the unclaimed pool, for a
// worker that could not complete it (e.g. it crashes or is shut down
// mid-analysis and wants another node to pick the alert back up).
func (q *Queue) Release(ctx context.Context, item *alertdb.WorkloadItem) error {
	if err := q.repo.ReleaseWorkload(ctx, item.ID); err != nil {
		return fmt.Errorf("releasing workload %d: %w", item.ID, err)
	}

	return nil
}

// Complete removes a workload row once its alert has been fully analyzed
// and synced, ending its lifecycle.
func (q *Queue) Complete(ctx context.Context, item *alertdb.WorkloadItem) error {
	if err := q.repo.DeleteWorkload(ctx, item.ID); err != nil {
		return fmt.Errorf("completing workload %d: %w", item.ID, err)
	}

	return nil
}
