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

package workqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
	"github.com/ace-correlate/alertcore/internal/workqueue"
)

func newAlert(t *testing.T, repo *alertdb.Repository, uuid string) int64 {
	t.Helper()

	a := &alertdb.Alert{UUID: uuid, StorageDir: t.TempDir()}
	require.NoError(t, repo.InsertAlert(context.Background(), a))

	return a.ID
}

func newRepo(t *testing.T) *alertdb.Repository {
	t.Helper()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return alertdb.NewRepository(database)
}

func TestClaimReturnsErrEmptyWhenQueueIsEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	q := workqueue.New(repo, "node-a")

	_, err := q.Claim(ctx)
	require.True(t, errors.Is(err, workqueue.ErrEmpty))
}

func TestEnqueueClaimCompleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	alertID := newAlert(t, repo, "wq-1")

	q := workqueue.New(repo, "node-a")
	require.NoError(t, q.Enqueue(ctx, alertID))

	item, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, alertID, item.AlertID)
	require.Equal(t, "node-a", item.Node)

	// A second claim on the same node sees nothing left unclaimed.
	_, err = q.Claim(ctx)
	require.True(t, errors.Is(err, workqueue.ErrEmpty))

	require.NoError(t, q.Complete(ctx, item))

	_, err = q.Claim(ctx)
	require.True(t, errors.Is(err, workqueue.ErrEmpty))
}

func TestReleaseReturnsItemToThePool(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	alertID := newAlert(t, repo, "wq-2")

	producer := workqueue.New(repo, "node-a")
	require.NoError(t, producer.Enqueue(ctx, alertID))

	item, err := producer.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, producer.Release(ctx, item))

	other := workqueue.New(repo, "node-b")
	reclaimed, err := other.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, alertID, reclaimed.AlertID)
	require.Equal(t, "node-b", reclaimed.Node)
}

func TestClaimWaitBlocksUntilWorkArrives(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	repo := newRepo(t)
	alertID := newAlert(t, repo, "wq-3")

	q := workqueue.New(repo, "node-a", workqueue.WithPollInterval(10*time.Millisecond))

	done := make(chan *alertdb.WorkloadItem, 1)
	errs := make(chan error, 1)

	go func() {
		item, err := q.ClaimWait(ctx)
		if err != nil {
			errs <- err
			return
		}
		done <- item
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), alertID))

	select {
	case item := <-done:
		require.Equal(t, alertID, item.AlertID)
	case err := <-errs:
		t.Fatalf("ClaimWait returned an error: %v", err)
	case <-ctx.Done():
		t.Fatal("ClaimWait did not return before the deadline")
	}
}

func TestClaimWaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := newRepo(t)
	q := workqueue.New(repo, "node-a", workqueue.WithPollInterval(10*time.Millisecond))

	errs := make(chan error, 1)

	go func() {
		_, err := q.ClaimWait(ctx)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("ClaimWait did not honor cancellation")
	}
}
