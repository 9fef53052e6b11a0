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

package alertlock_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertlock"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
)

func newTestAlert(t *testing.T) (*alertdb.Repository, int64) {
	t.Helper()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := alertdb.NewRepository(database)
	a := &alertdb.Alert{UUID: "lock-test", StorageDir: t.TempDir()}
	require.NoError(t, repo.InsertAlert(context.Background(), a))

	return repo, a.ID
}

func TestLockUnlockCycle(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	a := alertlock.New(repo.DB(), alertID, "node-a", time.Minute)

	ok, err := a.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := a.IsLocked(ctx)
	require.NoError(t, err)
	require.True(t, locked)

	ok, err = a.Lock(ctx)
	require.NoError(t, err)
	require.False(t, ok, "locks are not reentrant")

	ok, err = a.Unlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	locked, err = a.IsLocked(ctx)
	require.NoError(t, err)
	require.False(t, locked)

	ok, err = a.Unlock(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = a.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockExpiry(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	a := alertlock.New(repo.DB(), alertID, "node-a", 0)

	ok, err := a.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := a.IsLocked(ctx)
	require.NoError(t, err)
	require.False(t, locked, "zero timeout means immediately expired")

	require.True(t, a.HasCurrentLock())

	b := alertlock.New(repo.DB(), alertID, "node-b", 0)

	ok, err = b.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok, "expired lock should be stealable")
}

func TestNoForgedUnlocks(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	a := alertlock.New(repo.DB(), alertID, "node-a", time.Minute)
	ok, err := a.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stranger := alertlock.New(repo.DB(), alertID, "node-b", time.Minute)

	ok, err = stranger.Unlock(ctx)
	require.NoError(t, err)
	require.False(t, ok, "unlock with no held token never clears the row")

	locked, err := a.IsLocked(ctx)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestProxyTransfer(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	parent := alertlock.New(repo.DB(), alertID, "node-a", time.Minute)
	ok, err := parent.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	proxy := parent.CreateProxy()
	require.False(t, proxy.HasCurrentLock())

	parent.TransferTo(proxy)
	require.False(t, parent.HasCurrentLock())
	require.True(t, proxy.HasCurrentLock())

	ok, err = proxy.Unlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := parent.IsLocked(ctx)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestProxyWithoutTransferCannotUnlock(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	parent := alertlock.New(repo.DB(), alertID, "node-a", time.Minute)
	ok, err := parent.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	proxy := parent.CreateProxy()

	ok, err = proxy.Unlock(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	locked, err := parent.IsLocked(ctx)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestMutualExclusionConcurrentLock(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)

	const contenders = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			l := alertlock.New(repo.DB(), alertID, fmt.Sprintf("node-%d", n), time.Minute)

			ok, err := l.Lock(ctx)
			require.NoError(t, err)

			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	require.Equal(t, 1, winners, "exactly one concurrent locker should win")
}

// TestCrossProcessContention drives the lock from a real second OS process
// against the same sqlite file, grounded on test_database.py's
// test_database_003_multiprocess_lock (which used
// multiprocessing.Process/Event/Pipe). Go substitutes a re-exec of the test
// binary for the subprocess, communicating the database path and alert id
// via environment variables and the result via stdout.
func TestCrossProcessContention(t *testing.T) {
	if os.Getenv("ALERTLOCK_HELPER_PROCESS") == "1" {
		runHelperProcess(t)
		return
	}

	ctx := context.Background()

	database, dbPath, err := testdb.WithTestDatabasePath(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := alertdb.NewRepository(database)
	a := &alertdb.Alert{UUID: "cross-process", StorageDir: t.TempDir()}
	require.NoError(t, repo.InsertAlert(ctx, a))

	parent := alertlock.New(database, a.ID, "parent", time.Minute)
	ok, err := parent.Lock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	cmd := exec.Command(os.Args[0], "-test.run=TestCrossProcessContention", "-test.v")
	cmd.Env = append(os.Environ(),
		"ALERTLOCK_HELPER_PROCESS=1",
		"ALERTLOCK_TEST_DB_PATH="+dbPath,
		"ALERTLOCK_ALERT_ID="+strconv.FormatInt(a.ID, 10),
	)

	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "helper process failed: %s", out)
	require.Contains(t, string(out), "child-saw-locked")
	require.Contains(t, string(out), "child-unlock-failed")

	ok, err = parent.Unlock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func runHelperProcess(t *testing.T) {
	t.Helper()

	dbPath := os.Getenv("ALERTLOCK_TEST_DB_PATH")
	alertIDStr := os.Getenv("ALERTLOCK_ALERT_ID")

	alertID, err := strconv.ParseInt(alertIDStr, 10, 64)
	require.NoError(t, err)

	database, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)

	child := alertlock.New(database, alertID, "child", time.Minute)

	locked, err := child.IsLocked(context.Background())
	require.NoError(t, err)
	require.True(t, locked)

	fmt.Println("child-saw-locked")

	ok, err := child.Unlock(context.Background())
	require.NoError(t, err)

	if !ok {
		fmt.Println("child-unlock-failed")
	}
}
