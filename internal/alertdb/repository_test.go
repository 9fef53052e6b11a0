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

package alertdb_test

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
)

func newRepo(t *testing.T) *alertdb.Repository {
	t.Helper()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)

	t.Cleanup(func() { database.Close() })

	return alertdb.NewRepository(database)
}

func TestInsertAndGetAlert(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	a := &alertdb.Alert{
		UUID:        "11111111-1111-1111-1111-111111111111",
		StorageDir:  "/opt/alertcore/data/11111111",
		AlertType:   alertconst.AlertTypeMailbox,
		Description: "test alert",
		EventTime:   time.Now().UTC(),
		InsertDate:  time.Now().UTC(),
		Disposition: alertconst.DispositionUnknown,
	}

	require.NoError(t, repo.InsertAlert(ctx, a))
	require.NotZero(t, a.ID)

	got, err := repo.GetAlertByUUID(ctx, a.UUID)
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.StorageDir, got.StorageDir)
	require.False(t, got.IsLocked())
}

func TestTagInterningAndMapping(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	a := &alertdb.Alert{UUID: "u1", StorageDir: "/tmp/u1"}
	require.NoError(t, repo.InsertAlert(ctx, a))

	_, ok, err := repo.GetTagIDByName(ctx, "phish")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.InsertTagIgnore(ctx, "phish"))

	tagID, ok, err := repo.GetTagIDByName(ctx, "phish")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.InsertTagMapping(ctx, a.ID, tagID))

	ids, err := repo.ListTagMapping(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{tagID}, ids)
}

func TestWorkloadClaim(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	a := &alertdb.Alert{UUID: "u2", StorageDir: "/tmp/u2"}
	require.NoError(t, repo.InsertAlert(ctx, a))
	require.NoError(t, repo.EnqueueWorkload(ctx, a.ID))

	item, err := repo.ClaimWorkload(ctx, "node-a")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, a.ID, item.AlertID)
	require.Equal(t, "node-a", item.Node)

	none, err := repo.ClaimWorkload(ctx, "node-b")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestDelayedAnalysisTracking(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	a := &alertdb.Alert{UUID: "u3", StorageDir: "/tmp/u3"}
	require.NoError(t, repo.InsertAlert(ctx, a))
	require.NoError(t, repo.InsertObservableIgnore(ctx, alertconst.ObservableTypeFile, "evil.exe"))

	obsID, ok, err := repo.GetObservableID(ctx, alertconst.ObservableTypeFile, "evil.exe")
	require.NoError(t, err)
	require.True(t, ok)

	delayed, err := repo.IsDelayed(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, delayed)

	require.NoError(t, repo.TrackDelayedAnalysisStart(ctx, a.ID, obsID, "sandbox"))

	delayed, err = repo.IsDelayed(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, delayed)

	require.NoError(t, repo.TrackDelayedAnalysisStop(ctx, a.ID, obsID, "sandbox"))

	delayed, err = repo.IsDelayed(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, delayed)
}
