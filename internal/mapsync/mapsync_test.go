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

package mapsync_test

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/mapsync"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
)

func newTestAlert(t *testing.T) (*alertdb.Repository, int64) {
	t.Helper()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := alertdb.NewRepository(database)
	a := &alertdb.Alert{UUID: "mapsync-test", StorageDir: t.TempDir()}
	require.NoError(t, repo.InsertAlert(context.Background(), a))

	return repo, a.ID
}

func insertProfilePoint(t *testing.T, repo *alertdb.Repository, description string) int64 {
	t.Helper()

	_, err := repo.DB().ExecContext(context.Background(),
		`INSERT INTO profile_points (description) VALUES (?)`, description)
	require.NoError(t, err)

	id, ok, err := repo.GetProfilePointIDByDescription(context.Background(), description)
	require.NoError(t, err)
	require.True(t, ok)

	return id
}

func TestSyncTagMappingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	require.NoError(t, s.SyncTagMapping(ctx, alertID, "phish"))
	require.NoError(t, s.SyncTagMapping(ctx, alertID, "phish"))

	ids, err := repo.ListTagMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestSyncTagMappingSharesInternedRow(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	other := &alertdb.Alert{UUID: "mapsync-test-2", StorageDir: t.TempDir()}
	require.NoError(t, repo.InsertAlert(ctx, other))

	require.NoError(t, s.SyncTagMapping(ctx, alertID, "shared"))
	require.NoError(t, s.SyncTagMapping(ctx, other.ID, "shared"))

	idA, err := repo.ListTagMapping(ctx, alertID)
	require.NoError(t, err)
	idB, err := repo.ListTagMapping(ctx, other.ID)
	require.NoError(t, err)

	require.Equal(t, idA, idB, "both alerts should map to the same interned tag id")
}

func TestSyncObservableMapping(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	require.NoError(t, s.SyncObservableMapping(ctx, alertID, "ipv4", "10.0.0.1"))
	require.NoError(t, s.SyncObservableMapping(ctx, alertID, "ipv4", "10.0.0.1"))

	ids, err := repo.ListObservableMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestSyncProfilePointsAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	ppA := insertProfilePoint(t, repo, "point-a")
	insertProfilePoint(t, repo, "point-b")

	require.NoError(t, s.SyncProfilePoints(ctx, alertID, []string{"point-a"}))

	ids, err := repo.ListProfilePointMapping(ctx, alertID)
	require.NoError(t, err)
	require.Equal(t, []int64{ppA}, ids)

	require.NoError(t, s.SyncProfilePoints(ctx, alertID, []string{"point-b"}))

	ids, err = repo.ListProfilePointMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.NotEqual(t, ppA, ids[0])
}

func TestSyncProfilePointsSkipsUnknownDescription(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	require.NoError(t, s.SyncProfilePoints(ctx, alertID, []string{"does-not-exist"}))

	ids, err := repo.ListProfilePointMapping(ctx, alertID)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestBuildIndex(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	insertProfilePoint(t, repo, "point-a")

	err := s.BuildIndex(ctx, alertID,
		[]string{"phish", "malware"},
		[]mapsync.Observable{{Type: "ipv4", Value: "10.0.0.1"}},
		[]string{"point-a"},
	)
	require.NoError(t, err)

	tags, err := repo.ListTagMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, tags, 2)

	obs, err := repo.ListObservableMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, obs, 1)

	pps, err := repo.ListProfilePointMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, pps, 1)
}

func TestRebuildIndexClearsStaleEdges(t *testing.T) {
	ctx := context.Background()
	repo, alertID := newTestAlert(t)
	s := mapsync.New(repo)

	require.NoError(t, s.BuildIndex(ctx, alertID, []string{"stale"}, nil, nil))

	err := s.RebuildIndex(ctx, alertID, []string{"fresh"}, nil, nil)
	require.NoError(t, err)

	tags, err := repo.ListTagMapping(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	freshID, ok, err := repo.GetTagIDByName(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{freshID}, tags)
}
