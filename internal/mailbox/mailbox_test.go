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

package mailbox_test

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertstore"
	"github.com/ace-correlate/alertcore/internal/mailbox"
	"github.com/ace-correlate/alertcore/internal/mapsync"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
	"github.com/ace-correlate/alertcore/internal/workqueue"
)

func TestSubmitMovesFileAndEnqueues(t *testing.T) {
	ctx := context.Background()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := alertdb.NewRepository(database)
	fs := afero.NewMemMapFs()
	store := alertstore.New(repo, mapsync.New(repo), fs)
	queue := workqueue.New(repo, "mailbox-node")

	require.NoError(t, fs.MkdirAll("/incoming", 0o750))
	require.NoError(t, afero.WriteFile(fs, "/incoming/msg.eml", []byte("From: a@b.com\n\nbody"), 0o640))

	m := mailbox.New(fs, "/collection", "test-host", store, queue)
	require.NoError(t, m.Submit(ctx, "/incoming/msg.eml"))

	_, err = fs.Stat("/incoming/msg.eml")
	require.Error(t, err, "source file should have been moved, not copied")

	q := workqueue.New(repo, "worker-a")
	item, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)

	a, err := repo.GetAlertByID(ctx, item.AlertID)
	require.NoError(t, err)
	require.Equal(t, alertconst.AlertTypeMailbox, a.AlertType)

	data, err := afero.ReadFile(fs, a.StorageDir+"/email.rfc822")
	require.NoError(t, err)
	require.Contains(t, string(data), "From: a@b.com")
}

func TestScanSubmitsEveryFileInIncomingDir(t *testing.T) {
	ctx := context.Background()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := alertdb.NewRepository(database)
	fs := afero.NewMemMapFs()
	store := alertstore.New(repo, mapsync.New(repo), fs)
	queue := workqueue.New(repo, "mailbox-node")

	m := mailbox.New(fs, "/collection", "test-host", store, queue)

	require.NoError(t, fs.MkdirAll(m.IncomingDir(), 0o750))
	require.NoError(t, afero.WriteFile(fs, m.IncomingDir()+"/one.eml", []byte("From: a@b.com\n\nbody"), 0o640))
	require.NoError(t, afero.WriteFile(fs, m.IncomingDir()+"/two.eml", []byte("From: c@d.com\n\nbody"), 0o640))

	require.NoError(t, m.Scan(ctx))

	entries, err := afero.ReadDir(fs, m.IncomingDir())
	require.NoError(t, err)
	require.Empty(t, entries, "submitted files should be moved out of the incoming dir")

	q := workqueue.New(repo, "worker-a")

	var claimed int
	for {
		_, err := q.Claim(ctx)
		if err != nil {
			require.ErrorIs(t, err, workqueue.ErrEmpty)
			break
		}

		claimed++
	}

	require.Equal(t, 2, claimed)
}
