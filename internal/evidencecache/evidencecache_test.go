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

package evidencecache_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/evidencecache"
)

func writeEvidence(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte(contents), 0o600))
}

func TestGetMissingSnapshotReturnsErrNotFound(t *testing.T) {
	c, err := evidencecache.New(8)
	require.NoError(t, err)

	_, err = c.Get("no-such-alert", t.TempDir())
	require.True(t, errors.Is(err, evidencecache.ErrNotFound))
}

func TestGetReadsAndCachesSnapshot(t *testing.T) {
	c, err := evidencecache.New(8)
	require.NoError(t, err)

	dir := t.TempDir()
	writeEvidence(t, dir, `{"uuid":"a"}`)

	data, err := c.Get("alert-a", dir)
	require.NoError(t, err)
	require.Equal(t, `{"uuid":"a"}`, string(data))
	require.Equal(t, 1, c.Len())

	data, err = c.Get("alert-a", dir)
	require.NoError(t, err)
	require.Equal(t, `{"uuid":"a"}`, string(data))
}

func TestGetPicksUpModifiedFile(t *testing.T) {
	c, err := evidencecache.New(8)
	require.NoError(t, err)

	dir := t.TempDir()
	writeEvidence(t, dir, `{"v":1}`)

	data, err := c.Get("alert-a", dir)
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))

	// Ensure the mtime advances even on coarse filesystem clocks.
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "data.json"), future, future))
	writeEvidence(t, dir, `{"v":2}`)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "data.json"), future, future))

	data, err = c.Get("alert-a", dir)
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(data))
}

func TestInvalidateForcesReread(t *testing.T) {
	c, err := evidencecache.New(8)
	require.NoError(t, err)

	dir := t.TempDir()
	writeEvidence(t, dir, `{"v":1}`)

	_, err = c.Get("alert-a", dir)
	require.NoError(t, err)

	c.Invalidate("alert-a")
	require.Equal(t, 0, c.Len())

	writeEvidence(t, dir, `{"v":2}`)

	data, err := c.Get("alert-a", dir)
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(data))
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := evidencecache.New(1)
	require.NoError(t, err)

	dirA, dirB := t.TempDir(), t.TempDir()
	writeEvidence(t, dirA, `{"a":1}`)
	writeEvidence(t, dirB, `{"b":1}`)

	_, err = c.Get("alert-a", dirA)
	require.NoError(t, err)
	_, err = c.Get("alert-b", dirB)
	require.NoError(t, err)

	require.Equal(t, 1, c.Len())
}
