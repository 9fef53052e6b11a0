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

// Package mailbox ingests a single journaled email submitted by a mailbox
// client. Grounded on EmailScanningEngine.handle_network_item in
// original_source/lib/saq/engine/email.py.
package mailbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertstore"
	"github.com/ace-correlate/alertcore/internal/workqueue"
)

const (
	rfc822FileName = "email.rfc822"
	toolName       = "ACE - Mailbox Scanner"
	descriptionStub = "ACE Mailbox Scanner Detection - "
	rfc822Perm     = 0o640
	incomingDir     = "incoming"
)

// IncomingDir returns the directory Loop polls for newly-submitted
// messages, a subdirectory of collectionDir. handle_network_item's original
// trigger is a network listener accepting a submission directly; that
// listener isn't part of this port, so a mail delivery agent drops a
// message file here instead, and Loop picks it up on the same
// poll-and-sleep cadence bro_consumer_loop uses.
func (m *Ingestor) IncomingDir() string {
	return filepath.Join(m.collectionDir, incomingDir)
}

// Ingestor moves a single submitted email into its own alert storage
// directory and enqueues it for analysis.
type Ingestor struct {
	fs            afero.Fs
	collectionDir string
	hostname      string
	store         *alertstore.Store
	queue         *workqueue.Queue
}

// New creates an Ingestor. collectionDir is the root under which each
// alert gets its own storage_dir, hostname tags tool_instance.
func New(fs afero.Fs, collectionDir, hostname string, store *alertstore.Store, queue *workqueue.Queue) *Ingestor {
	return &Ingestor{
		fs:            fs,
		collectionDir: collectionDir,
		hostname:      hostname,
		store:         store,
		queue:         queue,
	}
}

// Submit handles one journaled email at path: move it into a new alert's
// storage_dir, tag it with the directive triplet, sync the alert, and
// enqueue it for analysis. Matches handle_network_item.
func (m *Ingestor) Submit(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("received network item")

	id := uuid.New().String()
	storageDir := filepath.Join(m.collectionDir, id[0:3], id)

	if err := m.fs.MkdirAll(storageDir, 0o750); err != nil {
		return fmt.Errorf("creating storage dir %s: %w", storageDir, err)
	}

	destPath := filepath.Join(storageDir, rfc822FileName)

	if err := m.fs.Rename(path, destPath); err != nil {
		return fmt.Errorf("moving %s to %s: %w", path, destPath, err)
	}

	if err := m.fs.Chmod(destPath, rfc822Perm); err != nil {
		log.Error().Err(err).Str("file", destPath).Msg("unable to chmod email file")
	}

	a := &alertdb.Alert{
		UUID:        id,
		StorageDir:  storageDir,
		Tool:        toolName,
		ToolInstance: m.hostname,
		AlertType:   alertconst.AlertTypeMailbox,
		Description: descriptionStub,
		EventTime:   time.Now().UTC(),
		InsertDate:  time.Now().UTC(),
		Analysis: map[string]interface{}{
			alertstore.AnalysisKeyObservables: []interface{}{
				map[string]interface{}{
					"type":  alertconst.ObservableTypeFile,
					"value": rfc822FileName,
					"directives": []string{
						alertconst.DirectiveOriginalEmail,
						alertconst.DirectiveNoScan,
						alertconst.DirectiveArchive,
					},
				},
			},
			alertstore.AnalysisKeyDetectionPoints: []interface{}{},
		},
	}

	if err := m.store.Sync(ctx, a, nil); err != nil {
		return fmt.Errorf("syncing alert %s: %w", a.UUID, err)
	}

	if err := m.queue.Enqueue(ctx, a.ID); err != nil {
		return fmt.Errorf("enqueueing alert %s: %w", a.UUID, err)
	}

	return nil
}

// Loop polls IncomingDir until ctx is cancelled, submitting every file it
// finds, sleeping pollInterval after every round. Mirrors
// brosmtp.Consumer.Loop's poll-and-sleep texture.
func (m *Ingestor) Loop(ctx context.Context, pollInterval time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := m.Scan(ctx); err != nil {
			log.Error().Err(err).Msg("unable to scan mailbox incoming directory")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// Scan submits every file currently in IncomingDir, matching the polling
// half of bro_consumer_execute's listdir-and-process loop.
func (m *Ingestor) Scan(ctx context.Context) error {
	dir := m.IncomingDir()

	if err := m.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating incoming dir %s: %w", dir, err)
	}

	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}

		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if err := m.Submit(ctx, path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("unable to submit mailbox item")
		}
	}

	return nil
}
