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

// Package conncache implements the per-(process,thread) database connection
// cache described in spec.md §4.1: opt-in per-worker caching of named
// *sql.DB handles, with rollback-probe validation on reuse and guaranteed
// release on scope exit.
package conncache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Opener creates a fresh connection for a logical database name. Callers
// supply this so the cache stays driver-agnostic.
type Opener func(name string) (*sql.DB, error)

// WorkerIdentity stands in for the original's (pid, tid) pair. Go has no
// native thread id, so identity is an explicit token the caller creates
// once per OS-thread-pinned worker goroutine (conventionally right after
// runtime.LockOSThread) and passes to every cache call it makes.
type WorkerIdentity struct {
	pid int
	tid int64
}

var identitySeq struct {
	mu   sync.Mutex
	next int64
}

// NewWorkerIdentity allocates an identity scoped to the current OS process.
// Each call yields a distinct identity, standing in for a distinct thread.
func NewWorkerIdentity() WorkerIdentity {
	identitySeq.mu.Lock()
	identitySeq.next++
	tid := identitySeq.next
	identitySeq.mu.Unlock()

	return WorkerIdentity{pid: os.Getpid(), tid: tid}
}

type cacheKey struct {
	pid  int
	tid  int64
	name string
}

// Cache is the per-(pid,tid) registry of open database handles, one per
// logical database name, described in spec.md §4.1.
type Cache struct {
	open Opener

	mu      sync.Mutex
	enabled map[WorkerIdentity]bool
	handles map[cacheKey]*sql.DB
}

// New creates a Cache that opens fresh connections through open.
func New(open Opener) *Cache {
	return &Cache{
		open:    open,
		enabled: make(map[WorkerIdentity]bool),
		handles: make(map[cacheKey]*sql.DB),
	}
}

// Enable marks id as caching-enabled.
func (c *Cache) Enable(id WorkerIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled[id] = true
}

// Disable closes and removes every cached handle for id, then unmarks it.
func (c *Cache) Disable(id WorkerIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, db := range c.handles {
		if key.pid == id.pid && key.tid == id.tid {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Str("name", key.name).Msg("closing cached connection on disable")
			}

			delete(c.handles, key)
		}
	}

	delete(c.enabled, id)
}

// Acquire returns the database handle named name for id. If caching is
// disabled for id, a fresh connection is opened and returned without being
// cached. If enabled, a cached handle is reused after passing a rollback
// probe; a handle that fails the probe is closed, evicted, and replaced.
func (c *Cache) Acquire(id WorkerIdentity, name string) (*sql.DB, error) {
	c.mu.Lock()
	enabled := c.enabled[id]
	c.mu.Unlock()

	if !enabled {
		return c.open(name)
	}

	key := cacheKey{pid: id.pid, tid: id.tid, name: name}

	c.mu.Lock()
	db, ok := c.handles[key]
	c.mu.Unlock()

	if ok {
		if probe(db) {
			return db, nil
		}

		c.mu.Lock()
		delete(c.handles, key)
		c.mu.Unlock()

		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("name", name).Msg("closing stale cached connection")
		}
	}

	fresh, err := c.open(name)
	if err != nil {
		return nil, fmt.Errorf("opening connection %q: %w", name, err)
	}

	c.mu.Lock()
	c.handles[key] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// probe issues a no-op transaction against db to validate the handle is
// still usable, matching the "rollback probe" spec.md §4.1 describes.
func probe(db *sql.DB) bool {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return false
	}

	if err := tx.Rollback(); err != nil {
		return false
	}

	return true
}

// Scoped is a guarded handle whose Release runs on scope exit: on success,
// nothing; on failure, rollback the cached handle if caching is enabled for
// id, else close the freshly-opened one. Errors during the cleanup rollback
// are logged and swallowed so the original failure surfaces.
type Scoped struct {
	cache  *Cache
	id     WorkerIdentity
	name   string
	DB     *sql.DB
	cached bool
}

// Acquire the same handle Cache.Acquire would, plus scope metadata needed
// by Release.
func (c *Cache) ScopedAcquire(id WorkerIdentity, name string) (*Scoped, error) {
	c.mu.Lock()
	enabled := c.enabled[id]
	c.mu.Unlock()

	db, err := c.Acquire(id, name)
	if err != nil {
		return nil, err
	}

	return &Scoped{cache: c, id: id, name: name, DB: db, cached: enabled}, nil
}

// Release runs the scope-exit policy described in spec.md §4.1: if err is
// nil, do nothing (the caller already committed whatever it needed to). If
// err is non-nil, roll back when the handle is cached (so a future Acquire
// can reuse it cleanly) or close it outright when it was a one-shot
// connection.
func (s *Scoped) Release(err error) {
	if err == nil {
		return
	}

	if s.cached {
		// Best-effort rollback of whatever transaction state is pending on the
		// cached handle, mirroring the original's connection.rollback() on
		// scope exit. A handle with nothing pending simply no-ops here.
		if _, rErr := s.DB.Exec("ROLLBACK"); rErr != nil {
			log.Debug().Err(rErr).Str("name", s.name).Msg("rollback during scoped release had nothing to undo")
		}

		return
	}

	if cErr := s.DB.Close(); cErr != nil {
		log.Warn().Err(cErr).Str("name", s.name).Msg("close during scoped release failed")
	}
}
