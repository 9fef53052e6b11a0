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

// Package evidencecache provides read-through access to each alert's
// on-disk data.json evidence snapshot (spec.md §6's storage directory
// layout), so repeated reads of the same alert don't re-read the file while
// its mtime is unchanged; every read still stats it. Adapted from the teacher's internal/cache.FileCache,
// repurposed from a generic disk blob cache keyed by an arbitrary string
// into an index over alert evidence keyed by alert UUID.
package evidencecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotFound is returned by Get when the alert's storage directory holds no
// data.json file.
var ErrNotFound = errors.New("evidencecache: no snapshot indexed for alert")

const evidenceFileName = "data.json"

type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// entry is the cached evidence: the raw data.json bytes plus the mtime it
// was read at, so Get can cheaply decide whether a disk re-read is needed.
type entry struct {
	data  []byte
	mtime int64
}

// Cache is an in-memory LRU of alert evidence snapshots, keyed by alert
// UUID, backed by each alert's storage_dir/data.json file.
type Cache struct {
	index *lru.Cache[string, entry]
	stats cacheStats
	mu    sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

// WithMetricMeter wires cache hit/miss/error counters into meter, matching
// the teacher's WithMetricMeter wiring in internal/cache/file.go.
func WithMetricMeter(meter metric.Meter) Option {
	return func(c *Cache) {
		hits := attribute.String("type", "hits")
		misses := attribute.String("type", "misses")
		errs := attribute.String("type", "errors")

		must(meter.Int64ObservableCounter("evidencecache.usage",
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(c.stats.hits.Load(), metric.WithAttributes(hits))
				o.Observe(c.stats.misses.Load(), metric.WithAttributes(misses))
				o.Observe(c.stats.errors.Load(), metric.WithAttributes(errs))

				return nil
			})))
	}
}

// New creates a Cache holding up to size indexed evidence snapshots.
func New(size int, opts ...Option) (*Cache, error) {
	index, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}

	c := &Cache{index: index}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get returns the data.json bytes for alertUUID stored under storageDir,
// serving from the in-memory index when the file's mtime has not advanced
// since it was last read, and re-reading from disk otherwise.
func (c *Cache) Get(alertUUID, storageDir string) ([]byte, error) {
	path := filepath.Join(storageDir, evidenceFileName)

	stat, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		c.stats.misses.Add(1)
		return nil, fmt.Errorf("%s: %w", alertUUID, ErrNotFound)
	}

	if err != nil {
		c.stats.errors.Add(1)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	c.mu.Lock()
	cached, ok := c.index.Get(alertUUID)
	c.mu.Unlock()

	if ok && cached.mtime == stat.ModTime().UnixNano() {
		c.stats.hits.Add(1)
		return cached.data, nil
	}

	c.stats.misses.Add(1)

	//nolint:gosec // path is built from a configured storage_dir, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		c.stats.errors.Add(1)
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c.mu.Lock()
	c.index.Add(alertUUID, entry{data: data, mtime: stat.ModTime().UnixNano()})
	c.mu.Unlock()

	return data, nil
}

// Invalidate drops any cached snapshot for alertUUID, used after
// AlertStore.Sync rewrites data.json so the next Get re-reads it.
func (c *Cache) Invalidate(alertUUID string) {
	c.mu.Lock()
	c.index.Remove(alertUUID)
	c.mu.Unlock()
}

// Len returns the number of alerts currently indexed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.index.Len()
}
