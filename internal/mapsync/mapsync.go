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

// Package mapsync maintains idempotent many-to-many mappings between an
// alert and its tags, observables, and profile points, per spec.md §4.3.
// Grounded line-for-line on Alert.sync_tag_mapping / sync_observable_mapping
// / sync_profile_points / build_index / rebuild_index in
// original_source/lib/saq/database.py.
package mapsync

import (
	"context"
	"fmt"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/obs"
	"github.com/ace-correlate/alertcore/internal/sqlretry"
)

// maxInternIterations bounds the select-then-insert-ignore loop used to
// intern a new tag/observable, per spec.md §4.3's "cap loop at 3
// iterations to bound contention".
const maxInternIterations = 3

// Synchronizer maintains idempotent set membership in the alert↔tag,
// alert↔observable, and alert↔profile-point mapping tables.
type Synchronizer struct {
	repo    *alertdb.Repository
	metrics *obs.Metrics
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithMetrics reports interned-row and linked-edge counts to m.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// New creates a Synchronizer over repo.
func New(repo *alertdb.Repository, opts ...Option) *Synchronizer {
	s := &Synchronizer{repo: repo}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SyncTagMapping interns name if necessary and links it to alertID,
// matching Alert.sync_tag_mapping.
func (s *Synchronizer) SyncTagMapping(ctx context.Context, alertID int64, name string) error {
	tagID, err := s.internTag(ctx, name)
	if err != nil {
		return fmt.Errorf("interning tag %q: %w", name, err)
	}

	err = sqlretry.WithRetry(ctx, sqlretry.DefaultMaxRetries, func() error {
		err := s.repo.InsertTagMapping(ctx, alertID, tagID)
		if err != nil && sqlretry.IsDuplicateKey(err) {
			return nil
		}

		return err
	})
	if err != nil {
		return fmt.Errorf("mapping alert %d to tag %q: %w", alertID, name, err)
	}

	s.metrics.IncMappingLinked()

	return nil
}

func (s *Synchronizer) internTag(ctx context.Context, name string) (int64, error) {
	for i := 0; i < maxInternIterations; i++ {
		if id, ok, err := s.repo.GetTagIDByName(ctx, name); err != nil {
			return 0, err
		} else if ok {
			return id, nil
		}

		err := s.repo.InsertTagIgnore(ctx, name)
		if err != nil && !sqlretry.IsDuplicateKey(err) {
			return 0, err
		}

		if err == nil {
			s.metrics.IncMappingInterned()
		}
		// Either we won the insert, or someone else did (duplicate-key);
		// either way loop back around and SELECT to discover the id.
	}

	return 0, fmt.Errorf("could not intern tag %q after %d attempts", name, maxInternIterations)
}

// SyncObservableMapping interns the (type, value) pair if necessary and
// links it to alertID, matching Alert.sync_observable_mapping.
func (s *Synchronizer) SyncObservableMapping(ctx context.Context, alertID int64, obsType, value string) error {
	obsID, err := s.internObservable(ctx, obsType, value)
	if err != nil {
		return fmt.Errorf("interning observable %s:%q: %w", obsType, value, err)
	}

	err = sqlretry.WithRetry(ctx, sqlretry.DefaultMaxRetries, func() error {
		err := s.repo.InsertObservableMapping(ctx, alertID, obsID)
		if err != nil && sqlretry.IsDuplicateKey(err) {
			return nil
		}

		return err
	})
	if err != nil {
		return fmt.Errorf("mapping alert %d to observable %s:%q: %w", alertID, obsType, value, err)
	}

	s.metrics.IncMappingLinked()

	return nil
}

func (s *Synchronizer) internObservable(ctx context.Context, obsType, value string) (int64, error) {
	for i := 0; i < maxInternIterations; i++ {
		if id, ok, err := s.repo.GetObservableID(ctx, obsType, value); err != nil {
			return 0, err
		} else if ok {
			return id, nil
		}

		err := s.repo.InsertObservableIgnore(ctx, obsType, value)
		if err != nil && !sqlretry.IsDuplicateKey(err) {
			return 0, err
		}

		if err == nil {
			s.metrics.IncMappingInterned()
		}
	}

	return 0, fmt.Errorf("could not intern observable %s:%q after %d attempts", obsType, value, maxInternIterations)
}

// SyncProfilePoints reconciles the pp_alert_mapping rows for alertID
// against wantDescriptions (the alert's current in-memory profile point
// collection), inserting additions and deleting removals in two passes, per
// spec.md §4.3: "profile points are pre-existing; sync loads the ids by
// description, then the mapping is treated as a set diff".
func (s *Synchronizer) SyncProfilePoints(ctx context.Context, alertID int64, wantDescriptions []string) error {
	want := make(map[int64]bool, len(wantDescriptions))

	for _, desc := range wantDescriptions {
		id, ok, err := s.repo.GetProfilePointIDByDescription(ctx, desc)
		if err != nil {
			return fmt.Errorf("looking up profile point %q: %w", desc, err)
		}

		if !ok {
			// Profile points are pre-existing dictionaries; an unknown
			// description is skipped rather than interned.
			continue
		}

		want[id] = true
	}

	have, err := s.repo.ListProfilePointMapping(ctx, alertID)
	if err != nil {
		return fmt.Errorf("listing profile point mapping for alert %d: %w", alertID, err)
	}

	haveSet := make(map[int64]bool, len(have))
	for _, id := range have {
		haveSet[id] = true
	}

	for id := range want {
		if !haveSet[id] {
			if err := s.repo.InsertProfilePointMapping(ctx, alertID, id); err != nil && !sqlretry.IsDuplicateKey(err) {
				return fmt.Errorf("adding profile point %d to alert %d: %w", id, alertID, err)
			}
		}
	}

	for id := range haveSet {
		if !want[id] {
			if err := s.repo.DeleteProfilePointMapping(ctx, alertID, id); err != nil {
				return fmt.Errorf("removing profile point %d from alert %d: %w", id, alertID, err)
			}
		}
	}

	return nil
}

// BuildIndex refreshes every mapping table for alertID from the given
// in-memory collections, so afterwards the tables contain exactly the set
// of edges the collections imply (spec.md §4.3's build_index invariant).
// It is idempotent: calling it twice with the same inputs leaves the tables
// unchanged, since each sync step is itself idempotent.
func (s *Synchronizer) BuildIndex(ctx context.Context, alertID int64, tags []string, observables []Observable, profilePoints []string) error {
	for _, tag := range tags {
		if err := s.SyncTagMapping(ctx, alertID, tag); err != nil {
			return err
		}
	}

	for _, obs := range observables {
		if err := s.SyncObservableMapping(ctx, alertID, obs.Type, obs.Value); err != nil {
			return err
		}
	}

	return s.SyncProfilePoints(ctx, alertID, profilePoints)
}

// RebuildIndex is "delete mappings for alert_id; build_index()", per
// spec.md §4.3.
func (s *Synchronizer) RebuildIndex(ctx context.Context, alertID int64, tags []string, observables []Observable, profilePoints []string) error {
	if err := s.repo.DeleteAllTagMapping(ctx, alertID); err != nil {
		return fmt.Errorf("clearing tag mapping for alert %d: %w", alertID, err)
	}

	if err := s.repo.DeleteAllObservableMapping(ctx, alertID); err != nil {
		return fmt.Errorf("clearing observable mapping for alert %d: %w", alertID, err)
	}

	have, err := s.repo.ListProfilePointMapping(ctx, alertID)
	if err != nil {
		return fmt.Errorf("listing profile point mapping for alert %d: %w", alertID, err)
	}

	for _, id := range have {
		if err := s.repo.DeleteProfilePointMapping(ctx, alertID, id); err != nil {
			return fmt.Errorf("clearing profile point mapping for alert %d: %w", alertID, err)
		}
	}

	return s.BuildIndex(ctx, alertID, tags, observables, profilePoints)
}

// Observable is the (type, value) pair used by BuildIndex/RebuildIndex.
type Observable struct {
	Type  string
	Value string
}
