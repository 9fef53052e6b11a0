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

// Package alertdb holds the Alert aggregate's row representation and the
// repository methods that persist it, plus the interned Tag/Observable/
// ProfilePoint dictionaries and the workload/delayed-analysis tables named
// in spec.md §3 and §6.
package alertdb

import (
	"database/sql"
	"time"

	"github.com/ace-correlate/alertcore/internal/alertconst"
)

// Alert is the central aggregate described in spec.md §3: a database row
// plus (by convention, not by field) an on-disk storage directory and JSON
// snapshot living at StorageDir.
type Alert struct {
	ID        int64
	UUID      string
	StorageDir string
	Location  string

	Tool         string
	ToolInstance string
	AlertType    string
	Description  string
	Priority     int
	EventTime    time.Time
	InsertDate   time.Time

	Disposition       alertconst.Disposition
	DispositionUserID sql.NullInt64
	DispositionTime   sql.NullTime

	OwnerID       sql.NullInt64
	OwnerTime     sql.NullTime
	RemovalUserID sql.NullInt64
	RemovalTime   sql.NullTime
	Archived      bool

	LockOwner         sql.NullString
	LockID            sql.NullString
	LockTransactionID sql.NullString
	LockTime          sql.NullTime

	DetectionCount int
	CompanyID      sql.NullInt64
	CompanyName    string

	// Analysis holds the arbitrary RootAnalysis JSON tree that accompanies
	// the row fields above in the on-disk snapshot. It is opaque to alertdb;
	// internal/alertstore is the only package that interprets it.
	Analysis map[string]interface{}
}

// IsLocked reports whether the row, as last read, carries a lock token.
// This is a pure field check; internal/alertlock is the authority on
// whether that token is still within the configured timeout.
func (a *Alert) IsLocked() bool {
	return a.LockID.Valid && a.LockTime.Valid
}

// Tag is an interned textual label, per spec.md §3.
type Tag struct {
	ID   int64
	Name string
}

// Observable is an interned (type, value) pair of evidence, per spec.md §3.
type Observable struct {
	ID    int64
	Type  string
	Value string
}

// ProfilePoint is a curated description tied to alerts via a many-to-many
// mapping, per spec.md §3.
type ProfilePoint struct {
	ID          int64
	Description string
}

// WorkloadItem is an outstanding request for an analysis worker to process
// an alert, per spec.md §3 and §4.5. Node is empty when unclaimed.
type WorkloadItem struct {
	ID      int64
	AlertID int64
	Node    string
}

// DelayedAnalysis records that analysis of an observable is pending for a
// named module, per spec.md §3.
type DelayedAnalysis struct {
	AlertID        int64
	ObservableID   int64
	AnalysisModule string
}
