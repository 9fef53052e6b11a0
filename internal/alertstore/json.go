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

package alertstore

import (
	"encoding/json"
	"time"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
)

// jsonView is the on-disk shape written to data.json: the database-owned
// fields named by Alert.KEY_* in the original, plus the opaque analysis
// tree, matching Alert.json's getter.
type jsonView struct {
	DatabaseID        int64                  `json:"database_id"`
	Priority          int                    `json:"priority"`
	Disposition       string                 `json:"disposition,omitempty"`
	DispositionUserID *int64                 `json:"disposition_user_id,omitempty"`
	DispositionTime   *time.Time             `json:"disposition_time,omitempty"`
	OwnerID           *int64                 `json:"owner_id,omitempty"`
	OwnerTime         *time.Time             `json:"owner_time,omitempty"`
	RemovalUserID     *int64                 `json:"removal_user_id,omitempty"`
	RemovalTime       *time.Time             `json:"removal_time,omitempty"`
	Analysis          map[string]interface{} `json:"analysis,omitempty"`
}

func toJSONView(a *alertdb.Alert) jsonView {
	v := jsonView{
		DatabaseID:  a.ID,
		Priority:    a.Priority,
		Disposition: string(a.Disposition),
		Analysis:    a.Analysis,
	}

	if a.DispositionUserID.Valid {
		v.DispositionUserID = &a.DispositionUserID.Int64
	}

	if a.DispositionTime.Valid {
		v.DispositionTime = &a.DispositionTime.Time
	}

	if a.OwnerID.Valid {
		v.OwnerID = &a.OwnerID.Int64
	}

	if a.OwnerTime.Valid {
		v.OwnerTime = &a.OwnerTime.Time
	}

	if a.RemovalUserID.Valid {
		v.RemovalUserID = &a.RemovalUserID.Int64
	}

	if a.RemovalTime.Valid {
		v.RemovalTime = &a.RemovalTime.Time
	}

	return v
}

// ApplySnapshot loads a data.json payload into a, matching Alert.json's
// setter: a field is only assigned when currently unset on a, so
// re-loading a snapshot never clobbers in-memory edits made since the last
// write.
func ApplySnapshot(a *alertdb.Alert, data []byte) error {
	var v jsonView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	if a.ID == 0 {
		a.ID = v.DatabaseID
	}

	if a.Priority == 0 {
		a.Priority = v.Priority
	}

	if a.Disposition == "" && v.Disposition != "" {
		a.Disposition = alertconst.Disposition(v.Disposition)
	}

	if !a.DispositionUserID.Valid && v.DispositionUserID != nil {
		a.DispositionUserID.Int64 = *v.DispositionUserID
		a.DispositionUserID.Valid = true
	}

	if !a.DispositionTime.Valid && v.DispositionTime != nil {
		a.DispositionTime.Time = *v.DispositionTime
		a.DispositionTime.Valid = true
	}

	if !a.OwnerID.Valid && v.OwnerID != nil {
		a.OwnerID.Int64 = *v.OwnerID
		a.OwnerID.Valid = true
	}

	if !a.OwnerTime.Valid && v.OwnerTime != nil {
		a.OwnerTime.Time = *v.OwnerTime
		a.OwnerTime.Valid = true
	}

	if !a.RemovalUserID.Valid && v.RemovalUserID != nil {
		a.RemovalUserID.Int64 = *v.RemovalUserID
		a.RemovalUserID.Valid = true
	}

	if !a.RemovalTime.Valid && v.RemovalTime != nil {
		a.RemovalTime.Time = *v.RemovalTime
		a.RemovalTime.Valid = true
	}

	if a.Analysis == nil {
		a.Analysis = v.Analysis
	}

	return nil
}
