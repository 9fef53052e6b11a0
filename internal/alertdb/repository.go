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

package alertdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ace-correlate/alertcore/internal/alertconst"
)

// Repository is a thin *sql.DB wrapper providing the CRUD operations the
// rest of alertcore needs against the alerts table and its interned
// dictionaries.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for packages (alertlock, mapsync) that
// issue their own tightly-coupled SQL against the alerts row.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// InsertAlert inserts a new alert row and assigns its id, matching
// Alert.insert() in original_source/lib/saq/database.py.
func (r *Repository) InsertAlert(ctx context.Context, a *Alert) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (
			uuid, storage_dir, location, tool, tool_instance, alert_type,
			description, priority, event_time, insert_date, disposition,
			detection_count, company_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UUID, a.StorageDir, a.Location, a.Tool, a.ToolInstance, a.AlertType,
		a.Description, a.Priority, a.EventTime, a.InsertDate, string(a.Disposition),
		a.DetectionCount, a.CompanyID,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted alert id: %w", err)
	}

	a.ID = id

	return nil
}

// GetAlertByID loads an alert row by its surrogate id.
func (r *Repository) GetAlertByID(ctx context.Context, id int64) (*Alert, error) {
	return r.scanAlert(r.db.QueryRowContext(ctx, alertSelectColumns+` WHERE id = ?`, id))
}

// GetAlertByUUID loads an alert row by its UUID.
func (r *Repository) GetAlertByUUID(ctx context.Context, uuid string) (*Alert, error) {
	return r.scanAlert(r.db.QueryRowContext(ctx, alertSelectColumns+` WHERE uuid = ?`, uuid))
}

// ListAlertIDs returns every alert's surrogate id, oldest first. Used by
// bulk maintenance operations (the reindex CLI command) that walk the
// entire alerts table rather than a single row.
func (r *Repository) ListAlertIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM alerts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing alert ids: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning alert id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

const alertSelectColumns = `
	SELECT id, uuid, storage_dir, location, tool, tool_instance, alert_type,
		description, priority, event_time, insert_date, disposition,
		disposition_user_id, disposition_time, owner_id, owner_time,
		removal_user_id, removal_time, archived, lock_owner, lock_id,
		lock_transaction_id, lock_time, detection_count, company_id
	FROM alerts`

func (r *Repository) scanAlert(row *sql.Row) (*Alert, error) {
	a := &Alert{}

	var disposition string

	err := row.Scan(
		&a.ID, &a.UUID, &a.StorageDir, &a.Location, &a.Tool, &a.ToolInstance, &a.AlertType,
		&a.Description, &a.Priority, &a.EventTime, &a.InsertDate, &disposition,
		&a.DispositionUserID, &a.DispositionTime, &a.OwnerID, &a.OwnerTime,
		&a.RemovalUserID, &a.RemovalTime, &a.Archived, &a.LockOwner, &a.LockID,
		&a.LockTransactionID, &a.LockTime, &a.DetectionCount, &a.CompanyID,
	)
	if err != nil {
		return nil, err
	}

	a.Disposition = alertconst.Disposition(disposition)

	return a, nil
}

// UpdateAlert persists the mutable fields of an already-inserted alert row
// by id, the Go equivalent of a second `session.add(self); session.commit()`
// against a SQLAlchemy-tracked object that already has a primary key:
// Alert.insert() is a single method in the original, but its "insert a new
// row" and "flush pending changes to an existing row" cases are distinct
// operations in a raw-SQL port.
func (r *Repository) UpdateAlert(ctx context.Context, a *Alert) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET
			priority = ?, disposition = ?, disposition_user_id = ?, disposition_time = ?,
			owner_id = ?, owner_time = ?, removal_user_id = ?, removal_time = ?,
			archived = ?, detection_count = ?, company_id = ?
		WHERE id = ?`,
		a.Priority, string(a.Disposition), a.DispositionUserID, a.DispositionTime,
		a.OwnerID, a.OwnerTime, a.RemovalUserID, a.RemovalTime,
		a.Archived, a.DetectionCount, a.CompanyID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert %d: %w", a.ID, err)
	}

	return nil
}

// ResolveCompanyID looks up a company id by name, matching the company_name
// resolution step in Alert.sync().
func (r *Repository) ResolveCompanyID(ctx context.Context, name string) (int64, bool, error) {
	var id int64

	err := r.db.QueryRowContext(ctx, `SELECT id FROM company WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// --- Tags ---

// GetTagIDByName returns a tag's id, if interned.
func (r *Repository) GetTagIDByName(ctx context.Context, name string) (int64, bool, error) {
	var id int64

	err := r.db.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// InsertTagIgnore interns a new tag name. Duplicate-key errors are the
// caller's responsibility to classify via internal/sqlretry.
func (r *Repository) InsertTagIgnore(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?)`, name)
	return err
}

// InsertTagMapping links an alert to a tag. Duplicate-key is success.
func (r *Repository) InsertTagMapping(ctx context.Context, alertID, tagID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO tag_mapping (alert_id, tag_id) VALUES (?, ?)`, alertID, tagID)
	return err
}

// ListTagMapping returns the tag ids currently mapped to an alert.
func (r *Repository) ListTagMapping(ctx context.Context, alertID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT tag_id FROM tag_mapping WHERE alert_id = ?`, alertID)
}

// DeleteAllTagMapping removes every tag edge for an alert (used by
// rebuild_index).
func (r *Repository) DeleteAllTagMapping(ctx context.Context, alertID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tag_mapping WHERE alert_id = ?`, alertID)
	return err
}

// --- Observables ---

// GetObservableID returns an observable's id, if interned.
func (r *Repository) GetObservableID(ctx context.Context, obsType, value string) (int64, bool, error) {
	var id int64

	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM observables WHERE type = ? AND value = ?`, obsType, value,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// InsertObservableIgnore interns a new (type, value) observable.
func (r *Repository) InsertObservableIgnore(ctx context.Context, obsType, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO observables (type, value) VALUES (?, ?)`, obsType, value)
	return err
}

// InsertObservableMapping links an alert to an observable. Duplicate-key is
// success.
func (r *Repository) InsertObservableMapping(ctx context.Context, alertID, observableID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO observable_mapping (alert_id, observable_id) VALUES (?, ?)`, alertID, observableID)
	return err
}

// ListObservableMapping returns the observable ids currently mapped to an
// alert.
func (r *Repository) ListObservableMapping(ctx context.Context, alertID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT observable_id FROM observable_mapping WHERE alert_id = ?`, alertID)
}

// DeleteAllObservableMapping removes every observable edge for an alert.
func (r *Repository) DeleteAllObservableMapping(ctx context.Context, alertID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM observable_mapping WHERE alert_id = ?`, alertID)
	return err
}

// --- Profile points ---

// GetProfilePointIDByDescription returns a profile point's id by its
// (pre-existing, not interned-on-demand) description.
func (r *Repository) GetProfilePointIDByDescription(ctx context.Context, description string) (int64, bool, error) {
	var id int64

	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM profile_points WHERE description = ?`, description,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return id, true, nil
}

// InsertProfilePointMapping links an alert to a profile point.
func (r *Repository) InsertProfilePointMapping(ctx context.Context, alertID, ppID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pp_alert_mapping (alert_id, profile_point_id) VALUES (?, ?)`, alertID, ppID)
	return err
}

// ListProfilePointMapping returns the profile point ids currently mapped to
// an alert.
func (r *Repository) ListProfilePointMapping(ctx context.Context, alertID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT profile_point_id FROM pp_alert_mapping WHERE alert_id = ?`, alertID)
}

// DeleteProfilePointMapping removes a single alert/profile-point edge.
func (r *Repository) DeleteProfilePointMapping(ctx context.Context, alertID, ppID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pp_alert_mapping WHERE alert_id = ? AND profile_point_id = ?`, alertID, ppID)
	return err
}

func queryIDs(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// --- Workload ---

// EnqueueWorkload inserts an unclaimed workload row for alertID, matching
// add_sql_work_item in original_source/lib/saq/database.py.
func (r *Repository) EnqueueWorkload(ctx context.Context, alertID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO workload (alert_id, node) VALUES (?, NULL)`, alertID)
	return err
}

// ClaimWorkload atomically assigns one unclaimed workload row to node and
// returns it, matching the select-then-update pattern spec.md §4.5 names.
func (r *Repository) ClaimWorkload(ctx context.Context, node string) (*WorkloadItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	var item WorkloadItem

	err = tx.QueryRowContext(ctx,
		`SELECT id, alert_id FROM workload WHERE node IS NULL ORDER BY id LIMIT 1`,
	).Scan(&item.ID, &item.AlertID)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE workload SET node = ? WHERE id = ? AND node IS NULL`, node, item.ID)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		// Another worker claimed it between the select and the update; the
		// caller should retry.
		return nil, nil
	}

	item.Node = node

	return &item, tx.Commit()
}

// ReleaseWorkload clears a workload row's node assignment, returning it to
// the unclaimed pool.
func (r *Repository) ReleaseWorkload(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workload SET node = NULL WHERE id = ?`, id)
	return err
}

// DeleteWorkload removes a workload row once its alert has been fully
// processed.
func (r *Repository) DeleteWorkload(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workload WHERE id = ?`, id)
	return err
}

// --- Delayed analysis ---

// TrackDelayedAnalysisStart records that analysis of observableID is
// pending for module, matching track_delayed_analysis_start.
func (r *Repository) TrackDelayedAnalysisStart(ctx context.Context, alertID, observableID int64, module string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delayed_analysis (alert_id, observable_id, analysis_module) VALUES (?, ?, ?)`,
		alertID, observableID, module)
	return err
}

// TrackDelayedAnalysisStop clears a pending delayed-analysis record,
// matching track_delayed_analysis_stop.
func (r *Repository) TrackDelayedAnalysisStop(ctx context.Context, alertID, observableID int64, module string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM delayed_analysis WHERE alert_id = ? AND observable_id = ? AND analysis_module = ?`,
		alertID, observableID, module)
	return err
}

// IsDelayed reports whether any delayed-analysis record remains for the
// alert, matching the Alert.delayed property.
func (r *Repository) IsDelayed(ctx context.Context, alertID int64) (bool, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delayed_analysis WHERE alert_id = ?`, alertID).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
