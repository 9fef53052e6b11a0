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

// Package curation implements the analyst-curated entities that group
// alerts into incidents: events, campaigns, malware families and their
// threat categories, company scoping, remediation actions, and comments.
// Grounded on the SQLAlchemy models of the same names in
// original_source/lib/saq/database.py.
package curation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ace-correlate/alertcore/internal/alertconst"
)

// User is an analyst account, matching the User model.
type User struct {
	ID          int64
	Username    string
	Email       string
	DisplayName sql.NullString
}

// Company scopes an event to the organization(s) it affected, matching the
// Company model.
type Company struct {
	ID   int64
	Name string
}

// Campaign groups related events under a named threat campaign, matching
// the Campaign model.
type Campaign struct {
	ID   int64
	Name string
}

// Malware identifies a malware family, matching the Malware model.
type Malware struct {
	ID   int64
	Name string
}

// Threat is a behavioral category associated with a Malware family,
// matching the malware_threat_mapping model.
type Threat struct {
	ID        int64
	MalwareID int64
	Type      string
}

// Event is an analyst-curated incident grouping one or more alerts,
// matching the Event model.
type Event struct {
	ID           int64
	Name         string
	CampaignID   sql.NullInt64
	Status       string
	CreationDate time.Time
}

// Wiki builds the MediaWiki deep link for the event, matching Event.wiki:
// domain is saq.CONFIG['mediawiki']['domain'] (internal/config's
// MediaWikiConfig.Domain), and both the date and the event name have their
// spaces replaced with '+' to survive the URL's query-like path segment.
func (e *Event) Wiki(domain string) string {
	date := strings.ReplaceAll(e.CreationDate.Format("20060102"), " ", "+")
	name := strings.ReplaceAll(e.Name, " ", "+")

	return fmt.Sprintf("%sdisplay/integral/%s+%s", domain, date, name)
}

// Remediation is a remediation action taken against an alert, matching the
// Remediation model.
type Remediation struct {
	ID         int64
	AlertID    int64
	UserID     sql.NullInt64
	Type       string
	Status     string
	InsertDate time.Time
}

// Comment is an analyst note attached to an alert, matching the Comment
// model.
type Comment struct {
	ID         int64
	AlertID    int64
	UserID     sql.NullInt64
	Comment    string
	InsertDate time.Time
}

// Repository is a thin *sql.DB wrapper over the curation tables.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// --- Users ---

// InsertUser creates an analyst account and assigns its id.
func (r *Repository) InsertUser(ctx context.Context, u *User) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email, display_name) VALUES (?, ?, ?)`,
		u.Username, u.Email, u.DisplayName)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted user id: %w", err)
	}

	return nil
}

// GetUserByID loads an analyst account by id.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u := &User{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, display_name FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// --- Companies, campaigns, malware, threats ---

// InsertCompany interns a company name.
func (r *Repository) InsertCompany(ctx context.Context, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO company (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting company: %w", err)
	}

	return res.LastInsertId()
}

// InsertCampaign interns a campaign name, matching the Campaign model.
func (r *Repository) InsertCampaign(ctx context.Context, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO campaign (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting campaign: %w", err)
	}

	return res.LastInsertId()
}

// InsertMalware interns a malware family name, matching the Malware model.
func (r *Repository) InsertMalware(ctx context.Context, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO malware (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting malware: %w", err)
	}

	return res.LastInsertId()
}

// InsertThreat associates a behavioral category with a malware family,
// matching malware_threat_mapping.
func (r *Repository) InsertThreat(ctx context.Context, malwareID int64, threatType string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO threat (malware_id, type) VALUES (?, ?)`, malwareID, threatType)
	if err != nil {
		return 0, fmt.Errorf("inserting threat: %w", err)
	}

	return res.LastInsertId()
}

// ThreatsForMalware returns the behavioral categories recorded against a
// malware family, matching Event.threats' iteration over mal.threats.
func (r *Repository) ThreatsForMalware(ctx context.Context, malwareID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type FROM threat WHERE malware_id = ?`, malwareID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string

	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}

		types = append(types, t)
	}

	return types, rows.Err()
}

// --- Events ---

// InsertEvent creates an event and assigns its id, matching the Event
// model.
func (r *Repository) InsertEvent(ctx context.Context, e *Event) error {
	if e.CreationDate.IsZero() {
		e.CreationDate = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO events (name, campaign_id, status, creation_date) VALUES (?, ?, ?, ?)`,
		e.Name, e.CampaignID, e.Status, e.CreationDate)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted event id: %w", err)
	}

	return nil
}

// GetEventByID loads an event by id.
func (r *Repository) GetEventByID(ctx context.Context, id int64) (*Event, error) {
	e := &Event{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, campaign_id, status, creation_date FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.CampaignID, &e.Status, &e.CreationDate)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// MapEventToAlert links an alert into an event, matching EventMapping.
func (r *Repository) MapEventToAlert(ctx context.Context, eventID, alertID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_mapping (event_id, alert_id) VALUES (?, ?)`, eventID, alertID)
	return err
}

// MapEventToCompany scopes an event to a company, matching CompanyMapping.
func (r *Repository) MapEventToCompany(ctx context.Context, eventID, companyID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO company_mapping (event_id, company_id) VALUES (?, ?)`, eventID, companyID)
	return err
}

// MapEventToMalware attributes a malware family to an event, matching
// MalwareMapping.
func (r *Repository) MapEventToMalware(ctx context.Context, eventID, malwareID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO malware_mapping (event_id, malware_id) VALUES (?, ?)`, eventID, malwareID)
	return err
}

// CompanyNamesForEvent returns the companies scoped to an event, matching
// Event.company_names.
func (r *Repository) CompanyNamesForEvent(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT company.name FROM company_mapping
		JOIN company ON company.id = company_mapping.company_id
		WHERE company_mapping.event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// MalwareNamesForEvent returns the malware families attributed to an event,
// matching Event.malware_names.
func (r *Repository) MalwareNamesForEvent(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT malware.name FROM malware_mapping
		JOIN malware ON malware.id = malware_mapping.malware_id
		WHERE malware_mapping.event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// EventDisposition rolls up the highest-ranked disposition across every
// alert mapped into the event, matching Event.disposition: nil (no rows)
// means no alert has been mapped or dispositioned yet.
func (r *Repository) EventDisposition(ctx context.Context, eventID int64) (alertconst.Disposition, bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT alerts.disposition FROM event_mapping
		JOIN alerts ON alerts.id = event_mapping.alert_id
		WHERE event_mapping.event_id = ? AND alerts.disposition IS NOT NULL AND alerts.disposition != ''`,
		eventID)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var (
		best  alertconst.Disposition
		found bool
	)

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", false, err
		}

		d := alertconst.Disposition(raw)
		if !found || d.Rank() > best.Rank() {
			best = d
			found = true
		}
	}

	if err := rows.Err(); err != nil {
		return "", false, err
	}

	return best, found, nil
}

// EventDispositionRank returns the event's rolled-up disposition rank,
// matching Event.disposition_rank: -2 when no disposition is available yet,
// distinguishing "nothing to rank" from DispositionUnknown's own rank of 1.
func (r *Repository) EventDispositionRank(ctx context.Context, eventID int64) (int, error) {
	disposition, ok, err := r.EventDisposition(ctx, eventID)
	if err != nil {
		return 0, err
	}

	if !ok {
		return -2, nil
	}

	return disposition.Rank(), nil
}

// --- Remediation ---

// InsertRemediation records a remediation action against an alert, matching
// the Remediation model.
func (r *Repository) InsertRemediation(ctx context.Context, rem *Remediation) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO remediation (alert_id, user_id, type, status, insert_date)
		VALUES (?, ?, ?, ?, ?)`,
		rem.AlertID, rem.UserID, rem.Type, rem.Status, rem.InsertDate)
	if err != nil {
		return fmt.Errorf("inserting remediation: %w", err)
	}

	rem.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted remediation id: %w", err)
	}

	return nil
}

// ListRemediationsForAlert returns every remediation action recorded
// against an alert, most recent first.
func (r *Repository) ListRemediationsForAlert(ctx context.Context, alertID int64) ([]*Remediation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, user_id, type, status, insert_date FROM remediation
		WHERE alert_id = ? ORDER BY insert_date DESC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Remediation

	for rows.Next() {
		rem := &Remediation{}
		if err := rows.Scan(&rem.ID, &rem.AlertID, &rem.UserID, &rem.Type, &rem.Status, &rem.InsertDate); err != nil {
			return nil, err
		}

		out = append(out, rem)
	}

	return out, rows.Err()
}

// --- Comments ---

// InsertComment attaches an analyst note to an alert, matching the Comment
// model.
func (r *Repository) InsertComment(ctx context.Context, c *Comment) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO comments (alert_id, user_id, comment, insert_date)
		VALUES (?, ?, ?, ?)`,
		c.AlertID, c.UserID, c.Comment, c.InsertDate)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}

	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted comment id: %w", err)
	}

	return nil
}

// ListCommentsForAlert returns every comment attached to an alert, oldest
// first.
func (r *Repository) ListCommentsForAlert(ctx context.Context, alertID int64) ([]*Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, user_id, comment, insert_date FROM comments
		WHERE alert_id = ? ORDER BY insert_date ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Comment

	for rows.Next() {
		c := &Comment{}
		if err := rows.Scan(&c.ID, &c.AlertID, &c.UserID, &c.Comment, &c.InsertDate); err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
