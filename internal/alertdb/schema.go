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
)

// schemaStatements is the relational schema named in spec.md §6, in
// dependency order so foreign keys always reference an already-created
// table. Written against sqlite's dialect (the reference driver for tests),
// with INTEGER PRIMARY KEY standing in for the original's auto-increment id.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS company (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS campaign (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS malware (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS observables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(type, value)
	)`,
	`CREATE TABLE IF NOT EXISTS profile_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		storage_dir TEXT NOT NULL UNIQUE,
		location TEXT,
		tool TEXT,
		tool_instance TEXT,
		alert_type TEXT,
		description TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		event_time DATETIME,
		insert_date DATETIME,
		disposition TEXT,
		disposition_user_id INTEGER REFERENCES users(id),
		disposition_time DATETIME,
		owner_id INTEGER REFERENCES users(id),
		owner_time DATETIME,
		removal_user_id INTEGER REFERENCES users(id),
		removal_time DATETIME,
		archived BOOLEAN NOT NULL DEFAULT 0,
		lock_owner TEXT,
		lock_id TEXT,
		lock_transaction_id TEXT,
		lock_time DATETIME,
		detection_count INTEGER NOT NULL DEFAULT 0,
		company_id INTEGER REFERENCES company(id)
	)`,
	`CREATE TABLE IF NOT EXISTS workload (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		node TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tag_mapping (
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (alert_id, tag_id)
	)`,
	`CREATE TABLE IF NOT EXISTS observable_mapping (
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		observable_id INTEGER NOT NULL REFERENCES observables(id),
		PRIMARY KEY (alert_id, observable_id)
	)`,
	`CREATE TABLE IF NOT EXISTS observable_tag_mapping (
		observable_id INTEGER NOT NULL REFERENCES observables(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (observable_id, tag_id)
	)`,
	`CREATE TABLE IF NOT EXISTS delayed_analysis (
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		observable_id INTEGER NOT NULL REFERENCES observables(id),
		analysis_module TEXT NOT NULL,
		PRIMARY KEY (alert_id, observable_id, analysis_module)
	)`,
	`CREATE TABLE IF NOT EXISTS pp_alert_mapping (
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		profile_point_id INTEGER NOT NULL REFERENCES profile_points(id),
		PRIMARY KEY (alert_id, profile_point_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pp_tag_mapping (
		profile_point_id INTEGER NOT NULL REFERENCES profile_points(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (profile_point_id, tag_id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		campaign_id INTEGER REFERENCES campaign(id),
		status TEXT,
		creation_date DATE
	)`,
	`CREATE TABLE IF NOT EXISTS event_mapping (
		event_id INTEGER NOT NULL REFERENCES events(id),
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		PRIMARY KEY (event_id, alert_id)
	)`,
	`CREATE TABLE IF NOT EXISTS company_mapping (
		event_id INTEGER NOT NULL REFERENCES events(id),
		company_id INTEGER NOT NULL REFERENCES company(id),
		PRIMARY KEY (event_id, company_id)
	)`,
	`CREATE TABLE IF NOT EXISTS malware_mapping (
		event_id INTEGER NOT NULL REFERENCES events(id),
		malware_id INTEGER NOT NULL REFERENCES malware(id),
		PRIMARY KEY (event_id, malware_id)
	)`,
	`CREATE TABLE IF NOT EXISTS threat (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		malware_id INTEGER NOT NULL REFERENCES malware(id),
		type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS malware_threat_mapping (
		malware_id INTEGER NOT NULL REFERENCES malware(id),
		threat_id INTEGER NOT NULL REFERENCES threat(id),
		PRIMARY KEY (malware_id, threat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS remediation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		user_id INTEGER REFERENCES users(id),
		type TEXT,
		status TEXT,
		insert_date DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL REFERENCES alerts(id),
		user_id INTEGER REFERENCES users(id),
		comment TEXT,
		insert_date DATETIME
	)`,
}

// CreateSchema creates every table named in spec.md §6 if it does not
// already exist.
func CreateSchema(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	return nil
}
