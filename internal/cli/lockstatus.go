// Copyright (c) 2026 Canonical Ltd
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

package cli

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertlock"
	"github.com/ace-correlate/alertcore/internal/config"
)

func lockStatusCmd(ctx context.Context, globals *Globals) *cobra.Command {
	var uuid string

	cmd := &cobra.Command{
		Use:          "lock-status",
		Short:        "Report whether an alert's distributed lock is currently held.",
		Example:      "alertcore lock-status --uuid 3c1c...",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uuid == "" {
				return fmt.Errorf("--uuid must be specified")
			}

			return runLockStatus(ctx, globals, uuid)
		},
	}

	cmd.Flags().StringVarP(&uuid, "uuid", "u", "", "UUID of the alert to inspect")

	return cmd
}

func runLockStatus(ctx context.Context, globals *Globals, uuid string) error {
	cfg, err := config.Load(afero.NewOsFs(), globals.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbCfg, ok := cfg.Databases[primaryDatabaseName]
	if !ok {
		return fmt.Errorf("config is missing database_%s section", primaryDatabaseName)
	}

	database, err := openDatabase(dbCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	repo := alertdb.NewRepository(database)

	a, err := repo.GetAlertByUUID(ctx, uuid)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("no alert with uuid %s", uuid)
		}

		return fmt.Errorf("loading alert %s: %w", uuid, err)
	}

	lock := alertlock.New(database, a.ID, "", cfg.Global.LockTimeout.Duration)

	locked, err := lock.IsLocked(ctx)
	if err != nil {
		return fmt.Errorf("checking lock state: %w", err)
	}

	fmt.Printf("alert:        %s (id=%d)\n", a.UUID, a.ID)
	fmt.Printf("locked:       %t\n", locked)

	if a.LockOwner.Valid {
		fmt.Printf("lock_owner:   %s\n", a.LockOwner.String)
	}

	if a.LockID.Valid {
		fmt.Printf("lock_id:      %s\n", a.LockID.String)
	}

	if a.LockTime.Valid {
		fmt.Printf("lock_time:    %s\n", a.LockTime.Time.Format("2006-01-02T15:04:05Z07:00"))
	}

	return nil
}
