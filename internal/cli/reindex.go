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
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertstore"
	"github.com/ace-correlate/alertcore/internal/config"
	"github.com/ace-correlate/alertcore/internal/mapsync"
)

func reindexCmd(ctx context.Context, globals *Globals) *cobra.Command {
	var alertID int64

	cmd := &cobra.Command{
		Use:          "reindex",
		Short:        "Rebuild tag/observable mapping rows from each alert's stored snapshot.",
		Example:      "alertcore reindex --alert-id 42",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(ctx, globals, alertID)
		},
	}

	cmd.Flags().Int64Var(&alertID, "alert-id", 0,
		"Reindex only this alert id (default: every alert)")

	return cmd
}

func runReindex(ctx context.Context, globals *Globals, alertID int64) error {
	fs := afero.NewOsFs()

	cfg, err := config.Load(fs, globals.ConfigPath)
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
	store := alertstore.New(repo, mapsync.New(repo), fs)

	ids := []int64{alertID}

	if alertID == 0 {
		ids, err = repo.ListAlertIDs(ctx)
		if err != nil {
			return fmt.Errorf("listing alerts: %w", err)
		}
	}

	for _, id := range ids {
		if err := store.Reindex(ctx, id); err != nil {
			log.Error().Err(err).Int64("alert_id", id).Msg("reindex failed")
			continue
		}

		log.Info().Int64("alert_id", id).Msg("reindexed alert")
	}

	return nil
}
