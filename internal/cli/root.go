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

// Package cli wires alertcore's cobra command tree: serve (run the
// bro-smtp and mailbox collection loops and the metrics endpoint; no
// analysis-worker loop), lock-status (inspect an alert's
// distributed lock), and reindex (rebuild an alert's tag/observable mapping
// from its stored snapshot).
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ace-correlate/alertcore/internal/pathutil"
)

// defaultConfigPath is pathutil's SAQ_CONFIG/SAQ_HOME-aware default,
// evaluated lazily so tests can set SAQ_HOME/SAQ_CONFIG before RootCmd
// constructs its flags.
func defaultConfigPath() string {
	return pathutil.ConfigPath()
}

// Globals are the persistent flags every subcommand reads.
type Globals struct {
	ConfigPath string
	LogLevel   string
}

// RootCmd builds the alertcore command tree.
func RootCmd(ctx context.Context) *cobra.Command {
	globals := &Globals{}

	cmd := &cobra.Command{
		Use:   "alertcore",
		Short: "alertcore - alert correlation engine and worker daemon",
		// Silence because we want to use our logger instead.
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&globals.ConfigPath, "config", "c", defaultConfigPath(),
		"Path to the alertcore YAML configuration file")
	cmd.PersistentFlags().StringVar(&globals.LogLevel, "log-level", "info",
		"Logger level (trace, debug, info, warn, error)")

	cmd.AddCommand(serveCmd(ctx, globals))
	cmd.AddCommand(lockStatusCmd(ctx, globals))
	cmd.AddCommand(reindexCmd(ctx, globals))

	cmd.InitDefaultHelpCmd()

	return cmd
}
