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
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertstore"
	"github.com/ace-correlate/alertcore/internal/applog"
	"github.com/ace-correlate/alertcore/internal/brosmtp"
	"github.com/ace-correlate/alertcore/internal/config"
	"github.com/ace-correlate/alertcore/internal/mailbox"
	"github.com/ace-correlate/alertcore/internal/mapsync"
	"github.com/ace-correlate/alertcore/internal/obs"
	"github.com/ace-correlate/alertcore/internal/workqueue"
)

// primaryDatabaseName is the `database_ace` config section alertcore's own
// tables live in, matching original_source/lib/saq/database.py's
// `get_db_connection()` default.
const primaryDatabaseName = "ace"

// emailEngineName is the `engine_email` config section shared by both
// ingestion paths, matching EmailScanningEngine owning bro_smtp_dir,
// collection_dir, and collection_frequency together.
const emailEngineName = "email"

const metricsAddr = ":9090"

func serveCmd(ctx context.Context, globals *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the bro-smtp and mailbox collection engines.",
		Example:      "alertcore serve --config /etc/alertcore.yaml",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, globals)
		},
	}

	return cmd
}

func runServe(ctx context.Context, globals *Globals) error {
	applog.Setup(globals.LogLevel)

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

	eng, ok := cfg.Engines[emailEngineName]
	if !ok {
		return fmt.Errorf("config is missing engine_%s section", emailEngineName)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("reading hostname: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer meterProvider.Shutdown(ctx) //nolint:errcheck

	metrics, err := obs.New(meterProvider.Meter("alertcore"))
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	repo := alertdb.NewRepository(database)
	synchronizer := mapsync.New(repo, mapsync.WithMetrics(metrics))
	store := alertstore.New(repo, synchronizer, fs)
	queue := workqueue.New(repo, hostname)

	broConsumer := brosmtp.New(fs, eng.BroSMTPDir, eng.CollectionDir, hostname, store, queue,
		brosmtp.WithPollInterval(eng.CollectionFrequency),
		brosmtp.WithMetrics(metrics),
	)

	mailboxIngestor := mailbox.New(fs, eng.CollectionDir, hostname, store, queue)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		broConsumer.Loop(gctx)
		return nil
	})

	g.Go(func() error {
		mailboxIngestor.Loop(gctx, eng.CollectionFrequency)
		return nil
	})

	g.Go(func() error {
		return serveMetrics(gctx, metricsAddr)
	})

	log.Info().Str("host", hostname).Msg("alertcore serve started")

	return g.Wait()
}

// serveMetrics runs the /metrics HTTP server until ctx is cancelled, then
// shuts it down gracefully.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errC := make(chan error, 1)

	go func() { errC <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	}
}

// openDatabase opens the primary database handle. A config section with
// neither a hostname nor a unix socket is the `sqlite` deployment mode
// (Database names a file path); otherwise it dials MySQL, matching
// spec.md §6's `charset=utf8` wire requirement.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Hostname == "" && cfg.UnixSocket == "" {
		return sql.Open("sqlite3", cfg.Database)
	}

	dsn := mysqldriver.NewConfig()
	dsn.User = cfg.Username
	dsn.Passwd = cfg.Password
	dsn.DBName = cfg.Database
	dsn.Collation = "utf8_general_ci"
	dsn.ParseTime = true

	if cfg.UnixSocket != "" {
		dsn.Net = "unix"
		dsn.Addr = cfg.UnixSocket
	} else {
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
	}

	return sql.Open("mysql", dsn.FormatDSN())
}
