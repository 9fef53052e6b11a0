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

// Package obs wires the process's OpenTelemetry metric.Meter to the
// counters alertcore's components expose: lock contention
// (internal/alertlock), mapping sync volume (internal/mapsync), and
// bro-consumer throughput (internal/brosmtp). Grounded on the observable
// counter/gauge pattern in
// internal/cache.FileCache.WithMetricMeter and
// internal/cluster.Service.WithMetricMeter.
package obs

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics accumulates the counters alertcore's components report, and
// publishes them to an OpenTelemetry meter as observable instruments. The
// zero value is safe to use standalone (every Inc method tolerates a nil
// *Metrics) so components can take a *Metrics field without a non-nil
// default each needs to construct.
type Metrics struct {
	lockAcquired  atomic.Int64
	lockContended atomic.Int64
	lockStolen    atomic.Int64

	mappingsInterned atomic.Int64
	mappingsLinked   atomic.Int64

	broMessagesProcessed atomic.Int64
	broScanErrors        atomic.Int64
}

// New creates a Metrics and registers its observable instruments against
// meter. Pass the result to a component's WithMetrics option.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	if err := m.register(meter); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return m, nil
}

func (m *Metrics) register(meter metric.Meter) error {
	acquired := attribute.String("outcome", "acquired")
	contended := attribute.String("outcome", "contended")
	stolen := attribute.String("outcome", "stolen")

	if _, err := meter.Int64ObservableCounter("alertlock.attempts",
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.lockAcquired.Load(), metric.WithAttributes(acquired))
			o.Observe(m.lockContended.Load(), metric.WithAttributes(contended))
			o.Observe(m.lockStolen.Load(), metric.WithAttributes(stolen))

			return nil
		}),
	); err != nil {
		return err
	}

	interned := attribute.String("outcome", "interned")
	linked := attribute.String("outcome", "linked")

	if _, err := meter.Int64ObservableCounter("mapsync.mappings",
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.mappingsInterned.Load(), metric.WithAttributes(interned))
			o.Observe(m.mappingsLinked.Load(), metric.WithAttributes(linked))

			return nil
		}),
	); err != nil {
		return err
	}

	processed := attribute.String("outcome", "processed")
	scanErrors := attribute.String("outcome", "scan_error")

	if _, err := meter.Int64ObservableCounter("brosmtp.messages",
		metric.WithUnit("{count}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.broMessagesProcessed.Load(), metric.WithAttributes(processed))
			o.Observe(m.broScanErrors.Load(), metric.WithAttributes(scanErrors))

			return nil
		}),
	); err != nil {
		return err
	}

	return nil
}

// IncLockAcquired records a successful, uncontended (or expired-steal) lock
// acquisition.
func (m *Metrics) IncLockAcquired() {
	if m == nil {
		return
	}

	m.lockAcquired.Add(1)
}

// IncLockContended records a failed acquisition attempt against a row
// actively held by someone else.
func (m *Metrics) IncLockContended() {
	if m == nil {
		return
	}

	m.lockContended.Add(1)
}

// IncLockStolen records a successful steal of an expired lock.
func (m *Metrics) IncLockStolen() {
	if m == nil {
		return
	}

	m.lockStolen.Add(1)
}

// IncMappingInterned records a new tag/observable row created by
// internal/mapsync's intern-on-demand loop.
func (m *Metrics) IncMappingInterned() {
	if m == nil {
		return
	}

	m.mappingsInterned.Add(1)
}

// IncMappingLinked records a new alert↔tag or alert↔observable edge.
func (m *Metrics) IncMappingLinked() {
	if m == nil {
		return
	}

	m.mappingsLinked.Add(1)
}

// IncBroMessageProcessed records one SMTP capture file fully parsed into an
// alert by internal/brosmtp.
func (m *Metrics) IncBroMessageProcessed() {
	if m == nil {
		return
	}

	m.broMessagesProcessed.Add(1)
}

// IncBroScanError records a scan-loop iteration that failed and was logged
// rather than fatal.
func (m *Metrics) IncBroScanError() {
	if m == nil {
		return
	}

	m.broScanErrors.Add(1)
}
