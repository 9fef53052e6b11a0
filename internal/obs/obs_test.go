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

package obs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ace-correlate/alertcore/internal/obs"
)

func TestMetricsPublishesObservedCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := obs.New(provider.Meter("test"))
	require.NoError(t, err)

	m.IncLockAcquired()
	m.IncLockAcquired()
	m.IncLockContended()
	m.IncLockStolen()

	m.IncMappingInterned()
	m.IncMappingLinked()
	m.IncMappingLinked()

	m.IncBroMessageProcessed()
	m.IncBroScanError()
	m.IncBroScanError()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		byName[metric.Name] = metric
	}

	lockSum, ok := byName["alertlock.attempts"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	for _, dp := range lockSum.DataPoints {
		switch dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "acquired"))) {
		case true:
			require.Equal(t, int64(2), dp.Value)
		}

		switch dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "contended"))) {
		case true:
			require.Equal(t, int64(1), dp.Value)
		}

		switch dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "stolen"))) {
		case true:
			require.Equal(t, int64(1), dp.Value)
		}
	}

	mappingSum, ok := byName["mapsync.mappings"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	for _, dp := range mappingSum.DataPoints {
		if dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "interned"))) {
			require.Equal(t, int64(1), dp.Value)
		}

		if dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "linked"))) {
			require.Equal(t, int64(2), dp.Value)
		}
	}

	broSum, ok := byName["brosmtp.messages"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	for _, dp := range broSum.DataPoints {
		if dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "processed"))) {
			require.Equal(t, int64(1), dp.Value)
		}

		if dp.Attributes.Equivalent(attribute.NewSet(attribute.String("outcome", "scan_error"))) {
			require.Equal(t, int64(2), dp.Value)
		}
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *obs.Metrics

	require.NotPanics(t, func() {
		m.IncLockAcquired()
		m.IncLockContended()
		m.IncLockStolen()
		m.IncMappingInterned()
		m.IncMappingLinked()
		m.IncBroMessageProcessed()
		m.IncBroScanError()
	})
}
