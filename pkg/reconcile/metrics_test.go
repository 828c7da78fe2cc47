/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reconcile

import (
	"context"
	"os"
	"testing"

	"github.com/carverauto/livestatus/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

//nolint:gochecknoglobals // shared with TestMain
var testReader *sdkmetric.ManualReader

func TestMain(m *testing.M) {
	testReader = sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(testReader)))

	os.Exit(m.Run())
}

func counterValue(t *testing.T, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, testReader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attrs...)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}

	return 0
}

func TestStreamOutcomesAreRecorded(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	applied := counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeApplied))
	unknown := counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeUnknownEntity))
	malformed := counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeMalformed))

	ctx := context.Background()
	_ = e.applyEvent(ctx, event("svc-1", true, "200", 10, baseTime))
	_ = e.applyEvent(ctx, event("svc-2", true, "200", 10, baseTime))
	_ = e.applyEvent(ctx, []byte(`{}`))

	assert.Equal(t, applied+1, counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeApplied)))
	assert.Equal(t, unknown+1, counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeUnknownEntity)))
	assert.Equal(t, malformed+1, counterValue(t, metricStreamEvents, attribute.String("outcome", outcomeMalformed)))
}

func TestSnapshotOutcomesAreRecorded(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	listApplied := attribute.String("outcome", outcomeApplied)
	listStale := attribute.String("outcome", outcomeStale)
	kind := attribute.String("kind", kindList)

	appliedBefore := counterValue(t, metricSnapshotLoads, kind, listApplied)
	staleBefore := counterValue(t, metricSnapshotLoads, kind, listStale)

	older := e.nextStamp()
	require.NoError(t, e.applySnapshot(context.Background(), e.nextStamp(), nil))
	require.Error(t, e.applySnapshot(context.Background(), older, nil))

	assert.Equal(t, appliedBefore+1, counterValue(t, metricSnapshotLoads, kind, listApplied))
	assert.Equal(t, staleBefore+1, counterValue(t, metricSnapshotLoads, kind, listStale))
}
