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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/carverauto/livestatus/pkg/reconcile"

	metricStreamEvents    = "livestatus_stream_events_total"
	metricSnapshotLoads   = "livestatus_snapshot_loads_total"
	metricConnectionState = "livestatus_connection_state_total"

	outcomeApplied       = "applied"
	outcomeUnknownEntity = "unknown_entity"
	outcomeMalformed     = "malformed"
	outcomeStale         = "stale"
	outcomeError         = "error"

	kindList    = "list"
	kindHistory = "history"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	streamCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	snapshotCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	connectionCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error

	streamCounter, err = meter.Int64Counter(
		metricStreamEvents,
		metric.WithDescription("Live check results received, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	snapshotCounter, err = meter.Int64Counter(
		metricSnapshotLoads,
		metric.WithDescription("Snapshot fetch results, by kind and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	connectionCounter, err = meter.Int64Counter(
		metricConnectionState,
		metric.WithDescription("Live channel state transitions"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordStreamEvent(ctx context.Context, outcome string) {
	meterOnce.Do(initMeter)
	if streamCounter == nil {
		return
	}

	streamCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordSnapshot(ctx context.Context, kind, outcome string) {
	meterOnce.Do(initMeter)
	if snapshotCounter == nil {
		return
	}

	snapshotCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func recordConnectionState(ctx context.Context, state string) {
	meterOnce.Do(initMeter)
	if connectionCounter == nil {
		return
	}

	connectionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
