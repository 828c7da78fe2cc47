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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carverauto/livestatus/pkg/clock"
	"github.com/carverauto/livestatus/pkg/live"
	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingRenderer struct {
	mu      sync.Mutex
	changes [][]models.ChangeDescriptor
	charts  []models.ChartUpdate
}

func (r *recordingRenderer) RenderChanges(changes []models.ChangeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.changes = append(r.changes, changes)
}

func (r *recordingRenderer) RenderChart(update models.ChartUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.charts = append(r.charts, update)
}

func (r *recordingRenderer) lastChart() models.ChartUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.charts) == 0 {
		return models.ChartUpdate{}
	}

	return r.charts[len(r.charts)-1]
}

func (r *recordingRenderer) allChanges() []models.ChangeDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.ChangeDescriptor
	for _, batch := range r.changes {
		out = append(out, batch...)
	}

	return out
}

type chanEventSource struct {
	ch chan live.Message
}

func (s *chanEventSource) Subscribe(context.Context) (<-chan live.Message, error) {
	return s.ch, nil
}

func newTestEngine(t *testing.T, source SnapshotSource) (*Engine, *recordingRenderer) {
	t.Helper()

	r := &recordingRenderer{}
	cfg := &models.EngineConfig{
		HistoryCapacity: 3,
		UnknownWarnTTL:  models.Duration(time.Minute),
	}

	return New(cfg, source, nil, r, nil, logger.NewTestLogger()), r
}

func entity(id string, status models.Status) models.ServiceEntity {
	return models.ServiceEntity{
		ID:            id,
		Name:          "service " + id,
		URL:           "https://" + id + ".example.com/health",
		CheckInterval: models.Duration(30 * time.Second),
		Status:        status,
	}
}

func event(id string, success bool, statusCode string, latency int64, at time.Time) []byte {
	return fmt.Appendf(nil,
		`{"service_id":%q,"success":%t,"status_code":%s,"latency":%d,"checked_at":%q}`,
		id, success, statusCode, latency, at.Format(time.RFC3339Nano))
}

func seed(t *testing.T, e *Engine, entities ...models.ServiceEntity) {
	t.Helper()

	require.NoError(t, e.applySnapshot(context.Background(), e.nextStamp(), entities))
}

// drainResult hands the next fetch result to the engine, as Run would.
func drainResult(t *testing.T, e *Engine) {
	t.Helper()

	select {
	case res := <-e.results:
		e.handleResult(context.Background(), res)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch result")
	}
}

func TestApplyEventUnknownEntityIsDropped(t *testing.T) {
	e, r := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	before := e.store.SnapshotAll()
	renders := len(r.allChanges())

	err := e.applyEvent(context.Background(), event("svc-404", false, "null", 1000, baseTime))
	require.ErrorIs(t, err, models.ErrUnknownEntity)

	assert.Equal(t, before, e.store.SnapshotAll())
	assert.Len(t, r.allChanges(), renders)
	assert.Equal(t, int64(1), e.Stats().DroppedUnknown)
	assert.Zero(t, e.Stats().EventsApplied)

	// a repeat is still counted even though the warning is suppressed
	_ = e.applyEvent(context.Background(), event("svc-404", false, "null", 1000, baseTime))
	assert.Equal(t, int64(2), e.Stats().DroppedUnknown)
}

func TestApplyEventFailureMarksDown(t *testing.T) {
	e, r := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.applyEvent(context.Background(), event("svc-1", false, "null", 5000000, baseTime)))

	got, ok := e.store.Get("svc-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusDown, got.Status)
	require.NotNil(t, got.LastLatency)
	assert.Equal(t, models.Duration(5000000), *got.LastLatency)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, baseTime.Equal(*got.LastCheckedAt))
	assert.Equal(t, int64(1), e.Stats().EventsApplied)

	changes := r.allChanges()
	last := changes[len(changes)-1]
	assert.Equal(t, "svc-1", last.ID)
	assert.True(t, last.Changed(models.FieldStatus))
	assert.True(t, last.Changed(models.FieldLastLatency))
	assert.False(t, last.Changed(models.FieldName))
}

func TestApplyEventStatusDerivation(t *testing.T) {
	tests := []struct {
		name    string
		prior   models.Status
		success bool
		code    string
		want    models.Status
	}{
		{"down recovers on 200", models.StatusDown, true, "200", models.StatusHealthy},
		{"critical recovers on 301", models.StatusCritical, true, "301", models.StatusHealthy},
		{"healthy stays healthy on 200", models.StatusHealthy, true, "200", models.StatusHealthy},
		{"warning is left alone on 200", models.StatusWarning, true, "200", models.StatusWarning},
		{"down stays down on 404", models.StatusDown, true, "404", models.StatusDown},
		{"server error is critical", models.StatusHealthy, true, "503", models.StatusCritical},
		{"no status code keeps prior", models.StatusDown, true, "null", models.StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, nil)
			seed(t, e, entity("svc-1", tt.prior))

			require.NoError(t, e.applyEvent(context.Background(), event("svc-1", tt.success, tt.code, 1000, baseTime)))

			got, _ := e.store.Get("svc-1")
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestApplyEventMalformedIsCounted(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	for _, raw := range []string{
		`not json`,
		`{"success":true,"latency":10,"checked_at":"2025-06-01T12:00:00Z"}`,
		`{"service_id":"svc-1","success":true,"latency":"fast","checked_at":"2025-06-01T12:00:00Z"}`,
	} {
		err := e.applyEvent(context.Background(), []byte(raw))
		require.ErrorIs(t, err, models.ErrMalformedPayload, raw)
	}

	assert.Equal(t, int64(3), e.Stats().Malformed)

	got, _ := e.store.Get("svc-1")
	assert.Equal(t, models.StatusHealthy, got.Status)
	assert.Nil(t, got.LastCheckedAt)
}

func TestApplySnapshotRemovesMissingEntity(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), "svc-9").Return(&models.ServiceMetrics{ServiceID: "svc-9"}, nil)

	e, r := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy), entity("svc-9", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-9"))
	drainResult(t, e)
	require.NoError(t, e.applyEvent(context.Background(), event("svc-9", true, "200", 2000, baseTime)))
	require.Contains(t, e.buffers, "svc-9")

	require.NoError(t, e.applySnapshot(context.Background(), e.nextStamp(), []models.ServiceEntity{
		entity("svc-1", models.StatusHealthy),
	}))

	assert.False(t, e.store.Has("svc-9"))
	assert.NotContains(t, e.buffers, "svc-9")
	assert.NotContains(t, e.streamStamps, "svc-9")
	assert.Empty(t, e.watched)
	assert.Equal(t, []string{"svc-1"}, e.store.IDs())

	assert.True(t, r.lastChart().Closed)
	assert.Equal(t, "svc-9", r.lastChart().ID)

	changes := r.allChanges()
	last := changes[len(changes)-1]
	assert.Equal(t, models.ChangeRemoved, last.Kind)
	assert.Equal(t, "svc-9", last.ID)
}

func TestApplySnapshotIgnoresSupersededList(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	older := e.nextStamp()
	newer := e.nextStamp()

	require.NoError(t, e.applySnapshot(context.Background(), newer, []models.ServiceEntity{
		entity("svc-1", models.StatusCritical),
	}))

	err := e.applySnapshot(context.Background(), older, []models.ServiceEntity{
		entity("svc-1", models.StatusHealthy),
		entity("svc-2", models.StatusHealthy),
	})
	require.ErrorIs(t, err, models.ErrStaleWrite)

	assert.Equal(t, []string{"svc-1"}, e.store.IDs())

	got, _ := e.store.Get("svc-1")
	assert.Equal(t, models.StatusCritical, got.Status)
	assert.Equal(t, int64(1), e.Stats().StaleIgnored)
	assert.Equal(t, int64(1), e.Stats().SnapshotsApplied)
}

func TestApplySnapshotKeepsNewerStreamFields(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	requested := e.nextStamp()

	require.NoError(t, e.applyEvent(context.Background(), event("svc-1", false, "null", 7000, baseTime)))

	renamed := entity("svc-1", models.StatusHealthy)
	renamed.Name = "renamed"
	require.NoError(t, e.applySnapshot(context.Background(), requested, []models.ServiceEntity{renamed}))

	got, _ := e.store.Get("svc-1")
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, models.StatusDown, got.Status)
	require.NotNil(t, got.LastLatency)
	assert.Equal(t, models.Duration(7000), *got.LastLatency)

	// a listing requested after the event is authoritative again
	require.NoError(t, e.applySnapshot(context.Background(), e.nextStamp(), []models.ServiceEntity{renamed}))

	got, _ = e.store.Get("svc-1")
	assert.Equal(t, models.StatusHealthy, got.Status)
	require.NotNil(t, got.LastLatency, "a listing without latency keeps the live value")
	assert.Equal(t, models.Duration(7000), *got.LastLatency)
}

func TestHistoryReplaceThenAppend(t *testing.T) {
	history := []models.LatencySample{
		{CheckedAt: baseTime, Latency: 1},
		{CheckedAt: baseTime.Add(time.Second), Latency: 2},
		{CheckedAt: baseTime.Add(2 * time.Second), Latency: 3},
		{CheckedAt: baseTime.Add(3 * time.Second), Latency: 4},
	}

	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), "svc-1").Return(&models.ServiceMetrics{
		ServiceID: "svc-1",
		Stats:     &models.ServiceStats{UptimePercentage: 99.5, TotalChecks: 4},
		History:   history,
	}, nil)

	e, r := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-1"))
	drainResult(t, e)

	chart := r.lastChart()
	assert.True(t, chart.Reset)
	assert.Equal(t, history[1:], chart.Samples)
	require.NotNil(t, chart.Stats)
	assert.InDelta(t, 99.5, chart.Stats.UptimePercentage, 0.001)

	require.NoError(t, e.applyEvent(context.Background(),
		event("svc-1", true, "200", 5, baseTime.Add(4*time.Second))))

	samples := e.buffers["svc-1"].Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, history[2:], samples[:2])
	assert.Equal(t, models.Duration(5), samples[2].Latency)
	assert.False(t, r.lastChart().Reset)
	assert.Equal(t, samples, r.lastChart().Samples)
}

func TestHistoryKeepsLiveSamplesFromFetchWindow(t *testing.T) {
	release := make(chan struct{})

	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), "svc-1").DoAndReturn(
		func(context.Context, string) (*models.ServiceMetrics, error) {
			<-release
			return &models.ServiceMetrics{
				ServiceID: "svc-1",
				History: []models.LatencySample{
					{CheckedAt: baseTime, Latency: 1},
					{CheckedAt: baseTime.Add(time.Second), Latency: 2},
				},
			}, nil
		})

	e, _ := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-1"))

	// one sample the history already contains, one it does not
	require.NoError(t, e.applyEvent(context.Background(), event("svc-1", true, "200", 2, baseTime.Add(time.Second))))
	require.NoError(t, e.applyEvent(context.Background(), event("svc-1", true, "200", 9, baseTime.Add(5*time.Second))))

	close(release)
	drainResult(t, e)

	samples := e.buffers["svc-1"].Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, []models.Duration{1, 2, 9}, []models.Duration{
		samples[0].Latency, samples[1].Latency, samples[2].Latency,
	})
	assert.False(t, e.historyPending)
}

func TestHistoryFailureStopsHoldingLiveSamples(t *testing.T) {
	errHistory := errors.New("history unavailable")

	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), "svc-1").Return(nil, errHistory)

	e, r := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-1"))
	require.True(t, e.historyPending)

	drainResult(t, e)

	assert.False(t, e.historyPending)
	assert.Empty(t, e.pendingLive)
	assert.Equal(t, int64(1), e.Stats().FetchErrors)

	for i := 0; i < 1000; i++ {
		at := baseTime.Add(time.Duration(i) * time.Second)
		require.NoError(t, e.applyEvent(context.Background(), event("svc-1", true, "200", int64(i), at)))
	}

	assert.Empty(t, e.pendingLive)
	assert.Equal(t, 3, e.buffers["svc-1"].Len())
	assert.Equal(t, models.Duration(999), r.lastChart().Samples[2].Latency)
}

func TestPendingLiveSamplesAreBounded(t *testing.T) {
	release := make(chan struct{})

	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), "svc-1").DoAndReturn(
		func(context.Context, string) (*models.ServiceMetrics, error) {
			<-release
			return &models.ServiceMetrics{ServiceID: "svc-1"}, nil
		})

	e, _ := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-1"))

	for i := 1; i <= 50; i++ {
		at := baseTime.Add(time.Duration(i) * time.Second)
		require.NoError(t, e.applyEvent(context.Background(), event("svc-1", true, "200", int64(i), at)))
	}

	require.Len(t, e.pendingLive, 3)
	assert.Equal(t, models.Duration(48), e.pendingLive[0].Latency)
	assert.Equal(t, models.Duration(50), e.pendingLive[2].Latency)

	close(release)
	drainResult(t, e)

	samples := e.buffers["svc-1"].Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, models.Duration(48), samples[0].Latency)
	assert.Empty(t, e.pendingLive)
}

func TestHistoryForPreviousWatchIsStale(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchHistory(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*models.ServiceMetrics, error) {
			return &models.ServiceMetrics{
				ServiceID: id,
				History:   []models.LatencySample{{CheckedAt: baseTime, Latency: 1}},
			}, nil
		}).Times(2)

	e, r := newTestEngine(t, source)
	seed(t, e, entity("svc-1", models.StatusHealthy), entity("svc-2", models.StatusHealthy))

	require.NoError(t, e.watch(context.Background(), "svc-1"))
	require.NoError(t, e.watch(context.Background(), "svc-2"))

	drainResult(t, e)
	drainResult(t, e)

	assert.Equal(t, int64(1), e.Stats().StaleIgnored)
	assert.NotContains(t, e.buffers, "svc-1")
	assert.Equal(t, "svc-2", r.lastChart().ID)
}

func TestUnwatchedEventsDoNotGrowBuffers(t *testing.T) {
	e, r := newTestEngine(t, nil)
	seed(t, e, entity("svc-1", models.StatusHealthy))

	require.NoError(t, e.applyEvent(context.Background(), event("svc-1", true, "200", 10, baseTime)))

	assert.Empty(t, e.buffers)
	assert.Empty(t, r.charts)

	got, _ := e.store.Get("svc-1")
	require.NotNil(t, got.LastLatency)
	assert.Equal(t, models.Duration(10), *got.LastLatency)
}

func TestWatchUnknownEntity(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	err := e.watch(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrUnknownEntity)
	assert.Empty(t, e.watched)
}

func TestRunResyncsAfterReconnect(t *testing.T) {
	ctrl := gomock.NewController(t)

	source := NewMockSnapshotSource(ctrl)
	notifier := NewMockNotifier(ctrl)
	clk := clock.NewMockClock(ctrl)
	ticker := clock.NewMockTicker(ctrl)

	ticks := make(chan time.Time)
	clk.EXPECT().Ticker(30 * time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return(ticks).AnyTimes()
	ticker.EXPECT().Stop()

	var fetches atomic.Int32

	source.EXPECT().FetchServices(gomock.Any()).DoAndReturn(
		func(context.Context) ([]models.ServiceEntity, error) {
			fetches.Add(1)
			return []models.ServiceEntity{entity("svc-1", models.StatusHealthy)}, nil
		}).Times(3)

	var (
		statesMu sync.Mutex
		states   []models.ConnectionState
	)

	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, ev models.ConnectionEvent) {
			statesMu.Lock()
			defer statesMu.Unlock()

			states = append(states, ev.State)
		}).Times(3)

	messages := make(chan live.Message, 8)
	renderer := &recordingRenderer{}

	e := New(&models.EngineConfig{
		RefreshInterval: models.Duration(30 * time.Second),
		HistoryCapacity: 10,
	}, source, &chanEventSource{ch: messages}, renderer, notifier, logger.NewTestLogger(), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() { errCh <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Stats().SnapshotsApplied == 1 }, 2*time.Second, 10*time.Millisecond)

	messages <- live.Message{Kind: live.MessageState, State: models.ConnectionEvent{State: models.ConnectionConnected}}
	messages <- live.Message{Kind: live.MessagePayload, Payload: event("svc-1", false, "null", 100, baseTime)}
	messages <- live.Message{Kind: live.MessageState, State: models.ConnectionEvent{State: models.ConnectionDisconnected}}

	// data stays visible while the link is down
	require.Eventually(t, func() bool {
		entities, err := e.Entities(ctx)
		return err == nil && len(entities) == 1 && entities[0].Status == models.StatusDown
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), fetches.Load())

	messages <- live.Message{Kind: live.MessageState, State: models.ConnectionEvent{State: models.ConnectionConnected}}

	require.Eventually(t, func() bool { return e.Stats().SnapshotsApplied == 2 }, 2*time.Second, 10*time.Millisecond)

	ticks <- baseTime

	require.Eventually(t, func() bool { return e.Stats().SnapshotsApplied == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	statesMu.Lock()
	defer statesMu.Unlock()

	assert.Equal(t, []models.ConnectionState{
		models.ConnectionConnected,
		models.ConnectionDisconnected,
		models.ConnectionConnected,
	}, states)
	assert.Equal(t, int64(1), e.Stats().EventsApplied)

	assert.ErrorIs(t, e.Refresh(context.Background()), ErrNotRunning)
}

func TestRunOnlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)
	source.EXPECT().FetchServices(gomock.Any()).Return(nil, nil).AnyTimes()

	notices := make(chan models.ConnectionEvent, 1)
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, event models.ConnectionEvent) { notices <- event })

	e := New(&models.EngineConfig{}, source, &chanEventSource{ch: make(chan live.Message)},
		&recordingRenderer{}, notifier, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- e.Run(ctx) }()

	require.Eventually(t, e.running.Load, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-errCh)
}

func TestRunFetchErrorKeepsState(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockSnapshotSource(ctrl)

	gomock.InOrder(
		source.EXPECT().FetchServices(gomock.Any()).Return([]models.ServiceEntity{entity("svc-1", models.StatusHealthy)}, nil),
		source.EXPECT().FetchServices(gomock.Any()).Return(nil, &models.TransportError{Op: "GET", StatusCode: 503}),
	)

	notices := make(chan models.ConnectionEvent, 1)
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Do(
		func(_ context.Context, event models.ConnectionEvent) { notices <- event })

	e := New(&models.EngineConfig{}, source, &chanEventSource{ch: make(chan live.Message)},
		&recordingRenderer{}, notifier, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Stats().SnapshotsApplied == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Refresh(ctx))
	require.Eventually(t, func() bool { return e.Stats().FetchErrors == 1 }, 2*time.Second, 10*time.Millisecond)

	select {
	case notice := <-notices:
		assert.Equal(t, models.ConnectionSnapshotFailed, notice.State)
		assert.Equal(t, "list", notice.Scope)
		assert.Contains(t, notice.Error, "503")
		assert.True(t, notice.Transient())
	case <-time.After(2 * time.Second):
		t.Fatal("fetch failure was not surfaced")
	}

	entities, err := e.Entities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "svc-1", entities[0].ID)

	require.NoError(t, e.Remove(ctx, "svc-1"))
	require.NoError(t, e.Remove(ctx, "svc-1"))

	entities, err = e.Entities(ctx)
	require.NoError(t, err)
	assert.Empty(t, entities)

	cancel()
	require.NoError(t, <-errCh)
}
