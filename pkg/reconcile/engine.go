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

// Package reconcile merges authoritative snapshots and the live check stream into one
// consistent dashboard state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/livestatus/pkg/clock"
	"github.com/carverauto/livestatus/pkg/live"
	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/carverauto/livestatus/pkg/store"
	"github.com/carverauto/livestatus/pkg/timeseries"
	"github.com/patrickmn/go-cache"
)

type fetchKind int

const (
	fetchList fetchKind = iota
	fetchHistory
)

// fetchResult is posted back to the engine goroutine by a fetch worker.
type fetchResult struct {
	kind     fetchKind
	stamp    uint64
	id       string
	entities []models.ServiceEntity
	metrics  *models.ServiceMetrics
	err      error
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

type counters struct {
	eventsApplied    atomic.Int64
	droppedUnknown   atomic.Int64
	malformed        atomic.Int64
	staleIgnored     atomic.Int64
	snapshotsApplied atomic.Int64
	fetchErrors      atomic.Int64
}

type Option func(*Engine)

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// Engine is the single writer for the entity store and the latency buffers. All state
// below the collaborators is owned by the goroutine running Run; other goroutines talk
// to it through commands.
type Engine struct {
	source   SnapshotSource
	events   EventSource
	renderer Renderer
	notifier Notifier
	logger   logger.Logger
	clock    clock.Clock

	refreshInterval time.Duration
	historyCapacity int

	store        *store.EntityStore
	buffers      map[string]*timeseries.Buffer
	streamStamps map[string]uint64
	unknownSeen  *cache.Cache

	watched        string
	watchedStats   *models.ServiceStats
	historyPending bool
	pendingLive    []models.LatencySample

	stamp          uint64
	lastListStamp  uint64
	historyStamp   uint64
	lostConnection bool

	stats counters

	commands chan command
	results  chan fetchResult
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

func New(
	cfg *models.EngineConfig,
	source SnapshotSource,
	events EventSource,
	renderer Renderer,
	notifier Notifier,
	log logger.Logger,
	opts ...Option,
) *Engine {
	warnTTL := time.Duration(cfg.UnknownWarnTTL)
	if warnTTL <= 0 {
		warnTTL = models.DefaultUnknownWarnTTL
	}

	e := &Engine{
		source:          source,
		events:          events,
		renderer:        renderer,
		notifier:        notifier,
		logger:          log,
		clock:           clock.Real(),
		refreshInterval: time.Duration(cfg.RefreshInterval),
		historyCapacity: cfg.HistoryCapacity,
		store:           store.New(),
		buffers:         make(map[string]*timeseries.Buffer),
		streamStamps:    make(map[string]uint64),
		unknownSeen:     cache.New(warnTTL, 2*warnTTL),
		commands:        make(chan command),
		results:         make(chan fetchResult),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run subscribes to the live channel, loads the initial snapshot and processes
// messages, fetch results, refresh ticks and commands until ctx ends. It may be called
// once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(e.done)
	defer e.wg.Wait()

	messages, err := e.events.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to live channel: %w", err)
	}

	e.requestList(ctx)

	var tick <-chan time.Time

	if e.refreshInterval > 0 {
		ticker := e.clock.Ticker(e.refreshInterval)
		defer ticker.Stop()

		tick = ticker.Chan()
	}

	e.logger.Info().
		Dur("refresh_interval", e.refreshInterval).
		Int("history_capacity", e.historyCapacity).
		Msg("Reconciliation engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Reconciliation engine stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}

			e.handleMessage(ctx, msg)
		case res := <-e.results:
			e.handleResult(ctx, res)
		case <-tick:
			e.logger.Debug().Msg("Periodic snapshot refresh")
			e.requestList(ctx)
		case cmd := <-e.commands:
			cmd.reply <- cmd.fn(ctx)
		}
	}
}

// Watch opens the chart for id: the buffer is shown at once if one exists and a
// history fetch replaces it when it lands.
func (e *Engine) Watch(ctx context.Context, id string) error {
	return e.do(ctx, func(runCtx context.Context) error {
		return e.watch(runCtx, id)
	})
}

// Unwatch closes the chart. In-flight history results are discarded.
func (e *Engine) Unwatch(ctx context.Context) error {
	return e.do(ctx, func(context.Context) error {
		e.unwatch()
		return nil
	})
}

// Remove deletes id after an external delete action. Absent ids are ignored.
func (e *Engine) Remove(ctx context.Context, id string) error {
	return e.do(ctx, func(context.Context) error {
		if change, ok := e.removeEntity(id); ok {
			e.renderer.RenderChanges([]models.ChangeDescriptor{change})
		}

		return nil
	})
}

// Refresh requests a new list snapshot, and fresh history for the watched entity.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.do(ctx, func(runCtx context.Context) error {
		e.requestList(runCtx)

		if e.watched != "" {
			e.requestHistory(runCtx, e.watched)
		}

		return nil
	})
}

// Entities returns copies of every entity in insertion order.
func (e *Engine) Entities(ctx context.Context) ([]models.ServiceEntity, error) {
	var out []models.ServiceEntity

	err := e.do(ctx, func(context.Context) error {
		out = e.store.SnapshotAll()
		return nil
	})

	return out, err
}

// Stats may be called from any goroutine.
func (e *Engine) Stats() models.EngineStats {
	return models.EngineStats{
		EventsApplied:    e.stats.eventsApplied.Load(),
		DroppedUnknown:   e.stats.droppedUnknown.Load(),
		Malformed:        e.stats.malformed.Load(),
		StaleIgnored:     e.stats.staleIgnored.Load(),
		SnapshotsApplied: e.stats.snapshotsApplied.Load(),
		FetchErrors:      e.stats.fetchErrors.Load(),
	}
}

func (e *Engine) do(ctx context.Context, fn func(context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}

	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) nextStamp() uint64 {
	e.stamp++
	return e.stamp
}

func (e *Engine) requestList(ctx context.Context) {
	stamp := e.nextStamp()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		entities, err := e.source.FetchServices(ctx)
		e.post(ctx, fetchResult{kind: fetchList, stamp: stamp, entities: entities, err: err})
	}()
}

func (e *Engine) requestHistory(ctx context.Context, id string) {
	stamp := e.nextStamp()
	e.historyStamp = stamp
	e.historyPending = true

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		metrics, err := e.source.FetchHistory(ctx, id)
		e.post(ctx, fetchResult{kind: fetchHistory, stamp: stamp, id: id, metrics: metrics, err: err})
	}()
}

func (e *Engine) post(ctx context.Context, res fetchResult) {
	select {
	case e.results <- res:
	case <-ctx.Done():
	}
}

func (e *Engine) handleResult(ctx context.Context, res fetchResult) {
	kind := kindList
	if res.kind == fetchHistory {
		kind = kindHistory
	}

	if res.err != nil {
		e.stats.fetchErrors.Add(1)
		recordSnapshot(ctx, kind, outcomeError)

		e.logger.Warn().
			Err(res.err).
			Str("kind", kind).
			Str("service_id", res.id).
			Msg("Snapshot fetch failed, keeping last known state")

		// the live samples already sit in the buffer; stop holding them for a merge
		if res.kind == fetchHistory && res.stamp == e.historyStamp {
			e.historyPending = false
			e.pendingLive = nil
		}

		e.notifyFetchFailure(ctx, kind, res.err)

		return
	}

	var err error

	switch res.kind {
	case fetchList:
		err = e.applySnapshot(ctx, res.stamp, res.entities)
	case fetchHistory:
		err = e.applyHistory(ctx, res.stamp, res.id, res.metrics)
	}

	switch {
	case err == nil:
	case isStale(err):
		e.logger.Debug().Err(err).Str("kind", kind).Msg("Ignoring superseded fetch result")
	default:
		e.logger.Warn().Err(err).Str("kind", kind).Msg("Failed to apply fetch result")
	}
}

// notifyFetchFailure surfaces transport failures to the user. Other errors are
// already in the log.
func (e *Engine) notifyFetchFailure(ctx context.Context, kind string, err error) {
	if !errors.Is(err, models.ErrTransport) {
		return
	}

	e.notifier.Notify(ctx, models.ConnectionEvent{
		State: models.ConnectionSnapshotFailed,
		At:    e.clock.Now(),
		Scope: kind,
		Error: err.Error(),
	})
}

func (e *Engine) handleMessage(ctx context.Context, msg live.Message) {
	switch msg.Kind {
	case live.MessagePayload:
		_ = e.applyEvent(ctx, msg.Payload)
	case live.MessageState:
		e.handleState(ctx, msg.State)
	}
}

// handleState forwards the transition and resyncs after the link comes back, since
// events sent while disconnected are lost.
func (e *Engine) handleState(ctx context.Context, event models.ConnectionEvent) {
	recordConnectionState(ctx, string(event.State))
	e.notifier.Notify(ctx, event)

	switch event.State {
	case models.ConnectionDisconnected, models.ConnectionReconnecting:
		e.lostConnection = true
	case models.ConnectionConnected:
		if !e.lostConnection {
			return
		}

		e.lostConnection = false

		e.logger.Info().Msg("Live channel restored, resyncing snapshot")
		e.requestList(ctx)

		if e.watched != "" {
			e.requestHistory(ctx, e.watched)
		}
	}
}
