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
	"slices"

	"github.com/carverauto/livestatus/pkg/models"
	"github.com/carverauto/livestatus/pkg/timeseries"
)

// applySnapshot makes the store match a full listing. Ids missing from the listing are
// removed. An entity updated by the stream after the listing was requested keeps its
// live fields; metadata always comes from the listing.
func (e *Engine) applySnapshot(ctx context.Context, stamp uint64, entities []models.ServiceEntity) error {
	if stamp < e.lastListStamp {
		e.stats.staleIgnored.Add(1)
		recordSnapshot(ctx, kindList, outcomeStale)

		return fmt.Errorf("%w: list requested at %d, newer list applied at %d",
			models.ErrStaleWrite, stamp, e.lastListStamp)
	}

	e.lastListStamp = stamp

	seen := make(map[string]struct{}, len(entities))
	changes := make([]models.ChangeDescriptor, 0, len(entities))

	for i := range entities {
		incoming := e.mergeLive(entities[i], stamp)
		seen[incoming.ID] = struct{}{}

		if change := e.store.UpsertFromSnapshot(incoming); !change.Empty() {
			changes = append(changes, change)
		}
	}

	for _, id := range e.store.IDs() {
		if _, ok := seen[id]; ok {
			continue
		}

		if change, ok := e.removeEntity(id); ok {
			e.logger.Info().Str("service_id", id).Msg("Service no longer listed, removing")
			changes = append(changes, change)
		}
	}

	e.stats.snapshotsApplied.Add(1)
	recordSnapshot(ctx, kindList, outcomeApplied)

	e.logger.Debug().
		Int("services", len(entities)).
		Int("changes", len(changes)).
		Msg("Applied service snapshot")

	if len(changes) > 0 {
		e.renderer.RenderChanges(changes)
	}

	return nil
}

func (e *Engine) mergeLive(incoming models.ServiceEntity, stamp uint64) models.ServiceEntity {
	current, ok := e.store.Get(incoming.ID)
	if !ok {
		return incoming
	}

	if e.streamStamps[incoming.ID] > stamp {
		incoming.Status = current.Status
		incoming.LastLatency = current.LastLatency
		incoming.LastCheckedAt = current.LastCheckedAt

		return incoming
	}

	if incoming.LastLatency == nil {
		incoming.LastLatency = current.LastLatency
	}

	if incoming.LastCheckedAt == nil {
		incoming.LastCheckedAt = current.LastCheckedAt
	}

	return incoming
}

// applyEvent validates one raw frame and folds it into the store. Unknown ids and
// malformed frames are counted and dropped.
func (e *Engine) applyEvent(ctx context.Context, raw []byte) error {
	obs, err := models.ParseCheckResultEvent(raw)
	if err != nil {
		e.stats.malformed.Add(1)
		recordStreamEvent(ctx, outcomeMalformed)

		e.logger.Debug().Err(err).Int("bytes", len(raw)).Msg("Dropping malformed live event")

		return err
	}

	return e.applyObservation(ctx, obs)
}

func (e *Engine) applyObservation(ctx context.Context, obs *models.Observation) error {
	change, err := e.store.ApplyPartialObservation(obs)
	if err != nil {
		e.stats.droppedUnknown.Add(1)
		recordStreamEvent(ctx, outcomeUnknownEntity)
		e.warnUnknown(obs.ServiceID, err)

		return err
	}

	e.streamStamps[obs.ServiceID] = e.nextStamp()
	e.stats.eventsApplied.Add(1)
	recordStreamEvent(ctx, outcomeApplied)

	if !change.Empty() {
		e.renderer.RenderChanges([]models.ChangeDescriptor{change})
	}

	if obs.ServiceID != e.watched {
		return nil
	}

	sample := obs.Sample()

	buf := e.bufferFor(obs.ServiceID)
	buf.Append(sample)

	if e.historyPending {
		e.queuePendingLive(sample, buf.Cap())
	}

	e.renderer.RenderChart(models.ChartUpdate{
		ID:      obs.ServiceID,
		Samples: buf.Samples(),
		Stats:   cloneStats(e.watchedStats),
	})

	return nil
}

// queuePendingLive holds a live sample until the in-flight history lands. Only the
// newest limit samples can survive the merge, so older ones are dropped.
func (e *Engine) queuePendingLive(sample models.LatencySample, limit int) {
	if len(e.pendingLive) >= limit {
		e.pendingLive = slices.Delete(e.pendingLive, 0, len(e.pendingLive)-limit+1)
	}

	e.pendingLive = append(e.pendingLive, sample)
}

// warnUnknown logs an unknown id at warn level once per TTL window.
func (e *Engine) warnUnknown(id string, err error) {
	if _, seen := e.unknownSeen.Get(id); seen {
		e.logger.Trace().Str("service_id", id).Msg("Dropping live event for unknown service")
		return
	}

	e.unknownSeen.SetDefault(id, struct{}{})
	e.logger.Warn().Err(err).Str("service_id", id).Msg("Dropping live event for unknown service")
}

// applyHistory replaces the watched buffer with a history result. Live samples that
// arrived while the fetch was in flight and are newer than the history are kept.
func (e *Engine) applyHistory(ctx context.Context, stamp uint64, id string, metrics *models.ServiceMetrics) error {
	if id != e.watched || stamp != e.historyStamp || metrics == nil {
		e.stats.staleIgnored.Add(1)
		recordSnapshot(ctx, kindHistory, outcomeStale)

		return fmt.Errorf("%w: history for %q", models.ErrStaleWrite, id)
	}

	buf := e.bufferFor(id)
	buf.ReplaceAll(metrics.History)

	newest, hasHistory := buf.Last()
	for _, sample := range e.pendingLive {
		if !hasHistory || sample.CheckedAt.After(newest.CheckedAt) {
			buf.Append(sample)
		}
	}

	e.pendingLive = nil
	e.historyPending = false
	e.watchedStats = cloneStats(metrics.Stats)

	e.stats.snapshotsApplied.Add(1)
	recordSnapshot(ctx, kindHistory, outcomeApplied)

	e.renderer.RenderChart(models.ChartUpdate{
		ID:      id,
		Samples: buf.Samples(),
		Stats:   cloneStats(e.watchedStats),
		Reset:   true,
	})

	return nil
}

func (e *Engine) watch(ctx context.Context, id string) error {
	if !e.store.Has(id) {
		return fmt.Errorf("%w: %s", models.ErrUnknownEntity, id)
	}

	if e.watched != "" && e.watched != id {
		e.unwatch()
	}

	e.watched = id
	e.watchedStats = nil
	e.pendingLive = nil

	if buf, ok := e.buffers[id]; ok && buf.Len() > 0 {
		e.renderer.RenderChart(models.ChartUpdate{ID: id, Samples: buf.Samples(), Reset: true})
	}

	e.requestHistory(ctx, id)

	return nil
}

func (e *Engine) unwatch() {
	if e.watched == "" {
		return
	}

	id := e.watched

	e.watched = ""
	e.watchedStats = nil
	e.pendingLive = nil
	e.historyPending = false
	e.historyStamp = e.nextStamp()

	e.renderer.RenderChart(models.ChartUpdate{ID: id, Closed: true})
}

// removeEntity drops id together with its buffer and closes its chart.
func (e *Engine) removeEntity(id string) (models.ChangeDescriptor, bool) {
	change, ok := e.store.Remove(id)

	delete(e.buffers, id)
	delete(e.streamStamps, id)

	if e.watched == id {
		e.unwatch()
	}

	return change, ok
}

func (e *Engine) bufferFor(id string) *timeseries.Buffer {
	buf, ok := e.buffers[id]
	if !ok {
		buf = timeseries.NewBuffer(e.historyCapacity)
		e.buffers[id] = buf
	}

	return buf
}

func cloneStats(s *models.ServiceStats) *models.ServiceStats {
	if s == nil {
		return nil
	}

	c := *s

	return &c
}

// isStale reports whether err only means a superseded result was dropped.
func isStale(err error) bool {
	return errors.Is(err, models.ErrStaleWrite)
}
