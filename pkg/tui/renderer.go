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

package tui

import (
	"context"
	"sync"

	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
)

// Bridge carries engine output into a running program. It is both the engine's
// renderer and its notifier. Output sent before Attach is dropped.
type Bridge struct {
	mu      sync.RWMutex
	program *tea.Program
}

func NewBridge() *Bridge {
	return &Bridge{}
}

func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.program = p
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()

	if p != nil {
		p.Send(msg)
	}
}

func (b *Bridge) RenderChanges(changes []models.ChangeDescriptor) {
	b.send(changesMsg(changes))
}

func (b *Bridge) RenderChart(update models.ChartUpdate) {
	b.send(chartMsg(update))
}

func (b *Bridge) Notify(_ context.Context, event models.ConnectionEvent) {
	b.send(connectionMsg(event))
}

// LogRenderer is the headless renderer: every change becomes a log line.
type LogRenderer struct {
	logger logger.Logger
}

func NewLogRenderer(log logger.Logger) *LogRenderer {
	return &LogRenderer{logger: log}
}

func (r *LogRenderer) RenderChanges(changes []models.ChangeDescriptor) {
	for i := range changes {
		c := &changes[i]

		ev := r.logger.Info().
			Str("service_id", c.ID).
			Str("change", string(c.Kind))

		if c.Entity != nil {
			ev = ev.Str("name", c.Entity.Name).Str("status", string(c.Entity.Status))

			if c.Entity.LastLatency != nil {
				ev = ev.Str("latency", formatLatency(c.Entity.LastLatency))
			}
		}

		if len(c.ChangedFields) > 0 && c.Kind == models.ChangeUpdated {
			ev = ev.Strs("fields", lo.Map(c.ChangedFields, func(f models.Field, _ int) string {
				return string(f)
			}))
		}

		ev.Msg("Service changed")
	}
}

func (r *LogRenderer) RenderChart(update models.ChartUpdate) {
	ev := r.logger.Debug().Str("service_id", update.ID)

	if update.Closed {
		ev.Msg("Chart closed")
		return
	}

	ev = ev.Int("samples", len(update.Samples)).Bool("reset", update.Reset)

	if n := len(update.Samples); n > 0 {
		ev = ev.Str("latest", formatLatency(&update.Samples[n-1].Latency))
	}

	ev.Msg("Chart updated")
}
