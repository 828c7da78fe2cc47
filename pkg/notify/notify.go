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

// Package notify delivers live channel state changes to the user and to other systems.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultQueueSize      = 64
)

// Notifier receives connection state changes. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, event models.ConnectionEvent)
}

// Publisher is the outbound transport used by NATSNotifier.
type Publisher interface {
	PublishConnectionEvent(ctx context.Context, event models.ConnectionEvent) error
}

// LogNotifier writes transitions to the structured log.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, event models.ConnectionEvent) {
	ev := n.logger.Warn()
	if event.State == models.ConnectionConnected {
		ev = n.logger.Info()
	}

	ev = ev.Str("state", string(event.State))

	if event.Scope != "" {
		ev = ev.Str("scope", event.Scope)
	}

	if event.Attempt > 0 {
		ev = ev.Int("attempt", event.Attempt)
	}

	if event.Delay > 0 {
		ev = ev.Dur("delay", time.Duration(event.Delay))
	}

	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}

	ev.Msg(event.Message())
}

// NATSNotifier publishes each transition as a CloudEvent from its own goroutine.
// Notify only queues the event, so a slow broker or a JetStream ack never holds up
// the caller. Events that do not fit in the queue are dropped; publish failures are
// logged and otherwise ignored.
type NATSNotifier struct {
	publisher Publisher
	logger    logger.Logger
	timeout   time.Duration
	queue     chan models.ConnectionEvent
	dropped   atomic.Int64
}

func NewNATSNotifier(publisher Publisher, log logger.Logger) *NATSNotifier {
	return &NATSNotifier{
		publisher: publisher,
		logger:    log,
		timeout:   defaultPublishTimeout,
		queue:     make(chan models.ConnectionEvent, defaultQueueSize),
	}
}

// Notify queues event for Run without blocking.
func (n *NATSNotifier) Notify(_ context.Context, event models.ConnectionEvent) {
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn().Str("state", string(event.State)).Msg("Notification queue full, dropping connection event")
	}
}

// Run publishes queued events until ctx is done.
func (n *NATSNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			n.publish(ctx, event)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *NATSNotifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *NATSNotifier) publish(ctx context.Context, event models.ConnectionEvent) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.publisher.PublishConnectionEvent(ctx, event); err != nil {
		n.logger.Warn().Err(err).Str("state", string(event.State)).Msg("Failed to publish connection event")
	}
}

type multi []Notifier

// Multi fans an event out to every notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

func (m multi) Notify(ctx context.Context, event models.ConnectionEvent) {
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
