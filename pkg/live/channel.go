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

// Package live maintains the push connection that streams check results.
package live

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/carverauto/livestatus/pkg/clock"
	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// ErrAlreadySubscribed is returned by a second Subscribe; the sequence is single-use.
var ErrAlreadySubscribed = errors.New("live channel already subscribed")

const (
	apiKeyHeader     = "X-API-Key"
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
)

// MessageKind discriminates Message.
type MessageKind int

const (
	// MessagePayload carries one raw frame from the server.
	MessagePayload MessageKind = iota
	// MessageState reports a connection state transition.
	MessageState
)

// Message is one element of the live sequence: either a raw payload or a state change.
// State changes travel in-band so the consumer sees them in order with the data.
type Message struct {
	Kind    MessageKind
	Payload []byte
	State   models.ConnectionEvent
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Channel is a self-healing subscription to the live endpoint. After any connection
// loss it waits the configured fixed delay (plus optional jitter) and reconnects,
// forever, until its context ends.
type Channel struct {
	url         string
	header      http.Header
	dialer      Dialer
	clock       clock.Clock
	policy      backoff.BackOff
	readTimeout time.Duration
	bufferSize  int
	logger      logger.Logger
	subscribed  atomic.Bool
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

// WithReconnectPolicy replaces the fixed-delay policy built from config.
func WithReconnectPolicy(bo backoff.BackOff) Option {
	return func(c *Channel) { c.policy = bo }
}

func NewChannel(cfg *models.StreamConfig, apiKey string, log logger.Logger, opts ...Option) *Channel {
	header := http.Header{}
	if apiKey != "" {
		header.Set(apiKeyHeader, apiKey)
	}

	c := &Channel{
		url:    cfg.URL,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		clock:       clock.Real(),
		policy:      NewFixedDelay(time.Duration(cfg.ReconnectDelay), cfg.ReconnectJitter),
		readTimeout: time.Duration(cfg.ReadTimeout),
		bufferSize:  cfg.BufferSize,
		logger:      log,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Subscribe starts connecting and returns the message sequence. Nothing happens until
// it is called. The returned channel is closed once ctx ends.
func (c *Channel) Subscribe(ctx context.Context) (<-chan Message, error) {
	if !c.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan Message, c.bufferSize)

	go c.run(ctx, out)

	return out, nil
}

func (c *Channel) run(ctx context.Context, out chan<- Message) {
	defer close(out)

	attempt := 0

	for {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			attempt++

			c.logger.Warn().Err(err).Str("url", c.url).Int("attempt", attempt).Msg("Live channel dial failed")

			if !c.waitReconnect(ctx, out, attempt, err) {
				return
			}

			continue
		}

		attempt = 0
		c.policy.Reset()

		c.logger.Info().Str("url", c.url).Msg("Live channel connected")

		if !c.emit(ctx, out, Message{Kind: MessageState, State: models.ConnectionEvent{
			State: models.ConnectionConnected,
			At:    c.clock.Now(),
		}}) {
			_ = conn.Close()
			return
		}

		err = c.readLoop(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn().Err(err).Msg("Live channel disconnected")

		if !c.emit(ctx, out, Message{Kind: MessageState, State: models.ConnectionEvent{
			State: models.ConnectionDisconnected,
			At:    c.clock.Now(),
			Error: errString(err),
		}}) {
			return
		}

		attempt++

		if !c.waitReconnect(ctx, out, attempt, err) {
			return
		}
	}
}

// waitReconnect announces the next attempt and sleeps the policy delay. It returns
// false when ctx ends first.
func (c *Channel) waitReconnect(ctx context.Context, out chan<- Message, attempt int, cause error) bool {
	delay := c.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = time.Duration(models.DefaultReconnectDelay)
	}

	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Live channel reconnecting")

	if !c.emit(ctx, out, Message{Kind: MessageState, State: models.ConnectionEvent{
		State:   models.ConnectionReconnecting,
		At:      c.clock.Now(),
		Attempt: attempt,
		Delay:   models.Duration(delay),
		Error:   errString(cause),
	}}) {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(delay):
		return true
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Message) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() { _ = conn.Close() }()

	if c.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if c.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		if !c.emit(ctx, out, Message{Kind: MessagePayload, Payload: data}) {
			return ctx.Err()
		}
	}
}

func (*Channel) emit(ctx context.Context, out chan<- Message, msg Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
