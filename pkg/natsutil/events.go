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

// Package natsutil connects to NATS and publishes livestatus CloudEvents.
package natsutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

//nolint:gochecknoglobals // shared codec
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	connectionEventType = "com.carverauto.livestatus.connection"
	specVersion         = "1.0"
	contentTypeJSON     = "application/json"
)

// ConnectionEventData is the CloudEvent payload for a live channel transition.
type ConnectionEventData struct {
	models.ConnectionEvent
	Summary string `json:"message"`
}

// EventPublisher provides methods for publishing CloudEvents to NATS, through
// JetStream when a stream is configured.
type EventPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	source  string
}

// NewEventPublisher publishes with core NATS.
func NewEventPublisher(nc *nats.Conn, subject, source string) *EventPublisher {
	return &EventPublisher{nc: nc, subject: subject, source: source}
}

// CreateEventPublisher publishes through JetStream, making sure streamName exists and
// captures subject.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName, subject, source string) (*EventPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := EnsureStream(ctx, js, streamName, subject); err != nil {
		return nil, err
	}

	return &EventPublisher{nc: nc, js: js, subject: subject, source: source}, nil
}

// PublishConnectionEvent wraps event in a CloudEvent and publishes it.
func (p *EventPublisher) PublishConnectionEvent(ctx context.Context, event models.ConnectionEvent) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	ce := models.CloudEvent{
		SpecVersion:     specVersion,
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            connectionEventType + "." + string(event.State),
		DataContentType: contentTypeJSON,
		Subject:         p.subject,
		Time:            &at,
		Data:            ConnectionEventData{ConnectionEvent: event, Summary: event.Message()},
	}

	eventBytes, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal connection event: %w", err)
	}

	if p.js != nil {
		if _, err := p.js.Publish(ctx, p.subject, eventBytes); err != nil {
			return fmt.Errorf("failed to publish connection event: %w", err)
		}

		return nil
	}

	if err := p.nc.Publish(p.subject, eventBytes); err != nil {
		return fmt.Errorf("failed to publish connection event: %w", err)
	}

	return nil
}

// EnsureStream creates streamName if it is missing, or widens its subjects so that
// subject is captured.
func EnsureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream %s info: %w", streamName, err)
	}

	subjects := ensureSubjectList(append([]string(nil), info.Config.Subjects...), subject)
	if len(subjects) == len(info.Config.Subjects) {
		return nil
	}

	cfg := info.Config
	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, streamName, err)
	}

	return nil
}

// ensureSubjectList appends subject unless an existing entry already matches it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject applies NATS wildcard rules: * matches one token, > the rest.
func matchesSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, token := range pt {
		if token == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if token != "*" && token != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}

// Connect dials NATS with connection handlers that log through log.
func Connect(cfg *models.NATSConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name("livestatus")}

	if cfg.TLS != nil {
		tlsConf, err := TLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}
