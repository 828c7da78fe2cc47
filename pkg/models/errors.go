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

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches any *TransportError via errors.Is.
	ErrTransport = errors.New("transport failure")
	// ErrUnknownEntity is returned when a live event names an id the store does not hold.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrMalformedPayload is returned when a live message fails decoding or validation.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStaleWrite marks a fetch result that was superseded before it arrived.
	ErrStaleWrite = errors.New("stale write ignored")

	errInvalidDuration    = errors.New("invalid duration")
	errMissingServiceID   = errors.New("service_id is required")
	errMissingSuccess     = errors.New("success is required")
	errMissingCheckedAt   = errors.New("checked_at is required")
	errMissingLatency     = errors.New("latency is required")
	errNegativeLatency    = errors.New("latency must not be negative")
	errLatencyOutOfRange  = errors.New("latency out of range")
	errInvalidStatusCode  = errors.New("status_code out of range")
	errBaseURLRequired    = errors.New("api.base_url is required")
	errInvalidBaseURL     = errors.New("api.base_url must be an absolute http(s) URL")
	errInvalidStreamURL   = errors.New("stream.url must be an absolute ws(s) URL")
	errInvalidJitter      = errors.New("stream.reconnect_jitter must be within [0, 1)")
	errNATSURLRequired    = errors.New("nats.url is required when nats is enabled")
	errNegativeCapacity   = errors.New("engine.history_capacity must not be negative")
	errNegativeRetries    = errors.New("api.max_retries must not be negative")
	errInvalidRefreshTick = errors.New("engine.refresh_interval must not be negative")
)

// TransportError wraps a network or HTTP-level failure for a snapshot fetch or the
// live connection.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match without every caller wrapping twice.
func (*TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Retryable reports whether repeating the request could succeed.
func (e *TransportError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}

	return e.StatusCode >= 500 || e.StatusCode == 429
}
