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
	"fmt"
	"math"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

//nolint:gochecknoglobals // shared codec configuration
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	minStatusCode = 100
	maxStatusCode = 999
)

// CheckResultEvent is one frame pushed on the live channel. Every field is a pointer
// so that absent and null values can be told apart during validation. Latency is a
// plain nanosecond number on the wire; unlike config durations, strings are rejected.
type CheckResultEvent struct {
	ServiceID    *string    `json:"service_id"`
	Success      *bool      `json:"success"`
	StatusCode   *int       `json:"status_code"`
	Latency      *float64   `json:"latency"`
	CheckedAt    *time.Time `json:"checked_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Observation is a validated check result, ready to be applied to an entity.
type Observation struct {
	ServiceID    string
	Success      bool
	StatusCode   *int
	Latency      Duration
	CheckedAt    time.Time
	ErrorMessage string
}

// Sample converts the observation into a chart point.
func (o *Observation) Sample() LatencySample {
	return LatencySample{
		CheckedAt: o.CheckedAt,
		Latency:   o.Latency,
		Success:   o.Success,
	}
}

// LatencySample is one point of a latency chart.
type LatencySample struct {
	CheckedAt time.Time `json:"checked_at"`
	Latency   Duration  `json:"latency"`
	Success   bool      `json:"success"`
}

// ParseCheckResultEvent decodes and validates a raw live frame. Any failure wraps
// ErrMalformedPayload.
func ParseCheckResultEvent(raw []byte) (*Observation, error) {
	var evt CheckResultEvent

	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	obs, err := evt.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	return obs, nil
}

// Validate checks required fields and normalizes the status code.
// A status code of 0 means no HTTP response and is treated like null.
func (e *CheckResultEvent) Validate() (*Observation, error) {
	if e.ServiceID == nil || strings.TrimSpace(*e.ServiceID) == "" {
		return nil, errMissingServiceID
	}

	if e.Success == nil {
		return nil, errMissingSuccess
	}

	if e.CheckedAt == nil || e.CheckedAt.IsZero() {
		return nil, errMissingCheckedAt
	}

	if e.Latency == nil {
		return nil, errMissingLatency
	}

	if *e.Latency < 0 {
		return nil, errNegativeLatency
	}

	if *e.Latency > math.MaxInt64 {
		return nil, errLatencyOutOfRange
	}

	obs := &Observation{
		ServiceID:    strings.TrimSpace(*e.ServiceID),
		Success:      *e.Success,
		Latency:      Duration(int64(*e.Latency)),
		CheckedAt:    e.CheckedAt.UTC(),
		ErrorMessage: e.ErrorMessage,
	}

	if e.StatusCode != nil && *e.StatusCode != 0 {
		code := *e.StatusCode
		if code < minStatusCode || code > maxStatusCode {
			return nil, fmt.Errorf("%w: %d", errInvalidStatusCode, code)
		}

		obs.StatusCode = &code
	}

	return obs, nil
}
