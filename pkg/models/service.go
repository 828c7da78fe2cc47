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
	"strings"
	"time"

	"github.com/samber/lo"
)

// Status is the coarse health classification shown for a monitored service.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusDown     Status = "DOWN"
	StatusUnknown  Status = "UNKNOWN"
)

// ParseStatus maps a wire string onto a Status. Anything unrecognized is UNKNOWN.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusHealthy, StatusWarning, StatusCritical, StatusDown, StatusUnknown:
		return st
	default:
		return StatusUnknown
	}
}

// Failing reports whether the status is one the recovery rule can lift back to HEALTHY.
func (s Status) Failing() bool {
	return s == StatusDown || s == StatusCritical
}

// ServiceEntity is the dashboard's view of one monitored service.
//
// Name, URL, Type and CheckInterval are metadata and are only ever written by a
// snapshot. Status, LastLatency and LastCheckedAt are also written by the live stream.
type ServiceEntity struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Type          string     `json:"type,omitempty"`
	CheckInterval Duration   `json:"interval"`
	Status        Status     `json:"status"`
	LastLatency   *Duration  `json:"last_latency,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitzero"`
	UpdatedAt     time.Time  `json:"updated_at,omitzero"`
}

// Clone returns a copy that shares no pointers with the receiver.
func (e *ServiceEntity) Clone() ServiceEntity {
	out := *e

	if e.LastLatency != nil {
		latency := *e.LastLatency
		out.LastLatency = &latency
	}

	if e.LastCheckedAt != nil {
		checked := *e.LastCheckedAt
		out.LastCheckedAt = &checked
	}

	return out
}

// ServiceStats summarizes recent checks for one service.
type ServiceStats struct {
	UptimePercentage float64  `json:"uptime_percentage"`
	AvgLatency       Duration `json:"avg_latency"`
	TotalChecks      int64    `json:"total_checks"`
	FailedChecks     int64    `json:"failed_checks,omitempty"`
}

// UnmarshalJSON accepts the snake_case names above as well as the camelCase
// spelling (uptimePercentage, avgLatencyNanos, totalChecks, failedChecks). When both
// are present the snake_case value wins.
func (s *ServiceStats) UnmarshalJSON(b []byte) error {
	var wire struct {
		UptimePercentage      *float64  `json:"uptime_percentage"`
		UptimePercentageCamel *float64  `json:"uptimePercentage"`
		AvgLatency            *Duration `json:"avg_latency"`
		AvgLatencyNanos       *Duration `json:"avgLatencyNanos"`
		AvgLatencyCamel       *Duration `json:"avgLatency"`
		TotalChecks           *int64    `json:"total_checks"`
		TotalChecksCamel      *int64    `json:"totalChecks"`
		FailedChecks          *int64    `json:"failed_checks"`
		FailedChecksCamel     *int64    `json:"failedChecks"`
	}

	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	uptime, _ := lo.Coalesce(wire.UptimePercentage, wire.UptimePercentageCamel)
	avg, _ := lo.Coalesce(wire.AvgLatency, wire.AvgLatencyNanos, wire.AvgLatencyCamel)
	total, _ := lo.Coalesce(wire.TotalChecks, wire.TotalChecksCamel)
	failed, _ := lo.Coalesce(wire.FailedChecks, wire.FailedChecksCamel)

	*s = ServiceStats{
		UptimePercentage: lo.FromPtr(uptime),
		AvgLatency:       lo.FromPtr(avg),
		TotalChecks:      lo.FromPtr(total),
		FailedChecks:     lo.FromPtr(failed),
	}

	return nil
}

// ServiceMetrics is the body of a history fetch after normalization.
// History is ordered oldest first.
type ServiceMetrics struct {
	ServiceID string          `json:"service_id"`
	Stats     *ServiceStats   `json:"stats,omitempty"`
	History   []LatencySample `json:"history"`
}
