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
	"slices"
	"time"
)

// Field names an entity attribute in a ChangeDescriptor.
type Field string

const (
	FieldName          Field = "name"
	FieldURL           Field = "url"
	FieldType          Field = "type"
	FieldCheckInterval Field = "interval"
	FieldStatus        Field = "status"
	FieldLastLatency   Field = "last_latency"
	FieldLastCheckedAt Field = "last_checked_at"
)

// ChangeKind says what happened to the entity row.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeDescriptor tells the renderer which row changed and which cells to repaint.
// Entity is a private copy; it is nil for removals.
type ChangeDescriptor struct {
	ID            string         `json:"id"`
	Kind          ChangeKind     `json:"kind"`
	ChangedFields []Field        `json:"changed_fields,omitempty"`
	Entity        *ServiceEntity `json:"entity,omitempty"`
}

// Changed reports whether field is among the changed fields.
func (c *ChangeDescriptor) Changed(field Field) bool {
	return slices.Contains(c.ChangedFields, field)
}

// Empty is true for an update that touched nothing.
func (c *ChangeDescriptor) Empty() bool {
	return c.Kind == ChangeUpdated && len(c.ChangedFields) == 0
}

// ChartUpdate carries the full series for the watched entity, oldest first. Reset is
// set when the series was replaced rather than extended; Closed when the chart for ID
// is no longer watched.
type ChartUpdate struct {
	ID      string          `json:"id"`
	Samples []LatencySample `json:"samples"`
	Stats   *ServiceStats   `json:"stats,omitempty"`
	Reset   bool            `json:"reset,omitempty"`
	Closed  bool            `json:"closed,omitempty"`
}

// ConnectionState is the live channel's link state as surfaced to the user.
// ConnectionSnapshotFailed is transient: the link itself is unchanged, but a REST
// fetch failed and the dashboard may be showing older data.
type ConnectionState string

const (
	ConnectionConnected      ConnectionState = "connected"
	ConnectionDisconnected   ConnectionState = "disconnected"
	ConnectionReconnecting   ConnectionState = "reconnecting"
	ConnectionSnapshotFailed ConnectionState = "snapshot_failed"
)

// ConnectionEvent is what the notification sink receives. Scope names the failed
// fetch ("list" or "history") for ConnectionSnapshotFailed.
type ConnectionEvent struct {
	State   ConnectionState `json:"state"`
	At      time.Time       `json:"at"`
	Attempt int             `json:"attempt,omitempty"`
	Delay   Duration        `json:"delay,omitempty"`
	Scope   string          `json:"scope,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Transient reports whether the event leaves the link state as it was.
func (e *ConnectionEvent) Transient() bool {
	return e.State == ConnectionSnapshotFailed
}

// Message returns the user-facing text for the event.
func (e *ConnectionEvent) Message() string {
	switch e.State {
	case ConnectionConnected:
		return "Connected to live monitor"
	case ConnectionDisconnected:
		return "Connection lost"
	case ConnectionReconnecting:
		return "Connection lost. Reconnecting..."
	case ConnectionSnapshotFailed:
		if e.Scope == "history" {
			return "Failed to load service history"
		}

		return "Failed to refresh services"
	default:
		return string(e.State)
	}
}

// EngineStats are in-process counters exposed by the reconciliation engine.
type EngineStats struct {
	EventsApplied    int64 `json:"events_applied"`
	DroppedUnknown   int64 `json:"dropped_unknown"`
	Malformed        int64 `json:"malformed"`
	StaleIgnored     int64 `json:"stale_ignored"`
	SnapshotsApplied int64 `json:"snapshots_applied"`
	FetchErrors      int64 `json:"fetch_errors"`
}
