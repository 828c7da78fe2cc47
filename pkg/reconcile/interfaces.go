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

//go:generate mockgen -destination=mock_reconcile.go -package=reconcile github.com/carverauto/livestatus/pkg/reconcile Renderer,Notifier,SnapshotSource,EventSource

import (
	"context"

	"github.com/carverauto/livestatus/pkg/live"
	"github.com/carverauto/livestatus/pkg/models"
)

// Renderer receives row and chart updates. Both methods are called from the engine
// goroutine with values the renderer may keep.
type Renderer interface {
	RenderChanges(changes []models.ChangeDescriptor)
	RenderChart(update models.ChartUpdate)
}

// Notifier is the sink for connection state messages.
type Notifier interface {
	Notify(ctx context.Context, event models.ConnectionEvent)
}

// SnapshotSource supplies authoritative state.
type SnapshotSource interface {
	FetchServices(ctx context.Context) ([]models.ServiceEntity, error)
	FetchHistory(ctx context.Context, id string) (*models.ServiceMetrics, error)
}

// EventSource supplies the live message sequence.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan live.Message, error)
}
