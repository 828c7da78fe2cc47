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

// Package store keeps the authoritative in-memory table of monitored services.
package store

import (
	"fmt"
	"slices"

	"github.com/carverauto/livestatus/pkg/models"
	"github.com/samber/lo"
)

// EntityStore is an insertion-ordered map of service entities. Every mutation returns
// a ChangeDescriptor describing what a renderer has to repaint. It is not safe for
// concurrent use; the reconciliation engine owns it.
type EntityStore struct {
	entities map[string]*models.ServiceEntity
	order    []string
}

func New() *EntityStore {
	return &EntityStore{entities: make(map[string]*models.ServiceEntity)}
}

// UpsertFromSnapshot inserts entity or overwrites every field of the existing row.
func (s *EntityStore) UpsertFromSnapshot(entity models.ServiceEntity) models.ChangeDescriptor {
	incoming := entity.Clone()

	current, ok := s.entities[incoming.ID]
	if !ok {
		s.entities[incoming.ID] = &incoming
		s.order = append(s.order, incoming.ID)

		return models.ChangeDescriptor{
			ID:            incoming.ID,
			Kind:          models.ChangeAdded,
			ChangedFields: allFields(),
			Entity:        cloned(&incoming),
		}
	}

	changed := diffFields(current, &incoming)
	*current = incoming

	return models.ChangeDescriptor{
		ID:            incoming.ID,
		Kind:          models.ChangeUpdated,
		ChangedFields: changed,
		Entity:        cloned(current),
	}
}

// ApplyPartialObservation folds a live check result into an existing entity. It never
// creates an entity; an unknown id returns models.ErrUnknownEntity and leaves the
// store untouched.
func (s *EntityStore) ApplyPartialObservation(obs *models.Observation) (models.ChangeDescriptor, error) {
	current, ok := s.entities[obs.ServiceID]
	if !ok {
		return models.ChangeDescriptor{}, fmt.Errorf("%w: %s", models.ErrUnknownEntity, obs.ServiceID)
	}

	next := current.Clone()
	next.Status = models.DeriveStatus(current.Status, obs)

	checkedAt := obs.CheckedAt
	next.LastCheckedAt = &checkedAt

	latency := obs.Latency
	next.LastLatency = &latency

	changed := diffFields(current, &next)
	*current = next

	return models.ChangeDescriptor{
		ID:            obs.ServiceID,
		Kind:          models.ChangeUpdated,
		ChangedFields: changed,
		Entity:        cloned(current),
	}, nil
}

// Remove deletes id. Removing an absent id is a no-op and reports false.
func (s *EntityStore) Remove(id string) (models.ChangeDescriptor, bool) {
	if _, ok := s.entities[id]; !ok {
		return models.ChangeDescriptor{}, false
	}

	delete(s.entities, id)

	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}

	return models.ChangeDescriptor{ID: id, Kind: models.ChangeRemoved}, true
}

// SnapshotAll returns copies of every entity in insertion order.
func (s *EntityStore) SnapshotAll() []models.ServiceEntity {
	return lo.Map(s.order, func(id string, _ int) models.ServiceEntity {
		return s.entities[id].Clone()
	})
}

// Get returns a copy of one entity.
func (s *EntityStore) Get(id string) (models.ServiceEntity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return models.ServiceEntity{}, false
	}

	return e.Clone(), true
}

func (s *EntityStore) Has(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// IDs returns entity ids in insertion order.
func (s *EntityStore) IDs() []string {
	return slices.Clone(s.order)
}

func (s *EntityStore) Len() int {
	return len(s.order)
}

func cloned(e *models.ServiceEntity) *models.ServiceEntity {
	c := e.Clone()
	return &c
}
