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

package store

import (
	"time"

	"github.com/carverauto/livestatus/pkg/models"
)

func allFields() []models.Field {
	return []models.Field{
		models.FieldName,
		models.FieldURL,
		models.FieldType,
		models.FieldCheckInterval,
		models.FieldStatus,
		models.FieldLastLatency,
		models.FieldLastCheckedAt,
	}
}

// diffFields lists the fields whose values differ between a and b, in allFields order.
func diffFields(a, b *models.ServiceEntity) []models.Field {
	var changed []models.Field

	if a.Name != b.Name {
		changed = append(changed, models.FieldName)
	}

	if a.URL != b.URL {
		changed = append(changed, models.FieldURL)
	}

	if a.Type != b.Type {
		changed = append(changed, models.FieldType)
	}

	if a.CheckInterval != b.CheckInterval {
		changed = append(changed, models.FieldCheckInterval)
	}

	if a.Status != b.Status {
		changed = append(changed, models.FieldStatus)
	}

	if !equalPtr(a.LastLatency, b.LastLatency, func(x, y models.Duration) bool { return x == y }) {
		changed = append(changed, models.FieldLastLatency)
	}

	if !equalPtr(a.LastCheckedAt, b.LastCheckedAt, time.Time.Equal) {
		changed = append(changed, models.FieldLastCheckedAt)
	}

	return changed
}

func equalPtr[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == b
	}

	return eq(*a, *b)
}
