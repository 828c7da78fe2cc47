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

// Package timeseries holds the bounded latency series behind the dashboard chart.
package timeseries

import "github.com/carverauto/livestatus/pkg/models"

// Buffer is a fixed-capacity FIFO of latency samples. When full, Append evicts the
// oldest sample. A Buffer is not safe for concurrent use; the engine goroutine owns it.
type Buffer struct {
	samples []models.LatencySample
	start   int
	size    int
}

// NewBuffer creates a buffer holding at most capacity samples. A non-positive
// capacity falls back to models.DefaultHistoryCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = models.DefaultHistoryCapacity
	}

	return &Buffer{samples: make([]models.LatencySample, capacity)}
}

// Cap returns the maximum number of samples retained.
func (b *Buffer) Cap() int {
	return len(b.samples)
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	return b.size
}

// Append adds a sample at the newest end and reports whether an old sample was evicted.
func (b *Buffer) Append(s models.LatencySample) bool {
	capacity := len(b.samples)

	if b.size < capacity {
		b.samples[(b.start+b.size)%capacity] = s
		b.size++

		return false
	}

	b.samples[b.start] = s
	b.start = (b.start + 1) % capacity

	return true
}

// ReplaceAll discards the current contents and loads samples, which must be ordered
// oldest first. Only the newest Cap() samples are kept.
func (b *Buffer) ReplaceAll(samples []models.LatencySample) {
	b.Reset()

	if overflow := len(samples) - len(b.samples); overflow > 0 {
		samples = samples[overflow:]
	}

	b.size = copy(b.samples, samples)
}

// Samples returns a copy of the contents, oldest first.
func (b *Buffer) Samples() []models.LatencySample {
	out := make([]models.LatencySample, b.size)
	capacity := len(b.samples)

	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.start+i)%capacity]
	}

	return out
}

// Last returns the newest sample.
func (b *Buffer) Last() (models.LatencySample, bool) {
	if b.size == 0 {
		return models.LatencySample{}, false
	}

	return b.samples[(b.start+b.size-1)%len(b.samples)], true
}

// Reset empties the buffer without changing its capacity.
func (b *Buffer) Reset() {
	clear(b.samples)
	b.start = 0
	b.size = 0
}
