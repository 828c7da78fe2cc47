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

package tui

import "github.com/carverauto/livestatus/pkg/models"

//nolint:gochecknoglobals // constant table
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkLevels scales the newest width samples onto the block heights, lowest latency
// at level 0.
func sparkLevels(samples []models.LatencySample, width int) []int {
	if width <= 0 || len(samples) == 0 {
		return nil
	}

	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	lo, hi := samples[0].Latency, samples[0].Latency
	for _, s := range samples[1:] {
		lo = min(lo, s.Latency)
		hi = max(hi, s.Latency)
	}

	top := len(sparkBlocks) - 1
	levels := make([]int, len(samples))

	if hi == lo {
		return levels
	}

	span := float64(hi - lo)

	for i, s := range samples {
		levels[i] = int(float64(s.Latency-lo) / span * float64(top))
	}

	return levels
}
