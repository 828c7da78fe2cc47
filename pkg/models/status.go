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

const (
	criticalStatusCode     = 500
	recoveryStatusCodeLow  = 200
	recoveryStatusCodeHigh = 400
)

// DeriveStatus is the single rule for turning a live observation into a status.
// Rules are evaluated in order and the first match wins:
//
//  1. a failed check is DOWN
//  2. a response of 500 or above is CRITICAL
//  3. a successful 2xx/3xx response lifts DOWN or CRITICAL back to HEALTHY
//  4. anything else leaves the prior status as it was
func DeriveStatus(prior Status, obs *Observation) Status {
	if !obs.Success {
		return StatusDown
	}

	if obs.StatusCode != nil && *obs.StatusCode >= criticalStatusCode {
		return StatusCritical
	}

	if prior.Failing() && obs.StatusCode != nil &&
		*obs.StatusCode >= recoveryStatusCodeLow && *obs.StatusCode < recoveryStatusCodeHigh {
		return StatusHealthy
	}

	return prior
}
