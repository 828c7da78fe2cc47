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

package live

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// fixedDelay is a constant reconnect delay spread by +/- jitter*delay.
type fixedDelay struct {
	base   *backoff.ConstantBackOff
	jitter float64
	random func() float64
}

// NewFixedDelay returns the reconnect policy: every attempt waits delay, randomized
// within +/- jitter (a fraction in [0, 1)).
func NewFixedDelay(delay time.Duration, jitter float64) backoff.BackOff {
	return &fixedDelay{
		base:   backoff.NewConstantBackOff(delay),
		jitter: jitter,
		random: rand.Float64,
	}
}

func (f *fixedDelay) NextBackOff() time.Duration {
	d := f.base.NextBackOff()
	if f.jitter <= 0 || d == backoff.Stop {
		return d
	}

	delta := f.jitter * float64(d)

	return time.Duration(float64(d) - delta + f.random()*2*delta)
}

func (f *fixedDelay) Reset() {
	f.base.Reset()
}
