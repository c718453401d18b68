// Copyright 2025 Umbra Observatory Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package constants

import "time"

const (
	// DefaultGuardTimeout bounds a single guard predicate evaluation.
	// Guard predicates may query hardware over a network or serial link;
	// anything slower than this is treated as an evaluation failure, never
	// as guard-false.
	DefaultGuardTimeout = 2 * time.Second

	// DefaultHookTimeout bounds a single entry or exit hook. Hooks run after
	// the state change is committed, so this only limits how long a fire call
	// (and with it the machine mutex) can be held by a misbehaving callback.
	DefaultHookTimeout = 10 * time.Second

	// ParkRetryInitialInterval is the first wait of the watchdog's park retry
	// schedule.
	ParkRetryInitialInterval = 250 * time.Millisecond

	// ParkRetryMaxInterval caps the park retry backoff. Parking is the escape
	// hatch; waiting longer than this between attempts buys nothing.
	ParkRetryMaxInterval = 5 * time.Second

	// ParkRetryMaxElapsed is the total budget for driving the machine to
	// parked before the watchdog escalates to a fatal report.
	ParkRetryMaxElapsed = 2 * time.Minute
)
