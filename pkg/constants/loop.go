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
	// DefaultTickerTime is the interval between supervisor ticks.
	// This value balances responsiveness with hardware churn:
	// - Too small: guard predicates hammer the (possibly serial) device links
	// - Too high: delayed reaction to a state the policy wants to leave
	DefaultTickerTime = 500 * time.Millisecond

	// StarvationThreshold defines when to consider the supervisor loop starved.
	// If no tick has completed for this duration, the starvation counter is
	// incremented and a warning is raised. A stuck guard predicate on a dead
	// serial link is the usual culprit.
	StarvationThreshold = 15 * time.Second

	// DefaultInstanceName is the machine instance name used when the config
	// does not name the observatory.
	DefaultInstanceName = "observatory"

	// DefaultMinimumRemainingTime is the minimum context budget the supervisor
	// requires before starting a fire; below this it skips the tick.
	DefaultMinimumRemainingTime = time.Millisecond * 50

	// GuardFailureEscalationStreak is the number of consecutive guard
	// evaluation failures after which the supervisor escalates to error
	// reporting. One failed hardware query is routine; a streak this long
	// means the link is down.
	GuardFailureEscalationStreak = 5

	// DefaultTargetsPerNight is the number of science targets a night holds
	// when the config does not say otherwise.
	DefaultTargetsPerNight = 3

	// DefaultDithersPerTarget is the number of dither offsets taken on each
	// target when the config does not say otherwise.
	DefaultDithersPerTarget = 2
)
