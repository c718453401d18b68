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
	// MinOperatingVoltage is the dome controller battery threshold in volts.
	// Below this the shutter must not be driven.
	MinOperatingVoltage = 12.0

	// DefaultSimBatteryVoltage is the simulated controller's healthy battery
	// reading, comfortably above the operating threshold.
	DefaultSimBatteryVoltage = 13.1

	// StatusCacheTTL is how long a cached hardware status read stays valid.
	// Mirrors the controller firmware's own status refresh period, so polling
	// faster than this returns the same answer anyway.
	StatusCacheTTL = 5 * time.Second

	// StatusCacheCullInterval is how often expired status entries are culled.
	StatusCacheCullInterval = 30 * time.Second

	// DefaultSlewSettleTime is how long the simulated mount takes to complete
	// a slew and settle back into tracking.
	DefaultSlewSettleTime = 150 * time.Millisecond

	// DefaultShutterTravelTime is how long the simulated dome shutter takes
	// to open or close.
	DefaultShutterTravelTime = 200 * time.Millisecond
)
