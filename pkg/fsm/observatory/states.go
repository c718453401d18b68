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

// Package observatory declares the nightly lifecycle of the telescope: the
// state set, the triggers that move between them, and the guard conditions
// that gate pointing-sensitive steps. The generic engine in pkg/fsm knows
// nothing about astronomy; everything observatory-specific lives here.
package observatory

import (
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// Lifecycle states. The operational states cover the open-dome part of the
// night; the always-safe states are those where the instrument needs no
// active supervision.
const (
	// StateSleeping is the daytime idle state: dome closed, mount parked,
	// software waiting for the next night.
	StateSleeping fsm.StateID = "sleeping"
	// StateReady means the mount is initialized and the system can enter
	// the evening program.
	StateReady fsm.StateID = "ready"
	// StateTwilightFlatFielding acquires sky flats in evening twilight.
	StateTwilightFlatFielding fsm.StateID = "twilight_flat_fielding"
	// StateCoarseFocusing sweeps the focuser through a coarse range on a
	// bright field.
	StateCoarseFocusing fsm.StateID = "coarse_focusing"
	// StateScheduling picks the next target from the queue.
	StateScheduling fsm.StateID = "scheduling"
	// StatePreparing configures camera and filter wheel for the chosen
	// target.
	StatePreparing fsm.StateID = "preparing"
	// StateSlewing moves the mount onto the target.
	StateSlewing fsm.StateID = "slewing"
	// StateFocusing fine-tunes focus at the target position.
	StateFocusing fsm.StateID = "focusing"
	// StateObserving integrates on the target.
	StateObserving fsm.StateID = "observing"
	// StateAnalyzing inspects the frames just taken and decides how to
	// continue.
	StateAnalyzing fsm.StateID = "analyzing"
	// StateDithering offsets the pointing slightly between exposures.
	StateDithering fsm.StateID = "dithering"
	// StateParking is the transient state while mount and dome drive to
	// their stow positions.
	StateParking fsm.StateID = "parking"
	// StateParked means mount stowed and dome closed.
	StateParked fsm.StateID = "parked"
	// StateTakingDarks acquires dark frames with the shutter closed.
	StateTakingDarks fsm.StateID = "taking_darks"
	// StateHousekeeping runs end-of-night duties: data offload, log
	// rotation, rechecking consumables.
	StateHousekeeping fsm.StateID = "housekeeping"
)

// NewRegistry returns the registry of all lifecycle states with their tags.
func NewRegistry() *fsm.Registry {
	r := fsm.NewRegistry()

	r.MustRegister(StateSleeping, fsm.StateTags{AlwaysSafe: true})
	r.MustRegister(StateReady, fsm.StateTags{})
	r.MustRegister(StateTwilightFlatFielding, fsm.StateTags{Horizon: fsm.HorizonFlat})
	r.MustRegister(StateCoarseFocusing, fsm.StateTags{Horizon: fsm.HorizonFocus})
	r.MustRegister(StateScheduling, fsm.StateTags{})
	r.MustRegister(StatePreparing, fsm.StateTags{})
	r.MustRegister(StateSlewing, fsm.StateTags{})
	r.MustRegister(StateFocusing, fsm.StateTags{})
	r.MustRegister(StateObserving, fsm.StateTags{})
	r.MustRegister(StateAnalyzing, fsm.StateTags{})
	r.MustRegister(StateDithering, fsm.StateTags{})
	r.MustRegister(StateParking, fsm.StateTags{AlwaysSafe: true})
	r.MustRegister(StateParked, fsm.StateTags{AlwaysSafe: true})
	r.MustRegister(StateTakingDarks, fsm.StateTags{AlwaysSafe: true})
	r.MustRegister(StateHousekeeping, fsm.StateTags{AlwaysSafe: true})

	return r
}

// OperationalStates returns the states in which the watchdog insists on a
// working park path: everything that is not always safe.
func OperationalStates() []fsm.StateID {
	return []fsm.StateID{
		StateReady,
		StateTwilightFlatFielding,
		StateCoarseFocusing,
		StateScheduling,
		StatePreparing,
		StateSlewing,
		StateFocusing,
		StateObserving,
		StateAnalyzing,
		StateDithering,
	}
}
