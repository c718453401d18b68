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

package fsmtest

import (
	"context"
	"fmt"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
)

// Drive fires the triggers in order, failing on the first one that does not
// commit.
func Drive(ctx context.Context, m *fsm.Machine, triggers ...fsm.Trigger) error {
	for _, trigger := range triggers {
		if err := m.Fire(ctx, trigger); err != nil {
			return fmt.Errorf("firing %q from %q: %w", trigger, m.Current(), err)
		}
	}

	return nil
}

// PathTo returns a trigger sequence that takes a fresh lifecycle machine
// from sleeping into target, assuming a cooperative mount. It covers every
// state of the canonical nightly graph.
func PathTo(target fsm.StateID) ([]fsm.Trigger, error) {
	paths := map[fsm.StateID][]fsm.Trigger{
		observatory.StateSleeping:             {},
		observatory.StateReady:                {observatory.TriggerGetReady},
		observatory.StateTwilightFlatFielding: {observatory.TriggerGetReady, observatory.TriggerStartFlatFielding},
		observatory.StateCoarseFocusing:       {observatory.TriggerGetReady, observatory.TriggerStartCoarseFocusing},
		observatory.StateScheduling:           {observatory.TriggerGetReady, observatory.TriggerSchedule},
		observatory.StatePreparing:            {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations},
		observatory.StateSlewing:              {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations, observatory.TriggerStartSlewing},
		observatory.StateFocusing:             {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations, observatory.TriggerStartSlewing, observatory.TriggerAdjustFocus},
		observatory.StateObserving:            {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations, observatory.TriggerStartSlewing, observatory.TriggerAdjustFocus, observatory.TriggerObserve},
		observatory.StateAnalyzing:            {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations, observatory.TriggerStartSlewing, observatory.TriggerAdjustFocus, observatory.TriggerObserve, observatory.TriggerAnalyze},
		observatory.StateDithering:            {observatory.TriggerGetReady, observatory.TriggerSchedule, observatory.TriggerPrepareObservations, observatory.TriggerStartSlewing, observatory.TriggerAdjustFocus, observatory.TriggerObserve, observatory.TriggerAnalyze, observatory.TriggerDither},
		observatory.StateParking:              {observatory.TriggerGetReady, observatory.TriggerPark},
		observatory.StateParked:               {observatory.TriggerGetReady, observatory.TriggerPark, observatory.TriggerSetPark},
		observatory.StateTakingDarks:          {observatory.TriggerGetReady, observatory.TriggerPark, observatory.TriggerSetPark, observatory.TriggerTakeDarks},
		observatory.StateHousekeeping:         {observatory.TriggerGetReady, observatory.TriggerPark, observatory.TriggerSetPark, observatory.TriggerCleanUp},
	}

	path, ok := paths[target]
	if !ok {
		return nil, fmt.Errorf("no known path to state %q", target)
	}

	return path, nil
}

// NewNightMachine wires a canonical lifecycle machine against mount and
// returns it ready to fire. The name shows up in logs and metrics labels, so
// suites should use distinct names.
func NewNightMachine(name string, mount observatory.MountStatus) (*fsm.Machine, error) {
	eval := fsm.NewEvaluator()
	if err := observatory.RegisterMountConditions(eval, mount); err != nil {
		return nil, err
	}

	return observatory.NewMachine(name, eval)
}
