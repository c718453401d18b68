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

package observatory

import (
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// Transitions returns the nightly lifecycle graph in its canonical order.
// Park is deliberately listed from every operational state with no guard:
// the emergency exit must not depend on any hardware answering.
func Transitions() []fsm.Transition {
	return []fsm.Transition{
		{
			Trigger:    TriggerGetReady,
			Sources:    []fsm.StateID{StateSleeping, StateHousekeeping},
			Dest:       StateReady,
			Conditions: []fsm.ConditionID{ConditionMountInitialized},
		},
		{
			Trigger: TriggerSchedule,
			Sources: []fsm.StateID{StateReady, StateCoarseFocusing, StateAnalyzing},
			Dest:    StateScheduling,
		},
		{
			Trigger: TriggerStartFlatFielding,
			Sources: []fsm.StateID{StateReady},
			Dest:    StateTwilightFlatFielding,
		},
		{
			Trigger: TriggerStartCoarseFocusing,
			Sources: []fsm.StateID{StateReady, StateTwilightFlatFielding},
			Dest:    StateCoarseFocusing,
		},
		{
			Trigger: TriggerPrepareObservations,
			Sources: []fsm.StateID{StateScheduling},
			Dest:    StatePreparing,
		},
		{
			Trigger: TriggerStartSlewing,
			Sources: []fsm.StateID{StatePreparing},
			Dest:    StateSlewing,
		},
		{
			Trigger:    TriggerAdjustFocus,
			Sources:    []fsm.StateID{StateSlewing},
			Dest:       StateFocusing,
			Conditions: []fsm.ConditionID{ConditionMountTracking},
		},
		{
			Trigger:    TriggerObserve,
			Sources:    []fsm.StateID{StateFocusing, StateDithering},
			Dest:       StateObserving,
			Conditions: []fsm.ConditionID{ConditionMountTracking},
		},
		{
			Trigger: TriggerAnalyze,
			Sources: []fsm.StateID{StateObserving},
			Dest:    StateAnalyzing,
		},
		{
			Trigger:    TriggerDither,
			Sources:    []fsm.StateID{StateAnalyzing},
			Dest:       StateDithering,
			Conditions: []fsm.ConditionID{ConditionMountTracking},
		},
		{
			Trigger: TriggerPark,
			Sources: OperationalStates(),
			Dest:    StateParking,
		},
		{
			Trigger: TriggerSetPark,
			Sources: []fsm.StateID{StateParking},
			Dest:    StateParked,
		},
		{
			Trigger: TriggerTakeDarks,
			Sources: []fsm.StateID{StateParked},
			Dest:    StateTakingDarks,
		},
		{
			Trigger: TriggerCleanUp,
			Sources: []fsm.StateID{StateParked, StateTakingDarks},
			Dest:    StateHousekeeping,
		},
		{
			Trigger: TriggerGotoSleep,
			Sources: []fsm.StateID{StateHousekeeping},
			Dest:    StateSleeping,
		},
	}
}

// NewTable validates the canonical lifecycle against eval's registered
// conditions and returns the table, starting from sleeping.
func NewTable(eval *fsm.Evaluator) (*fsm.Table, error) {
	return fsm.NewTable(fsm.TableConfig{
		Registry:    NewRegistry(),
		Evaluator:   eval,
		Initial:     StateSleeping,
		ParkTrigger: TriggerPark,
		ParkedState: StateParked,
		Transitions: Transitions(),
	})
}

// NewMachine builds a lifecycle engine named name over the canonical table.
func NewMachine(name string, eval *fsm.Evaluator) (*fsm.Machine, error) {
	table, err := NewTable(eval)
	if err != nil {
		return nil, err
	}

	return fsm.NewMachine(name, table), nil
}
