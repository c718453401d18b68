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
	"context"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// Lifecycle triggers.
const (
	TriggerGetReady            fsm.Trigger = "get_ready"
	TriggerSchedule            fsm.Trigger = "schedule"
	TriggerStartFlatFielding   fsm.Trigger = "start_flat_fielding"
	TriggerStartCoarseFocusing fsm.Trigger = "start_coarse_focusing"
	TriggerPrepareObservations fsm.Trigger = "prepare_observations"
	TriggerStartSlewing        fsm.Trigger = "start_slewing"
	TriggerAdjustFocus         fsm.Trigger = "adjust_focus"
	TriggerObserve             fsm.Trigger = "observe"
	TriggerAnalyze             fsm.Trigger = "analyze"
	TriggerDither              fsm.Trigger = "dither"
	TriggerPark                fsm.Trigger = "park"
	TriggerSetPark             fsm.Trigger = "set_park"
	TriggerTakeDarks           fsm.Trigger = "take_darks"
	TriggerCleanUp             fsm.Trigger = "clean_up"
	TriggerGotoSleep           fsm.Trigger = "goto_sleep"
)

// Guard conditions. Both are answered by the mount adapter.
const (
	// ConditionMountInitialized holds once the mount has a valid pointing
	// model and accepts slew commands.
	ConditionMountInitialized fsm.ConditionID = "mount_is_initialized"
	// ConditionMountTracking holds while the mount is tracking at sidereal
	// rate. Focus moves, exposures and dither offsets all require it.
	ConditionMountTracking fsm.ConditionID = "mount_is_tracking"
)

// MountStatus answers the two pointing questions the lifecycle guards ask.
// The simulator implements it; a production build wires the real mount
// driver instead.
type MountStatus interface {
	Initialized(ctx context.Context) (bool, error)
	Tracking(ctx context.Context) (bool, error)
}

// RegisterMountConditions binds the mount-backed guard conditions to eval.
func RegisterMountConditions(eval *fsm.Evaluator, mount MountStatus) error {
	if err := eval.Register(ConditionMountInitialized, mount.Initialized); err != nil {
		return err
	}

	return eval.Register(ConditionMountTracking, mount.Tracking)
}
