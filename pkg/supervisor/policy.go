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

package supervisor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
)

// Decision names the trigger the policy wants fired next and, for logs and
// the status API, why.
type Decision struct {
	Trigger fsm.Trigger
	Reason  string
}

// Policy picks the next step of the nightly program. Next returns false when
// the policy has nothing to do in the current state; the supervisor then
// idles until the state changes under it (an operator fire, a watchdog park).
// Committed tells the policy a fire the supervisor requested actually went
// through, so it can advance its counters. Both are called from the single
// supervisor goroutine, but implementations guard their state anyway so the
// API can inspect them.
type Policy interface {
	Next(current fsm.StateID, tags fsm.StateTags) (Decision, bool)
	Committed(from, to fsm.StateID, trigger fsm.Trigger)
}

// NightPolicy walks the canonical nightly program: wake, optional twilight
// calibrations, then target/dither cycles until the quota is met, park, darks,
// housekeeping, sleep. It keys every decision off the machine's current state,
// so it picks up cleanly wherever an operator or a forced park left the
// machine; the counters only shape the branching at analyzing and parked.
type NightPolicy struct {
	log *zap.SugaredLogger
	cfg config.NightConfig

	mu            sync.Mutex
	nightsStarted int
	targetsDone   int // committed schedule fires this night
	dithersDone   int // committed dither fires on the current target
	darksDone     bool
}

// NewNightPolicy returns the canonical nightly program shaped by cfg.
func NewNightPolicy(cfg config.NightConfig) *NightPolicy {
	return &NightPolicy{
		cfg: cfg,
		log: logger.For(logger.ComponentSupervisor),
	}
}

// Next implements Policy. The tags parameter is unused: this policy decides
// from the state identity alone.
func (p *NightPolicy) Next(current fsm.StateID, _ fsm.StateTags) (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch current {
	case observatory.StateSleeping:
		if p.nightsStarted > 0 && !p.cfg.LoopNights {
			return Decision{}, false
		}

		return Decision{Trigger: observatory.TriggerGetReady, Reason: "begin the night"}, true

	case observatory.StateReady:
		if p.cfg.FlatField {
			return Decision{Trigger: observatory.TriggerStartFlatFielding, Reason: "evening sky flats"}, true
		}

		if p.cfg.CoarseFocus {
			return Decision{Trigger: observatory.TriggerStartCoarseFocusing, Reason: "coarse focus sweep"}, true
		}

		return Decision{Trigger: observatory.TriggerSchedule, Reason: "first target"}, true

	case observatory.StateTwilightFlatFielding:
		// The graph continues through the coarse sweep; there is no shortcut
		// from flats straight to scheduling.
		return Decision{Trigger: observatory.TriggerStartCoarseFocusing, Reason: "coarse focus after flats"}, true

	case observatory.StateCoarseFocusing:
		return Decision{Trigger: observatory.TriggerSchedule, Reason: "first target"}, true

	case observatory.StateScheduling:
		return Decision{Trigger: observatory.TriggerPrepareObservations, Reason: "configure instrument"}, true

	case observatory.StatePreparing:
		return Decision{Trigger: observatory.TriggerStartSlewing, Reason: "move onto target"}, true

	case observatory.StateSlewing:
		// Guarded by mount_is_tracking; the supervisor waits here until the
		// slew settles.
		return Decision{Trigger: observatory.TriggerAdjustFocus, Reason: "fine focus at target"}, true

	case observatory.StateFocusing:
		return Decision{Trigger: observatory.TriggerObserve, Reason: "begin integration"}, true

	case observatory.StateObserving:
		return Decision{Trigger: observatory.TriggerAnalyze, Reason: "inspect frames"}, true

	case observatory.StateAnalyzing:
		if p.dithersDone < p.cfg.DitherQuota() {
			return Decision{
				Trigger: observatory.TriggerDither,
				Reason:  fmt.Sprintf("dither %d of %d", p.dithersDone+1, p.cfg.DitherQuota()),
			}, true
		}

		if p.targetsDone < p.cfg.TargetQuota() {
			return Decision{
				Trigger: observatory.TriggerSchedule,
				Reason:  fmt.Sprintf("target %d of %d", p.targetsDone+1, p.cfg.TargetQuota()),
			}, true
		}

		return Decision{Trigger: observatory.TriggerPark, Reason: "program complete"}, true

	case observatory.StateDithering:
		return Decision{Trigger: observatory.TriggerObserve, Reason: "resume integration"}, true

	case observatory.StateParking:
		// The scheduled end of night passes through here. A watchdog-forced
		// park drives set_park itself; whichever actor fires first wins and
		// the other sees NoSuchTransitionError.
		return Decision{Trigger: observatory.TriggerSetPark, Reason: "confirm stow position"}, true

	case observatory.StateParked:
		if p.cfg.TakeDarks && !p.darksDone {
			return Decision{Trigger: observatory.TriggerTakeDarks, Reason: "dark frames while stowed"}, true
		}

		return Decision{Trigger: observatory.TriggerCleanUp, Reason: "end of night duties"}, true

	case observatory.StateTakingDarks:
		return Decision{Trigger: observatory.TriggerCleanUp, Reason: "end of night duties"}, true

	case observatory.StateHousekeeping:
		return Decision{Trigger: observatory.TriggerGotoSleep, Reason: "night closed"}, true
	}

	return Decision{}, false
}

// Committed implements Policy: counters advance only on fires that actually
// went through, so a night interrupted by waits or retries still counts
// correctly.
func (p *NightPolicy) Committed(from, to fsm.StateID, trigger fsm.Trigger) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch trigger {
	case observatory.TriggerGetReady:
		p.nightsStarted++
		p.targetsDone = 0
		p.dithersDone = 0
		p.darksDone = false
		p.log.Infof("Night %d begins", p.nightsStarted)
	case observatory.TriggerSchedule:
		p.targetsDone++
		p.dithersDone = 0
	case observatory.TriggerDither:
		p.dithersDone++
	case observatory.TriggerTakeDarks:
		p.darksDone = true
	case observatory.TriggerGotoSleep:
		p.log.Infof("Night %d closed after %d targets", p.nightsStarted, p.targetsDone)
	}
}

// Progress returns the policy's per-night counters for the status API.
func (p *NightPolicy) Progress() (nights, targets, dithers int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.nightsStarted, p.targetsDone, p.dithersDone
}
