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

package sim

import (
	"context"
	"fmt"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
)

// Hardware bundles the simulated devices.
type Hardware struct {
	Mount  *Mount
	Dome   *Dome
	Camera *Camera
}

// NewHardware builds the simulated devices from config.
func NewHardware(cfg config.SimConfig) *Hardware {
	return &Hardware{
		Mount:  NewMount(cfg.Mount),
		Dome:   NewDome(cfg.Dome),
		Camera: NewCamera(),
	}
}

// Boot runs the power-on sequence: homing the mount axes and loading the
// pointing model. Without it the mount never reports initialized and the
// lifecycle refuses to wake up, so the process wiring must run Boot before
// the first get_ready of the night.
func (h *Hardware) Boot(ctx context.Context) error {
	if err := h.Mount.Initialize(ctx); err != nil {
		return fmt.Errorf("booting simulated hardware: %w", err)
	}

	return nil
}

// Attach wires the devices into the lifecycle machine:
//
//   - entering ready unparks the mount and opens the dome
//   - entering twilight_flat_fielding starts tracking
//   - entering slewing starts the slew; tracking resumes when it settles
//   - entering observing or taking_darks starts an exposure; leaving stops it
//   - entering parking parks the mount and closes the dome
//
// Hook failures are reported by the machine but never roll the state back;
// the journal keeps the record.
func (h *Hardware) Attach(m *fsm.Machine) {
	m.OnEntry(observatory.StateReady, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		if err := h.Mount.Unpark(ctx); err != nil {
			return err
		}

		return h.Dome.Open(ctx)
	})

	m.OnEntry(observatory.StateTwilightFlatFielding, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Mount.StartTracking(ctx)
	})

	m.OnEntry(observatory.StateSlewing, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Mount.SlewToTarget(ctx)
	})

	m.OnEntry(observatory.StateObserving, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Camera.StartExposure(ctx)
	})

	m.OnExit(observatory.StateObserving, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Camera.StopExposure(ctx)
	})

	m.OnEntry(observatory.StateTakingDarks, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Camera.StartExposure(ctx)
	})

	m.OnExit(observatory.StateTakingDarks, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		return h.Camera.StopExposure(ctx)
	})

	m.OnEntry(observatory.StateParking, func(ctx context.Context, _, _ fsm.StateID, _ fsm.Trigger) error {
		if err := h.Mount.Park(ctx); err != nil {
			return err
		}

		return h.Dome.Close(ctx)
	})
}
