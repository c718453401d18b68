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

// Package sim provides simulated observatory hardware: a mount and a dome,
// each a small state machine, plus a camera and the glue that wires them
// into the lifecycle engine. With the simulator enabled the whole nightly
// cycle runs on a laptop with nothing attached.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
)

// Mount axis states.
const (
	MountStateParked      = "parked"
	MountStateInitialized = "initialized"
	MountStateTracking    = "tracking"
	MountStateSlewing     = "slewing"
)

// Mount events.
const (
	EventInitialize = "initialize"
	EventUnpark     = "unpark"
	EventSlew       = "slew"
	EventTrack      = "track"
	EventStop       = "stop"
	EventPark       = "park"
)

const statusKey = "status"

// MountReading is a point-in-time view of the simulated mount for the
// status API.
type MountReading struct {
	State       string `json:"state"`
	Initialized bool   `json:"initialized"`
	Tracking    bool   `json:"tracking"`
	Slews       int    `json:"slews"`
}

// Mount simulates an equatorial mount. Slews settle asynchronously: the slew
// command returns once the axes are moving and a timer fires the track event
// after the configured settle delay, the way the real driver reports
// on-target through status polling rather than a blocking call.
type Mount struct {
	logger      *zap.SugaredLogger
	fsm         *fsm.FSM
	cache       *expiremap.ExpireMap[string, MountReading]
	settleTimer *time.Timer
	settle      time.Duration
	mu          sync.Mutex
	initialized bool
	slews       int
}

// NewMount builds a parked, uninitialized mount.
func NewMount(cfg config.SimMountConfig) *Mount {
	m := &Mount{
		logger: logger.For(logger.ComponentSimMount),
		settle: cfg.SlewSettleTime(),
		cache:  expiremap.NewEx[string, MountReading](constants.StatusCacheCullInterval, constants.StatusCacheTTL),
	}

	m.fsm = fsm.NewFSM(
		MountStateParked,
		fsm.Events{
			{Name: EventInitialize, Src: []string{MountStateParked}, Dst: MountStateInitialized},
			{Name: EventUnpark, Src: []string{MountStateParked}, Dst: MountStateInitialized},
			{Name: EventSlew, Src: []string{MountStateInitialized}, Dst: MountStateSlewing},
			{Name: EventTrack, Src: []string{MountStateSlewing, MountStateInitialized}, Dst: MountStateTracking},
			{Name: EventStop, Src: []string{MountStateTracking, MountStateSlewing}, Dst: MountStateInitialized},
			{Name: EventPark, Src: []string{MountStateInitialized, MountStateTracking, MountStateSlewing}, Dst: MountStateParked},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.logger.Debugf("Mount %s -> %s on %s", e.Src, e.Dst, e.Event)
			},
		},
	)

	metrics.InitErrorCounter(metrics.ComponentSimMount, "mount")

	return m
}

// Initialize homes the axes and loads the pointing model. Only legal from
// the park position; the boot sequence runs it once.
func (m *Mount) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(ctx, EventInitialize); err != nil {
		return fmt.Errorf("initializing mount: %w", err)
	}

	m.initialized = true
	m.logger.Infof("Mount initialized")

	return nil
}

// Unpark releases the axes for a new night. Calling it with the mount
// already unparked is a no-op, so the ready entry hook can fire it every
// evening.
func (m *Mount) Unpark(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != MountStateParked {
		return nil
	}

	if !m.initialized {
		return fmt.Errorf("mount is not initialized")
	}

	if err := m.fsm.Event(ctx, EventUnpark); err != nil {
		return fmt.Errorf("unparking mount: %w", err)
	}

	return nil
}

// SlewToTarget starts a slew. The real driver refuses to stack slews, and
// drops tracking before moving so the dome does not chase a moving target;
// both behaviors are kept here.
func (m *Mount) SlewToTarget(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.fsm.Current()
	if current == MountStateSlewing {
		return fmt.Errorf("mount is already slewing")
	}

	if current == MountStateTracking {
		m.logger.Debugf("Deactivating tracking before slewing")

		if err := m.fsm.Event(ctx, EventStop); err != nil {
			return fmt.Errorf("stopping tracking before slew: %w", err)
		}
	}

	if err := m.fsm.Event(ctx, EventSlew); err != nil {
		return fmt.Errorf("starting slew: %w", err)
	}

	m.settleTimer = time.AfterFunc(m.settle, m.settleDone)

	return nil
}

// settleDone completes an in-flight slew. A park can land between the timer
// firing and the lock being taken, in which case the slew is simply over.
func (m *Mount) settleDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != MountStateSlewing {
		return
	}

	if err := m.fsm.Event(context.Background(), EventTrack); err != nil {
		m.logger.Warnf("Slew settle failed: %v", err)
		metrics.IncErrorCount(metrics.ComponentSimMount, "mount")

		return
	}

	m.slews++
	m.logger.Debugf("Slew settled, tracking")
}

// StartTracking turns sidereal tracking on without a slew, as the flat-field
// sequence does at twilight.
func (m *Mount) StartTracking(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() == MountStateTracking {
		return nil
	}

	if err := m.fsm.Event(ctx, EventTrack); err != nil {
		return fmt.Errorf("starting tracking: %w", err)
	}

	return nil
}

// StopTracking halts both axes.
func (m *Mount) StopTracking(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.fsm.Current()
	if current == MountStateInitialized || current == MountStateParked {
		return nil
	}

	if err := m.fsm.Event(ctx, EventStop); err != nil {
		return fmt.Errorf("stopping mount: %w", err)
	}

	return nil
}

// Park drives the axes to the stow position. Parking is idempotent and
// cancels a pending slew settle; it is the one command the rest of the
// system relies on unconditionally.
func (m *Mount) Park(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}

	if m.fsm.Current() == MountStateParked {
		return nil
	}

	if err := m.fsm.Event(ctx, EventPark); err != nil {
		return fmt.Errorf("parking mount: %w", err)
	}

	m.logger.Infof("Mount parked")

	return nil
}

// Initialized answers the lifecycle's mount_is_initialized guard. The flag
// latches at the first Initialize: the pointing model survives a park.
func (m *Mount) Initialized(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initialized, nil
}

// Tracking answers the lifecycle's mount_is_tracking guard.
func (m *Mount) Tracking(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Current() == MountStateTracking, nil
}

// Current returns the mount state.
func (m *Mount) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Current()
}

// Reading returns a cached status view. The cache term mirrors the
// controller firmware's own refresh period, so polling faster returns the
// same answer without touching the (simulated) serial link.
func (m *Mount) Reading() MountReading {
	if cached, ok := m.cache.Load(statusKey); ok {
		return *cached
	}

	m.mu.Lock()
	r := MountReading{
		State:       m.fsm.Current(),
		Initialized: m.initialized,
		Tracking:    m.fsm.Current() == MountStateTracking,
		Slews:       m.slews,
	}
	m.mu.Unlock()

	m.cache.Set(statusKey, r)

	return r
}
