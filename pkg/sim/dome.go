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

// Shutter states, as the controller reports them.
const (
	ShutterClosed  = "closed"
	ShutterOpening = "opening"
	ShutterOpen    = "open"
	ShutterClosing = "closing"
)

// Shutter events.
const (
	EventOpen      = "open"
	EventOpenDone  = "open_done"
	EventClose     = "close"
	EventCloseDone = "close_done"
)

// DomeReading is a point-in-time view of the simulated dome for the status
// API.
type DomeReading struct {
	Shutter        string  `json:"shutter"`
	BatteryVoltage float64 `json:"battery_voltage"`
	Safe           bool    `json:"safe"`
}

// Dome simulates the shutter controller. Opening is refused below the
// minimum operating voltage; closing never is, because parking must not
// depend on a healthy battery.
type Dome struct {
	logger  *zap.SugaredLogger
	fsm     *fsm.FSM
	cache   *expiremap.ExpireMap[string, DomeReading]
	travel  time.Duration
	mu      sync.Mutex
	battery float64
}

// NewDome builds a closed dome reporting the configured battery voltage.
func NewDome(cfg config.SimDomeConfig) *Dome {
	battery := cfg.BatteryVoltage
	if battery == 0 {
		battery = constants.DefaultSimBatteryVoltage
	}

	d := &Dome{
		logger:  logger.For(logger.ComponentSimDome),
		travel:  cfg.ShutterTravelTime(),
		battery: battery,
		cache:   expiremap.NewEx[string, DomeReading](constants.StatusCacheCullInterval, constants.StatusCacheTTL),
	}

	d.fsm = fsm.NewFSM(
		ShutterClosed,
		fsm.Events{
			{Name: EventOpen, Src: []string{ShutterClosed, ShutterClosing}, Dst: ShutterOpening},
			{Name: EventOpenDone, Src: []string{ShutterOpening}, Dst: ShutterOpen},
			{Name: EventClose, Src: []string{ShutterOpen, ShutterOpening}, Dst: ShutterClosing},
			{Name: EventCloseDone, Src: []string{ShutterClosing}, Dst: ShutterClosed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				d.logger.Debugf("Shutter %s -> %s on %s", e.Src, e.Dst, e.Event)
			},
		},
	)

	metrics.InitErrorCounter(metrics.ComponentSimDome, "dome")

	return d
}

// Open drives the shutter open and returns once it is fully open. Below the
// battery threshold the command is refused outright.
func (d *Dome) Open(ctx context.Context) error {
	d.mu.Lock()

	current := d.fsm.Current()
	if current == ShutterOpen || current == ShutterOpening {
		d.mu.Unlock()

		return nil
	}

	if d.battery < constants.MinOperatingVoltage {
		d.mu.Unlock()

		return fmt.Errorf("dome shutter battery voltage too low to open: %.1f V", d.battery)
	}

	if err := d.fsm.Event(ctx, EventOpen); err != nil {
		d.mu.Unlock()

		return fmt.Errorf("opening shutter: %w", err)
	}

	d.logger.Infof("Opening dome shutter")
	d.mu.Unlock()

	if err := d.waitTravel(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// A close command issued mid-travel wins; the open then fails its final
	// state check, as the real controller reports it.
	if err := d.fsm.Event(ctx, EventOpenDone); err != nil {
		return fmt.Errorf("shutter did not reach open: %w", err)
	}

	d.logger.Infof("Dome shutter open")

	return nil
}

// Close drives the shutter closed and returns once it is. There is no
// battery check on this side: closing must always be attempted.
func (d *Dome) Close(ctx context.Context) error {
	d.mu.Lock()

	current := d.fsm.Current()
	if current == ShutterClosed || current == ShutterClosing {
		d.mu.Unlock()

		return nil
	}

	if err := d.fsm.Event(ctx, EventClose); err != nil {
		d.mu.Unlock()

		return fmt.Errorf("closing shutter: %w", err)
	}

	d.logger.Infof("Closing dome shutter")
	d.mu.Unlock()

	if err := d.waitTravel(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fsm.Event(ctx, EventCloseDone); err != nil {
		return fmt.Errorf("shutter did not reach closed: %w", err)
	}

	d.logger.Infof("Dome shutter closed")

	return nil
}

// waitTravel simulates the motor run time.
func (d *Dome) waitTravel(ctx context.Context) error {
	timer := time.NewTimer(d.travel)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsOpen reports a fully open shutter.
func (d *Dome) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.fsm.Current() == ShutterOpen
}

// IsClosed reports a fully closed shutter.
func (d *Dome) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.fsm.Current() == ShutterClosed
}

// Shutter returns the current shutter state.
func (d *Dome) Shutter() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.fsm.Current()
}

// Reading returns a cached status view, on the same refresh period the
// controller firmware uses.
func (d *Dome) Reading() DomeReading {
	if cached, ok := d.cache.Load(statusKey); ok {
		return *cached
	}

	d.mu.Lock()
	r := DomeReading{
		Shutter:        d.fsm.Current(),
		BatteryVoltage: d.battery,
		Safe:           d.battery >= constants.MinOperatingVoltage,
	}
	d.mu.Unlock()

	d.cache.Set(statusKey, r)

	return r
}
