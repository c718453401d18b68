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

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/logger"
)

// Camera simulates the science camera: either integrating or idle. Darks
// run through the same path with the dome closed.
type Camera struct {
	logger    *zap.SugaredLogger
	mu        sync.Mutex
	exposing  bool
	exposures int
}

// NewCamera returns an idle camera.
func NewCamera() *Camera {
	return &Camera{logger: logger.For(logger.ComponentSimCamera)}
}

// StartExposure opens the camera shutter. Overlapping exposures are a
// sequencing defect worth surfacing, not silently serializing.
func (c *Camera) StartExposure(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exposing {
		return fmt.Errorf("exposure already running")
	}

	c.exposing = true
	c.logger.Debugf("Exposure started")

	return nil
}

// StopExposure ends the running exposure and reads out. Stopping an idle
// camera is a no-op: the exit hook fires on every path out of observing,
// including a forced park.
func (c *Camera) StopExposure(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.exposing {
		return nil
	}

	c.exposing = false
	c.exposures++
	c.logger.Debugf("Exposure %d read out", c.exposures)

	return nil
}

// IsExposing reports whether an exposure is running.
func (c *Camera) IsExposing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exposing
}

// Exposures returns the number of completed exposures.
func (c *Camera) Exposures() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exposures
}
