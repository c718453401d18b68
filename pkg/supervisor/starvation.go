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
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
)

// StarvationChecker watches for supervisor ticks that stop coming. The tick
// loop is single-threaded on purpose, which means one stuck call — a guard
// predicate on a dead serial link, a filesystem hang under the config read —
// stops the whole nightly progression. A background goroutine compares the
// time since the last tick against the threshold every second, so starvation
// is detected even while the loop itself is fully blocked.
//
// Starvation is reported, not acted on: the watchdog holds its own ticker and
// keeps forcing park regardless of what the supervisor does.
type StarvationChecker struct {
	lastTickTime time.Time
	ctx          context.Context //nolint:containedctx // This is intentional for background service lifecycle
	logger       *zap.SugaredLogger
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	threshold    time.Duration
	mutex        sync.RWMutex
}

// NewStarvationChecker starts a checker with the given threshold, typically
// several times the tick interval. Stop it with Stop when the supervisor
// shuts down.
func NewStarvationChecker(threshold time.Duration) *StarvationChecker {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &StarvationChecker{
		threshold:    threshold,
		lastTickTime: time.Now(),
		logger:       logger.For(logger.ComponentStarvationChecker),
		ctx:          ctx,
		cancel:       cancel,
	}

	checker.wg.Add(1)

	go checker.checkStarvationLoop()

	checker.logger.Infof("Starvation checker created with threshold %s", threshold)

	return checker
}

// checkStarvationLoop compares the time since the last tick against the
// threshold once per second and reports every exceedance.
func (s *StarvationChecker) checkStarvationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mutex.RLock()
			timeSinceLastTick := time.Since(s.lastTickTime)
			s.mutex.RUnlock()

			if timeSinceLastTick > s.threshold {
				starvationTime := timeSinceLastTick.Seconds()
				metrics.AddStarvationTime(starvationTime)
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "[StarvationChecker.checkStarvationLoop] Supervisor starvation detected: %.2f seconds since last tick", starvationTime)
			} else {
				s.logger.Debugf("Supervisor loop is healthy, last tick was %.2f seconds ago", timeSinceLastTick.Seconds())
			}
		}
	}
}

// Stop terminates the background checker and waits for it to exit. Call this
// during shutdown to prevent goroutine leaks.
func (s *StarvationChecker) Stop() {
	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}

// UpdateLastTickTime marks the current time as the most recent tick. The
// supervisor calls this at the top of every tick, before anything that can
// block.
func (s *StarvationChecker) UpdateLastTickTime() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lastTickTime = time.Now()
}

// GetLastTickTime returns the timestamp of the most recent tick.
func (s *StarvationChecker) GetLastTickTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.lastTickTime
}
