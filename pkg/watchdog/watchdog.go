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

package watchdog

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/context"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
)

/*
# Introduction

	Watchdog is the safety authority of the control core: whenever any health
	source says the site is unsafe, it drives the lifecycle machine to a safe
	state, bypassing the supervisor's scheduling entirely.
	To begin using it, create a new Watchdog with NewWatchdog, and start it
	with Start. Afterwards register health sources with RegisterSource.
	Each source *shall* keep its Verdict fresh; the watchdog polls them on
	every tick.

## Example

	w := watchdog.NewWatchdog(context.Background(), time.NewTicker(5*time.Second), machine, logger)
	go w.Start()
	w.RegisterSource(siteMonitor, 2*time.Minute)

## Arguments

	The first RegisterSource argument is the source itself; its Name() is used
	to prevent duplicate registrations.
	The second argument (maxVerdictAge) is how old a source's last observation
	may be before the watchdog stops believing it and treats the source as
	unsafe. Zero disables the age check.

## Logic

	The watchdog has a ticker to poll all registered sources every few
	seconds. For each source, it reads the cached Verdict; Verdict must never
	block on hardware or the network. A source that answers unsafe, or whose
	observation is older than its maxVerdictAge, makes the watchdog force a
	park.

	ReportUnsafe skips the polling cadence: anyone holding the watchdog can
	demand a park immediately, without waiting for the next tick.

	Forcing a park never consults guards: the park trigger is unguarded by
	table construction, so the only thing that can delay it is the hardware
	itself. Once the park lands, the watchdog keeps stowing along the
	unconditional route until the machine reports parked; it does not rely
	on the supervisor loop to finish the job, since a wedged supervisor is
	exactly the failure it must survive. Failed attempts are retried on an
	exponential backoff schedule until constants.ParkRetryMaxElapsed is
	spent.

## Panics

	When the retry budget is exhausted without reaching a safe state, the
	watchdog reports to Sentry and panics the program. At that point the
	software has lost its one guarantee and a dead process alerting the
	operator beats a live one pretending to cope.
*/

// Verdict is one source's latest safety observation. ObservedAt carries the
// time the underlying reading was taken, not the time Verdict was called.
type Verdict struct {
	ObservedAt time.Time
	Reason     string
	Safe       bool
}

// HealthSource is anything whose opinion can force a park. Verdict returns
// the last cached observation and must not block; sources do their actual
// measurement on their own schedule.
type HealthSource interface {
	Name() string
	Verdict() Verdict
}

// Machine is the slice of the lifecycle machine the watchdog acts on. Park
// gets the machine out of danger in one hop; Stow advances it one step along
// the unconditional route to the parked state, so a forced park ends at the
// physical stow position rather than resting in an intermediate safe state.
type Machine interface {
	Current() fsm.StateID
	IsInSafeState() bool
	IsParked() bool
	Park(ctx context.Context) error
	Stow(ctx context.Context) error
}

// ForcedPark records one completed forced park for the status API.
type ForcedPark struct {
	RequestedAt time.Time
	CompletedAt time.Time
	Source      string
	Reason      string
	Attempts    int
}

type registeredSource struct {
	source        HealthSource
	maxVerdictAge time.Duration
}

type unsafeReport struct {
	source string
	reason string
}

// Watchdog polls health sources and forces the machine to a safe state when
// any of them objects.
type Watchdog struct {
	machine                Machine
	registeredSources      []registeredSource
	registeredSourcesMutex sync.Mutex
	lastVerdicts           map[string]Verdict
	lastPark               *ForcedPark
	verdictsMutex          sync.Mutex
	unsafeChan             chan unsafeReport
	ctx                    context.Context
	ticker                 *time.Ticker
	watchdogID             uuid.UUID
	logger                 *zap.SugaredLogger

	// Retry schedule for forced parks, preset from constants.
	parkRetryInitial time.Duration
	parkRetryMax     time.Duration
	parkRetryElapsed time.Duration
}

// NewWatchdog creates a new Watchdog acting on machine
func NewWatchdog(ctx context.Context, ticker *time.Ticker, machine Machine, logger *zap.SugaredLogger) *Watchdog {
	w := Watchdog{
		machine:                machine,
		registeredSources:      make([]registeredSource, 0),
		registeredSourcesMutex: sync.Mutex{},
		lastVerdicts:           make(map[string]Verdict),
		// unsafeChan is buffered to avoid blocking callers.
		// This might be the case if the watchdog is not started yet and a source is reporting unsafe
		unsafeChan:       make(chan unsafeReport, 100),
		ctx:              ctx,
		ticker:           ticker,
		watchdogID:       uuid.New(),
		logger:           logger,
		parkRetryInitial: constants.ParkRetryInitialInterval,
		parkRetryMax:     constants.ParkRetryMaxInterval,
		parkRetryElapsed: constants.ParkRetryMaxElapsed,
	}
	return &w
}

// Start synchronously runs the watchdog until its context is done
func (s *Watchdog) Start() {
	for {
		select {
		case report := <-s.unsafeChan:
			{
				s.logger.Warnf("Unsafe reported directly: [%s] %s (%s)", s.watchdogID, report.source, report.reason)
				s.forcePark(report.source, report.reason)
			}
		case <-s.ticker.C:
			{
				s.checkSources()
			}
		case <-s.ctx.Done():
			{
				s.logger.Infof("Watchdog context done: [%s]", s.watchdogID)
				return
			}
		}
	}
}

// RegisterSource registers a new health source
// maxVerdictAge is how stale the source's observation may get before the
// watchdog treats the source itself as unsafe; 0 disables the age check
func (s *Watchdog) RegisterSource(source HealthSource, maxVerdictAge time.Duration) {
	name := source.Name()
	s.registeredSourcesMutex.Lock()
	for _, reg := range s.registeredSources {
		if reg.source.Name() == name {
			s.registeredSourcesMutex.Unlock()
			s.logger.Errorf("[%s] Health source already registered: %s", s.watchdogID, name)
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "Health source already registered: %s", name)
			panic(fmt.Sprintf("Health source already registered: %s", name))
		}
	}
	s.registeredSources = append(s.registeredSources, registeredSource{source: source, maxVerdictAge: maxVerdictAge})
	s.registeredSourcesMutex.Unlock()
	s.logger.Infof("[%s] Registered health source %s", s.watchdogID, name)
}

// ReportUnsafe demands an immediate park without waiting for the next poll.
// Callers that are not registered sources may use any descriptive name.
func (s *Watchdog) ReportUnsafe(source string, reason string) {
	s.unsafeChan <- unsafeReport{source: source, reason: reason}
}

// Verdicts returns a copy of the last observed verdict per source
func (s *Watchdog) Verdicts() map[string]Verdict {
	s.verdictsMutex.Lock()
	defer s.verdictsMutex.Unlock()

	verdicts := make(map[string]Verdict, len(s.lastVerdicts))
	for name, v := range s.lastVerdicts {
		verdicts[name] = v
	}
	return verdicts
}

// LastForcedPark returns the most recent completed forced park, if any
func (s *Watchdog) LastForcedPark() (ForcedPark, bool) {
	s.verdictsMutex.Lock()
	defer s.verdictsMutex.Unlock()

	if s.lastPark == nil {
		return ForcedPark{}, false
	}
	return *s.lastPark, true
}

// checkSources polls every registered source once and forces a park on the
// first unsafe answer, in registration order. All verdicts are recorded even
// when an earlier one already condemned the tick.
func (s *Watchdog) checkSources() {
	start := time.Now()
	defer func() {
		metrics.ObserveTickTime(metrics.ComponentWatchdog, "check_sources", time.Since(start))
	}()

	// Copy the registration list while holding the lock
	s.registeredSourcesMutex.Lock()
	sources := make([]registeredSource, len(s.registeredSources))
	copy(sources, s.registeredSources)
	s.registeredSourcesMutex.Unlock()

	now := time.Now()
	s.logger.Debugf("Checking health sources: [%s] at %s", s.watchdogID, now)

	var condemned *unsafeReport
	for _, reg := range sources {
		name := reg.source.Name()
		verdict := reg.source.Verdict()

		age := now.Sub(verdict.ObservedAt)
		if age < 0 {
			s.logger.Warnf("Time went backwards: [%s] %s", s.watchdogID, name)
		}
		// maxVerdictAge = 0 disables this check
		if verdict.Safe && reg.maxVerdictAge != 0 && age > reg.maxVerdictAge {
			verdict.Safe = false
			verdict.Reason = fmt.Sprintf("no fresh observation for %s (limit %s)", age.Truncate(time.Millisecond), reg.maxVerdictAge)
		}

		s.verdictsMutex.Lock()
		s.lastVerdicts[name] = verdict
		s.verdictsMutex.Unlock()

		if !verdict.Safe && condemned == nil {
			condemned = &unsafeReport{source: name, reason: verdict.Reason}
		}
	}

	if condemned == nil {
		s.logger.Debugf("Health sources are ok: [%s]", s.watchdogID)
		return
	}
	s.forcePark(condemned.source, condemned.reason)
}

// forcePark drives the machine into a safe state, retrying on an exponential
// backoff schedule. It returns once the machine is safe; if the retry budget
// runs out first it panics the program.
func (s *Watchdog) forcePark(source string, reason string) {
	if s.machine.IsInSafeState() {
		s.logger.Debugf("Already in safe state %s, nothing to do: [%s] %s (%s)", s.machine.Current(), s.watchdogID, source, reason)
		return
	}

	requestedAt := time.Now()
	sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "Forcing park from state %s: [%s] %s (%s)", s.machine.Current(), s.watchdogID, source, reason)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.parkRetryInitial
	expBackoff.MaxInterval = s.parkRetryMax
	expBackoff.MaxElapsedTime = s.parkRetryElapsed

	attempts := 0
	operation := func() error {
		attempts++
		for !s.machine.IsParked() {
			if !s.machine.IsInSafeState() {
				err := s.machine.Park(s.ctx)
				if err != nil && !s.machine.IsInSafeState() {
					return err
				}
				if err != nil {
					// Park can fail and still leave us safe: an entry hook
					// erroring after the switch committed, or another actor
					// having moved the machine first. Only the state matters
					// here, not the error.
					s.logger.Warnf("Park attempt %d reported %v, but machine is in safe state %s: [%s]", attempts, err, s.machine.Current(), s.watchdogID)
				}
				continue
			}
			// Safe but not stowed yet: walk the unconditional route to
			// parked. A stow error retries on the backoff schedule.
			if err := s.machine.Stow(s.ctx); err != nil {
				if s.machine.IsParked() {
					return nil
				}
				return err
			}
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warnf("Park attempt %d from state %s failed, retrying in %s: [%s] %v", attempts, s.machine.Current(), wait, s.watchdogID, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, s.ctx), notify); err != nil {
		if s.ctx.Err() != nil {
			s.logger.Warnf("Park abandoned, watchdog context done: [%s] %v", s.watchdogID, err)
			return
		}
		metrics.IncErrorCount(metrics.ComponentWatchdog, source)
		sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "Unable to reach a safe state after %d attempts: %s (%s): %v", attempts, source, reason, err)
		panic(fmt.Sprintf("Unable to reach a safe state after %d attempts: [%s] %s (%s): %v", attempts, s.watchdogID, source, reason, err))
	}

	took := time.Since(requestedAt)
	metrics.ObserveParkTime(took)
	s.verdictsMutex.Lock()
	s.lastPark = &ForcedPark{
		RequestedAt: requestedAt,
		CompletedAt: time.Now(),
		Source:      source,
		Reason:      reason,
		Attempts:    attempts,
	}
	s.verdictsMutex.Unlock()
	s.logger.Infof("Forced park complete in %s after %d attempt(s), machine in %s: [%s] %s (%s)", took.Truncate(time.Millisecond), attempts, s.machine.Current(), s.watchdogID, source, reason)
}
