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

// Package supervisor drives the lifecycle machine through the night. A
// single-threaded tick loop asks a Policy for the next trigger, fires it,
// and classifies the outcome: committed fires advance the program, a guard
// that answered false means wait, a guard that failed to answer means retry,
// and a missing edge means idle. The loop never forces safety — that is the
// watchdog's job — but it refuses to take the machine out of an always-safe
// state while any health source reports unsafe.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/ctxutil"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/journal"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
	"github.com/umbra-observatory/umbra-core/pkg/watchdog"
)

// Tick outcomes, recorded in the system snapshot and exposed by the status
// API.
const (
	// OutcomeCommitted: the decided trigger fired and the state changed.
	OutcomeCommitted = "committed"
	// OutcomeIdle: the policy had nothing to do, or its decision had no edge.
	OutcomeIdle = "idle"
	// OutcomeWaiting: a guard answered a clean false; the precondition is
	// simply not there yet.
	OutcomeWaiting = "waiting"
	// OutcomeHeld: unsafe verdicts vetoed leaving a safe state.
	OutcomeHeld = "held"
	// OutcomeSkipped: not enough tick budget left to start or finish a fire.
	OutcomeSkipped = "skipped"
	// OutcomePreempted: a forced park cancelled the fire midway.
	OutcomePreempted = "preempted"
	// OutcomeRetrying: a guard failed to answer; the next tick tries again.
	OutcomeRetrying = "retrying"
	// OutcomeHookFailed: the state changed but a follow-up action failed.
	OutcomeHookFailed = "hook_failed"
	// OutcomeError: an unclassified failure; the loop shuts down.
	OutcomeError = "error"
)

// SafetyView is the read side of the watchdog the supervisor consults before
// taking the machine out of an always-safe state. A nil SafetyView disables
// the veto.
type SafetyView interface {
	Verdicts() map[string]watchdog.Verdict
}

// Supervisor owns the nightly progression: one goroutine, one machine, one
// decision per tick. All state below is written from that goroutine only;
// everything other goroutines may want lives behind the snapshot manager.
type Supervisor struct {
	machine           *fsm.Machine
	configManager     config.ConfigManager
	policy            Policy
	journal           *journal.Journal
	safety            SafetyView
	logger            *zap.SugaredLogger
	starvationChecker *StarvationChecker
	snapshotManager   *SnapshotManager
	tickerTime        time.Duration
	currentTick       uint64
	fingerprint       uint64
	guardStreak       int
}

// NewSupervisor wires a supervisor over an already-built machine. The journal
// records failed fires and may be nil; safety may be nil when no watchdog
// runs (the table lint tool, most tests).
func NewSupervisor(machine *fsm.Machine, configManager config.ConfigManager, policy Policy, jrnl *journal.Journal, safety SafetyView) *Supervisor {
	log := logger.For(logger.ComponentSupervisor)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metrics.InitErrorCounter(metrics.ComponentSupervisor, "main")

	return &Supervisor{
		machine:           machine,
		configManager:     configManager,
		policy:            policy,
		journal:           jrnl,
		safety:            safety,
		logger:            log,
		starvationChecker: NewStarvationChecker(constants.StarvationThreshold),
		snapshotManager:   NewSnapshotManager(),
		tickerTime:        constants.DefaultTickerTime,
	}
}

// Execute runs the tick loop until the context is cancelled. Error handling
// per tick:
//   - Deadline exceeded: warn and continue (the ticker is too fast or a
//     guard too slow)
//   - Context cancelled: clean shutdown
//   - Anything else: abort the loop so the process restarts into a known
//     state
func (s *Supervisor) Execute(ctx context.Context) error {
	s.logger.Infof("Supervisor loop starting for %q, ticking every %s", s.machine.Name(), s.tickerTime)

	ticker := time.NewTicker(s.tickerTime)
	defer ticker.Stop()

	s.currentTick = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.currentTick++

			start := time.Now()

			timeoutCtx, cancel := context.WithTimeout(ctx, s.tickerTime)
			err := s.tick(timeoutCtx, s.currentTick)
			cancel()

			cycleTime := time.Since(start)

			if cycleTime > s.tickerTime {
				s.logger.Warnf("Supervisor tick time is greater than ticker time: %v", cycleTime)

				if cycleTime > 2*s.tickerTime {
					s.logger.Errorf("Supervisor tick time is greater than 2*ticker time: %v", cycleTime)
				}
			}

			metrics.ObserveTickTime(metrics.ComponentSupervisor, "main", cycleTime)

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "Supervisor tick timed out: %v", err)
				} else if errors.Is(err, context.Canceled) {
					s.logger.Infof("Supervisor cancelled")

					return nil
				} else {
					metrics.IncErrorCountAndLog(metrics.ComponentSupervisor, "main", err, s.logger)
					sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "Supervisor error: %v", err)

					return err
				}
			}
		}
	}
}

// tick performs one pass: read the config, ask the policy, fire, classify,
// publish the snapshot.
func (s *Supervisor) tick(ctx context.Context, tick uint64) error {
	if s.configManager == nil {
		return fmt.Errorf("config manager is not set")
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Mark the loop alive before anything that can block.
	s.starvationChecker.UpdateLastTickTime()

	cfgCtx, cancel := context.WithTimeout(ctx, constants.ConfigGetConfigTimeout)
	cfg, err := s.configManager.GetConfig(cfgCtx, tick)

	cancel()

	if err != nil {
		// A failed read skips the tick. The machine keeps its state, so
		// nothing is lost but time; the next tick reads again.
		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "Could not read config at tick %d: %v", tick, err)

		return nil
	}

	s.noteFingerprint()

	decision, outcome, err := s.advance(ctx)

	s.updateSystemSnapshot(tick, cfg, decision, outcome)

	return err
}

// advance asks the policy for one step and applies it.
func (s *Supervisor) advance(ctx context.Context) (Decision, string, error) {
	current := s.machine.Current()

	decision, ok := s.policy.Next(current, s.stateTags(current))
	if !ok {
		return Decision{}, OutcomeIdle, nil
	}

	remaining, sufficient, err := ctxutil.HasSufficientTime(ctx, constants.DefaultMinimumRemainingTime)
	if err != nil {
		// No deadline on a tick context is a wiring defect, not a slow tick.
		return decision, OutcomeError, err
	}

	if !sufficient {
		s.logger.Debugf("Skipping fire of %q: only %s left in the tick budget", decision.Trigger, remaining)

		return decision, OutcomeSkipped, nil
	}

	if source, reason, unsafe := s.unsafeVerdict(); unsafe && s.leavesSafety(current, decision.Trigger) {
		s.logger.Infof("Holding %q in %q: %s reports unsafe (%s)", decision.Trigger, current, source, reason)

		return decision, OutcomeHeld, nil
	}

	err = s.machine.Fire(ctx, decision.Trigger)

	switch {
	case err == nil:
		s.guardStreak = 0
		s.policy.Committed(current, s.machine.Current(), decision.Trigger)

		return decision, OutcomeCommitted, nil

	case fsm.IsNoSuchTransitionError(err):
		s.recordFire(ctx, current, decision.Trigger, err)
		s.logger.Debugf("Policy wanted %q from %q but the table has no such edge; idling", decision.Trigger, current)

		return decision, OutcomeIdle, nil

	case fsm.IsGuardNotSatisfiedError(err):
		// The guard answered, so the link is alive; the precondition just
		// does not hold yet.
		s.guardStreak = 0
		s.recordFire(ctx, current, decision.Trigger, err)
		s.logger.Debugf("Waiting in %q: %v", current, err)

		return decision, OutcomeWaiting, nil

	case fsm.IsParkPreempted(err):
		s.guardStreak = 0
		s.recordFire(ctx, current, decision.Trigger, err)
		s.logger.Infof("Fire of %q preempted by a forced park; standing back", decision.Trigger)

		return decision, OutcomePreempted, nil

	case fsm.IsGuardEvaluationError(err):
		s.recordFire(ctx, current, decision.Trigger, err)
		s.guardStreak++

		if s.guardStreak == constants.GuardFailureEscalationStreak {
			sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "Guard evaluation failed %d ticks in a row: %v", s.guardStreak, err)
		}

		return decision, OutcomeRetrying, nil

	case fsm.IsHookError(err):
		// The state change itself committed; the machine already reported
		// the failing hook.
		s.guardStreak = 0
		s.policy.Committed(current, s.machine.Current(), decision.Trigger)
		s.recordFire(ctx, current, decision.Trigger, err)

		return decision, OutcomeHookFailed, nil

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The tick budget ran out before the fire resolved; not a machine
		// fault. Execute decides whether this is a warning or a shutdown.
		return decision, OutcomeSkipped, err

	default:
		s.recordFire(ctx, current, decision.Trigger, err)
		metrics.IncErrorCountAndLog(metrics.ComponentSupervisor, s.machine.Name(), err, s.logger)

		return decision, OutcomeError, err
	}
}

// noteFingerprint tracks the config fingerprint across ticks. The lifecycle
// table is built once at startup, so an edited config file takes effect only
// after a restart; the warning makes that visible instead of silent.
func (s *Supervisor) noteFingerprint() {
	fp := s.configManager.Fingerprint()
	if fp == s.fingerprint {
		return
	}

	if s.fingerprint != 0 {
		s.logger.Warnf("Configuration fingerprint changed from %016x to %016x; the lifecycle table is built at startup, restart to apply structural changes", s.fingerprint, fp)
	}

	s.fingerprint = fp
}

// unsafeVerdict reports the first health source currently holding an unsafe
// verdict.
func (s *Supervisor) unsafeVerdict() (source, reason string, unsafe bool) {
	if s.safety == nil {
		return "", "", false
	}

	for name, verdict := range s.safety.Verdicts() {
		if !verdict.Safe {
			return name, verdict.Reason, true
		}
	}

	return "", "", false
}

// leavesSafety reports whether firing trigger from current could land the
// machine in a state without the always-safe tag. Only such fires are subject
// to the unsafe-verdict veto: within the safe states the supervisor may keep
// tidying up (darks, housekeeping) in any weather.
func (s *Supervisor) leavesSafety(current fsm.StateID, trigger fsm.Trigger) bool {
	registry := s.machine.Table().Registry()
	if !registry.IsAlwaysSafe(current) {
		return false
	}

	for _, cand := range s.machine.Table().Candidates(current, trigger) {
		if !registry.IsAlwaysSafe(cand.Dest) {
			return true
		}
	}

	return false
}

func (s *Supervisor) stateTags(state fsm.StateID) fsm.StateTags {
	tags, err := s.machine.Table().Registry().Tags(state)
	if err != nil {
		// Unreachable: the current state always comes from the registry.
		return fsm.StateTags{}
	}

	return tags
}

func (s *Supervisor) recordFire(ctx context.Context, from fsm.StateID, trigger fsm.Trigger, err error) {
	if s.journal == nil {
		return
	}

	s.journal.RecordFire(ctx, from, trigger, err)
}

// updateSystemSnapshot publishes the post-tick view for API handlers and
// other observers. The snapshot is rebuilt wholesale: with a single machine
// there is nothing worth carrying over from the previous one.
func (s *Supervisor) updateSystemSnapshot(tick uint64, cfg config.FullConfig, decision Decision, outcome string) {
	s.snapshotManager.UpdateSnapshot(&SystemSnapshot{
		SnapshotTime:       time.Now(),
		Config:             cfg,
		Machine:            s.machine.Snapshot(),
		LastDecision:       decision,
		LastOutcome:        outcome,
		ConfigFingerprint:  s.fingerprint,
		Tick:               tick,
		GuardFailureStreak: s.guardStreak,
	})
}

// GetSystemSnapshot returns the current snapshot of the system state.
// This is thread-safe and can be called from any goroutine.
func (s *Supervisor) GetSystemSnapshot() *SystemSnapshot {
	return s.snapshotManager.GetSnapshot()
}

// GetSnapshotManager returns the snapshot manager.
func (s *Supervisor) GetSnapshotManager() *SnapshotManager {
	return s.snapshotManager
}

// GetConfigManager returns the config manager, for components that need
// direct access to the current configuration.
func (s *Supervisor) GetConfigManager() config.ConfigManager {
	return s.configManager
}

// Stop terminates the background starvation checker. The loop itself stops
// when the Execute context is cancelled.
func (s *Supervisor) Stop() {
	s.starvationChecker.Stop()
}
