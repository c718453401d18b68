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

package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
)

// Hook runs after a state change has been committed. From and to name the
// states on either side of the edge; trigger is the event that fired it.
// Hooks attach subsystem actions to states (open the dome on entering
// twilight_flat_fielding, stop the camera on leaving observing) and their
// failure is reported but never rolls the state back.
type Hook func(ctx context.Context, from, to StateID, trigger Trigger) error

// TransitionRecord describes the most recent committed state change.
type TransitionRecord struct {
	At      time.Time
	Trigger Trigger
	From    StateID
	To      StateID
}

// MachineSnapshot is a point-in-time copy of the observable machine state,
// safe to hand to observers and API handlers.
type MachineSnapshot struct {
	LastTransition *TransitionRecord `json:"lastTransition,omitempty"`
	Name           string            `json:"name"`
	Current        StateID           `json:"current"`
	Horizon        Horizon           `json:"horizon,omitempty"`
	ValidTriggers  []Trigger         `json:"validTriggers"`
	AlwaysSafe     bool              `json:"alwaysSafe"`
}

// Machine drives the observatory through its lifecycle graph. All state
// changes flow through Fire, which serializes callers; Current stays
// readable throughout. A park request preempts whatever guard evaluation is
// in flight, so a stuck hardware query can delay parking by at most the
// mutex handover, not by the guard timeout.
type Machine struct {
	log         *zap.SugaredLogger
	cancelEval  context.CancelCauseFunc
	table       *Table
	entryHooks  map[StateID][]Hook
	exitHooks   map[StateID][]Hook
	last        *TransitionRecord
	name        string
	current     StateID
	hookTimeout time.Duration
	fireMu      sync.Mutex
	stateMu     sync.RWMutex
	preemptMu   sync.Mutex
}

// NewMachine builds an engine over a validated table, starting in the
// table's initial state.
func NewMachine(name string, table *Table) *Machine {
	m := &Machine{
		name:        name,
		table:       table,
		current:     table.Initial(),
		entryHooks:  make(map[StateID][]Hook),
		exitHooks:   make(map[StateID][]Hook),
		hookTimeout: constants.DefaultHookTimeout,
		log:         logger.For(logger.ComponentMachine),
	}

	metrics.InitErrorCounter(metrics.ComponentMachine, name)
	metrics.UpdateMachineState(name, string(m.current), table.Registry().IsAlwaysSafe(m.current))

	return m
}

// OnEntry appends a hook that runs after the machine commits a change into
// state. Hooks are registered during wiring, before the machine starts
// firing; registration is not synchronized against Fire.
func (m *Machine) OnEntry(state StateID, h Hook) {
	m.entryHooks[state] = append(m.entryHooks[state], h)
}

// OnExit appends a hook that runs after the machine commits a change out of
// state, before the entry hooks of the new state.
func (m *Machine) OnExit(state StateID, h Hook) {
	m.exitHooks[state] = append(m.exitHooks[state], h)
}

// Name returns the instance name used in logs and metrics.
func (m *Machine) Name() string {
	return m.name
}

// Current returns the current state. It never blocks on an in-flight Fire.
func (m *Machine) Current() StateID {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return m.current
}

// IsInSafeState reports whether the current state carries the always-safe
// tag. The watchdog consults this before forcing a park.
func (m *Machine) IsInSafeState() bool {
	return m.table.Registry().IsAlwaysSafe(m.Current())
}

// IsParked reports whether the machine rests in the table's terminal parked
// state.
func (m *Machine) IsParked() bool {
	return m.Current() == m.table.ParkedState()
}

// LastTransition returns a copy of the most recent committed change, or nil
// if the machine has not moved yet.
func (m *Machine) LastTransition() *TransitionRecord {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	if m.last == nil {
		return nil
	}

	r := *m.last

	return &r
}

// ValidTriggers returns the triggers declared from the current state, in
// table order. Guards are not consulted.
func (m *Machine) ValidTriggers() []Trigger {
	return m.table.TriggersFrom(m.Current())
}

// Table returns the validated transition table the machine runs on.
func (m *Machine) Table() *Table {
	return m.table
}

// Snapshot returns a point-in-time copy of the observable machine state.
func (m *Machine) Snapshot() MachineSnapshot {
	m.stateMu.RLock()
	current := m.current
	last := m.last
	m.stateMu.RUnlock()

	snap := MachineSnapshot{
		Name:          m.name,
		Current:       current,
		AlwaysSafe:    m.table.Registry().IsAlwaysSafe(current),
		Horizon:       m.table.Registry().HorizonOf(current),
		ValidTriggers: m.table.TriggersFrom(current),
	}

	if last != nil {
		r := *last
		snap.LastTransition = &r
	}

	return snap
}

// GetDebugInfo implements metrics.MachineDebugProvider.
func (m *Machine) GetDebugInfo() interface{} {
	return m.Snapshot()
}

// Fire attempts to apply trigger from the current state. Candidate edges are
// tried in table order and the first one whose guard conditions all hold is
// committed. The error reports why nothing fired: NoSuchTransitionError when
// no edge matches, GuardNotSatisfiedError when every match was blocked by a
// clean false, GuardEvaluationError when a predicate failed to answer.
// A HookError means the change committed but a follow-up action failed.
func (m *Machine) Fire(ctx context.Context, trigger Trigger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.fireMu.Lock()
	defer m.fireMu.Unlock()

	from := m.Current()

	candidates := m.table.Candidates(from, trigger)
	if len(candidates) == 0 {
		metrics.RecordTransition(string(trigger), metrics.OutcomeNoTransition)
		m.log.Debugf("%s: trigger %q has no edge from %q", m.name, trigger, from)

		return &NoSuchTransitionError{State: from, Trigger: trigger}
	}

	evalCtx, cancel := context.WithCancelCause(ctx)
	m.armPreemption(cancel)
	defer m.disarmPreemption()

	selected := -1

	var firstBlocked ConditionID

	for i, cand := range candidates {
		hold, cond, err := m.guardsHold(evalCtx, cand)
		if err != nil {
			metrics.RecordTransition(string(trigger), metrics.OutcomeEvaluationFailed)

			evalErr := &GuardEvaluationError{State: from, Trigger: trigger, Condition: cond, Err: err}
			metrics.IncErrorCountAndLog(metrics.ComponentMachine, m.name, evalErr, m.log)

			return evalErr
		}

		if hold {
			selected = i

			break
		}

		if firstBlocked == "" {
			firstBlocked = cond
		}
	}

	if selected == -1 {
		metrics.RecordTransition(string(trigger), metrics.OutcomeGuardNotSatisfied)
		m.log.Debugf("%s: trigger %q from %q blocked by condition %q", m.name, trigger, from, firstBlocked)

		return &GuardNotSatisfiedError{State: from, Trigger: trigger, Condition: firstBlocked}
	}

	to := candidates[selected].Dest
	m.commit(from, to, trigger)
	m.log.Infof("%s: %s -> %s on %s", m.name, from, to, trigger)

	if err := m.runHooks(from, to, trigger); err != nil {
		metrics.RecordTransition(string(trigger), metrics.OutcomeHookFailed)

		return err
	}

	metrics.RecordTransition(string(trigger), metrics.OutcomeCommitted)

	return nil
}

// Park cancels any in-flight guard evaluation and fires the park trigger.
// The preempted Fire returns a GuardEvaluationError to its caller; Park then
// takes its turn on the fire path. From an always-safe state without a park
// edge this returns NoSuchTransitionError, which callers treat as already
// safe.
func (m *Machine) Park(ctx context.Context) error {
	m.preempt()

	return m.Fire(ctx, m.table.ParkTrigger())
}

// Stow fires the next trigger on the shortest unconditional route from the
// current state to the parked state. The watchdog calls it after a forced
// park to finish the stow: park lands the machine in an intermediate safe
// state and Stow walks the rest of the way. Already parked is a no-op.
func (m *Machine) Stow(ctx context.Context) error {
	from := m.Current()
	if from == m.table.ParkedState() {
		return nil
	}

	trigger, ok := m.table.NextTowardParked(from)
	if !ok {
		return fmt.Errorf("no unconditional route from %q to %q", from, m.table.ParkedState())
	}

	return m.Fire(ctx, trigger)
}

// guardsHold evaluates the conditions of one candidate in declaration order.
// It reports the first condition that returned false, or the condition whose
// evaluation failed.
func (m *Machine) guardsHold(ctx context.Context, tr Transition) (bool, ConditionID, error) {
	for _, cond := range tr.Conditions {
		hold, err := m.table.evaluator.Evaluate(ctx, cond)
		if err != nil {
			return false, cond, err
		}

		if !hold {
			return false, cond, nil
		}
	}

	return true, "", nil
}

func (m *Machine) commit(from, to StateID, trigger Trigger) {
	m.stateMu.Lock()
	m.current = to
	m.last = &TransitionRecord{Trigger: trigger, From: from, To: to, At: time.Now()}
	m.stateMu.Unlock()

	metrics.UpdateMachineState(m.name, string(to), m.table.Registry().IsAlwaysSafe(to))
}

// runHooks runs the exit hooks of from, then the entry hooks of to. Each
// hook gets a fresh context bounded by the hook timeout: the state change is
// already committed, so a cancelled trigger context must not abort the
// subsystem actions that follow it. The first failure stops the chain.
func (m *Machine) runHooks(from, to StateID, trigger Trigger) error {
	for _, h := range m.exitHooks[from] {
		if err := m.runHook(h, from, to, trigger); err != nil {
			hookErr := &HookError{State: from, Phase: HookPhaseExit, Err: err}
			sentry.ReportIssue(hookErr, sentry.IssueTypeError, m.log)

			return hookErr
		}
	}

	for _, h := range m.entryHooks[to] {
		if err := m.runHook(h, from, to, trigger); err != nil {
			hookErr := &HookError{State: to, Phase: HookPhaseEntry, Err: err}
			sentry.ReportIssue(hookErr, sentry.IssueTypeError, m.log)

			return hookErr
		}
	}

	return nil
}

func (m *Machine) runHook(h Hook, from, to StateID, trigger Trigger) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.hookTimeout)
	defer cancel()

	return h(ctx, from, to, trigger)
}

func (m *Machine) armPreemption(cancel context.CancelCauseFunc) {
	m.preemptMu.Lock()
	m.cancelEval = cancel
	m.preemptMu.Unlock()
}

func (m *Machine) disarmPreemption() {
	m.preemptMu.Lock()
	if m.cancelEval != nil {
		m.cancelEval(nil)
		m.cancelEval = nil
	}
	m.preemptMu.Unlock()
}

func (m *Machine) preempt() {
	m.preemptMu.Lock()
	if m.cancelEval != nil {
		m.cancelEval(ErrParkPreempted)
	}
	m.preemptMu.Unlock()
}
