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
	"errors"
	"fmt"
	"strings"
)

// The fire path distinguishes three failure classes that callers must be able
// to tell apart: the trigger does not exist from the current state, the
// trigger exists but its guard conditions evaluated to false, and the guard
// conditions could not be evaluated at all. Conflating the last two would let
// a dead serial link masquerade as "mount not tracking".

// ErrParkPreempted is the cancellation cause installed when a pending park
// request aborts an in-flight guard evaluation.
var ErrParkPreempted = errors.New("guard evaluation preempted by park request")

// DuplicateStateError is returned when a state identifier is registered twice.
type DuplicateStateError struct {
	State StateID
}

func (e *DuplicateStateError) Error() string {
	return fmt.Sprintf("state %q already registered", e.State)
}

// UnknownStateError is returned when a state identifier has no registry entry.
type UnknownStateError struct {
	State StateID
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown state %q", e.State)
}

// DuplicateConditionError is returned when a guard condition identifier is
// registered twice. Silent replacement would let one hardware adapter shadow
// another's predicate.
type DuplicateConditionError struct {
	Condition ConditionID
}

func (e *DuplicateConditionError) Error() string {
	return fmt.Sprintf("guard condition %q already registered", e.Condition)
}

// UnknownConditionError is returned at construction when a transition
// references a condition with no registered predicate. It is never surfaced
// at dispatch time: a table that passed validation cannot produce it.
type UnknownConditionError struct {
	Condition ConditionID
}

func (e *UnknownConditionError) Error() string {
	return fmt.Sprintf("unknown guard condition %q", e.Condition)
}

// GuardedParkError is returned at construction when a park-trigger edge
// carries guard conditions. Parking must never wait on hardware answering a
// question; the park trigger is unconditional from every source.
type GuardedParkError struct {
	Source StateID
}

func (e *GuardedParkError) Error() string {
	return fmt.Sprintf("park transition from %q must be unconditional", e.Source)
}

// UnreachableParkError is returned at construction when the transition graph
// contains a state reachable from the initial state that has no path to the
// parked state. A machine built from such a table could be steered into a
// corner where the emergency stop is structurally impossible.
type UnreachableParkError struct {
	Unreachable []StateID
}

func (e *UnreachableParkError) Error() string {
	names := make([]string, len(e.Unreachable))
	for i, s := range e.Unreachable {
		names[i] = string(s)
	}

	return fmt.Sprintf("no park path from state(s): %s", strings.Join(names, ", "))
}

// ConfigValidationError wraps any table or registry defect detected at
// construction. It is fatal: the machine is never created, so no fire call
// can observe a half-validated configuration.
type ConfigValidationError struct {
	Err error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid machine configuration: %v", e.Err)
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Err
}

// NoSuchTransitionError is returned by Fire when no edge matches the
// (current state, trigger) pair. The machine state is unchanged.
type NoSuchTransitionError struct {
	State   StateID
	Trigger Trigger
}

func (e *NoSuchTransitionError) Error() string {
	return fmt.Sprintf("trigger %q is not valid from state %q", e.Trigger, e.State)
}

// GuardNotSatisfiedError is returned by Fire when at least one edge matched
// but every candidate had a guard condition evaluate to false. The machine
// state is unchanged.
type GuardNotSatisfiedError struct {
	State     StateID
	Trigger   Trigger
	Condition ConditionID
}

func (e *GuardNotSatisfiedError) Error() string {
	return fmt.Sprintf("trigger %q from state %q blocked: condition %q not satisfied", e.Trigger, e.State, e.Condition)
}

// GuardEvaluationError is returned by Fire when a guard predicate could not
// be evaluated: it returned an error, its deadline expired, or a park request
// preempted it. This is deliberately distinct from GuardNotSatisfiedError —
// "the mount said no" and "the mount did not answer" call for different
// operator responses. The machine state is unchanged.
type GuardEvaluationError struct {
	Err       error
	State     StateID
	Trigger   Trigger
	Condition ConditionID
}

func (e *GuardEvaluationError) Error() string {
	return fmt.Sprintf("trigger %q from state %q: evaluating condition %q: %v", e.Trigger, e.State, e.Condition, e.Err)
}

func (e *GuardEvaluationError) Unwrap() error {
	return e.Err
}

// HookError is returned by Fire when an entry or exit hook fails. By the
// time hooks run the state change is already committed, so the new state
// stands; the error reports the subsystem failure without vetoing the
// transition.
type HookError struct {
	Err   error
	State StateID
	Phase HookPhase
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook for state %q failed: %v", e.Phase, e.State, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// HookPhase identifies whether a hook ran on state exit or state entry.
type HookPhase string

const (
	HookPhaseExit  HookPhase = "exit"
	HookPhaseEntry HookPhase = "entry"
)

// IsConfigValidationError reports whether err is a construction-time
// configuration failure.
func IsConfigValidationError(err error) bool {
	var ce *ConfigValidationError

	return errors.As(err, &ce)
}

// IsNoSuchTransitionError reports whether err means the trigger was invalid
// from the current state.
func IsNoSuchTransitionError(err error) bool {
	var ne *NoSuchTransitionError

	return errors.As(err, &ne)
}

// IsGuardNotSatisfiedError reports whether err means a matched edge was
// blocked by a false guard condition.
func IsGuardNotSatisfiedError(err error) bool {
	var ge *GuardNotSatisfiedError

	return errors.As(err, &ge)
}

// IsGuardEvaluationError reports whether err means a guard predicate failed
// to produce an answer (timeout, preemption, or hardware query error).
func IsGuardEvaluationError(err error) bool {
	var ee *GuardEvaluationError

	return errors.As(err, &ee)
}

// IsHookError reports whether err came from an entry or exit hook after the
// state change was committed.
func IsHookError(err error) bool {
	var he *HookError

	return errors.As(err, &he)
}

// IsParkPreempted reports whether err was caused by a park request
// cancelling an in-flight guard evaluation.
func IsParkPreempted(err error) bool {
	return errors.Is(err, ErrParkPreempted)
}
