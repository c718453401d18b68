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

import "fmt"

// Transition declares one edge family of the lifecycle graph: a trigger that
// moves the machine from any state in Sources to Dest, gated by zero or more
// guard conditions that must all hold.
type Transition struct {
	Trigger    Trigger
	Dest       StateID
	Sources    []StateID
	Conditions []ConditionID
}

// TableConfig collects everything needed to build and validate a transition
// table.
type TableConfig struct {
	Registry *Registry
	// Evaluator supplies the registered guard predicates; validation
	// rejects transitions whose conditions it cannot resolve.
	Evaluator *Evaluator
	// Initial is the state the machine starts in; reachability analysis
	// runs from here.
	Initial StateID
	// ParkTrigger is the emergency trigger that must be honoured without
	// conditions. Defaults to "park".
	ParkTrigger Trigger
	// ParkedState is the terminal safe state every reachable state must
	// have a path to. Defaults to "parked".
	ParkedState StateID
	Transitions []Transition
}

// DefaultParkTrigger and DefaultParkedState are the conventional names used
// when TableConfig leaves them empty.
const (
	DefaultParkTrigger Trigger = "park"
	DefaultParkedState StateID = "parked"
)

// Table is a validated transition graph. Once NewTable returns without
// error, dispatch can rely on every referenced state and condition existing,
// on park edges being unconditional, and on the parked state being reachable
// from everywhere the machine can get to. The table is immutable after
// construction.
type Table struct {
	registry    *Registry
	evaluator   *Evaluator
	bySource    map[StateID][]int
	initial     StateID
	parkTrigger Trigger
	parkedState StateID
	transitions []Transition
}

// NewTable validates cfg and returns the table. Any defect is wrapped in a
// ConfigValidationError; a table that fails validation is never partially
// usable.
func NewTable(cfg TableConfig) (*Table, error) {
	if cfg.ParkTrigger == "" {
		cfg.ParkTrigger = DefaultParkTrigger
	}

	if cfg.ParkedState == "" {
		cfg.ParkedState = DefaultParkedState
	}

	t := &Table{
		registry:    cfg.Registry,
		evaluator:   cfg.Evaluator,
		initial:     cfg.Initial,
		parkTrigger: cfg.ParkTrigger,
		parkedState: cfg.ParkedState,
		transitions: cfg.Transitions,
		bySource:    make(map[StateID][]int),
	}

	if err := t.validate(); err != nil {
		return nil, &ConfigValidationError{Err: err}
	}

	for i, tr := range t.transitions {
		for _, src := range tr.Sources {
			t.bySource[src] = append(t.bySource[src], i)
		}
	}

	return t, nil
}

func (t *Table) validate() error {
	if !t.registry.Contains(t.initial) {
		return &UnknownStateError{State: t.initial}
	}

	if !t.registry.Contains(t.parkedState) {
		return &UnknownStateError{State: t.parkedState}
	}

	for _, tr := range t.transitions {
		if tr.Trigger == "" {
			return fmt.Errorf("transition to %q has no trigger", tr.Dest)
		}

		if len(tr.Sources) == 0 {
			return fmt.Errorf("transition %q has no source states", tr.Trigger)
		}

		if !t.registry.Contains(tr.Dest) {
			return &UnknownStateError{State: tr.Dest}
		}

		for _, src := range tr.Sources {
			if !t.registry.Contains(src) {
				return &UnknownStateError{State: src}
			}
		}

		for _, cond := range tr.Conditions {
			if !t.evaluator.Contains(cond) {
				return &UnknownConditionError{Condition: cond}
			}
		}

		if tr.Trigger == t.parkTrigger && len(tr.Conditions) > 0 {
			return &GuardedParkError{Source: tr.Sources[0]}
		}
	}

	return t.checkParkReachability()
}

// checkParkReachability walks the graph twice: forward from the initial
// state to find everything the machine can get to, and backward from the
// parked state to find everything that can get out. A reachable state
// outside the second set is a trap. Non-safe reachable states additionally
// need a direct park edge, because the watchdog parks in one hop rather than
// planning a route through a failing night.
func (t *Table) checkParkReachability() error {
	forward := make(map[StateID][]StateID)
	backward := make(map[StateID][]StateID)
	directPark := make(map[StateID]bool)

	for _, tr := range t.transitions {
		for _, src := range tr.Sources {
			forward[src] = append(forward[src], tr.Dest)
			backward[tr.Dest] = append(backward[tr.Dest], src)

			if tr.Trigger == t.parkTrigger {
				directPark[src] = true
			}
		}
	}

	reachable := flood(t.initial, forward)
	canPark := flood(t.parkedState, backward)

	var trapped []StateID

	// Registry order keeps the error message deterministic.
	for _, s := range t.registry.States() {
		if !reachable[s] {
			continue
		}

		if !canPark[s] {
			trapped = append(trapped, s)

			continue
		}

		if !t.registry.IsAlwaysSafe(s) && !directPark[s] {
			trapped = append(trapped, s)
		}
	}

	if len(trapped) > 0 {
		return &UnreachableParkError{Unreachable: trapped}
	}

	return nil
}

func flood(start StateID, edges map[StateID][]StateID) map[StateID]bool {
	seen := map[StateID]bool{start: true}
	queue := []StateID{start}

	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		for _, next := range edges[s] {
			if !seen[next] {
				seen[next] = true

				queue = append(queue, next)
			}
		}
	}

	return seen
}

// NextTowardParked returns the first trigger on a shortest unconditional
// path from state to the parked state. ok is false when state already is the
// parked state or when every route runs through a guarded edge.
func (t *Table) NextTowardParked(state StateID) (Trigger, bool) {
	if state == t.parkedState {
		return "", false
	}

	type hop struct {
		state StateID
		first Trigger
	}

	seen := map[StateID]bool{state: true}
	queue := []hop{{state: state}}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		for _, i := range t.bySource[h.state] {
			tr := t.transitions[i]
			if len(tr.Conditions) > 0 {
				continue
			}

			first := h.first
			if first == "" {
				first = tr.Trigger
			}

			if tr.Dest == t.parkedState {
				return first, true
			}

			if !seen[tr.Dest] {
				seen[tr.Dest] = true

				queue = append(queue, hop{state: tr.Dest, first: first})
			}
		}
	}

	return "", false
}

// Candidates returns the transitions that list state as a source and carry
// trigger, in declaration order. Dispatch tries them in this order and fires
// the first one whose guards all hold.
func (t *Table) Candidates(state StateID, trigger Trigger) []Transition {
	var out []Transition

	for _, i := range t.bySource[state] {
		if t.transitions[i].Trigger == trigger {
			out = append(out, t.transitions[i])
		}
	}

	return out
}

// TriggersFrom returns the distinct triggers declared from state, in
// declaration order. Whether a trigger would actually fire still depends on
// its guards at dispatch time.
func (t *Table) TriggersFrom(state StateID) []Trigger {
	seen := make(map[Trigger]bool)

	var out []Trigger

	for _, i := range t.bySource[state] {
		tr := t.transitions[i].Trigger
		if !seen[tr] {
			seen[tr] = true

			out = append(out, tr)
		}
	}

	return out
}

// Transitions returns a copy of the declared transitions.
func (t *Table) Transitions() []Transition {
	out := make([]Transition, len(t.transitions))
	copy(out, t.transitions)

	return out
}

// Registry returns the state registry the table was validated against.
func (t *Table) Registry() *Registry {
	return t.registry
}

// Initial returns the configured starting state.
func (t *Table) Initial() StateID {
	return t.initial
}

// ParkTrigger returns the unconditional emergency trigger.
func (t *Table) ParkTrigger() Trigger {
	return t.parkTrigger
}

// ParkedState returns the terminal safe state.
func (t *Table) ParkedState() StateID {
	return t.parkedState
}
