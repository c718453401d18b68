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

// StateID names a lifecycle state. State identifiers are plain strings so
// that configuration files, metrics labels and log lines all agree on the
// same vocabulary without a mapping layer.
type StateID string

// Trigger names an event that may cause a state change.
type Trigger string

// Horizon classifies states that belong to a twilight branch of the nightly
// sequence. The supervisor uses it to pick between the flat-fielding and
// focusing paths depending on sun altitude; the engine itself treats it as
// opaque metadata.
type Horizon string

const (
	// HorizonNone marks states with no twilight significance.
	HorizonNone Horizon = ""
	// HorizonFlat marks the sky-flat acquisition branch.
	HorizonFlat Horizon = "flat"
	// HorizonFocus marks the coarse-focus branch.
	HorizonFocus Horizon = "focus"
)

// StateTags carries the immutable metadata attached to a state at
// registration time.
type StateTags struct {
	// Horizon assigns the state to a twilight branch, if any.
	Horizon Horizon
	// AlwaysSafe marks states in which the observatory needs no active
	// supervision: the telescope is stowed or the dome is closed. The
	// watchdog only forces a park when the machine sits in a state
	// without this tag.
	AlwaysSafe bool
}

// stateEntry pairs a state with its tags and remembers registration order.
type stateEntry struct {
	id   StateID
	tags StateTags
}

// Registry is the authoritative catalogue of lifecycle states. All lookups
// during table validation and dispatch resolve against it, so a state that
// was never registered cannot appear in a running machine. The registry is
// populated before the machine is built and never mutated afterwards.
type Registry struct {
	index   map[StateID]int
	entries []stateEntry
}

// NewRegistry returns an empty state registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[StateID]int),
	}
}

// Register adds a state with its tags. Registering the same identifier twice
// is a configuration defect and fails with DuplicateStateError.
func (r *Registry) Register(id StateID, tags StateTags) error {
	if _, ok := r.index[id]; ok {
		return &DuplicateStateError{State: id}
	}

	r.index[id] = len(r.entries)
	r.entries = append(r.entries, stateEntry{id: id, tags: tags})

	return nil
}

// MustRegister is Register for statically known state sets; it panics on
// duplicates. Intended for package-level default tables where a duplicate is
// a programming error, not an operator input error.
func (r *Registry) MustRegister(id StateID, tags StateTags) {
	if err := r.Register(id, tags); err != nil {
		panic(err)
	}
}

// Contains reports whether the state is registered.
func (r *Registry) Contains(id StateID) bool {
	_, ok := r.index[id]

	return ok
}

// Tags returns the metadata for a registered state.
func (r *Registry) Tags(id StateID) (StateTags, error) {
	i, ok := r.index[id]
	if !ok {
		return StateTags{}, &UnknownStateError{State: id}
	}

	return r.entries[i].tags, nil
}

// IsAlwaysSafe reports whether the state carries the always-safe tag.
// Unknown states are never safe.
func (r *Registry) IsAlwaysSafe(id StateID) bool {
	i, ok := r.index[id]
	if !ok {
		return false
	}

	return r.entries[i].tags.AlwaysSafe
}

// HorizonOf returns the twilight branch of the state, or HorizonNone for
// unknown or untagged states.
func (r *Registry) HorizonOf(id StateID) Horizon {
	i, ok := r.index[id]
	if !ok {
		return HorizonNone
	}

	return r.entries[i].tags.Horizon
}

// States returns all registered states in registration order. The slice is
// freshly allocated; callers may modify it.
func (r *Registry) States() []StateID {
	out := make([]StateID, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.id
	}

	return out
}

// Len returns the number of registered states.
func (r *Registry) Len() int {
	return len(r.entries)
}
