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

// Package fsmtest provides stub hardware and recording helpers shared by the
// lifecycle test suites.
package fsmtest

import (
	"context"
	"sync"
)

// StubMount answers the mount guard conditions from settable fields instead
// of hardware. The zero value reports an uninitialized, non-tracking mount;
// NewStubMount returns one that is ready for a full night.
type StubMount struct {
	err         error
	initCalls   int
	trackCalls  int
	mu          sync.Mutex
	initialized bool
	tracking    bool
}

// NewStubMount returns a mount that reports initialized and tracking.
func NewStubMount() *StubMount {
	return &StubMount{initialized: true, tracking: true}
}

// SetInitialized controls the mount_is_initialized answer.
func (s *StubMount) SetInitialized(v bool) {
	s.mu.Lock()
	s.initialized = v
	s.mu.Unlock()
}

// SetTracking controls the mount_is_tracking answer.
func (s *StubMount) SetTracking(v bool) {
	s.mu.Lock()
	s.tracking = v
	s.mu.Unlock()
}

// FailWith makes both conditions return err instead of an answer, as a dead
// serial link would. Passing nil restores normal answers.
func (s *StubMount) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Initialized implements observatory.MountStatus.
func (s *StubMount) Initialized(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initCalls++
	if s.err != nil {
		return false, s.err
	}

	return s.initialized, nil
}

// Tracking implements observatory.MountStatus.
func (s *StubMount) Tracking(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackCalls++
	if s.err != nil {
		return false, s.err
	}

	return s.tracking, nil
}

// Calls returns how often each condition was evaluated.
func (s *StubMount) Calls() (initialized, tracking int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.initCalls, s.trackCalls
}
