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
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// SystemSnapshot is the supervisor's view of the world at the end of a tick:
// the config it ran against, the machine state, and what the loop last
// decided and got back. API handlers read deep copies of it and never share
// memory with the loop.
type SystemSnapshot struct {
	SnapshotTime       time.Time
	Config             config.FullConfig
	Machine            fsm.MachineSnapshot
	LastDecision       Decision
	LastOutcome        string
	ConfigFingerprint  uint64
	Tick               uint64
	GuardFailureStreak int
}

// SnapshotManager manages thread-safe storage and retrieval of system
// snapshots. The supervisor replaces the snapshot wholesale every tick;
// readers either borrow the shared pointer (core-side, read-only) or take a
// deep copy (anything that outlives the tick, such as an API response being
// marshalled while the loop moves on).
type SnapshotManager struct {
	mu           sync.RWMutex
	lastSnapshot *SystemSnapshot
}

// NewSnapshotManager creates a new snapshot manager.
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{
		lastSnapshot: &SystemSnapshot{
			SnapshotTime: time.Now(),
		},
	}
}

// UpdateSnapshot stores the snapshot for readers.
func (s *SnapshotManager) UpdateSnapshot(snapshot *SystemSnapshot) {
	if s == nil {
		return // Safety check for nil receiver
	}

	if snapshot == nil {
		return // Don't update with nil snapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnapshot = snapshot
}

// GetSnapshot returns the most recent system snapshot. Treat it as read-only;
// the supervisor may still hold the same pointer.
func (s *SnapshotManager) GetSnapshot() *SystemSnapshot {
	if s == nil {
		return nil // Safety check for nil receiver
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastSnapshot
}

// GetDeepCopySnapshot returns a deep copy of the most recent system snapshot.
func (s *SnapshotManager) GetDeepCopySnapshot() SystemSnapshot {
	if s == nil {
		return SystemSnapshot{} // Safety check for nil receiver
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshotCopy SystemSnapshot

	err := deepcopy.Copy(&snapshotCopy, s.lastSnapshot)
	if err != nil {
		// If the deep copy fails, return an empty snapshot to indicate failure
		return SystemSnapshot{}
	}

	return snapshotCopy
}
