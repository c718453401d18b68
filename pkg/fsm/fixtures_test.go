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

package fsm_test

import (
	"context"
	"sync"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// The unit tests run a deliberately small lifecycle so failures stay easy to
// read: idle -> active -> busy, with "park" stowing from either working
// state and "secure" finishing the stow. The full nightly graph is covered
// by the observatory package tests.

func testRegistry() *fsm.Registry {
	r := fsm.NewRegistry()
	r.MustRegister("idle", fsm.StateTags{AlwaysSafe: true})
	r.MustRegister("active", fsm.StateTags{})
	r.MustRegister("busy", fsm.StateTags{})
	r.MustRegister("stowing", fsm.StateTags{AlwaysSafe: true})
	r.MustRegister("stowed", fsm.StateTags{AlwaysSafe: true})

	return r
}

func testTransitions() []fsm.Transition {
	return []fsm.Transition{
		{Trigger: "activate", Sources: []fsm.StateID{"idle"}, Dest: "active", Conditions: []fsm.ConditionID{"gate_open"}},
		{Trigger: "engage", Sources: []fsm.StateID{"active"}, Dest: "busy", Conditions: []fsm.ConditionID{"gate_open"}},
		{Trigger: "park", Sources: []fsm.StateID{"active", "busy"}, Dest: "stowing"},
		{Trigger: "secure", Sources: []fsm.StateID{"stowing"}, Dest: "stowed"},
		{Trigger: "reset", Sources: []fsm.StateID{"stowed"}, Dest: "idle"},
	}
}

func testConfig(eval *fsm.Evaluator) fsm.TableConfig {
	return fsm.TableConfig{
		Registry:    testRegistry(),
		Evaluator:   eval,
		Initial:     "idle",
		ParkTrigger: "park",
		ParkedState: "stowed",
		Transitions: testTransitions(),
	}
}

// stubGate is a swappable predicate so individual specs can make the
// gate_open condition pass, fail, error or block.
type stubGate struct {
	fn fsm.Predicate
	mu sync.Mutex
}

func newStubGate() *stubGate {
	g := &stubGate{}
	g.set(func(ctx context.Context) (bool, error) {
		return true, nil
	})

	return g
}

func (g *stubGate) set(fn fsm.Predicate) {
	g.mu.Lock()
	g.fn = fn
	g.mu.Unlock()
}

func (g *stubGate) predicate(ctx context.Context) (bool, error) {
	g.mu.Lock()
	fn := g.fn
	g.mu.Unlock()

	return fn(ctx)
}
