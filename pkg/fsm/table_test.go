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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

var _ = Describe("Table", func() {
	var eval *fsm.Evaluator

	BeforeEach(func() {
		eval = fsm.NewEvaluator()
		eval.MustRegister("gate_open", func(ctx context.Context) (bool, error) {
			return true, nil
		})
	})

	It("builds from a well-formed configuration", func() {
		table, err := fsm.NewTable(testConfig(eval))
		Expect(err).ToNot(HaveOccurred())

		Expect(table.Initial()).To(Equal(fsm.StateID("idle")))
		Expect(table.ParkTrigger()).To(Equal(fsm.Trigger("park")))
		Expect(table.ParkedState()).To(Equal(fsm.StateID("stowed")))
		Expect(table.Transitions()).To(HaveLen(5))
	})

	It("defaults the park trigger and parked state names", func() {
		registry := fsm.NewRegistry()
		registry.MustRegister("parked", fsm.StateTags{AlwaysSafe: true})

		table, err := fsm.NewTable(fsm.TableConfig{
			Registry:  registry,
			Evaluator: eval,
			Initial:   "parked",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(table.ParkTrigger()).To(Equal(fsm.DefaultParkTrigger))
		Expect(table.ParkedState()).To(Equal(fsm.DefaultParkedState))
	})

	Context("validation", func() {
		It("rejects an unknown initial state", func() {
			cfg := testConfig(eval)
			cfg.Initial = "limbo"

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var unknown *fsm.UnknownStateError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.State).To(Equal(fsm.StateID("limbo")))
		})

		It("rejects an unknown source state", func() {
			cfg := testConfig(eval)
			cfg.Transitions = append(cfg.Transitions, fsm.Transition{
				Trigger: "drift",
				Sources: []fsm.StateID{"limbo"},
				Dest:    "idle",
			})

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var unknown *fsm.UnknownStateError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.State).To(Equal(fsm.StateID("limbo")))
		})

		It("rejects an unknown destination state", func() {
			cfg := testConfig(eval)
			cfg.Transitions = append(cfg.Transitions, fsm.Transition{
				Trigger: "drift",
				Sources: []fsm.StateID{"idle"},
				Dest:    "limbo",
			})

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var unknown *fsm.UnknownStateError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.State).To(Equal(fsm.StateID("limbo")))
		})

		It("rejects a condition without a registered predicate", func() {
			cfg := testConfig(eval)
			cfg.Transitions[0].Conditions = []fsm.ConditionID{"gate_open", "sky_clear"}

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var unknown *fsm.UnknownConditionError
			Expect(errors.As(err, &unknown)).To(BeTrue())
			Expect(unknown.Condition).To(Equal(fsm.ConditionID("sky_clear")))
		})

		It("rejects a transition without sources", func() {
			cfg := testConfig(eval)
			cfg.Transitions = append(cfg.Transitions, fsm.Transition{
				Trigger: "drift",
				Dest:    "idle",
			})

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("no source states"))
		})

		It("rejects a guarded park transition", func() {
			cfg := testConfig(eval)
			cfg.Transitions[2].Conditions = []fsm.ConditionID{"gate_open"}

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var guarded *fsm.GuardedParkError
			Expect(errors.As(err, &guarded)).To(BeTrue())
			Expect(guarded.Source).To(Equal(fsm.StateID("active")))
		})

		It("rejects a graph where a reachable state cannot reach parked", func() {
			cfg := testConfig(eval)
			// Drop the secure edge: stowing becomes a dead end.
			cfg.Transitions = append(cfg.Transitions[:3], cfg.Transitions[4:]...)

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var trap *fsm.UnreachableParkError
			Expect(errors.As(err, &trap)).To(BeTrue())
			Expect(trap.Unreachable).To(ContainElement(fsm.StateID("stowing")))
		})

		It("rejects a working state without a direct park edge", func() {
			cfg := testConfig(eval)
			cfg.Registry.MustRegister("drifting", fsm.StateTags{})
			// drifting can get back to active, so a park path exists, but
			// the watchdog could not stow from it in one hop.
			cfg.Transitions = append(cfg.Transitions,
				fsm.Transition{Trigger: "drift", Sources: []fsm.StateID{"active"}, Dest: "drifting"},
				fsm.Transition{Trigger: "recover", Sources: []fsm.StateID{"drifting"}, Dest: "active"},
			)

			_, err := fsm.NewTable(cfg)
			Expect(fsm.IsConfigValidationError(err)).To(BeTrue())

			var trap *fsm.UnreachableParkError
			Expect(errors.As(err, &trap)).To(BeTrue())
			Expect(trap.Unreachable).To(Equal([]fsm.StateID{"drifting"}))
		})

		It("ignores states unreachable from the initial state", func() {
			cfg := testConfig(eval)
			// Registered but never wired in: not a trap, just unused.
			cfg.Registry.MustRegister("maintenance", fsm.StateTags{})

			_, err := fsm.NewTable(cfg)
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Context("lookup", func() {
		var table *fsm.Table

		BeforeEach(func() {
			cfg := testConfig(eval)
			// A second activate edge from idle exercises candidate ordering.
			cfg.Transitions = append(cfg.Transitions, fsm.Transition{
				Trigger: "activate",
				Sources: []fsm.StateID{"idle"},
				Dest:    "busy",
			})

			var err error
			table, err = fsm.NewTable(cfg)
			Expect(err).ToNot(HaveOccurred())
		})

		It("returns candidates in declaration order", func() {
			candidates := table.Candidates("idle", "activate")
			Expect(candidates).To(HaveLen(2))
			Expect(candidates[0].Dest).To(Equal(fsm.StateID("active")))
			Expect(candidates[1].Dest).To(Equal(fsm.StateID("busy")))
		})

		It("returns no candidates for an undeclared pair", func() {
			Expect(table.Candidates("idle", "secure")).To(BeEmpty())
			Expect(table.Candidates("limbo", "activate")).To(BeEmpty())
		})

		It("lists distinct triggers from a state in declaration order", func() {
			Expect(table.TriggersFrom("active")).To(Equal([]fsm.Trigger{"engage", "park"}))
			Expect(table.TriggersFrom("idle")).To(Equal([]fsm.Trigger{"activate"}))
			Expect(table.TriggersFrom("stowed")).To(Equal([]fsm.Trigger{"reset"}))
		})
	})

	Context("routing toward parked", func() {
		var table *fsm.Table

		BeforeEach(func() {
			var err error
			table, err = fsm.NewTable(testConfig(eval))
			Expect(err).ToNot(HaveOccurred())
		})

		It("returns the first trigger on the shortest unconditional path", func() {
			trigger, ok := table.NextTowardParked("stowing")
			Expect(ok).To(BeTrue())
			Expect(trigger).To(Equal(fsm.Trigger("secure")))

			trigger, ok = table.NextTowardParked("busy")
			Expect(ok).To(BeTrue())
			Expect(trigger).To(Equal(fsm.Trigger("park")))
		})

		It("has nowhere to go from the parked state", func() {
			_, ok := table.NextTowardParked("stowed")
			Expect(ok).To(BeFalse())
		})

		It("finds no route when every path runs through a guard", func() {
			// idle's only outgoing edge is the guarded activate.
			_, ok := table.NextTowardParked("idle")
			Expect(ok).To(BeFalse())
		})
	})
})
