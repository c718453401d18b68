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
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

var _ = Describe("Machine", func() {
	var (
		machine *fsm.Machine
		gate    *stubGate
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		gate = newStubGate()

		eval := fsm.NewEvaluator()
		eval.MustRegister("gate_open", gate.predicate)

		table, err := fsm.NewTable(testConfig(eval))
		Expect(err).ToNot(HaveOccurred())

		machine = fsm.NewMachine("test-machine", table)
	})

	It("starts in the initial state", func() {
		Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
		Expect(machine.IsInSafeState()).To(BeTrue())
		Expect(machine.LastTransition()).To(BeNil())
	})

	It("commits a valid transition and records it", func() {
		Expect(machine.Fire(ctx, "activate")).To(Succeed())

		Expect(machine.Current()).To(Equal(fsm.StateID("active")))
		Expect(machine.IsInSafeState()).To(BeFalse())

		last := machine.LastTransition()
		Expect(last).ToNot(BeNil())
		Expect(last.From).To(Equal(fsm.StateID("idle")))
		Expect(last.To).To(Equal(fsm.StateID("active")))
		Expect(last.Trigger).To(Equal(fsm.Trigger("activate")))
		Expect(last.At).To(BeTemporally("~", time.Now(), time.Second))

		Expect(machine.ValidTriggers()).To(Equal([]fsm.Trigger{"engage", "park"}))
	})

	It("walks the full stow loop", func() {
		for _, trigger := range []fsm.Trigger{"activate", "engage", "park", "secure", "reset"} {
			Expect(machine.Fire(ctx, trigger)).To(Succeed())
		}

		Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
	})

	It("rejects a trigger with no edge from the current state", func() {
		err := machine.Fire(ctx, "secure")
		Expect(fsm.IsNoSuchTransitionError(err)).To(BeTrue())

		var noEdge *fsm.NoSuchTransitionError
		Expect(errors.As(err, &noEdge)).To(BeTrue())
		Expect(noEdge.State).To(Equal(fsm.StateID("idle")))
		Expect(noEdge.Trigger).To(Equal(fsm.Trigger("secure")))

		Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
	})

	It("rejects an event when the context is already cancelled", func() {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		err := machine.Fire(cancelled, "activate")
		Expect(err).To(MatchError(context.Canceled))
		Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
	})

	Context("guard outcomes", func() {
		It("reports a clean false as not satisfied", func() {
			gate.set(func(ctx context.Context) (bool, error) {
				return false, nil
			})

			err := machine.Fire(ctx, "activate")
			Expect(fsm.IsGuardNotSatisfiedError(err)).To(BeTrue())
			Expect(fsm.IsGuardEvaluationError(err)).To(BeFalse())

			var blocked *fsm.GuardNotSatisfiedError
			Expect(errors.As(err, &blocked)).To(BeTrue())
			Expect(blocked.Condition).To(Equal(fsm.ConditionID("gate_open")))

			Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
		})

		It("reports a failing predicate as an evaluation error", func() {
			linkDown := errors.New("serial link down")
			gate.set(func(ctx context.Context) (bool, error) {
				return false, linkDown
			})

			err := machine.Fire(ctx, "activate")
			Expect(fsm.IsGuardEvaluationError(err)).To(BeTrue())
			Expect(fsm.IsGuardNotSatisfiedError(err)).To(BeFalse())
			Expect(err).To(MatchError(linkDown))

			Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
		})

		It("reports a guard deadline as an evaluation error, not a refusal", func() {
			shortEval := fsm.NewEvaluatorWithTimeout(30 * time.Millisecond)
			shortEval.MustRegister("gate_open", func(ctx context.Context) (bool, error) {
				<-ctx.Done()

				return false, ctx.Err()
			})

			table, err := fsm.NewTable(testConfig(shortEval))
			Expect(err).ToNot(HaveOccurred())

			slow := fsm.NewMachine("deadline-machine", table)

			fireErr := slow.Fire(ctx, "activate")
			Expect(fsm.IsGuardEvaluationError(fireErr)).To(BeTrue())
			Expect(fireErr).To(MatchError(context.DeadlineExceeded))
			Expect(slow.Current()).To(Equal(fsm.StateID("idle")))
		})

		It("discards an answer produced after the deadline", func() {
			shortEval := fsm.NewEvaluatorWithTimeout(30 * time.Millisecond)
			// The predicate ignores its context and answers yes too late.
			shortEval.MustRegister("gate_open", func(ctx context.Context) (bool, error) {
				time.Sleep(80 * time.Millisecond)

				return true, nil
			})

			table, err := fsm.NewTable(testConfig(shortEval))
			Expect(err).ToNot(HaveOccurred())

			stale := fsm.NewMachine("stale-machine", table)

			fireErr := stale.Fire(ctx, "activate")
			Expect(fsm.IsGuardEvaluationError(fireErr)).To(BeTrue())
			Expect(fireErr).To(MatchError(context.DeadlineExceeded))
			Expect(stale.Current()).To(Equal(fsm.StateID("idle")))
		})
	})

	Context("candidate selection", func() {
		var (
			routed   *fsm.Machine
			primary  *stubGate
			fallback *stubGate
		)

		// Two route edges from idle share the trigger; dispatch must try
		// them in declaration order and fire the first whose guard holds.
		BeforeEach(func() {
			primary = newStubGate()
			fallback = newStubGate()

			eval := fsm.NewEvaluator()
			eval.MustRegister("primary_clear", primary.predicate)
			eval.MustRegister("fallback_clear", fallback.predicate)

			registry := fsm.NewRegistry()
			registry.MustRegister("idle", fsm.StateTags{AlwaysSafe: true})
			registry.MustRegister("primary", fsm.StateTags{AlwaysSafe: true})
			registry.MustRegister("fallback", fsm.StateTags{AlwaysSafe: true})
			registry.MustRegister("stowed", fsm.StateTags{AlwaysSafe: true})

			table, err := fsm.NewTable(fsm.TableConfig{
				Registry:    registry,
				Evaluator:   eval,
				Initial:     "idle",
				ParkedState: "stowed",
				Transitions: []fsm.Transition{
					{Trigger: "route", Sources: []fsm.StateID{"idle"}, Dest: "primary", Conditions: []fsm.ConditionID{"primary_clear"}},
					{Trigger: "route", Sources: []fsm.StateID{"idle"}, Dest: "fallback", Conditions: []fsm.ConditionID{"fallback_clear"}},
					{Trigger: "secure", Sources: []fsm.StateID{"primary", "fallback"}, Dest: "stowed"},
				},
			})
			Expect(err).ToNot(HaveOccurred())

			routed = fsm.NewMachine("routed-machine", table)
		})

		It("prefers the first declared candidate when its guard holds", func() {
			Expect(routed.Fire(ctx, "route")).To(Succeed())
			Expect(routed.Current()).To(Equal(fsm.StateID("primary")))
		})

		It("falls through to a later candidate when the first guard is false", func() {
			primary.set(func(ctx context.Context) (bool, error) {
				return false, nil
			})

			Expect(routed.Fire(ctx, "route")).To(Succeed())
			Expect(routed.Current()).To(Equal(fsm.StateID("fallback")))

			last := routed.LastTransition()
			Expect(last.Trigger).To(Equal(fsm.Trigger("route")))
			Expect(last.To).To(Equal(fsm.StateID("fallback")))
		})

		It("refuses when every candidate guard is false, naming the first", func() {
			blockedGate := func(ctx context.Context) (bool, error) {
				return false, nil
			}
			primary.set(blockedGate)
			fallback.set(blockedGate)

			fireErr := routed.Fire(ctx, "route")
			Expect(fsm.IsGuardNotSatisfiedError(fireErr)).To(BeTrue())

			var refused *fsm.GuardNotSatisfiedError
			Expect(errors.As(fireErr, &refused)).To(BeTrue())
			Expect(refused.Condition).To(Equal(fsm.ConditionID("primary_clear")))
			Expect(routed.Current()).To(Equal(fsm.StateID("idle")))
		})
	})

	Context("hooks", func() {
		It("runs exit hooks before entry hooks, after the commit", func() {
			var order []string

			machine.OnExit("idle", func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
				// The commit happens before any hook runs.
				Expect(machine.Current()).To(Equal(fsm.StateID("active")))
				order = append(order, fmt.Sprintf("exit:%s->%s:%s", from, to, trigger))

				return nil
			})
			machine.OnEntry("active", func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
				order = append(order, fmt.Sprintf("entry:%s->%s:%s", from, to, trigger))

				return nil
			})

			Expect(machine.Fire(ctx, "activate")).To(Succeed())
			Expect(order).To(Equal([]string{
				"exit:idle->active:activate",
				"entry:idle->active:activate",
			}))
		})

		It("keeps the committed state when an entry hook fails", func() {
			hookFail := errors.New("camera cooler refused")
			machine.OnEntry("active", func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
				return hookFail
			})

			err := machine.Fire(ctx, "activate")
			Expect(fsm.IsHookError(err)).To(BeTrue())
			Expect(err).To(MatchError(hookFail))

			var hookErr *fsm.HookError
			Expect(errors.As(err, &hookErr)).To(BeTrue())
			Expect(hookErr.Phase).To(Equal(fsm.HookPhaseEntry))
			Expect(hookErr.State).To(Equal(fsm.StateID("active")))

			// The transition stands; only the follow-up action failed.
			Expect(machine.Current()).To(Equal(fsm.StateID("active")))
		})

		It("stops the hook chain at the first failure", func() {
			entryRan := false

			machine.OnExit("idle", func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
				return errors.New("shutter jammed")
			})
			machine.OnEntry("active", func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
				entryRan = true

				return nil
			})

			err := machine.Fire(ctx, "activate")
			Expect(fsm.IsHookError(err)).To(BeTrue())

			var hookErr *fsm.HookError
			Expect(errors.As(err, &hookErr)).To(BeTrue())
			Expect(hookErr.Phase).To(Equal(fsm.HookPhaseExit))

			Expect(entryRan).To(BeFalse())
			Expect(machine.Current()).To(Equal(fsm.StateID("active")))
		})
	})

	Context("park requests", func() {
		It("preempts a blocked guard evaluation", func() {
			Expect(machine.Fire(ctx, "activate")).To(Succeed())

			evalStarted := make(chan struct{})
			gate.set(func(ctx context.Context) (bool, error) {
				close(evalStarted)
				<-ctx.Done()

				return false, context.Cause(ctx)
			})

			fireResult := make(chan error, 1)
			go func() {
				fireResult <- machine.Fire(context.Background(), "engage")
			}()

			Eventually(evalStarted).Should(BeClosed())

			Expect(machine.Park(ctx)).To(Succeed())
			Expect(machine.Current()).To(Equal(fsm.StateID("stowing")))

			var fireErr error
			Eventually(fireResult).Should(Receive(&fireErr))
			Expect(fsm.IsGuardEvaluationError(fireErr)).To(BeTrue())
			Expect(fsm.IsParkPreempted(fireErr)).To(BeTrue())
		})

		It("returns NoSuchTransitionError from a state without a park edge", func() {
			err := machine.Park(ctx)
			Expect(fsm.IsNoSuchTransitionError(err)).To(BeTrue())
			Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
		})
	})

	Context("finishing the stow", func() {
		It("walks the unconditional route to the parked state", func() {
			Expect(machine.Fire(ctx, "activate")).To(Succeed())
			Expect(machine.Fire(ctx, "engage")).To(Succeed())
			Expect(machine.Park(ctx)).To(Succeed())
			Expect(machine.Current()).To(Equal(fsm.StateID("stowing")))
			Expect(machine.IsParked()).To(BeFalse())

			Expect(machine.Stow(ctx)).To(Succeed())
			Expect(machine.Current()).To(Equal(fsm.StateID("stowed")))
			Expect(machine.IsParked()).To(BeTrue())
		})

		It("takes the park edge as the first stow step from a working state", func() {
			Expect(machine.Fire(ctx, "activate")).To(Succeed())

			Expect(machine.Stow(ctx)).To(Succeed())
			Expect(machine.Current()).To(Equal(fsm.StateID("stowing")))
		})

		It("is a no-op once parked", func() {
			Expect(machine.Fire(ctx, "activate")).To(Succeed())
			Expect(machine.Park(ctx)).To(Succeed())
			Expect(machine.Fire(ctx, "secure")).To(Succeed())

			Expect(machine.Stow(ctx)).To(Succeed())
			Expect(machine.Current()).To(Equal(fsm.StateID("stowed")))
		})

		It("refuses when every route to parked runs through a guard", func() {
			// idle's only outgoing edge is the guarded activate.
			err := machine.Stow(ctx)
			Expect(err).To(MatchError(ContainSubstring("no unconditional route")))
			Expect(machine.Current()).To(Equal(fsm.StateID("idle")))
		})
	})

	Context("concurrency", func() {
		It("serializes competing fires, committing exactly one", func() {
			results := make(chan error, 2)

			for i := 0; i < 2; i++ {
				go func() {
					results <- machine.Fire(context.Background(), "activate")
				}()
			}

			var errs []error
			for i := 0; i < 2; i++ {
				errs = append(errs, <-results)
			}

			committed := 0

			for _, err := range errs {
				if err == nil {
					committed++
				} else {
					Expect(fsm.IsNoSuchTransitionError(err)).To(BeTrue())
				}
			}

			Expect(committed).To(Equal(1))
			Expect(machine.Current()).To(Equal(fsm.StateID("active")))
		})

		It("keeps the current state readable while a fire is blocked", func() {
			Expect(machine.Fire(ctx, "activate")).To(Succeed())

			evalStarted := make(chan struct{})
			gate.set(func(ctx context.Context) (bool, error) {
				close(evalStarted)
				<-ctx.Done()

				return false, context.Cause(ctx)
			})

			fireResult := make(chan error, 1)
			go func() {
				fireResult <- machine.Fire(context.Background(), "engage")
			}()

			Eventually(evalStarted).Should(BeClosed())

			// Reads do not queue behind the in-flight fire.
			Expect(machine.Current()).To(Equal(fsm.StateID("active")))

			Expect(machine.Park(ctx)).To(Succeed())
			Eventually(fireResult).Should(Receive())
		})
	})

	It("produces a self-consistent snapshot", func() {
		Expect(machine.Fire(ctx, "activate")).To(Succeed())

		snap := machine.Snapshot()
		Expect(snap.Name).To(Equal("test-machine"))
		Expect(snap.Current).To(Equal(fsm.StateID("active")))
		Expect(snap.AlwaysSafe).To(BeFalse())
		Expect(snap.ValidTriggers).To(Equal([]fsm.Trigger{"engage", "park"}))
		Expect(snap.LastTransition).ToNot(BeNil())
		Expect(snap.LastTransition.To).To(Equal(fsm.StateID("active")))

		// The debug endpoint serves the same view.
		Expect(machine.GetDebugInfo()).To(Equal(snap))
	})
})
