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
	"time"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
)

// ConditionID names a guard condition, e.g. "mount_is_tracking".
type ConditionID string

// Predicate answers a guard condition by querying live hardware state. It
// must honour ctx: a pending park request cancels in-flight evaluations, and
// a predicate that blocks past its deadline holds up the entire fire path.
// Returning an error means the condition could not be decided, which is
// reported differently from a clean false.
type Predicate func(ctx context.Context) (bool, error)

// Evaluator resolves condition identifiers to predicates and runs them under
// a per-evaluation deadline. Predicates are registered during wiring, before
// the machine is built; the table validator checks every referenced
// condition against it so dispatch never meets an unknown identifier.
type Evaluator struct {
	predicates map[ConditionID]Predicate
	log        *zap.SugaredLogger
	timeout    time.Duration
}

// NewEvaluator returns an evaluator with the default per-evaluation timeout.
func NewEvaluator() *Evaluator {
	return NewEvaluatorWithTimeout(constants.DefaultGuardTimeout)
}

// NewEvaluatorWithTimeout returns an evaluator whose single-predicate
// deadline is d instead of the default.
func NewEvaluatorWithTimeout(d time.Duration) *Evaluator {
	return &Evaluator{
		predicates: make(map[ConditionID]Predicate),
		timeout:    d,
		log:        logger.For(logger.ComponentGuards),
	}
}

// Register binds a predicate to a condition identifier.
func (e *Evaluator) Register(id ConditionID, p Predicate) error {
	if _, ok := e.predicates[id]; ok {
		return &DuplicateConditionError{Condition: id}
	}

	e.predicates[id] = p

	return nil
}

// MustRegister is Register for statically wired condition sets; it panics on
// duplicates.
func (e *Evaluator) MustRegister(id ConditionID, p Predicate) {
	if err := e.Register(id, p); err != nil {
		panic(err)
	}
}

// Contains reports whether a predicate is registered for the condition.
func (e *Evaluator) Contains(id ConditionID) bool {
	_, ok := e.predicates[id]

	return ok
}

// Evaluate runs the predicate for id under the evaluator's deadline.
// The returned error is nil only when the predicate produced a definite
// answer in time; cancellation of ctx (including park preemption) and
// deadline expiry surface as errors, never as false.
func (e *Evaluator) Evaluate(ctx context.Context, id ConditionID) (bool, error) {
	p, ok := e.predicates[id]
	if !ok {
		return false, &UnknownConditionError{Condition: id}
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	satisfied, err := p(evalCtx)
	elapsed := time.Since(start)
	metrics.ObserveGuardEvaluation(string(id), elapsed)

	if err != nil {
		return false, err
	}

	// A predicate that ignores its context can report success after the
	// evaluation was already cancelled or timed out. A stale answer must
	// not gate a slew, so cancellation wins over the returned value.
	if evalCtx.Err() != nil {
		return false, context.Cause(evalCtx)
	}

	e.log.Debugf("condition %s evaluated to %t in %s", id, satisfied, elapsed)

	return satisfied, nil
}
