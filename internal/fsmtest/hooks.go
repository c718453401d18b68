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

package fsmtest

import (
	"context"
	"sync"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

// HookCall records one hook invocation.
type HookCall struct {
	Label   string
	From    fsm.StateID
	To      fsm.StateID
	Trigger fsm.Trigger
}

// HookRecorder collects hook invocations across goroutines, optionally
// failing with a configured error.
type HookRecorder struct {
	failWith error
	calls    []HookCall
	mu       sync.Mutex
}

// NewHookRecorder returns an empty recorder.
func NewHookRecorder() *HookRecorder {
	return &HookRecorder{}
}

// Hook returns a labelled fsm.Hook that records its invocation.
func (r *HookRecorder) Hook(label string) fsm.Hook {
	return func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
		r.mu.Lock()
		r.calls = append(r.calls, HookCall{Label: label, From: from, To: to, Trigger: trigger})
		err := r.failWith
		r.mu.Unlock()

		return err
	}
}

// FailWith makes every subsequent hook invocation return err.
func (r *HookRecorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Calls returns a copy of the recorded invocations in order.
func (r *HookRecorder) Calls() []HookCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HookCall, len(r.calls))
	copy(out, r.calls)

	return out
}

// Labels returns just the labels of the recorded invocations, in order.
func (r *HookRecorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Label
	}

	return out
}

// Reset clears the recording.
func (r *HookRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
