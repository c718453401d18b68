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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

var _ = Describe("Registry", func() {
	var registry *fsm.Registry

	BeforeEach(func() {
		registry = fsm.NewRegistry()
	})

	It("registers states with their tags", func() {
		Expect(registry.Register("stowed", fsm.StateTags{AlwaysSafe: true})).To(Succeed())
		Expect(registry.Register("active", fsm.StateTags{})).To(Succeed())

		Expect(registry.Contains("stowed")).To(BeTrue())
		Expect(registry.Contains("active")).To(BeTrue())
		Expect(registry.Len()).To(Equal(2))

		tags, err := registry.Tags("stowed")
		Expect(err).ToNot(HaveOccurred())
		Expect(tags.AlwaysSafe).To(BeTrue())
	})

	It("rejects duplicate registration", func() {
		Expect(registry.Register("stowed", fsm.StateTags{AlwaysSafe: true})).To(Succeed())

		err := registry.Register("stowed", fsm.StateTags{})
		Expect(err).To(HaveOccurred())

		var dup *fsm.DuplicateStateError
		Expect(errors.As(err, &dup)).To(BeTrue())
		Expect(dup.State).To(Equal(fsm.StateID("stowed")))

		// The original tags survive the failed second registration.
		Expect(registry.IsAlwaysSafe("stowed")).To(BeTrue())
	})

	It("fails lookup of unknown states", func() {
		_, err := registry.Tags("nonexistent")

		var unknown *fsm.UnknownStateError
		Expect(errors.As(err, &unknown)).To(BeTrue())
		Expect(unknown.State).To(Equal(fsm.StateID("nonexistent")))
	})

	It("treats unknown states as unsafe and horizonless", func() {
		Expect(registry.IsAlwaysSafe("nonexistent")).To(BeFalse())
		Expect(registry.HorizonOf("nonexistent")).To(Equal(fsm.HorizonNone))
	})

	It("preserves registration order", func() {
		registry.MustRegister("first", fsm.StateTags{})
		registry.MustRegister("second", fsm.StateTags{})
		registry.MustRegister("third", fsm.StateTags{})

		Expect(registry.States()).To(Equal([]fsm.StateID{"first", "second", "third"}))
	})

	It("reports horizon tags", func() {
		registry.MustRegister("flats", fsm.StateTags{Horizon: fsm.HorizonFlat})
		registry.MustRegister("focus", fsm.StateTags{Horizon: fsm.HorizonFocus})
		registry.MustRegister("plain", fsm.StateTags{})

		Expect(registry.HorizonOf("flats")).To(Equal(fsm.HorizonFlat))
		Expect(registry.HorizonOf("focus")).To(Equal(fsm.HorizonFocus))
		Expect(registry.HorizonOf("plain")).To(Equal(fsm.HorizonNone))
	})

	It("panics in MustRegister on duplicates", func() {
		registry.MustRegister("stowed", fsm.StateTags{})

		Expect(func() {
			registry.MustRegister("stowed", fsm.StateTags{})
		}).To(Panic())
	})
})
