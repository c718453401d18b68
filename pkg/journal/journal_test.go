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

package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cactus/tai64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/umbra-observatory/umbra-core/internal/fsmtest"
	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
	"github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
)

var _ = Describe("Journal", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		mockFS *filesystem.MockFileSystem
	)

	newTestJournal := func(ringCapacity, segmentMax int) *Journal {
		j, err := NewJournal(ctx, config.JournalConfig{
			Directory:         "/data/journal",
			RingCapacity:      ringCapacity,
			SegmentMaxRecords: segmentMax,
		}, mockFS)
		Expect(err).NotTo(HaveOccurred())
		return j
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		mockFS = filesystem.NewMockFileSystem()
	})

	AfterEach(func() {
		cancel()
	})

	Context("ring listing", func() {
		It("returns recent records newest first", func() {
			j := newTestJournal(8, 100)

			j.Append(ctx, Record{Trigger: "get_ready", Class: ClassCommitted})
			j.Append(ctx, Record{Trigger: "schedule", Class: ClassCommitted})
			j.Append(ctx, Record{Trigger: "park", Class: ClassCommitted})

			recent := j.Recent(2)
			Expect(recent).To(HaveLen(2))
			Expect(recent[0].Trigger).To(Equal(fsm.Trigger("park")))
			Expect(recent[1].Trigger).To(Equal(fsm.Trigger("schedule")))
		})

		It("wraps once capacity is exceeded", func() {
			j := newTestJournal(4, 100)

			for i := 0; i < 6; i++ {
				j.Append(ctx, Record{Trigger: fsm.Trigger(fmt.Sprintf("trigger-%d", i))})
			}

			recent := j.Recent(0)
			Expect(recent).To(HaveLen(4))
			Expect(recent[0].Trigger).To(Equal(fsm.Trigger("trigger-5")))
			Expect(recent[3].Trigger).To(Equal(fsm.Trigger("trigger-2")))
		})

		It("stamps records with TAI64N labels", func() {
			j := newTestJournal(8, 100)

			j.Append(ctx, Record{Trigger: "observe", Class: ClassCommitted})

			rec := j.Recent(1)[0]
			Expect(rec.Stamp).To(HavePrefix("@"))
			Expect(rec.At).NotTo(BeZero())

			parsed, err := tai64.Parse(rec.Stamp)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(BeTemporally("~", rec.At, time.Microsecond))
		})
	})

	Context("fire classification", func() {
		It("ignores successful fires", func() {
			j := newTestJournal(8, 100)

			j.RecordFire(ctx, "sleeping", "get_ready", nil)

			Expect(j.Recent(0)).To(BeEmpty())
		})

		It("classifies an invalid trigger", func() {
			j := newTestJournal(8, 100)

			err := &fsm.NoSuchTransitionError{State: "parked", Trigger: "observe"}
			j.RecordFire(ctx, "parked", "observe", err)

			rec := j.Recent(1)[0]
			Expect(rec.Class).To(Equal(ClassNoSuchTransition))
			Expect(rec.From).To(Equal(fsm.StateID("parked")))
			Expect(rec.To).To(BeEmpty())
			Expect(rec.Detail).To(ContainSubstring("not valid"))
		})

		It("classifies a guard refusal", func() {
			j := newTestJournal(8, 100)

			err := &fsm.GuardNotSatisfiedError{State: "slewing", Trigger: "adjust_focus", Condition: "mount_is_tracking"}
			j.RecordFire(ctx, "slewing", "adjust_focus", err)

			Expect(j.Recent(1)[0].Class).To(Equal(ClassGuardNotSatisfied))
		})

		It("classifies a guard evaluation failure", func() {
			j := newTestJournal(8, 100)

			err := &fsm.GuardEvaluationError{
				State:     "slewing",
				Trigger:   "adjust_focus",
				Condition: "mount_is_tracking",
				Err:       errors.New("serial link dead"),
			}
			j.RecordFire(ctx, "slewing", "adjust_focus", err)

			Expect(j.Recent(1)[0].Class).To(Equal(ClassGuardEvaluation))
		})

		It("classifies a park preemption ahead of its evaluation wrapper", func() {
			j := newTestJournal(8, 100)

			err := &fsm.GuardEvaluationError{
				State:     "preparing",
				Trigger:   "start_slewing",
				Condition: "mount_is_tracking",
				Err:       fsm.ErrParkPreempted,
			}
			j.RecordFire(ctx, "preparing", "start_slewing", err)

			Expect(j.Recent(1)[0].Class).To(Equal(ClassParkPreempted))
		})

		It("classifies a hook failure", func() {
			j := newTestJournal(8, 100)

			err := &fsm.HookError{State: "parking", Phase: fsm.HookPhaseEntry, Err: errors.New("dome jammed")}
			j.RecordFire(ctx, "observing", "park", err)

			Expect(j.Recent(1)[0].Class).To(Equal(ClassHookError))
		})

		It("falls back to the generic class for unknown errors", func() {
			j := newTestJournal(8, 100)

			j.RecordFire(ctx, "ready", "schedule", errors.New("something unexpected"))

			Expect(j.Recent(1)[0].Class).To(Equal(ClassError))
		})
	})

	Context("commit hook", func() {
		It("journals every committed transition exactly once", func() {
			j := newTestJournal(16, 100)

			night, err := fsmtest.NewNightMachine("journal-night", fsmtest.NewStubMount())
			Expect(err).NotTo(HaveOccurred())
			j.Attach(night)

			Expect(fsmtest.Drive(ctx, night,
				observatory.TriggerGetReady,
				observatory.TriggerPark,
				observatory.TriggerSetPark,
			)).To(Succeed())

			recent := j.Recent(0)
			Expect(recent).To(HaveLen(3))
			Expect(recent[0].Trigger).To(Equal(observatory.TriggerSetPark))
			Expect(recent[0].From).To(Equal(observatory.StateParking))
			Expect(recent[0].To).To(Equal(observatory.StateParked))
			Expect(recent[0].Class).To(Equal(ClassCommitted))
			Expect(recent[2].Trigger).To(Equal(observatory.TriggerGetReady))
			Expect(recent[2].From).To(Equal(observatory.StateSleeping))
			Expect(recent[2].To).To(Equal(observatory.StateReady))
		})
	})

	Context("segment rotation", func() {
		It("rotates a full segment to disk uncompressed when small", func() {
			j := newTestJournal(8, 3)

			j.Append(ctx, Record{Trigger: "get_ready", Class: ClassCommitted})
			j.Append(ctx, Record{Trigger: "schedule", Class: ClassCommitted})
			j.Append(ctx, Record{Trigger: "park", Class: ClassCommitted})

			files, err := j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
			Expect(files[0]).To(HaveSuffix(".json"))
			Expect(files[0]).NotTo(HaveSuffix(".json.zst"))

			records, err := j.ReadSegment(ctx, files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect(records[2].Trigger).To(Equal(fsm.Trigger("park")))

			// The ring still serves the records after rotation.
			Expect(j.Recent(0)).To(HaveLen(3))
		})

		It("compresses a segment above the threshold", func() {
			j := newTestJournal(64, 20)

			detail := strings.Repeat("wind gust above the configured site limit; ", 4)
			for i := 0; i < 20; i++ {
				j.Append(ctx, Record{
					Trigger: fsm.Trigger(fmt.Sprintf("trigger-%d", i)),
					Class:   ClassGuardNotSatisfied,
					Detail:  detail,
				})
			}

			files, err := j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
			Expect(files[0]).To(HaveSuffix(".json.zst"))

			payload, ok := mockFS.Contents(files[0])
			Expect(ok).To(BeTrue())
			Expect(isCompressed(payload)).To(BeTrue())

			records, err := j.ReadSegment(ctx, files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(20))
			Expect(records[0].Detail).To(Equal(detail))
		})

		It("keeps records in memory when the disk write fails, then recovers", func() {
			j := newTestJournal(8, 3)

			mockFS.WithWriteFileFunc(func(ctx context.Context, path string, data []byte, perm os.FileMode) error {
				return errors.New("disk full")
			})

			j.Append(ctx, Record{Trigger: "get_ready"})
			j.Append(ctx, Record{Trigger: "schedule"})
			j.Append(ctx, Record{Trigger: "prepare_observations"})

			files, err := j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(BeEmpty())

			mockFS.WithWriteFileFunc(nil)
			j.Append(ctx, Record{Trigger: "start_slewing"})

			files, err = j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))

			records, err := j.ReadSegment(ctx, files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(4))
		})

		It("flushes the partial segment on demand", func() {
			j := newTestJournal(8, 100)

			j.Append(ctx, Record{Trigger: "get_ready"})
			j.Append(ctx, Record{Trigger: "park"})

			Expect(j.Flush(ctx)).To(Succeed())

			files, err := j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))

			records, err := j.ReadSegment(ctx, files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))

			// Nothing left to write afterwards.
			Expect(j.Flush(ctx)).To(Succeed())
			files, err = j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(1))
		})

		It("lists segments oldest first", func() {
			j := newTestJournal(8, 2)

			j.Append(ctx, Record{Trigger: "one"})
			j.Append(ctx, Record{Trigger: "two"})
			time.Sleep(time.Millisecond)
			j.Append(ctx, Record{Trigger: "three"})
			j.Append(ctx, Record{Trigger: "four"})

			files, err := j.SegmentFiles(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(HaveLen(2))

			first, err := j.ReadSegment(ctx, files[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(first[0].Trigger).To(Equal(fsm.Trigger("one")))

			second, err := j.ReadSegment(ctx, files[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(second[0].Trigger).To(Equal(fsm.Trigger("three")))
		})
	})
})
