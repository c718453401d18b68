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

// Package journal records every fire of the lifecycle machine — committed
// transitions and failed attempts alike — with TAI64N labels, the timestamp
// format observatory timekeeping runs on. A bounded in-memory ring serves the
// API's recent-events listing; full segments rotate to disk, zstd-compressed
// when they are worth compressing.
package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cactus/tai64"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
	"github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
)

// Class names the outcome of one fire attempt.
type Class string

const (
	// ClassCommitted is a state change that committed.
	ClassCommitted Class = "committed"
	// ClassNoSuchTransition is a fire with no edge from the current state.
	ClassNoSuchTransition Class = "no_such_transition"
	// ClassGuardNotSatisfied is a fire blocked by a guard answering false.
	ClassGuardNotSatisfied Class = "guard_not_satisfied"
	// ClassGuardEvaluation is a fire whose guard could not be evaluated.
	ClassGuardEvaluation Class = "guard_evaluation"
	// ClassParkPreempted is a fire abandoned because a park request arrived.
	ClassParkPreempted Class = "park_preempted"
	// ClassHookError is a committed change whose entry or exit hooks failed.
	ClassHookError Class = "hook_error"
	// ClassError is any other fire failure.
	ClassError Class = "error"
)

// Record is one journal entry. Stamp is the TAI64N label of At.
type Record struct {
	At      time.Time   `json:"at"`
	Stamp   string      `json:"stamp"`
	Trigger fsm.Trigger `json:"trigger"`
	From    fsm.StateID `json:"from"`
	To      fsm.StateID `json:"to,omitempty"`
	Class   Class       `json:"class"`
	Detail  string      `json:"detail,omitempty"`
}

// Journal is the bounded ring plus the rotating on-disk segments. All
// methods are safe for concurrent use; Append is called from the fire path,
// so rotation writes are the only I/O it ever does.
type Journal struct {
	logger     *zap.SugaredLogger
	fsService  filesystem.Service
	directory  string
	ring       []Record
	ringNext   int
	ringCount  int
	segment    []Record
	segmentMax int
	persistBad bool
	mu         sync.Mutex
}

// NewJournal creates the journal and its segment directory. Zero config
// fields fall back to the constants defaults.
func NewJournal(ctx context.Context, cfg config.JournalConfig, fsService filesystem.Service) (*Journal, error) {
	directory := cfg.Directory
	if directory == "" {
		directory = constants.DefaultJournalDirectory
	}
	ringCapacity := cfg.RingCapacity
	if ringCapacity <= 0 {
		ringCapacity = constants.DefaultJournalRingCapacity
	}
	segmentMax := cfg.SegmentMaxRecords
	if segmentMax <= 0 {
		segmentMax = constants.DefaultJournalSegmentMaxRecords
	}

	if err := fsService.EnsureDirectory(ctx, directory); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", directory, err)
	}

	return &Journal{
		logger:     logger.For(logger.ComponentJournal),
		fsService:  fsService,
		directory:  directory,
		ring:       make([]Record, ringCapacity),
		segment:    make([]Record, 0, segmentMax),
		segmentMax: segmentMax,
	}, nil
}

// Append adds one record. A zero At is stamped with the current time; the
// TAI64N label is always derived from At.
func (j *Journal) Append(ctx context.Context, rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	rec.Stamp = tai64.FormatNano(rec.At)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.ring[j.ringNext] = rec
	j.ringNext = (j.ringNext + 1) % len(j.ring)
	if j.ringCount < len(j.ring) {
		j.ringCount++
	}

	j.segment = append(j.segment, rec)
	if len(j.segment) >= j.segmentMax {
		j.rotateLocked(ctx)
	}
}

// Recent returns up to n records, newest first. n <= 0 means the whole ring.
func (j *Journal) Recent(n int) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n <= 0 || n > j.ringCount {
		n = j.ringCount
	}

	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (j.ringNext - 1 - i + len(j.ring)) % len(j.ring)
		records = append(records, j.ring[idx])
	}
	return records
}

// RecordFire journals a failed fire attempt, classified by error type.
// Successful fires are journaled by the machine's entry hooks (see Attach),
// so a nil error is a no-op here.
func (j *Journal) RecordFire(ctx context.Context, from fsm.StateID, trigger fsm.Trigger, err error) {
	if err == nil {
		return
	}

	var class Class
	switch {
	case fsm.IsParkPreempted(err):
		class = ClassParkPreempted
	case fsm.IsNoSuchTransitionError(err):
		class = ClassNoSuchTransition
	case fsm.IsGuardNotSatisfiedError(err):
		class = ClassGuardNotSatisfied
	case fsm.IsGuardEvaluationError(err):
		class = ClassGuardEvaluation
	case fsm.IsHookError(err):
		class = ClassHookError
	default:
		class = ClassError
	}

	j.Append(ctx, Record{
		From:    from,
		Trigger: trigger,
		Class:   class,
		Detail:  err.Error(),
	})
}

// TransitionHook returns an entry hook that journals the committed change.
func (j *Journal) TransitionHook() fsm.Hook {
	return func(ctx context.Context, from, to fsm.StateID, trigger fsm.Trigger) error {
		j.Append(ctx, Record{
			From:    from,
			To:      to,
			Trigger: trigger,
			Class:   ClassCommitted,
		})
		return nil
	}
}

// Attach registers the commit hook on every state of the machine, so each
// committed transition is journaled exactly once no matter who fired it.
func (j *Journal) Attach(m *fsm.Machine) {
	hook := j.TransitionHook()
	for _, state := range m.Table().Registry().States() {
		m.OnEntry(state, hook)
	}
}

// Flush persists the partial segment. Call on shutdown; mid-run segments
// rotate on their own.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.segment) == 0 {
		return nil
	}
	if err := j.writeSegmentLocked(ctx); err != nil {
		return err
	}
	j.segment = j.segment[:0]
	return nil
}

// SegmentFiles lists the persisted segment paths, oldest first. TAI64N
// labels sort chronologically as plain strings.
func (j *Journal) SegmentFiles(ctx context.Context) ([]string, error) {
	matches, err := j.fsService.Glob(ctx, filepath.Join(j.directory, "@*.json*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadSegment loads and decodes one persisted segment file.
func (j *Journal) ReadSegment(ctx context.Context, path string) ([]Record, error) {
	payload, err := j.fsService.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	data, err := Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress segment %s: %w", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode segment %s: %w", path, err)
	}
	return records, nil
}

// rotateLocked persists the full segment and starts a new one. On persist
// failure the records are kept for the next attempt, bounded so a dead disk
// cannot grow the segment without limit.
func (j *Journal) rotateLocked(ctx context.Context) {
	if err := j.writeSegmentLocked(ctx); err != nil {
		metrics.IncErrorCount(metrics.ComponentJournal, "rotate")
		if !j.persistBad {
			sentry.ReportIssuef(sentry.IssueTypeError, j.logger, "Failed to persist journal segment: %v", err)
			j.persistBad = true
		}
		if len(j.segment) >= 4*j.segmentMax {
			dropped := j.segmentMax
			j.logger.Errorf("Dropping %d oldest journal records after repeated persist failures", dropped)
			remaining := make([]Record, len(j.segment)-dropped, cap(j.segment))
			copy(remaining, j.segment[dropped:])
			j.segment = remaining
		}
		return
	}

	j.persistBad = false
	j.segment = j.segment[:0]
}

// writeSegmentLocked marshals the current segment and writes it under a
// TAI64N-labelled name, compressed when the payload crosses the threshold.
func (j *Journal) writeSegmentLocked(ctx context.Context) error {
	data, err := json.Marshal(j.segment)
	if err != nil {
		return fmt.Errorf("failed to marshal journal segment: %w", err)
	}

	name := tai64.FormatNano(time.Now()) + ".json"
	payload := data
	if len(data) >= constants.JournalCompressionThreshold {
		compressed, err := compress(data)
		if err != nil {
			return fmt.Errorf("failed to compress journal segment: %w", err)
		}
		payload = compressed
		name += ".zst"
	}

	path := filepath.Join(j.directory, name)
	if err := j.fsService.WriteFile(ctx, path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write journal segment %s: %w", path, err)
	}

	j.logger.Debugf("Persisted journal segment %s (%d records, %d bytes)", path, len(j.segment), len(payload))
	return nil
}
