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

package watchdog

import (
	"fmt"
	"sync"
	"time"
)

// FakeWatchdog is a no-op Iface for tests. It records ReportUnsafe calls so
// suites can assert that a component escalated.
type FakeWatchdog struct {
	mu            sync.Mutex
	unsafeReports []string
}

func NewFakeWatchdog() *FakeWatchdog {
	return &FakeWatchdog{}
}

func (f *FakeWatchdog) Start() {

}

func (f *FakeWatchdog) RegisterSource(source HealthSource, maxVerdictAge time.Duration) {

}

func (f *FakeWatchdog) ReportUnsafe(source string, reason string) {
	f.mu.Lock()
	f.unsafeReports = append(f.unsafeReports, fmt.Sprintf("%s: %s", source, reason))
	f.mu.Unlock()
}

func (f *FakeWatchdog) Verdicts() map[string]Verdict {
	return map[string]Verdict{}
}

func (f *FakeWatchdog) LastForcedPark() (ForcedPark, bool) {
	return ForcedPark{}, false
}

// UnsafeReports returns every ReportUnsafe call as "source: reason" strings.
func (f *FakeWatchdog) UnsafeReports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	reports := make([]string, len(f.unsafeReports))
	copy(reports, f.unsafeReports)
	return reports
}
