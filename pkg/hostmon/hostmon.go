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

// Package hostmon samples the control computer the observatory runs on.
//
// Unlike the weather verdict, host health never forces a park: slamming the
// dome shut because the scheduler box is swapping would cost a night over a
// problem an operator can fix remotely. The samples feed the status API and
// the Prometheus gauges, and the data partition filling up raises escalating
// reports.
package hostmon

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
)

// DiskSample is the usage of one watched mount point.
type DiskSample struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
}

// Sample is one pass over the host's vitals.
type Sample struct {
	At                time.Time    `json:"at"`
	Hostname          string       `json:"hostname"`
	Disks             []DiskSample `json:"disks"`
	UptimeSeconds     uint64       `json:"uptime_seconds"`
	CPUPercent        float64      `json:"cpu_percent"`
	CoreCount         int          `json:"core_count"`
	MemoryUsedPercent float64      `json:"memory_used_percent"`
	MemoryUsedBytes   uint64       `json:"memory_used_bytes"`
	MemoryTotalBytes  uint64       `json:"memory_total_bytes"`
	Load1             float64      `json:"load1"`
	Load5             float64      `json:"load5"`
	Load15            float64      `json:"load15"`
}

type diskLevel int

const (
	diskNormal diskLevel = iota
	diskWarn
	diskCritical
)

// Monitor samples the host on a fixed cadence.
type Monitor struct {
	logger     *zap.SugaredLogger
	diskLevels map[string]diskLevel
	paths      []string
	mu         sync.RWMutex
	last       Sample
	sampled    bool
}

// NewMonitor watches the given mount points. With none given it watches the
// data partition and the root filesystem.
func NewMonitor(paths ...string) *Monitor {
	if len(paths) == 0 {
		paths = []string{constants.DataMountPath, "/"}
	}

	return &Monitor{
		logger:     logger.For(logger.ComponentHostMonitor),
		diskLevels: make(map[string]diskLevel, len(paths)),
		paths:      paths,
	}
}

// Run samples until ctx is cancelled. Call it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Infof("Host monitor sampling every %s", constants.HostSampleInterval)

	m.sample(ctx)

	ticker := time.NewTicker(constants.HostSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("Host monitor stopping")

			return nil
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// sample collects what it can. A failed probe is logged and skipped so one
// broken source does not blank the rest of the vitals.
func (m *Monitor) sample(ctx context.Context) {
	s := Sample{At: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err != nil {
		m.noteProbeError("cpu", err)
	} else if len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if count, err := cpu.CountsWithContext(ctx, true); err != nil {
		m.noteProbeError("cpu_count", err)
	} else {
		s.CoreCount = count
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		m.noteProbeError("memory", err)
	} else {
		s.MemoryUsedPercent = vm.UsedPercent
		s.MemoryUsedBytes = vm.Used
		s.MemoryTotalBytes = vm.Total
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		m.noteProbeError("load", err)
	} else {
		s.Load1 = avg.Load1
		s.Load5 = avg.Load5
		s.Load15 = avg.Load15
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		m.noteProbeError("host", err)
	} else {
		s.Hostname = info.Hostname
		s.UptimeSeconds = info.Uptime
	}

	for _, path := range m.paths {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			m.noteProbeError("disk "+path, err)

			continue
		}

		s.Disks = append(s.Disks, DiskSample{
			Path:        usage.Path,
			UsedPercent: usage.UsedPercent,
			UsedBytes:   usage.Used,
			TotalBytes:  usage.Total,
		})

		metrics.UpdateHostDisk(usage.Path, usage.UsedPercent)
		m.judgeDisk(usage.Path, usage.UsedPercent)
	}

	metrics.UpdateHostHealth(s.CPUPercent, s.MemoryUsedPercent, s.Load1)

	m.mu.Lock()
	m.last = s
	m.sampled = true
	m.mu.Unlock()
}

func (m *Monitor) noteProbeError(probe string, err error) {
	m.logger.Warnf("Host probe %s failed: %v", probe, err)
	metrics.IncErrorCount(metrics.ComponentHostMonitor, "main")
}

// judgeDisk reports threshold crossings once per direction instead of every
// sample; a partition sits above the limit for hours once it gets there.
func (m *Monitor) judgeDisk(path string, usedPercent float64) {
	level := diskNormal

	switch {
	case usedPercent >= constants.HostDiskCriticalPercent:
		level = diskCritical
	case usedPercent >= constants.HostDiskWarnPercent:
		level = diskWarn
	}

	previous := m.diskLevels[path]
	if level == previous {
		return
	}

	m.diskLevels[path] = level

	switch {
	case level == diskCritical:
		sentry.ReportIssuef(sentry.IssueTypeError, m.logger, "Disk %s at %.1f%%: new exposures have nowhere to go", path, usedPercent)
	case level == diskWarn && previous == diskNormal:
		sentry.ReportIssuef(sentry.IssueTypeWarning, m.logger, "Disk %s at %.1f%%", path, usedPercent)
	default:
		m.logger.Infof("Disk %s back down to %.1f%%", path, usedPercent)
	}
}

// Last returns the most recent sample for the status API.
func (m *Monitor) Last() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last, m.sampled
}
