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

package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentSupervisor     = "supervisor"
	ComponentMachine        = "machine"
	ComponentGuardEvaluator = "guard_evaluator"
	ComponentWatchdog       = "watchdog"
	ComponentSiteMonitor    = "site_monitor"
	ComponentHostMonitor    = "host_monitor"
	ComponentJournal        = "journal"
	ComponentConfigManager  = "config_manager"
	ComponentSimMount       = "sim_mount"
	ComponentSimDome        = "sim_dome"
	ComponentAPI            = "api"
)

// Fire outcome labels for the transition counter.
const (
	OutcomeCommitted         = "committed"
	OutcomeNoTransition      = "no_transition"
	OutcomeGuardNotSatisfied = "guard_not_satisfied"
	OutcomeEvaluationFailed  = "evaluation_failed"
	OutcomeHookFailed        = "hook_failed"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umbra"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	// Fire outcomes.
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Total number of fire calls by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// Guard evaluation timing.
	guardEvaluationTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "guard_evaluation_duration_milliseconds",
			Help:      "Time taken to evaluate a guard condition (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"condition"},
	)

	// Supervisor tick timing.
	tickTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_milliseconds",
			Help:      "Time taken for one supervisor tick (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"component", "instance"},
	)

	// Park latency: from the first park request to the machine reporting parked.
	parkTime = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "park_duration_milliseconds",
			Help:      "Time from a forced park request until the machine reached parked (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
	)

	// Starvation timer.
	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "supervisor_starved_total_seconds",
			Help:      "Total seconds the supervisor loop was starved",
		},
	)

	// Machine state metrics.
	machineCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "machine_current_state",
			Help:      "Current state of the machine (0=sleeping through 14=housekeeping, -1=Unknown)",
		},
		[]string{"instance"},
	)

	machineStateSafe = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "machine_state_safe",
			Help:      "Whether the current state carries the always_safe tag (1=safe, 0=conditional)",
		},
		[]string{"instance"},
	)

	// Filesystem operation timing.
	filesystemOpTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "filesystem_op_duration_milliseconds",
			Help:      "Time taken for one filesystem operation (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"operation", "status"},
	)

	// Site weather gauges, fed by the site monitor scraper.
	siteWindSpeed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "site_wind_speed_kph",
			Help:      "Latest wind speed from the weather station, worst sensor",
		},
	)

	siteCloudCover = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "site_cloud_cover_percent",
			Help:      "Latest cloud cover from the weather station",
		},
	)

	siteRainRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "site_rain_rate_mm_per_hour",
			Help:      "Latest rain rate from the weather station",
		},
	)

	siteSkyDelta = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "site_sky_ambient_delta_celsius",
			Help:      "Sky minus ambient temperature; lower means clearer",
		},
	)

	siteSafe = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "site_safe",
			Help:      "Whether the site verdict at the last scrape was safe (1=safe)",
		},
	)

	// Control computer gauges, fed by the host monitor.
	hostCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_cpu_percent",
			Help:      "Control computer CPU utilization",
		},
	)

	hostMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_memory_used_percent",
			Help:      "Control computer memory utilization",
		},
	)

	hostLoadOne = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_load1",
			Help:      "Control computer 1-minute load average",
		},
	)

	hostDiskPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_disk_used_percent",
			Help:      "Disk utilization per monitored partition",
		},
		[]string{"path"},
	)
)

// MachineDebugProvider provides machine introspection data for the debug endpoint.
// Implementations should return a JSON-serializable struct with machine state.
type MachineDebugProvider interface {
	GetDebugInfo() interface{}
}

// machineDebugRegistry holds registered machine debug providers.
var machineDebugRegistry struct {
	providers map[string]MachineDebugProvider
	mu        sync.RWMutex
}

// RegisterMachineDebugProvider registers a debug provider for the /debug/machine endpoint.
// Call this after creating a machine to expose its introspection data.
func RegisterMachineDebugProvider(name string, provider MachineDebugProvider) {
	machineDebugRegistry.mu.Lock()
	defer machineDebugRegistry.mu.Unlock()

	if machineDebugRegistry.providers == nil {
		machineDebugRegistry.providers = make(map[string]MachineDebugProvider)
	}

	machineDebugRegistry.providers[name] = provider
}

// UnregisterMachineDebugProvider removes a debug provider from the registry.
func UnregisterMachineDebugProvider(name string) {
	machineDebugRegistry.mu.Lock()
	defer machineDebugRegistry.mu.Unlock()

	delete(machineDebugRegistry.providers, name)
}

// handleMachineDebug handles the /debug/machine endpoint.
func handleMachineDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

		return
	}

	machineDebugRegistry.mu.RLock()
	defer machineDebugRegistry.mu.RUnlock()

	if len(machineDebugRegistry.providers) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"no_providers_registered","message":"No machines are registered for debugging"}`))

		return
	}

	response := make(map[string]interface{}, len(machineDebugRegistry.providers))
	for name, provider := range machineDebugRegistry.providers {
		response[name] = provider.GetDebugInfo()
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(response); err != nil {
		http.Error(w, "Failed to encode debug info", http.StatusInternalServerError)
	}
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/machine", handleMachineDebug)

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// printDetailedStackTrace prints a detailed stack trace with more information.
func printDetailedStackTrace() {
	// Get stack trace for all goroutines with a large buffer
	buf := make([]byte, 1024*1024) // Allocate 1MB buffer
	n := runtime.Stack(buf, true)

	// Print the full stack trace
	logger.For("stacktrace").Debugf("=== DETAILED STACK TRACE ===\n%s", string(buf[:n]))
}

// IncErrorCountAndLog increments the error counter for a component and logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, logger *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if logger != nil {
		// Display detailed stacktrace
		printDetailedStackTrace()
		logger.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// RecordTransition counts one fire call with its outcome.
func RecordTransition(trigger, outcome string) {
	transitionsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObserveGuardEvaluation records the time taken to evaluate a guard condition.
func ObserveGuardEvaluation(condition string, duration time.Duration) {
	guardEvaluationTime.WithLabelValues(condition).Observe(float64(duration.Milliseconds()))
}

// ObserveTickTime records the time taken for one supervisor tick.
func ObserveTickTime(component, instance string, duration time.Duration) {
	tickTime.WithLabelValues(component, instance).Observe(float64(duration.Milliseconds()))
}

// ObserveParkTime records how long a forced park took to reach parked.
func ObserveParkTime(duration time.Duration) {
	parkTime.Observe(float64(duration.Milliseconds()))
}

// RecordFilesystemOp records the duration and outcome of one filesystem
// operation.
func RecordFilesystemOp(operation, status string, duration time.Duration) {
	filesystemOpTime.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// UpdateSiteWeather publishes the latest scraped weather reading.
func UpdateSiteWeather(windKph, cloudPercent, rainRate, skyDelta float64, safe bool) {
	siteWindSpeed.Set(windKph)
	siteCloudCover.Set(cloudPercent)
	siteRainRate.Set(rainRate)
	siteSkyDelta.Set(skyDelta)

	if safe {
		siteSafe.Set(1)
	} else {
		siteSafe.Set(0)
	}
}

// UpdateHostHealth publishes the latest control computer sample.
func UpdateHostHealth(cpuPercent, memoryPercent, loadOne float64) {
	hostCPUPercent.Set(cpuPercent)
	hostMemoryPercent.Set(memoryPercent)
	hostLoadOne.Set(loadOne)
}

// UpdateHostDisk publishes disk utilization for one partition.
func UpdateHostDisk(path string, usedPercent float64) {
	hostDiskPercent.WithLabelValues(path).Set(usedPercent)
}

// UpdateMachineState updates the current state gauges for a machine instance.
func UpdateMachineState(instance, currentState string, safe bool) {
	machineCurrentState.WithLabelValues(instance).Set(getStateValue(currentState))

	if safe {
		machineStateSafe.WithLabelValues(instance).Set(1)
	} else {
		machineStateSafe.WithLabelValues(instance).Set(0)
	}
}

// getStateValue converts a state name to a stable numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "sleeping":
		return 0
	case "ready":
		return 1
	case "scheduling":
		return 2
	case "preparing":
		return 3
	case "slewing":
		return 4
	case "focusing":
		return 5
	case "observing":
		return 6
	case "analyzing":
		return 7
	case "dithering":
		return 8
	case "twilight_flat_fielding":
		return 9
	case "coarse_focusing":
		return 10
	case "parking":
		return 11
	case "parked":
		return 12
	case "taking_darks":
		return 13
	case "housekeeping":
		return 14
	default:
		return -1 // Unknown state
	}
}
