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

package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
	"github.com/umbra-observatory/umbra-core/pkg/hostmon"
	"github.com/umbra-observatory/umbra-core/pkg/journal"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
	"github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
	"github.com/umbra-observatory/umbra-core/pkg/sim"
	"github.com/umbra-observatory/umbra-core/pkg/sitemon"
	"github.com/umbra-observatory/umbra-core/pkg/supervisor"
	"github.com/umbra-observatory/umbra-core/pkg/watchdog"
)

// appVersion is overridden at build time via
// -ldflags "-X main.appVersion=...". The default keeps Sentry disabled for
// local builds.
var appVersion = constants.DefaultAppVersion

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	// Initialize Sentry
	sentry.InitSentry(appVersion, true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting umbra-core %s...", appVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the config
	configManager, err := config.NewFileConfigManagerSingleton()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create config manager: %s", err)
		os.Exit(1)
	}

	// Load or create configuration with environment variable overrides.
	// This loads the config file if it exists, applies any environment
	// variables as overrides, and persists the result back to the config
	// file. See config.LoadConfigWithEnvOverrides.
	configData, err := config.LoadConfigWithEnvOverrides(ctx, configManager, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %s", err)
		os.Exit(1)
	}

	log.Infof("Config loaded, fingerprint %x", configManager.Fingerprint())

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", configData.Agent.MetricsPort))
	defer shutdownServer(metricsServer, "metrics", log)

	// Simulated hardware answers the guard conditions and the state hooks.
	// A production build wires the real device adapters here instead.
	hardware := sim.NewHardware(configData.Sim)
	if err := hardware.Boot(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to boot simulated hardware: %s", err)
		os.Exit(1)
	}

	evaluator := fsm.NewEvaluator()
	if err := observatory.RegisterMountConditions(evaluator, hardware.Mount); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register guard conditions: %s", err)
		os.Exit(1)
	}

	// Table construction validates the whole declaration: unknown states or
	// conditions, guarded park edges and states without a path to parked are
	// all rejected here, before anything can fire.
	table, err := configData.Observatory.NewTable(evaluator)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid observatory table: %s", err)
		os.Exit(1)
	}

	name := configData.Observatory.Name
	if name == "" {
		name = constants.DefaultInstanceName
	}

	machine := fsm.NewMachine(name, table)
	metrics.RegisterMachineDebugProvider(name, machine)
	hardware.Attach(machine)

	jrnl, err := journal.NewJournal(ctx, configData.Journal, filesystem.NewDefaultService())
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open transition journal: %s", err)
		os.Exit(1)
	}

	jrnl.Attach(machine)

	// The watchdog can force a park from any operational state; the site
	// monitor is its primary health source. Without a configured exporter
	// the monitor stays off the watchdog roster: its verdict would never
	// leave "no weather data yet" and the machine could never wake.
	dog := watchdog.NewWatchdog(ctx, time.NewTicker(time.Second), machine, logger.For(logger.ComponentWatchdog))
	siteMonitor := sitemon.NewMonitor(configData.Site)
	if siteMonitor.Enabled() {
		dog.RegisterSource(siteMonitor, configData.Site.StalenessLimit())
	} else {
		log.Warnf("No site exporter configured, the watchdog runs without a weather source")
	}

	hostMonitor := hostmon.NewMonitor()

	policy := supervisor.NewNightPolicy(configData.Night)
	loop := supervisor.NewSupervisor(machine, configManager, policy, jrnl, dog)
	defer loop.Stop()

	apiServer := setupAPIEndpoint(configData.Agent, &apiState{
		machine:       machine,
		supervisor:    loop,
		watchdog:      dog,
		site:          siteMonitor,
		host:          hostMonitor,
		journal:       jrnl,
		configManager: configManager,
		log:           logger.For(logger.ComponentAPI),
	})
	defer shutdownServer(apiServer, "api", log)

	// Start the system snapshot logger
	go systemSnapshotLogger(ctx, loop)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Execute(gctx)
	})
	g.Go(func() error {
		dog.Start()

		return nil
	})
	g.Go(func() error {
		return siteMonitor.Run(gctx)
	})
	g.Go(func() error {
		return hostMonitor.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Control loop failed: %s", err)
	}

	// Flush the open journal segment so a restart picks up a complete record
	// of the session.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
	defer flushCancel()

	if err := jrnl.Flush(flushCtx); err != nil {
		log.Errorf("Failed to flush journal: %v", err)
	}

	log.Info("umbra-core completed")
}

// shutdownServer drains srv within the shutdown grace period.
func shutdownServer(srv *http.Server, which string, log *zap.SugaredLogger) {
	if srv == nil {
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown %s server: %s", which, err)
	}
}

// apiState bundles everything the supervisory API reads.
type apiState struct {
	machine       *fsm.Machine
	supervisor    *supervisor.Supervisor
	watchdog      *watchdog.Watchdog
	site          *sitemon.Monitor
	host          *hostmon.Monitor
	journal       *journal.Journal
	configManager config.ConfigManager
	log           *zap.SugaredLogger
}

// statusResponse is the GET /api/v1/status payload.
type statusResponse struct {
	Machine           fsm.MachineSnapshot         `json:"machine"`
	ConfigFingerprint string                      `json:"configFingerprint"`
	Tick              uint64                      `json:"tick"`
	LastOutcome       string                      `json:"lastOutcome"`
	Verdicts          map[string]watchdog.Verdict `json:"verdicts"`
	LastForcedPark    *watchdog.ForcedPark        `json:"lastForcedPark,omitempty"`
	Site              *sitemon.WeatherReading     `json:"site,omitempty"`
	Host              *hostmon.Sample             `json:"host,omitempty"`
	Journal           []journal.Record            `json:"journal"`
}

// setupAPIEndpoint serves the supervisory API: current state and safety for
// external UIs, a manual trigger path for operators, and a health probe.
func setupAPIEndpoint(cfg config.AgentConfig, state *apiState) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		state.log.Debugf("API %s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	})
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": state.machine.Current()})
	})

	v1 := router.Group("/api/v1")
	if cfg.AuthToken != "" {
		v1.Use(bearerAuth(cfg.AuthToken))
	} else {
		state.log.Warn("Supervisory API running without auth, set agent.authToken to enable")
	}

	v1.GET("/status", func(c *gin.Context) { handleStatus(c, state) })
	v1.POST("/trigger/:name", func(c *gin.Context) { handleTrigger(c, state) })

	port := cfg.APIPort
	if port == 0 {
		port = constants.DefaultAPIPort
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     router,
		ReadTimeout: constants.APIReadTimeout,
	}

	go func() {
		state.log.Infof("Starting supervisory API on port %d", port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, state.log)
		}
	}()

	return server
}

// bearerAuth compares sha3-512 digests of the presented bearer token and the
// configured one. Hashing first keeps the comparison constant-time over
// attacker-controlled lengths.
func bearerAuth(token string) gin.HandlerFunc {
	want := sha3.Sum512([]byte(token))

	return func(c *gin.Context) {
		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})

			return
		}

		got := sha3.Sum512([]byte(presented))
		if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})

			return
		}

		c.Next()
	}
}

func handleStatus(c *gin.Context, state *apiState) {
	resp := statusResponse{
		Machine:           state.machine.Snapshot(),
		ConfigFingerprint: fmt.Sprintf("%x", state.configManager.Fingerprint()),
		Verdicts:          state.watchdog.Verdicts(),
		Journal:           state.journal.Recent(constants.APIJournalRecent),
	}

	if snapshot := state.supervisor.GetSystemSnapshot(); snapshot != nil {
		resp.Tick = snapshot.Tick
		resp.LastOutcome = snapshot.LastOutcome
	}

	if park, ok := state.watchdog.LastForcedPark(); ok {
		resp.LastForcedPark = &park
	}

	if reading, ok := state.site.Reading(); ok {
		resp.Site = &reading
	}

	if sample, ok := state.host.Last(); ok {
		resp.Host = &sample
	}

	c.JSON(http.StatusOK, resp)
}

// handleTrigger fires a trigger on behalf of an operator. The error taxonomy
// maps onto HTTP codes: an unknown edge is 404, a blocked guard is 409, a
// predicate that failed to answer is 504, and a hook failure is 500 with the
// committed state in the body (the transition itself succeeded).
func handleTrigger(c *gin.Context, state *apiState) {
	trigger := fsm.Trigger(c.Param("name"))

	err := state.machine.Fire(c.Request.Context(), trigger)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"state": state.machine.Current()})
	case fsm.IsNoSuchTransitionError(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "state": state.machine.Current()})
	case fsm.IsGuardNotSatisfiedError(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": state.machine.Current()})
	case fsm.IsGuardEvaluationError(err):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "state": state.machine.Current()})
	case fsm.IsHookError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": state.machine.Current(), "committed": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": state.machine.Current()})
	}
}

// systemSnapshotLogger logs the system snapshot every 5 seconds. It is also
// the example of how external supervisory tooling reads the loop state.
func systemSnapshotLogger(ctx context.Context, loop *supervisor.Supervisor) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	snapLogger := logger.For("SnapshotLogger")
	if snapLogger == nil {
		snapLogger = zap.NewNop().Sugar()
	}

	snapLogger.Info("Starting system snapshot logger")

	for {
		select {
		case <-ctx.Done():
			snapLogger.Info("Stopping system snapshot logger")

			return
		case <-ticker.C:
			snapshot := loop.GetSystemSnapshot()
			if snapshot == nil {
				continue
			}

			snapLogger.Infof("=== System Snapshot (Tick %d) === %s [safe=%v] outcome=%s",
				snapshot.Tick, snapshot.Machine.Current, snapshot.Machine.AlwaysSafe, snapshot.LastOutcome)
		}
	}
}
