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

// Package sitemon scrapes the weather station's Prometheus exporter and
// turns readings into the site-safe verdict. The monitor is a watchdog
// HealthSource: Verdict never blocks, answering from the cached reading,
// and a cache older than the staleness limit is itself unsafe — operating
// blind is operating unsafe.
package sitemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	"github.com/umbra-observatory/umbra-core/pkg/watchdog"
)

// SourceName is the name the monitor registers under with the watchdog.
const SourceName = "site_monitor"

// ErrNoScrapeYet means the monitor has not decoded a single exposition
// since it started.
var ErrNoScrapeYet = errors.New("no successful scrape yet")

// Monitor scrapes the station exporter on a fixed cadence and caches the
// decoded reading for the watchdog and the status API.
type Monitor struct {
	client *http.Client
	cfg    config.SiteConfig
	logger *zap.SugaredLogger

	mu          sync.RWMutex
	lastReading WeatherReading
	lastBody    []byte
	lastErr     error
}

// NewMonitor builds a monitor for the exporter named in cfg. Run starts the
// scraping.
func NewMonitor(cfg config.SiteConfig) *Monitor {
	// Custom transport with HTTP/2 disabled; the exporter is a single local
	// endpoint and plain HTTP/1.1 keeps connection reuse predictable.
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		Proxy:             http.ProxyFromEnvironment,
	}

	return &Monitor{
		client: &http.Client{
			Transport: transport,
			Timeout:   constants.SiteScrapeTimeout,
		},
		cfg:    cfg,
		logger: logger.For(logger.ComponentSiteMonitor),
	}
}

// Client returns the underlying HTTP client, for tests that intercept it.
func (m *Monitor) Client() *http.Client {
	return m.client
}

// Name implements watchdog.HealthSource.
func (m *Monitor) Name() string {
	return SourceName
}

// Enabled reports whether the config names an exporter to scrape. A disabled
// monitor must not be registered as a watchdog source: with nothing to
// scrape its verdict would stay "no weather data yet" and force a permanent
// park.
func (m *Monitor) Enabled() bool {
	return m.cfg.ExporterURL != ""
}

// Run scrapes until ctx is done. The first scrape happens immediately: the
// watchdog needs a verdict before the supervisor may wake the machine.
// Without a configured exporter Run warns and returns nil, so a fresh
// install with the default config still runs its night unattended.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.Enabled() {
		m.logger.Warnf("No site exporter configured, weather monitoring disabled")

		return nil
	}

	m.logger.Infof("Site monitor scraping %s every %s", m.cfg.ExporterURL, m.cfg.ScrapeInterval())

	m.scrapeAndRecord(ctx)

	ticker := time.NewTicker(m.cfg.ScrapeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("Site monitor stopping")

			return nil
		case <-ticker.C:
			m.scrapeAndRecord(ctx)
		}
	}
}

func (m *Monitor) scrapeAndRecord(ctx context.Context) {
	err := m.scrape(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	m.logger.Warnf("Weather scrape failed: %v", err)
	metrics.IncErrorCount(metrics.ComponentSiteMonitor, "main")

	// Keep the last reading; staleness degrades the verdict on its own
	// schedule.
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// scrape fetches one exposition, decodes it, and publishes the reading.
func (m *Monitor) scrape(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.SiteScrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ExporterURL, nil)
	if err != nil {
		return fmt.Errorf("building scrape request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("scraping %s: %w", m.cfg.ExporterURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scraping %s: unexpected status %d", m.cfg.ExporterURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading exposition: %w", err)
	}

	reading, err := ParseReadingFast(body)
	if err != nil {
		return err
	}

	reading.At = time.Now()

	reason, safe := m.judge(reading)

	m.mu.Lock()
	m.lastReading = reading
	m.lastBody = body
	m.lastErr = nil
	m.mu.Unlock()

	metrics.UpdateSiteWeather(reading.WindSpeedKph, reading.CloudCoverPercent,
		reading.RainRateMmPerHour, reading.SkyDelta(), safe)

	if !safe {
		m.logger.Infof("Site unsafe: %s", reason)
	}

	return nil
}

// judge applies the configured limits to one reading. Checks run in severity
// order; the first breach names the verdict.
func (m *Monitor) judge(r WeatherReading) (reason string, safe bool) {
	switch {
	case !r.StationSafe:
		return "station reports unsafe", false
	case r.RainRateMmPerHour > 0:
		return fmt.Sprintf("rain at %.1f mm/h", r.RainRateMmPerHour), false
	case r.WindSpeedKph > m.cfg.WindLimitKph():
		return fmt.Sprintf("wind %.1f kph over the %.0f kph limit", r.WindSpeedKph, m.cfg.WindLimitKph()), false
	case r.CloudCoverPercent > m.cfg.CloudLimitPercent():
		return fmt.Sprintf("cloud cover %.0f%% over the %.0f%% limit", r.CloudCoverPercent, m.cfg.CloudLimitPercent()), false
	}

	return "", true
}

// Verdict implements watchdog.HealthSource.
func (m *Monitor) Verdict() watchdog.Verdict {
	m.mu.RLock()
	reading := m.lastReading
	lastErr := m.lastErr
	m.mu.RUnlock()

	if reading.At.IsZero() {
		reason := "no weather data yet"
		if lastErr != nil {
			reason = fmt.Sprintf("no weather data yet: %v", lastErr)
		}

		return watchdog.Verdict{ObservedAt: time.Now(), Reason: reason, Safe: false}
	}

	if age := time.Since(reading.At); age > m.cfg.StalenessLimit() {
		return watchdog.Verdict{
			ObservedAt: reading.At,
			Reason:     fmt.Sprintf("weather data is %s old", age.Round(time.Second)),
			Safe:       false,
		}
	}

	reason, safe := m.judge(reading)

	return watchdog.Verdict{ObservedAt: reading.At, Reason: reason, Safe: safe}
}

// Reading returns the last decoded reading for the status API.
func (m *Monitor) Reading() (WeatherReading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastReading, !m.lastReading.At.IsZero()
}

// Families returns the full exposition of the last successful scrape,
// flattened for the debug listing.
func (m *Monitor) Families() ([]Family, error) {
	m.mu.RLock()
	raw := m.lastBody
	m.mu.RUnlock()

	if len(raw) == 0 {
		return nil, ErrNoScrapeYet
	}

	return ParseFamilies(raw)
}
