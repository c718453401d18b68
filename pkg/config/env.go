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

package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/umbra-observatory/umbra-core/pkg/env"
	"github.com/umbra-observatory/umbra-core/pkg/sentry"
)

// LoadConfigWithEnvOverrides loads the config file and applies environment
// variable overrides. This runs once at startup so a containerized deploy
// can be configured entirely through -e flags.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (AUTH_TOKEN, API_PORT, METRICS_PORT, LOGGING_LEVEL,
//    OBSERVATORY_NAME, SITE_EXPORTER_URL, LOCATION_*)
// 2. Existing config file values
// 3. Compiled defaults
//
// Important: This function has side effects! The merged result is written
// back to the config file, so environment overrides become the baseline for
// subsequent runs unless overridden again.
func LoadConfigWithEnvOverrides(ctx context.Context, configManager *FileConfigManager, log *zap.SugaredLogger) (FullConfig, error) {
	// Collect environment variables that can override config values
	authToken, err := env.GetAsString("AUTH_TOKEN", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get AUTH_TOKEN: %v", err)
	}

	apiPort, err := env.GetAsInt("API_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get API_PORT: %v", err)
	}

	metricsPort, err := env.GetAsInt("METRICS_PORT", false, 0)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get METRICS_PORT: %v", err)
	}

	loggingLevel, err := env.GetAsString("LOGGING_LEVEL", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get LOGGING_LEVEL: %v", err)
	}

	observatoryName, err := env.GetAsString("OBSERVATORY_NAME", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get OBSERVATORY_NAME: %v", err)
	}

	exporterURL, err := env.GetAsString("SITE_EXPORTER_URL", false, "")
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get SITE_EXPORTER_URL: %v", err)
	}

	// Location values are numbered 0-3 and passed as LOCATION_0, LOCATION_1, etc.
	// 0: Site, 1: Enclosure, 2: Telescope, 3: Instrument
	locations := make(map[int]string)
	for i := 0; i <= 3; i++ {
		location, err := env.GetAsString(fmt.Sprintf("LOCATION_%d", i), false, "")
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get LOCATION_%d: %v", i, err)
		}

		if location != "" {
			locations[i] = location
		}
	}

	if len(locations) == 0 {
		locations = nil
	}

	// Build the config override structure from environment variables
	configOverride := FullConfig{
		Agent: AgentConfig{
			MetricsPort:  metricsPort,
			APIPort:      apiPort,
			AuthToken:    authToken,
			LoggingLevel: loggingLevel,
			Location:     locations,
		},
		Observatory: ObservatoryConfig{
			Name: observatoryName,
		},
		Site: SiteConfig{
			ExporterURL: exporterURL,
		},
	}

	// Apply the environment overrides to the config
	configData, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, configOverride)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to load config with environment overrides: %w", err)
	}

	return configData, nil
}
