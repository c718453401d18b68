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
	"fmt"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
)

type FullConfig struct {
	Agent       AgentConfig       `yaml:"agent"`                 // Agent config, requires restart to take effect
	Observatory ObservatoryConfig `yaml:"observatory"`           // State and transition declarations for the lifecycle machine
	Night       NightConfig       `yaml:"night,omitempty"`       // Nightly program the supervisor drives
	Site        SiteConfig        `yaml:"site,omitempty"`        // Weather exporter scraping and safety limits
	Journal     JournalConfig     `yaml:"journal,omitempty"`     // Transition journal persistence
	Sim         SimConfig         `yaml:"sim,omitempty"`         // Simulated hardware, used when no real hardware is attached
}

type AgentConfig struct {
	MetricsPort  int            `yaml:"metricsPort"`            // Port to expose metrics on
	APIPort      int            `yaml:"apiPort"`                // Port for the supervisory HTTP API
	AuthToken    string         `yaml:"authToken,omitempty"`    // Bearer token for the supervisory API; empty disables auth
	LoggingLevel string         `yaml:"loggingLevel,omitempty"` // zap level name, e.g. "debug"; empty means production default
	Location     map[int]string `yaml:"location,omitempty"`     // 0: Site, 1: Enclosure, 2: Telescope, 3: Instrument
}

// ObservatoryConfig declares the lifecycle machine: the states the telescope
// may be in and the triggered transitions between them. The declaration is
// validated at construction time; a config that names an unknown state or
// condition, guards a park edge, or leaves a state without a path to parked
// is rejected before anything runs.
type ObservatoryConfig struct {
	Name         string             `yaml:"name,omitempty"`         // Instance name used in logs and metrics
	InitialState string             `yaml:"initialState,omitempty"` // State the machine starts in, defaults to the first declared state
	ParkTrigger  string             `yaml:"parkTrigger,omitempty"`  // Emergency trigger name, defaults to "park"
	ParkedState  string             `yaml:"parkedState,omitempty"`  // Terminal safe state name, defaults to "parked"
	States       []StateConfig      `yaml:"states"`
	Transitions  []TransitionConfig `yaml:"transitions"`
}

// StateConfig declares one lifecycle state and its safety tags.
type StateConfig struct {
	Name       string `yaml:"name"`
	AlwaysSafe bool   `yaml:"alwaysSafe,omitempty"` // The telescope may remain here unsupervised
	Horizon    string `yaml:"horizon,omitempty"`    // "flat" or "focus" for twilight-bound states, empty otherwise
}

// TransitionConfig declares one edge set of the transition table: a trigger
// moves the machine from any of Sources to Dest when all Conditions hold.
type TransitionConfig struct {
	Trigger    string   `yaml:"trigger"`
	Sources    []string `yaml:"sources"`
	Dest       string   `yaml:"dest"`
	Conditions []string `yaml:"conditions,omitempty"`
}

// NightConfig shapes the program the supervisor drives through the lifecycle
// graph: which twilight calibrations run, how much science a night holds, and
// whether the next night starts on its own. The zero value is a single plain
// night with no calibrations, using the compiled target and dither quotas.
type NightConfig struct {
	FlatField        bool `yaml:"flatField"`        // Acquire twilight sky flats before focusing
	CoarseFocus      bool `yaml:"coarseFocus"`      // Run the coarse focus sweep when skipping flats
	TakeDarks        bool `yaml:"takeDarks"`        // Acquire dark frames after parking
	LoopNights       bool `yaml:"loopNights"`       // Begin the next night after goto_sleep
	TargetsPerNight  int  `yaml:"targetsPerNight,omitempty"`  // Science targets before the program parks
	DithersPerTarget int  `yaml:"dithersPerTarget,omitempty"` // Dither offsets taken on each target
}

// TargetQuota returns the configured targets per night or the default.
func (c NightConfig) TargetQuota() int {
	if c.TargetsPerNight <= 0 {
		return constants.DefaultTargetsPerNight
	}

	return c.TargetsPerNight
}

// DitherQuota returns the configured dithers per target or the default.
func (c NightConfig) DitherQuota() int {
	if c.DithersPerTarget <= 0 {
		return constants.DefaultDithersPerTarget
	}

	return c.DithersPerTarget
}

// SiteConfig configures the weather exporter scraper and the limits that
// decide the site-safe verdict. Durations are plain seconds so the YAML stays
// readable; zero values fall back to the compiled defaults.
type SiteConfig struct {
	ExporterURL           string  `yaml:"exporterUrl,omitempty"`
	ScrapeIntervalSeconds int     `yaml:"scrapeIntervalSeconds,omitempty"`
	StalenessLimitSeconds int     `yaml:"stalenessLimitSeconds,omitempty"`
	MaxWindSpeedKph       float64 `yaml:"maxWindSpeedKph,omitempty"`
	MaxCloudCoverPercent  float64 `yaml:"maxCloudCoverPercent,omitempty"`
}

// ScrapeInterval returns the configured scrape cadence or the default.
func (c SiteConfig) ScrapeInterval() time.Duration {
	if c.ScrapeIntervalSeconds <= 0 {
		return constants.SiteScrapeInterval
	}

	return time.Duration(c.ScrapeIntervalSeconds) * time.Second
}

// StalenessLimit returns how old the last successful scrape may be before
// the verdict degrades to unsafe.
func (c SiteConfig) StalenessLimit() time.Duration {
	if c.StalenessLimitSeconds <= 0 {
		return constants.SiteStalenessLimit
	}

	return time.Duration(c.StalenessLimitSeconds) * time.Second
}

// WindLimitKph returns the configured wind limit or the default.
func (c SiteConfig) WindLimitKph() float64 {
	if c.MaxWindSpeedKph <= 0 {
		return constants.DefaultMaxWindSpeedKph
	}

	return c.MaxWindSpeedKph
}

// CloudLimitPercent returns the configured cloud cover limit or the default.
func (c SiteConfig) CloudLimitPercent() float64 {
	if c.MaxCloudCoverPercent <= 0 {
		return constants.DefaultMaxCloudCoverPercent
	}

	return c.MaxCloudCoverPercent
}

// JournalConfig configures the transition journal ring and its on-disk
// segments.
type JournalConfig struct {
	Directory         string `yaml:"directory,omitempty"`         // Segment directory, defaults to /data/journal
	RingCapacity      int    `yaml:"ringCapacity,omitempty"`      // Records kept in memory for the API listing
	SegmentMaxRecords int    `yaml:"segmentMaxRecords,omitempty"` // Records per segment before rotation
}

// SimConfig configures the simulated mount and dome used when the process
// runs without hardware.
type SimConfig struct {
	Enabled bool           `yaml:"enabled"`
	Mount   SimMountConfig `yaml:"mount,omitempty"`
	Dome    SimDomeConfig  `yaml:"dome,omitempty"`
}

type SimMountConfig struct {
	SlewSettleMs int `yaml:"slewSettleMs,omitempty"` // Time for a slew to settle back into tracking
}

// SlewSettleTime returns the configured settle delay or the default.
func (c SimMountConfig) SlewSettleTime() time.Duration {
	if c.SlewSettleMs <= 0 {
		return constants.DefaultSlewSettleTime
	}

	return time.Duration(c.SlewSettleMs) * time.Millisecond
}

type SimDomeConfig struct {
	BatteryVoltage  float64 `yaml:"batteryVoltage,omitempty"` // Reported controller battery voltage
	ShutterTravelMs int     `yaml:"shutterTravelMs,omitempty"`
}

// ShutterTravelTime returns the configured shutter travel time or the
// default.
func (c SimDomeConfig) ShutterTravelTime() time.Duration {
	if c.ShutterTravelMs <= 0 {
		return constants.DefaultShutterTravelTime
	}

	return time.Duration(c.ShutterTravelMs) * time.Millisecond
}

// TableConfig converts the declarative observatory section into the machine
// construction input. The evaluator supplies the guard predicates the
// transition conditions refer to. Defects in the declaration itself
// (duplicate or unknown states, bad horizon tags) are wrapped in a
// ConfigValidationError just like the structural defects fsm.NewTable
// detects, so callers have a single check for "this config cannot run".
func (c ObservatoryConfig) TableConfig(eval *fsm.Evaluator) (fsm.TableConfig, error) {
	registry := fsm.NewRegistry()

	for _, s := range c.States {
		horizon, err := parseHorizon(s.Horizon)
		if err != nil {
			return fsm.TableConfig{}, &fsm.ConfigValidationError{Err: fmt.Errorf("state %q: %w", s.Name, err)}
		}

		tags := fsm.StateTags{
			AlwaysSafe: s.AlwaysSafe,
			Horizon:    horizon,
		}
		if err := registry.Register(fsm.StateID(s.Name), tags); err != nil {
			return fsm.TableConfig{}, &fsm.ConfigValidationError{Err: err}
		}
	}

	transitions := make([]fsm.Transition, 0, len(c.Transitions))
	for _, t := range c.Transitions {
		sources := make([]fsm.StateID, 0, len(t.Sources))
		for _, src := range t.Sources {
			sources = append(sources, fsm.StateID(src))
		}

		conditions := make([]fsm.ConditionID, 0, len(t.Conditions))
		for _, cond := range t.Conditions {
			conditions = append(conditions, fsm.ConditionID(cond))
		}

		transitions = append(transitions, fsm.Transition{
			Trigger:    fsm.Trigger(t.Trigger),
			Dest:       fsm.StateID(t.Dest),
			Sources:    sources,
			Conditions: conditions,
		})
	}

	initial := fsm.StateID(c.InitialState)
	if initial == "" && len(c.States) > 0 {
		initial = fsm.StateID(c.States[0].Name)
	}

	return fsm.TableConfig{
		Registry:    registry,
		Evaluator:   eval,
		Initial:     initial,
		ParkTrigger: fsm.Trigger(c.ParkTrigger),
		ParkedState: fsm.StateID(c.ParkedState),
		Transitions: transitions,
	}, nil
}

// NewTable builds and validates the transition table declared by the config.
func (c ObservatoryConfig) NewTable(eval *fsm.Evaluator) (*fsm.Table, error) {
	cfg, err := c.TableConfig(eval)
	if err != nil {
		return nil, err
	}

	return fsm.NewTable(cfg)
}

func parseHorizon(name string) (fsm.Horizon, error) {
	switch fsm.Horizon(name) {
	case fsm.HorizonNone, fsm.HorizonFlat, fsm.HorizonFocus:
		return fsm.Horizon(name), nil
	default:
		return fsm.HorizonNone, fmt.Errorf("unknown horizon tag %q", name)
	}
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	deepcopy.Copy(&clone.Agent, &c.Agent)
	deepcopy.Copy(&clone.Observatory, &c.Observatory)
	deepcopy.Copy(&clone.Night, &c.Night)
	deepcopy.Copy(&clone.Site, &c.Site)
	deepcopy.Copy(&clone.Journal, &c.Journal)
	deepcopy.Copy(&clone.Sim, &c.Sim)
	return clone
}
