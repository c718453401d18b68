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
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
)

// DefaultConfig returns the configuration the process runs with when no
// config file exists yet: the full nightly lifecycle with simulated
// hardware. A fresh install parks, observes, and parks again with no file
// present at all.
func DefaultConfig() FullConfig {
	return FullConfig{
		Agent: AgentConfig{
			MetricsPort: constants.DefaultMetricsPort,
			APIPort:     constants.DefaultAPIPort,
		},
		Observatory: DefaultObservatoryConfig(),
		Night: NightConfig{
			FlatField:        true,
			CoarseFocus:      true,
			TakeDarks:        true,
			LoopNights:       true,
			TargetsPerNight:  constants.DefaultTargetsPerNight,
			DithersPerTarget: constants.DefaultDithersPerTarget,
		},
		Site: SiteConfig{
			MaxWindSpeedKph:      constants.DefaultMaxWindSpeedKph,
			MaxCloudCoverPercent: constants.DefaultMaxCloudCoverPercent,
		},
		Journal: JournalConfig{
			Directory:         constants.DefaultJournalDirectory,
			RingCapacity:      constants.DefaultJournalRingCapacity,
			SegmentMaxRecords: constants.DefaultJournalSegmentMaxRecords,
		},
		Sim: SimConfig{
			Enabled: true,
			Dome: SimDomeConfig{
				BatteryVoltage: constants.DefaultSimBatteryVoltage,
			},
		},
	}
}

// DefaultObservatoryConfig declares the canonical nightly lifecycle. It is
// generated from the compiled table rather than duplicated here, so the
// written config file and the code can never drift apart.
func DefaultObservatoryConfig() ObservatoryConfig {
	registry := observatory.NewRegistry()

	states := make([]StateConfig, 0, registry.Len())
	for _, id := range registry.States() {
		tags, err := registry.Tags(id)
		if err != nil {
			// Unreachable: we iterate the registry's own states.
			continue
		}

		states = append(states, StateConfig{
			Name:       string(id),
			AlwaysSafe: tags.AlwaysSafe,
			Horizon:    string(tags.Horizon),
		})
	}

	canonical := observatory.Transitions()
	transitions := make([]TransitionConfig, 0, len(canonical))
	for _, t := range canonical {
		sources := make([]string, 0, len(t.Sources))
		for _, src := range t.Sources {
			sources = append(sources, string(src))
		}

		conditions := make([]string, 0, len(t.Conditions))
		for _, cond := range t.Conditions {
			conditions = append(conditions, string(cond))
		}

		transitions = append(transitions, TransitionConfig{
			Trigger:    string(t.Trigger),
			Sources:    sources,
			Dest:       string(t.Dest),
			Conditions: conditions,
		})
	}

	return ObservatoryConfig{
		Name:         constants.DefaultInstanceName,
		InitialState: string(observatory.StateSleeping),
		ParkTrigger:  string(observatory.TriggerPark),
		ParkedState:  string(observatory.StateParked),
		States:       states,
		Transitions:  transitions,
	}
}
