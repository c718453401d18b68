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

// tablelint validates an observatory config file without starting anything:
// it builds the transition table exactly the way umbra-core does at startup
// and prints the states, the edges, and a park-path proof for every state
// reachable from the initial one. A config this tool accepts will not be
// rejected by the core.
//
// Usage:
//
//	tablelint -config /data/config.yaml
//
// With no -config flag the CONFIG_PATH environment variable is consulted,
// then the default path.
package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"strings"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/umbra-observatory/umbra-core/pkg/config"
	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/fsm"
	"github.com/umbra-observatory/umbra-core/pkg/fsm/observatory"
)

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)

	defer func(logger *zap.SugaredLogger) {
		_ = logger.Sync() //nolint:errcheck
	}(log)

	defaultPath, _ := env.GetAsString("CONFIG_PATH", false, constants.DefaultConfigPath) //nolint:errcheck
	configPath := flag.String("config", defaultPath, "path to the observatory config file")
	flag.Parse()

	cfg := load(*configPath)

	table, err := cfg.Observatory.NewTable(lintEvaluator())
	if err != nil {
		zap.S().Fatalf("Table rejected: %s", err)
	}

	printStates(table)
	printEdges(table)
	printParkProof(table)

	zap.S().Infof("Table OK: %d states, %d transition records", table.Registry().Len(), len(table.Transitions()))
}

func load(path string) config.FullConfig {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.S().Warnf("No config file at %s, linting the default table", path)

		return config.DefaultConfig()
	}

	if err != nil {
		zap.S().Fatalf("Failed to read %s: %s", path, err)
	}

	var cfg config.FullConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		zap.S().Fatalf("Failed to parse %s: %s", path, err)
	}

	return cfg
}

// lintEvaluator registers an always-false stub for every condition the core
// binary knows. Predicates are never called here; registration is what lets
// table validation distinguish a known condition from a typo.
func lintEvaluator() *fsm.Evaluator {
	eval := fsm.NewEvaluator()

	stub := func(context.Context) (bool, error) { return false, nil }
	eval.MustRegister(observatory.ConditionMountInitialized, stub)
	eval.MustRegister(observatory.ConditionMountTracking, stub)

	return eval
}

func printStates(table *fsm.Table) {
	registry := table.Registry()

	states := registry.States()
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	for _, state := range states {
		tags := make([]string, 0, 2)
		if registry.IsAlwaysSafe(state) {
			tags = append(tags, "always_safe")
		}

		if horizon := registry.HorizonOf(state); horizon != fsm.HorizonNone {
			tags = append(tags, "horizon="+string(horizon))
		}

		marker := ""
		if state == table.Initial() {
			marker = " (initial)"
		}

		zap.S().Infof("state %-24s %s%s", state, strings.Join(tags, ","), marker)
	}
}

func printEdges(table *fsm.Table) {
	for _, tr := range table.Transitions() {
		guard := ""
		if len(tr.Conditions) > 0 {
			conds := make([]string, len(tr.Conditions))
			for i, c := range tr.Conditions {
				conds[i] = string(c)
			}

			guard = " if " + strings.Join(conds, " && ")
		}

		zap.S().Infof("edge  %v --%s--> %s%s", tr.Sources, tr.Trigger, tr.Dest, guard)
	}
}

// printParkProof walks the guard-free edge relation from every state
// reachable from the initial one and prints the shortest trigger sequence
// ending in the parked state. Table validation already proved such a
// sequence exists; this makes the proof inspectable.
func printParkProof(table *fsm.Table) {
	for _, state := range reachable(table) {
		if state == table.ParkedState() {
			zap.S().Infof("park  %-24s already parked", state)

			continue
		}

		path := parkPath(table, state)
		zap.S().Infof("park  %-24s %s", state, strings.Join(path, " -> "))
	}
}

// reachable returns the states reachable from the initial state, in BFS
// order.
func reachable(table *fsm.Table) []fsm.StateID {
	seen := map[fsm.StateID]bool{table.Initial(): true}
	order := []fsm.StateID{table.Initial()}

	for i := 0; i < len(order); i++ {
		for _, tr := range table.Transitions() {
			for _, src := range tr.Sources {
				if src == order[i] && !seen[tr.Dest] {
					seen[tr.Dest] = true
					order = append(order, tr.Dest)
				}
			}
		}
	}

	return order
}

// parkPath returns the shortest trigger sequence from state to the parked
// state, ignoring guards.
func parkPath(table *fsm.Table, state fsm.StateID) []string {
	type step struct {
		state fsm.StateID
		path  []string
	}

	seen := map[fsm.StateID]bool{state: true}
	queue := []step{{state: state}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, tr := range table.Transitions() {
			for _, src := range tr.Sources {
				if src != cur.state || seen[tr.Dest] {
					continue
				}

				path := append(append([]string{}, cur.path...), string(tr.Trigger))
				if tr.Dest == table.ParkedState() {
					return path
				}

				seen[tr.Dest] = true
				queue = append(queue, step{state: tr.Dest, path: path})
			}
		}
	}

	return []string{"(unreachable)"}
}
