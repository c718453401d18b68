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
	"errors"
	"fmt"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
)

var _ = Describe("ConfigManager", func() {
	var (
		mockFS        *filesystem.MockFileSystem
		configManager *FileConfigManager
		ctx           context.Context
		tick          uint64
	)

	BeforeEach(func() {
		mockFS = filesystem.NewMockFileSystem()
		ctx = context.Background()
		tick = uint64(0)
	})

	JustBeforeEach(func() {
		configManager = NewFileConfigManager()
		configManager.WithFileSystemService(mockFS)
	})

	Describe("GetConfig", func() {
		var (
			validYAML = `
agent:
  metricsPort: 9090
  apiPort: 9091
observatory:
  name: testscope
  initialState: idle
  parkedState: stowed
  states:
    - name: idle
      alwaysSafe: true
    - name: active
    - name: stowed
      alwaysSafe: true
  transitions:
    - trigger: activate
      sources: [idle]
      dest: active
      conditions: [gate_open]
    - trigger: park
      sources: [active]
      dest: stowed
`
			invalidYAML = `observatory: - invalid: yaml: content`
		)

		Context("when file exists and contains valid YAML", func() {
			BeforeEach(func() {
				mockFS.WithEnsureDirectoryFunc(func(ctx context.Context, path string) error {
					Expect(path).To(Equal(filepath.Dir(constants.DefaultConfigPath)))
					return nil
				})

				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					Expect(path).To(Equal(constants.DefaultConfigPath))
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					Expect(path).To(Equal(constants.DefaultConfigPath))
					return []byte(validYAML), nil
				})
			})

			It("should return the parsed config", func() {
				config, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(9090))
				Expect(config.Agent.APIPort).To(Equal(9091))
				Expect(config.Observatory.Name).To(Equal("testscope"))
				Expect(config.Observatory.InitialState).To(Equal("idle"))
				Expect(config.Observatory.ParkedState).To(Equal("stowed"))
				Expect(config.Observatory.States).To(HaveLen(3))
				Expect(config.Observatory.States[0].Name).To(Equal("idle"))
				Expect(config.Observatory.States[0].AlwaysSafe).To(BeTrue())
				Expect(config.Observatory.States[1].AlwaysSafe).To(BeFalse())
				Expect(config.Observatory.Transitions).To(HaveLen(2))
				Expect(config.Observatory.Transitions[0].Trigger).To(Equal("activate"))
				Expect(config.Observatory.Transitions[0].Sources).To(Equal([]string{"idle"}))
				Expect(config.Observatory.Transitions[0].Conditions).To(Equal([]string{"gate_open"}))
				Expect(config.Observatory.Transitions[1].Conditions).To(BeEmpty())
			})

			It("should expose the fingerprint of the loaded bytes", func() {
				Expect(configManager.Fingerprint()).To(BeZero())

				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				fingerprint := configManager.Fingerprint()
				Expect(fingerprint).NotTo(BeZero())

				// Unchanged bytes keep the fingerprint stable.
				_, err = configManager.GetConfig(ctx, tick+1)
				Expect(err).NotTo(HaveOccurred())
				Expect(configManager.Fingerprint()).To(Equal(fingerprint))
			})

			It("should hand out independent copies, not the cached parse", func() {
				first, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())

				first.Observatory.States[0].Name = "tampered"

				second, err := configManager.GetConfig(ctx, tick+1)
				Expect(err).NotTo(HaveOccurred())
				Expect(second.Observatory.States[0].Name).To(Equal("idle"))
			})
		})

		Context("when the file content changes between reads", func() {
			var content []byte

			BeforeEach(func() {
				content = []byte(validYAML)

				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return content, nil
				})
			})

			It("should pick up the new content and fingerprint", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).NotTo(HaveOccurred())
				before := configManager.Fingerprint()

				content = []byte(validYAML + "\nsim:\n  enabled: true\n")

				config, err := configManager.GetConfig(ctx, tick+1)
				Expect(err).NotTo(HaveOccurred())
				Expect(config.Sim.Enabled).To(BeTrue())
				Expect(configManager.Fingerprint()).NotTo(Equal(before))
			})
		})

		Context("when file does not exist", func() {
			BeforeEach(func() {
				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return false, nil
				})
			})

			It("should return an error", func() {
				config, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config file does not exist"))
				Expect(config.Observatory.States).To(BeEmpty())
			})
		})

		Context("when file exists but contains invalid YAML", func() {
			BeforeEach(func() {
				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte(invalidYAML), nil
				})
			})

			It("should return a parse error", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when the file is empty", func() {
			BeforeEach(func() {
				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return []byte{}, nil
				})
			})

			It("should return an error instead of an empty config", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config file is empty"))
			})
		})

		Context("when reading fails", func() {
			BeforeEach(func() {
				mockFS.WithPathExistsFunc(func(ctx context.Context, path string) (bool, error) {
					return true, nil
				})

				mockFS.WithReadFileFunc(func(ctx context.Context, path string) ([]byte, error) {
					return nil, errors.New("disk on fire")
				})
			})

			It("should propagate the error", func() {
				_, err := configManager.GetConfig(ctx, tick)
				Expect(err).To(MatchError(ContainSubstring("disk on fire")))
			})
		})

		Context("when the context is cancelled", func() {
			It("should return the context error", func() {
				cancelledCtx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := configManager.GetConfig(cancelledCtx, tick)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetConfigWithOverwritesOrCreateNew", func() {
		Context("when no config file exists", func() {
			It("should create the default config with the full lifecycle", func() {
				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{})
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(constants.DefaultMetricsPort))
				Expect(config.Agent.APIPort).To(Equal(constants.DefaultAPIPort))
				Expect(config.Observatory.Name).To(Equal(constants.DefaultInstanceName))
				Expect(config.Observatory.States).To(HaveLen(15))
				Expect(config.Observatory.Transitions).To(HaveLen(15))
				Expect(config.Sim.Enabled).To(BeTrue())

				// And the file really got written.
				data, ok := mockFS.Contents(constants.DefaultConfigPath)
				Expect(ok).To(BeTrue())

				var onDisk FullConfig
				Expect(yaml.Unmarshal(data, &onDisk)).To(Succeed())
				Expect(onDisk.Observatory.States).To(HaveLen(15))
			})

			It("should apply environment-style overrides on top of the defaults", func() {
				override := FullConfig{
					Agent: AgentConfig{
						MetricsPort: 9999,
						AuthToken:   "opensesame",
						Location:    map[int]string{0: "siding-spring"},
					},
					Observatory: ObservatoryConfig{Name: "huntsman-test"},
					Site:        SiteConfig{ExporterURL: "http://weather:9100/metrics"},
				}

				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, override)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Agent.MetricsPort).To(Equal(9999))
				Expect(config.Agent.APIPort).To(Equal(constants.DefaultAPIPort))
				Expect(config.Agent.AuthToken).To(Equal("opensesame"))
				Expect(config.Agent.Location).To(HaveKeyWithValue(0, "siding-spring"))
				Expect(config.Observatory.Name).To(Equal("huntsman-test"))
				Expect(config.Site.ExporterURL).To(Equal("http://weather:9100/metrics"))

				// The lifecycle itself is never overridden from the environment.
				Expect(config.Observatory.States).To(HaveLen(15))
			})
		})

		Context("when a config file already exists", func() {
			JustBeforeEach(func() {
				_, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{
					Agent: AgentConfig{AuthToken: "original"},
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep existing values when the override is empty", func() {
				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{})
				Expect(err).NotTo(HaveOccurred())
				Expect(config.Agent.AuthToken).To(Equal("original"))
			})

			It("should replace existing values when the override is set", func() {
				config, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{
					Agent: AgentConfig{AuthToken: "rotated"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(config.Agent.AuthToken).To(Equal("rotated"))
			})
		})

		Context("when the context is cancelled", func() {
			It("should return the context error", func() {
				cancelledCtx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := configManager.GetConfigWithOverwritesOrCreateNew(cancelledCtx, FullConfig{})
				Expect(err).To(MatchError(context.Canceled))
			})
		})
	})

	Describe("AtomicSetLocation", func() {
		JustBeforeEach(func() {
			_, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should persist the location hierarchy", func() {
			err := configManager.AtomicSetLocation(ctx, map[int]string{
				0: "siding-spring",
				1: "dome-a",
				2: "huntsman",
			})
			Expect(err).NotTo(HaveOccurred())

			config, err := configManager.GetConfig(ctx, tick)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Agent.Location).To(HaveKeyWithValue(0, "siding-spring"))
			Expect(config.Agent.Location).To(HaveKeyWithValue(1, "dome-a"))
			Expect(config.Agent.Location).To(HaveKeyWithValue(2, "huntsman"))
		})

		It("should replace a previous location entirely", func() {
			Expect(configManager.AtomicSetLocation(ctx, map[int]string{0: "old", 1: "stale"})).To(Succeed())
			Expect(configManager.AtomicSetLocation(ctx, map[int]string{0: "new"})).To(Succeed())

			config, err := configManager.GetConfig(ctx, tick)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Agent.Location).To(HaveKeyWithValue(0, "new"))
			Expect(config.Agent.Location).NotTo(HaveKey(1))
		})
	})

	Describe("AtomicUpdate", func() {
		JustBeforeEach(func() {
			_, err := configManager.GetConfigWithOverwritesOrCreateNew(ctx, FullConfig{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should apply the edit and persist it", func() {
			err := configManager.AtomicUpdate(ctx, func(cfg *FullConfig) error {
				cfg.Sim.Enabled = false
				cfg.Site.MaxWindSpeedKph = 35
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			config, err := configManager.GetConfig(ctx, tick)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Sim.Enabled).To(BeFalse())
			Expect(config.Site.MaxWindSpeedKph).To(Equal(35.0))
		})

		It("should not persist anything when the edit is rejected", func() {
			before, err := configManager.GetConfig(ctx, tick)
			Expect(err).NotTo(HaveOccurred())

			err = configManager.AtomicUpdate(ctx, func(cfg *FullConfig) error {
				cfg.Sim.Enabled = false
				return fmt.Errorf("never mind")
			})
			Expect(err).To(MatchError(ContainSubstring("never mind")))

			after, err := configManager.GetConfig(ctx, tick)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Sim.Enabled).To(Equal(before.Sim.Enabled))
		})
	})
})
