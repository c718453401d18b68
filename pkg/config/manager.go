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
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/umbra-observatory/umbra-core/pkg/constants"
	"github.com/umbra-observatory/umbra-core/pkg/ctxutil/ctxmutex"
	"github.com/umbra-observatory/umbra-core/pkg/ctxutil/ctxrwmutex"
	"github.com/umbra-observatory/umbra-core/pkg/logger"
	"github.com/umbra-observatory/umbra-core/pkg/metrics"
	filesystem "github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
)

// singleton instance
// we avoid having more than one instance of the config manager because it can lead to race conditions
// if we ensure that we have only one instance, we can avoid race conditions by using mutexes in this single instance as we do here

// however, access from outside the process is not protected by mutexes (keep in mind e.g. when editing the config file over SSH)
var (
	instance ConfigManager
	once     sync.Once
)

// ConfigManager is the interface for config management
type ConfigManager interface {
	// GetConfig returns the current config
	GetConfig(ctx context.Context, tick uint64) (FullConfig, error)
	// Fingerprint returns the hash of the raw bytes behind the last
	// successfully loaded config, or zero if none was loaded yet
	Fingerprint() uint64
	// AtomicSetLocation sets the observatory location in the config atomically
	AtomicSetLocation(ctx context.Context, location map[int]string) error
	// AtomicUpdate applies an arbitrary edit to the config atomically
	AtomicUpdate(ctx context.Context, edit func(*FullConfig) error) error
}

// FileConfigManager implements the ConfigManager interface by reading from a
// file. It does not retry on its own: the supervisor calls GetConfig every
// tick under constants.ConfigGetConfigTimeout and simply tries again next
// tick when a read fails, so transient filesystem errors never stall the
// machine.
type FileConfigManager struct {
	// configPath is the path to the config file
	configPath string

	// fsService handles filesystem operations
	fsService filesystem.Service

	// logger is the logger for the config manager
	logger *zap.SugaredLogger

	// mutexAtomicUpdate for full cycle read and write access (atomic update) to the config file
	// all writes to the config need to happen under this mutex via an atomic set method -> writeConfig is therefore not exposed
	// the goal is to prevent two read/write cycles ("atomic updates") happening at the same time
	// we use our own implementation of a context aware mutex here to avoid deadlocks
	mutexAtomicUpdate ctxmutex.CtxMutex

	// simple mutex for read access or write access to the config file
	// it will be used by GetConfig and writeConfig
	// this mutex will allow multiple GetConfig calls to happen in parallel
	// it will prevent multiple reads or read/write cycles to happen at the same time
	// we use our own implementation of a context aware mutex here to avoid deadlocks
	mutexReadOrWrite ctxrwmutex.CtxRWMutex

	// cache holds the parse of the last raw bytes seen, keyed by their
	// xxhash. The config is read every tick; the file changes maybe once a
	// night. Collisions are vanishingly unlikely (2⁻⁶⁴), so hash equality
	// is good enough to treat the file as unchanged and skip the re-parse.
	cacheMu     sync.Mutex
	cacheParsed FullConfig
	cacheHash   uint64
	cacheValid  bool
}

// NewFileConfigManager creates a new FileConfigManager
// Note: This should only be used in tests or if you need a custom config manager.
// Prefer NewFileConfigManagerSingleton() for application use.
func NewFileConfigManager() *FileConfigManager {
	return &FileConfigManager{
		configPath:        constants.DefaultConfigPath,
		fsService:         filesystem.NewDefaultService(),
		logger:            logger.For(logger.ComponentConfigManager),
		mutexAtomicUpdate: *ctxmutex.NewCtxMutex(),
		mutexReadOrWrite:  *ctxrwmutex.NewCtxRWMutex(),
	}
}

// NewFileConfigManagerSingleton creates the process-wide config manager.
// A second call returns an error: two managers over the same file would
// defeat the mutex discipline above.
func NewFileConfigManagerSingleton() (*FileConfigManager, error) {
	if instance != nil {
		return nil, fmt.Errorf("config manager already initialized, only one instance is allowed")
	}

	once.Do(func() {
		instance = NewFileConfigManager()
	})

	manager, ok := instance.(*FileConfigManager)
	if !ok {
		return nil, fmt.Errorf("config manager singleton holds an unexpected type %T", instance)
	}

	return manager, nil
}

// WithFileSystemService allows setting a custom filesystem service
// useful for testing or advanced use cases
func (m *FileConfigManager) WithFileSystemService(fsService filesystem.Service) *FileConfigManager {
	m.fsService = fsService
	return m
}

// WithConfigPath points the manager at a different config file. Used by the
// table lint tool to check files before they are deployed.
func (m *FileConfigManager) WithConfigPath(path string) *FileConfigManager {
	m.configPath = path
	return m
}

// GetConfigWithOverwritesOrCreateNew loads the config file, creating it with
// defaults first if it does not exist, and overlays the given overrides
// (ports, auth token, location and friends collected from the environment).
// The merged result is persisted, so environment overrides become permanent.
func (m *FileConfigManager) GetConfigWithOverwritesOrCreateNew(ctx context.Context, configOverride FullConfig) (FullConfig, error) {
	// Check if context is already cancelled
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// Start from the compiled defaults so a fresh install gets the full
	// nightly lifecycle without any file present.
	config := DefaultConfig()

	exists, err := m.fsService.PathExists(ctx, m.configPath)
	switch {
	case err != nil:
		m.logger.Warnf("failed to check if config file exists in %s: %v", m.configPath, err)
	case exists:
		config, err = m.GetConfig(ctx, 0)
		if err != nil {
			return FullConfig{}, fmt.Errorf("failed to get config that exists: %w", err)
		}
	}

	// Apply overrides
	if configOverride.Agent.MetricsPort > 0 {
		config.Agent.MetricsPort = configOverride.Agent.MetricsPort
	}

	if configOverride.Agent.APIPort > 0 {
		config.Agent.APIPort = configOverride.Agent.APIPort
	}

	if configOverride.Agent.AuthToken != "" {
		config.Agent.AuthToken = configOverride.Agent.AuthToken
	}

	if configOverride.Agent.LoggingLevel != "" {
		config.Agent.LoggingLevel = configOverride.Agent.LoggingLevel
	}

	if len(configOverride.Agent.Location) > 0 {
		config.Agent.Location = configOverride.Agent.Location
	}

	if configOverride.Observatory.Name != "" {
		config.Observatory.Name = configOverride.Observatory.Name
	}

	if configOverride.Site.ExporterURL != "" {
		config.Site.ExporterURL = configOverride.Site.ExporterURL
	}

	// Enforce that the lifecycle is declared. An empty observatory section
	// would build a machine with no states at all.
	if len(config.Observatory.States) == 0 {
		config.Observatory = DefaultObservatoryConfig()
	}

	// Persist the updated config
	if err := m.writeConfig(ctx, config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to write new config: %w", err)
	}

	return config, nil
}

// GetConfig returns the current config, always reading fresh from disk.
// Unchanged bytes are served from the parse cache.
func (m *FileConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveTickTime(metrics.ComponentConfigManager, "get_config", time.Since(start))
	}()

	// we use a read lock here, because we only read the config file
	err := m.mutexReadOrWrite.RLock(ctx)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexReadOrWrite.RUnlock()

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return FullConfig{}, ctx.Err()
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(m.configPath)
	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return FullConfig{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Check if the file exists
	exists, err := m.fsService.PathExists(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, err
	}

	if !exists {
		return FullConfig{}, fmt.Errorf("config file does not exist: %s", m.configPath)
	}

	// Read the file
	data, err := m.fsService.ReadFile(ctx, m.configPath)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	fingerprint := xxhash.Sum64(data)

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if m.cacheValid && m.cacheHash == fingerprint {
		// The cached parse stays read-only; hand out a copy.
		return m.cacheParsed.Clone(), nil
	}

	// Parse the YAML
	var config FullConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// If the config is empty, return an error
	// Note: sometimes it can happen that due to a filesystem error the file is empty
	// In this case we want to return an error, which is then ignored by the supervisor loop and retried next tick
	if reflect.DeepEqual(config, FullConfig{}) {
		return FullConfig{}, fmt.Errorf("config file is empty: %s", m.configPath)
	}

	if m.cacheValid {
		m.logger.Infof("configuration changed at tick %d, fingerprint %016x", tick, fingerprint)
	} else {
		m.logger.Infof("configuration loaded, fingerprint %016x", fingerprint)
	}

	m.cacheParsed = config
	m.cacheHash = fingerprint
	m.cacheValid = true

	return config.Clone(), nil
}

// Fingerprint returns the hash of the raw bytes behind the last successful
// load, for the startup log line and the status API.
func (m *FileConfigManager) Fingerprint() uint64 {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if !m.cacheValid {
		return 0
	}

	return m.cacheHash
}

// writeConfig writes the config to the file
// it should not be exposed or used outside of the config manager, due to potential race conditions
func (m *FileConfigManager) writeConfig(ctx context.Context, config FullConfig) error {
	// we use a write lock here, because we write the config file
	err := m.mutexReadOrWrite.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexReadOrWrite.Unlock()

	// Check if context is already cancelled
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(m.configPath)
	if err := m.fsService.EnsureDirectory(ctx, dir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the config to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := m.fsService.WriteFile(ctx, m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Writing through the manager is the only mutation path, so the cache
	// can be updated in place instead of waiting for the next read.
	m.cacheMu.Lock()
	m.cacheParsed = config.Clone()
	m.cacheHash = xxhash.Sum64(data)
	m.cacheValid = true
	m.cacheMu.Unlock()

	m.logger.Infof("Successfully wrote config to %s", m.configPath)
	return nil
}

// AtomicSetLocation sets the observatory location in the config atomically
func (m *FileConfigManager) AtomicSetLocation(ctx context.Context, location map[int]string) error {
	err := m.mutexAtomicUpdate.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	// get the current config
	config, err := m.GetConfig(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	// Location is a hierarchical structure represented as map[int]string
	// 0: Site, 1: Enclosure, 2: Telescope, 3: Instrument
	config.Agent.Location = make(map[int]string, len(location))
	for level, name := range location {
		config.Agent.Location[level] = name
	}

	// write the config
	if err := m.writeConfig(ctx, config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// AtomicUpdate reads the config, applies the edit, and writes the result
// back, all under the atomic-update mutex. The edit callback must not block
// on anything that itself needs the config file.
func (m *FileConfigManager) AtomicUpdate(ctx context.Context, edit func(*FullConfig) error) error {
	err := m.mutexAtomicUpdate.Lock(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock config file: %w", err)
	}
	defer m.mutexAtomicUpdate.Unlock()

	// get the current config
	config, err := m.GetConfig(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	// edit the config
	if err := edit(&config); err != nil {
		return fmt.Errorf("config edit rejected: %w", err)
	}

	// write the config
	if err := m.writeConfig(ctx, config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
