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
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/umbra-observatory/umbra-core/pkg/logger"
	filesystem "github.com/umbra-observatory/umbra-core/pkg/service/filesystem"
)

// MockConfigManager is a mock implementation of ConfigManager for testing
type MockConfigManager struct {
	GetConfigCalled         bool
	AtomicSetLocationCalled bool
	AtomicUpdateCalled      bool

	Config                 FullConfig
	ConfigError            error
	AtomicSetLocationError error
	AtomicUpdateError      error

	// ConfigDelay makes GetConfig wait, for exercising tick timeouts
	ConfigDelay time.Duration

	MockFileSystem *filesystem.MockFileSystem

	mu     sync.Mutex
	logger *zap.SugaredLogger
}

// NewMockConfigManager creates a new MockConfigManager instance
func NewMockConfigManager() *MockConfigManager {
	return &MockConfigManager{
		MockFileSystem: filesystem.NewMockFileSystem(),
		logger:         logger.For(logger.ComponentConfigManager),
	}
}

// GetConfig implements the ConfigManager interface
func (m *MockConfigManager) GetConfig(ctx context.Context, tick uint64) (FullConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetConfigCalled = true

	if m.ConfigDelay > 0 {
		select {
		case <-time.After(m.ConfigDelay):
			// Delay completed
		case <-ctx.Done():
			return FullConfig{}, ctx.Err()
		}
	}

	if m.ConfigError != nil {
		return FullConfig{}, m.ConfigError
	}

	return m.Config.Clone(), nil
}

// Fingerprint hashes the mock config the same way the file manager hashes
// the raw file bytes, so status output in tests looks real.
func (m *MockConfigManager) Fingerprint() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := yaml.Marshal(m.Config)
	if err != nil {
		return 0
	}

	return xxhash.Sum64(data)
}

// AtomicSetLocation implements the ConfigManager interface
func (m *MockConfigManager) AtomicSetLocation(ctx context.Context, location map[int]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AtomicSetLocationCalled = true

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.AtomicSetLocationError != nil {
		return m.AtomicSetLocationError
	}

	m.Config.Agent.Location = make(map[int]string, len(location))
	for level, name := range location {
		m.Config.Agent.Location[level] = name
	}

	return nil
}

// AtomicUpdate implements the ConfigManager interface
func (m *MockConfigManager) AtomicUpdate(ctx context.Context, edit func(*FullConfig) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AtomicUpdateCalled = true

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if m.AtomicUpdateError != nil {
		return m.AtomicUpdateError
	}

	config := m.Config.Clone()
	if err := edit(&config); err != nil {
		return err
	}

	m.Config = config

	return nil
}

// GetFileSystemService returns the mock filesystem service
func (m *MockConfigManager) GetFileSystemService() filesystem.Service {
	return m.MockFileSystem
}

// WithConfig configures the mock to return the given config
func (m *MockConfigManager) WithConfig(cfg FullConfig) *MockConfigManager {
	m.Config = cfg
	return m
}

// WithConfigError configures the mock to return the given error
func (m *MockConfigManager) WithConfigError(err error) *MockConfigManager {
	m.ConfigError = err
	return m
}

// WithConfigDelay configures the mock to delay for the given duration
func (m *MockConfigManager) WithConfigDelay(delay time.Duration) *MockConfigManager {
	m.ConfigDelay = delay
	return m
}
