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

package constants

const (
	// DefaultAppVersion is the version reported by builds without version
	// ldflags. Sentry is disabled for this version so local runs never page
	// anyone.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment classifies prerelease builds in Sentry.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment classifies tagged release builds in Sentry.
	DefaultProductionEnvironment = "production"
)
