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

import "time"

const (
	// DefaultMetricsPort serves /metrics and the metrics debug endpoint.
	DefaultMetricsPort = 8081

	// DefaultAPIPort serves the supervisory HTTP API.
	DefaultAPIPort = 8080

	// APIReadTimeout bounds request reads on the supervisory API server.
	APIReadTimeout = 5 * time.Second

	// APIShutdownTimeout is the grace period for draining the API and
	// metrics servers on shutdown.
	APIShutdownTimeout = 3 * time.Second

	// APIJournalRecent is how many journal records the status endpoint
	// returns.
	APIJournalRecent = 50
)
