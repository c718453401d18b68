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
	// SiteScrapeTimeout bounds one scrape of the weather station exporter.
	SiteScrapeTimeout = 5 * time.Second

	// SiteScrapeInterval is the default scrape cadence.
	SiteScrapeInterval = 30 * time.Second

	// SiteStalenessLimit is how old the last successful scrape may be before
	// the site verdict degrades to unsafe. Operating blind is operating
	// unsafe.
	SiteStalenessLimit = 3 * time.Minute

	// DefaultMaxWindSpeedKph is the wind limit above which the site verdict
	// is unsafe.
	DefaultMaxWindSpeedKph = 50.0

	// DefaultMaxCloudCoverPercent is the cloud cover limit above which the
	// site verdict is unsafe.
	DefaultMaxCloudCoverPercent = 60.0

	// DataMountPath is the data partition holding exposures and journal
	// segments.
	DataMountPath = "/data"

	// HostSampleInterval is the control computer sampling cadence.
	HostSampleInterval = 15 * time.Second

	// HostDiskWarnPercent raises a warning when the data partition passes it.
	HostDiskWarnPercent = 85.0

	// HostDiskCriticalPercent raises an error report; at this level new
	// exposures have nowhere to go.
	HostDiskCriticalPercent = 95.0
)
