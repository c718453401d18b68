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
	// DefaultJournalDirectory is where journal segments are persisted.
	DefaultJournalDirectory = "/data/journal"

	// DefaultJournalRingCapacity is how many recent records the in-memory
	// ring keeps for the API listing.
	DefaultJournalRingCapacity = 256

	// DefaultJournalSegmentMaxRecords is how many records a segment holds
	// before it is rotated and compressed.
	DefaultJournalSegmentMaxRecords = 512

	// JournalCompressionThreshold is the minimum segment payload size worth
	// compressing. Tiny segments are stored raw.
	JournalCompressionThreshold = 1024
)
