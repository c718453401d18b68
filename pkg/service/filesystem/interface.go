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

// Package filesystem wraps the file operations the config store and the
// journal need behind a context-aware interface, so callers on a tick budget
// never block indefinitely on a slow disk and tests can swap in a mock.
package filesystem

import (
	"context"
	"os"
)

// Service provides context-aware filesystem operations.
type Service interface {
	// EnsureDirectory creates a directory if it doesn't exist.
	EnsureDirectory(ctx context.Context, path string) error

	// ReadFile reads a file's contents.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes data to a file.
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error

	// PathExists checks if a file or directory exists at the given path.
	PathExists(ctx context.Context, path string) (bool, error)

	// Remove removes a file or empty directory.
	Remove(ctx context.Context, path string) error

	// RemoveAll removes a directory and all its contents.
	RemoveAll(ctx context.Context, path string) error

	// Stat returns file info.
	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// ReadDir reads a directory, returning all its directory entries.
	ReadDir(ctx context.Context, path string) ([]os.DirEntry, error)

	// Glob returns the names matching pattern.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// Rename renames (moves) a file or directory from oldPath to newPath.
	// Atomic on the same filesystem mount.
	Rename(ctx context.Context, oldPath, newPath string) error
}
