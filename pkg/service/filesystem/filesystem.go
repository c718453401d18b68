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

package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/umbra-observatory/umbra-core/pkg/metrics"
)

// DefaultService runs each operation in its own goroutine and races it
// against the context. The os call itself cannot be interrupted, but the
// caller gets its budget back; the orphaned goroutine finishes and its
// buffered channel send never blocks.
type DefaultService struct{}

// NewDefaultService returns a Service backed by the local filesystem.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

func (s *DefaultService) recordOp(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	metrics.RecordFilesystemOp(op, status, time.Since(start))
}

// checkContext checks if the context is done before starting an operation.
func (s *DefaultService) checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.MkdirAll(path, 0o755)
	}()

	select {
	case err := <-errCh:
		s.recordOp("EnsureDirectory", start, err)
		if err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("EnsureDirectory", start, ctx.Err())

		return ctx.Err()
	}
}

// ReadFile reads a file's contents.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	type result struct {
		err  error
		data []byte
	}

	resCh := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(path)
		resCh <- result{err: err, data: data}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadFile", start, res.err)
		if res.err != nil {
			return nil, res.err
		}

		return res.data, nil
	case <-ctx.Done():
		s.recordOp("ReadFile", start, ctx.Err())

		return nil, ctx.Err()
	}
}

// WriteFile writes data to a file.
func (s *DefaultService) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.WriteFile(path, data, perm)
	}()

	select {
	case err := <-errCh:
		s.recordOp("WriteFile", start, err)
		if err != nil {
			return fmt.Errorf("failed to write file %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("WriteFile", start, ctx.Err())

		return ctx.Err()
	}
}

// PathExists checks if a path exists. Symlinks are not followed, so a
// dangling link still reports true.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return false, err
	}

	type result struct {
		err    error
		exists bool
	}

	resCh := make(chan result, 1)

	go func() {
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			resCh <- result{err: nil, exists: false}

			return
		}

		if err != nil {
			resCh <- result{err: fmt.Errorf("failed to check if path exists: %w", err), exists: false}

			return
		}

		resCh <- result{err: nil, exists: true}
	}()

	select {
	case res := <-resCh:
		s.recordOp("PathExists", start, res.err)
		if res.err != nil {
			return false, res.err
		}

		return res.exists, nil
	case <-ctx.Done():
		s.recordOp("PathExists", start, ctx.Err())

		return false, ctx.Err()
	}
}

// Remove removes a file or empty directory.
func (s *DefaultService) Remove(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Remove(path)
	}()

	select {
	case err := <-errCh:
		s.recordOp("Remove", start, err)

		return err
	case <-ctx.Done():
		s.recordOp("Remove", start, ctx.Err())

		return ctx.Err()
	}
}

// RemoveAll removes a directory and all its contents.
func (s *DefaultService) RemoveAll(ctx context.Context, path string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.RemoveAll(path)
	}()

	select {
	case err := <-errCh:
		s.recordOp("RemoveAll", start, err)
		if err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", path, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("RemoveAll", start, ctx.Err())

		return ctx.Err()
	}
}

// Stat returns file info.
func (s *DefaultService) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	type result struct {
		info os.FileInfo
		err  error
	}

	resCh := make(chan result, 1)

	go func() {
		info, err := os.Stat(path)
		resCh <- result{info: info, err: err}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Stat", start, res.err)
		if res.err != nil {
			return nil, fmt.Errorf("failed to get file info: %w", res.err)
		}

		return res.info, nil
	case <-ctx.Done():
		s.recordOp("Stat", start, ctx.Err())

		return nil, ctx.Err()
	}
}

// ReadDir reads a directory, returning all its directory entries.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	type result struct {
		err     error
		entries []os.DirEntry
	}

	resCh := make(chan result, 1)

	go func() {
		entries, err := os.ReadDir(path)
		resCh <- result{err: err, entries: entries}
	}()

	select {
	case res := <-resCh:
		s.recordOp("ReadDir", start, res.err)
		if res.err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", path, res.err)
		}

		return res.entries, nil
	case <-ctx.Done():
		s.recordOp("ReadDir", start, ctx.Err())

		return nil, ctx.Err()
	}
}

// Glob returns the names matching pattern.
func (s *DefaultService) Glob(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return nil, err
	}

	type result struct {
		err     error
		matches []string
	}

	resCh := make(chan result, 1)

	go func() {
		matches, err := filepath.Glob(pattern)
		resCh <- result{err: err, matches: matches}
	}()

	select {
	case res := <-resCh:
		s.recordOp("Glob", start, res.err)
		if res.err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, res.err)
		}

		return res.matches, nil
	case <-ctx.Done():
		s.recordOp("Glob", start, ctx.Err())

		return nil, ctx.Err()
	}
}

// Rename renames (moves) a file or directory from oldPath to newPath.
func (s *DefaultService) Rename(ctx context.Context, oldPath, newPath string) error {
	start := time.Now()
	if err := s.checkContext(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- os.Rename(oldPath, newPath)
	}()

	select {
	case err := <-errCh:
		s.recordOp("Rename", start, err)
		if err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", oldPath, newPath, err)
		}

		return nil
	case <-ctx.Done():
		s.recordOp("Rename", start, ctx.Err())

		return ctx.Err()
	}
}
