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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"context"
)

// MockFileSystem implements Service over an in-memory file map. Individual
// operations can be overridden per test through the *Func fields; everything
// else behaves like a real (flat) filesystem.
type MockFileSystem struct {
	files map[string][]byte
	mtime map[string]time.Time
	dirs  map[string]bool

	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc      func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	RemoveFunc          func(ctx context.Context, path string) error
	RemoveAllFunc       func(ctx context.Context, path string) error
	StatFunc            func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc         func(ctx context.Context, path string) ([]os.DirEntry, error)
	GlobFunc            func(ctx context.Context, pattern string) ([]string, error)
	RenameFunc          func(ctx context.Context, oldPath, newPath string) error

	mu sync.Mutex
}

// NewMockFileSystem returns an empty in-memory filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files: make(map[string][]byte),
		mtime: make(map[string]time.Time),
		dirs:  make(map[string]bool),
	}
}

// WithReadFileFunc sets a custom implementation for ReadFile.
func (m *MockFileSystem) WithReadFileFunc(fn func(ctx context.Context, path string) ([]byte, error)) *MockFileSystem {
	m.ReadFileFunc = fn

	return m
}

// WithWriteFileFunc sets a custom implementation for WriteFile.
func (m *MockFileSystem) WithWriteFileFunc(fn func(ctx context.Context, path string, data []byte, perm os.FileMode) error) *MockFileSystem {
	m.WriteFileFunc = fn

	return m
}

// WithPathExistsFunc sets a custom implementation for PathExists.
func (m *MockFileSystem) WithPathExistsFunc(fn func(ctx context.Context, path string) (bool, error)) *MockFileSystem {
	m.PathExistsFunc = fn

	return m
}

// WithEnsureDirectoryFunc sets a custom implementation for EnsureDirectory.
func (m *MockFileSystem) WithEnsureDirectoryFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.EnsureDirectoryFunc = fn

	return m
}

// WithRemoveFunc sets a custom implementation for Remove.
func (m *MockFileSystem) WithRemoveFunc(fn func(ctx context.Context, path string) error) *MockFileSystem {
	m.RemoveFunc = fn

	return m
}

// WithStatFunc sets a custom implementation for Stat.
func (m *MockFileSystem) WithStatFunc(fn func(ctx context.Context, path string) (os.FileInfo, error)) *MockFileSystem {
	m.StatFunc = fn

	return m
}

// WithReadDirFunc sets a custom implementation for ReadDir.
func (m *MockFileSystem) WithReadDirFunc(fn func(ctx context.Context, path string) ([]os.DirEntry, error)) *MockFileSystem {
	m.ReadDirFunc = fn

	return m
}

// Seed stores content under path without going through WriteFile.
func (m *MockFileSystem) Seed(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path] = append([]byte(nil), content...)
	m.mtime[path] = time.Now()
}

// Contents returns a copy of what is stored under path, and whether it
// exists.
func (m *MockFileSystem) Contents(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[path]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), data...), true
}

// Paths returns the sorted paths of all stored files.
func (m *MockFileSystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// EnsureDirectory creates a directory if it doesn't exist.
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}

	m.mu.Lock()
	m.dirs[path] = true
	m.mu.Unlock()

	return nil
}

// ReadFile reads a file's contents.
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	data, ok := m.Contents(path)
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}

	return data, nil
}

// WriteFile writes data to a file.
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}

	m.Seed(path, data)

	return nil
}

// PathExists checks if a path exists.
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; ok {
		return true, nil
	}

	return m.dirs[path], nil
}

// Remove removes a file.
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; !ok {
		if !m.dirs[path] {
			return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
		}

		delete(m.dirs, path)

		return nil
	}

	delete(m.files, path)
	delete(m.mtime, path)

	return nil
}

// RemoveAll removes a directory and everything under it.
func (m *MockFileSystem) RemoveAll(ctx context.Context, path string) error {
	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
			delete(m.mtime, p)
		}
	}

	for d := range m.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}

	return nil
}

// Stat returns file info.
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.files[path]; ok {
		return &memFileInfo{
			name:  filepath.Base(path),
			size:  int64(len(data)),
			mode:  0o644,
			mtime: m.mtime[path],
		}, nil
	}

	if m.dirs[path] {
		return &memFileInfo{name: filepath.Base(path), mode: 0o755 | os.ModeDir, dir: true}, nil
	}

	return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
}

// ReadDir lists the immediate children of path.
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	names := make(map[string]bool)

	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			rest := strings.TrimPrefix(p, prefix)
			names[strings.SplitN(rest, "/", 2)[0]] = true
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}

	sort.Strings(sorted)

	entries := make([]os.DirEntry, 0, len(sorted))
	for _, n := range sorted {
		full := prefix + n
		data := m.files[full]
		entries = append(entries, &memDirEntry{info: memFileInfo{
			name:  n,
			size:  int64(len(data)),
			mode:  0o644,
			mtime: m.mtime[full],
		}})
	}

	return entries, nil
}

// Glob returns the stored paths matching pattern.
func (m *MockFileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	if m.GlobFunc != nil {
		return m.GlobFunc(ctx, pattern)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []string

	for p := range m.files {
		ok, err := filepath.Match(pattern, p)
		if err != nil {
			return nil, err
		}

		if ok {
			matches = append(matches, p)
		}
	}

	sort.Strings(matches)

	return matches, nil
}

// Rename moves a file from oldPath to newPath.
func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[oldPath]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldPath, Err: os.ErrNotExist}
	}

	m.files[newPath] = data
	m.mtime[newPath] = m.mtime[oldPath]
	delete(m.files, oldPath)
	delete(m.mtime, oldPath)

	return nil
}

// memFileInfo is the os.FileInfo for in-memory entries.
type memFileInfo struct {
	mtime time.Time
	name  string
	size  int64
	mode  os.FileMode
	dir   bool
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *memFileInfo) ModTime() time.Time { return fi.mtime }
func (fi *memFileInfo) IsDir() bool        { return fi.dir }
func (fi *memFileInfo) Sys() interface{}   { return nil }

// memDirEntry is the os.DirEntry for in-memory entries.
type memDirEntry struct {
	info memFileInfo
}

func (e *memDirEntry) Name() string               { return e.info.name }
func (e *memDirEntry) IsDir() bool                { return e.info.dir }
func (e *memDirEntry) Type() fs.FileMode          { return e.info.mode.Type() }
func (e *memDirEntry) Info() (fs.FileInfo, error) { return &e.info, nil }
