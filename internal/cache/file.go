// Package cache provides a single-slot, TTL-bounded cache persisted to a JSON
// file so a value survives process restarts.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 60 * time.Second

// Entry is the cached value. Field names match the on-disk format.
type Entry struct {
	Payload          string `json:"data"`
	DisplayTimestamp string `json:"timestamp"`
	// CreatedAt is epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// Created returns CreatedAt as a time.Time.
func (e Entry) Created() time.Time { return time.UnixMilli(e.CreatedAt) }

// File is a one-entry cache backed by a file. Writes are serialized and
// land via rename, so readers see either the old or the new entry.
type File struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// Option configures a File.
type Option func(*File)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(f *File) { f.now = now }
}

// New returns a File cache at path. A non-positive ttl means DefaultTTL.
func New(path string, ttl time.Duration, opts ...Option) *File {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	f := &File{path: path, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// TTL returns the freshness window.
func (f *File) TTL() time.Duration { return f.ttl }

// EnsureDir creates the directory holding the backing file.
func (f *File) EnsureDir() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

// Read returns the entry if it is fresh. A missing file, unparsable content
// or an expired entry all yield (nil, nil); only I/O failures are errors.
func (f *File) Read() (*Entry, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		log.WithError(err).WithField("path", f.path).Warn("ignoring unparsable cache file")
		return nil, nil
	}
	if f.now().UnixMilli()-e.CreatedAt >= f.ttl.Milliseconds() {
		return nil, nil
	}
	return &e, nil
}

// Write replaces the cached entry.
func (f *File) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.EnsureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}
