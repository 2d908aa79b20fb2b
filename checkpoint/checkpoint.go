// Package checkpoint records which buckets a merge run has committed, so an
// interrupted run can resume where it stopped.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

// State is the persisted form.
type State struct {
	RunID   string               `json:"run_id,omitempty"`
	Updated time.Time            `json:"updated"`
	Buckets map[string]time.Time `json:"buckets"`
}

// File is a checkpoint backed by a JSON file. Every change is written
// through, replacing the file atomically.
type File struct {
	mu    sync.Mutex
	path  string
	since time.Time
	state State
}

// Option configures a File.
type Option func(*File)

// WithSince makes buckets committed before t count as not done.
func WithSince(t time.Time) Option {
	return func(f *File) { f.since = t }
}

// WithRunID records the run id in the file.
func WithRunID(id string) Option {
	return func(f *File) { f.state.RunID = id }
}

// Open reads the checkpoint at path. A missing file is an empty checkpoint.
func Open(path string, opts ...Option) (*File, error) {
	f := &File{path: path}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &f.state); err != nil {
			return nil, fmt.Errorf("checkpoint: %s: %w", path, err)
		}
	}
	if f.state.Buckets == nil {
		f.state.Buckets = make(map[string]time.Time)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Done reports whether bucket was committed, not before the since time.
func (f *File) Done(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.state.Buckets[bucket]
	return ok && !t.Before(f.since)
}

// MarkDone records bucket as committed now and writes the file.
func (f *File) MarkDone(bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := time.Now()
	f.state.Buckets[bucket] = t
	f.state.Updated = t
	return f.write()
}

// Forget drops bucket so that the next merge run commits it again. Called
// whenever the stored results of a bucket are replaced.
func (f *File) Forget(bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.state.Buckets[bucket]; !ok {
		return nil
	}
	delete(f.state.Buckets, bucket)
	f.state.Updated = time.Now()
	return f.write()
}

// Buckets returns the committed buckets, sorted.
func (f *File) Buckets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]string, 0, len(f.state.Buckets))
	for k := range f.state.Buckets {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Reset forgets all buckets and removes the file.
func (f *File) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Buckets = make(map[string]time.Time)
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *File) write() error {
	b, err := json.Marshal(f.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".checkpoint-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
