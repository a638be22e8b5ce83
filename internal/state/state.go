// Package state persists batch progress to a versioned JSON file so an
// interrupted run can be resumed. Every mutation rewrites the whole file
// through a temp-file + atomic-rename sequence; a crash mid-write never
// corrupts the previous valid state.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/backmassage/transmux/internal/logging"
)

// SchemaVersion is checked on load; files with a different version are
// treated as absent.
const SchemaVersion = 1

// Mark records why a file reached a terminal status and when.
type Mark struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchState is the persisted wire format. Pending preserves scheduling
// order; the terminal buckets are sets keyed by source path.
type BatchState struct {
	Version   int             `json:"version"`
	BatchID   string          `json:"batch_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Pending   []string        `json:"pending"`
	Completed map[string]bool `json:"completed"`
	Failed    map[string]bool `json:"failed"`
	Skipped   map[string]bool `json:"skipped"`
	Metadata  map[string]Mark `json:"metadata"`
}

// SaveError indicates batch state could not be persisted. It is fatal to
// the run: continuing would let completed work go untracked.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save batch state %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Store manages the batch state file. All mutating methods are serialized
// internally; workers' completions may land concurrently.
type Store struct {
	mu    sync.Mutex
	path  string
	log   *logging.Logger
	state *BatchState
}

// NewStore returns a Store for the given file path. No I/O happens until
// Load or Begin.
func NewStore(path string, log *logging.Logger) *Store {
	return &Store{path: path, log: log}
}

func newBatchState() *BatchState {
	now := time.Now().UTC()
	return &BatchState{
		Version:   SchemaVersion,
		BatchID:   uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Completed: make(map[string]bool),
		Failed:    make(map[string]bool),
		Skipped:   make(map[string]bool),
		Metadata:  make(map[string]Mark),
	}
}

// Load reads the last persisted state. Absent, unreadable, unparsable, or
// version-mismatched files all degrade to nil (logged, never fatal):
// resume correctness only requires that a valid state is never misread.
func (s *Store) Load() *BatchState {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("Cannot read state file %s: %v", s.path, err)
		}
		return nil
	}

	var st BatchState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("Invalid state file %s, ignoring: %v", s.path, err)
		return nil
	}
	if st.Version != SchemaVersion {
		s.log.Warn("State file %s has schema version %d, want %d; ignoring",
			s.path, st.Version, SchemaVersion)
		return nil
	}
	if st.Completed == nil {
		st.Completed = make(map[string]bool)
	}
	if st.Failed == nil {
		st.Failed = make(map[string]bool)
	}
	if st.Skipped == nil {
		st.Skipped = make(map[string]bool)
	}
	if st.Metadata == nil {
		st.Metadata = make(map[string]Mark)
	}

	s.state = &st
	return s.snapshotLocked()
}

// Begin starts a fresh batch with the given pending paths (in scheduling
// order) and persists it immediately, so a crash before the first job
// completes still leaves a resumable state.
func (s *Store) Begin(pending []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := newBatchState()
	st.Pending = append([]string(nil), pending...)
	s.state = st
	return s.saveLocked()
}

// MarkCompleted moves path from pending to completed and persists.
// Marking an already-terminal path again is harmless.
func (s *Store) MarkCompleted(path string) error {
	return s.mark(path, func(st *BatchState) {
		st.Completed[path] = true
		delete(st.Failed, path)
	})
}

// MarkFailed moves path from pending to failed, recording the reason with
// a timestamp, and persists.
func (s *Store) MarkFailed(path, reason string) error {
	return s.mark(path, func(st *BatchState) {
		st.Failed[path] = true
		st.Metadata[path] = Mark{Reason: reason, Timestamp: time.Now().UTC()}
	})
}

// MarkSkipped moves path from pending to skipped, recording the reason
// with a timestamp, and persists.
func (s *Store) MarkSkipped(path, reason string) error {
	return s.mark(path, func(st *BatchState) {
		st.Skipped[path] = true
		st.Metadata[path] = Mark{Reason: reason, Timestamp: time.Now().UTC()}
	})
}

func (s *Store) mark(path string, apply func(*BatchState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		s.state = newBatchState()
	}
	st := s.state
	for i, p := range st.Pending {
		if p == path {
			st.Pending = append(st.Pending[:i], st.Pending[i+1:]...)
			break
		}
	}
	apply(st)
	return s.saveLocked()
}

// Snapshot returns a deep copy of the current in-memory state, or nil when
// no batch has been started or loaded.
func (s *Store) Snapshot() *BatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *BatchState {
	if s.state == nil {
		return nil
	}
	cp := *s.state
	cp.Pending = append([]string(nil), s.state.Pending...)
	cp.Completed = copySet(s.state.Completed)
	cp.Failed = copySet(s.state.Failed)
	cp.Skipped = copySet(s.state.Skipped)
	cp.Metadata = make(map[string]Mark, len(s.state.Metadata))
	for k, v := range s.state.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// Clear removes the state file and resets in-memory state. Used after a
// batch fully drains.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &SaveError{Path: s.path, Err: err}
	}
	return nil
}

// saveLocked writes the full state atomically: marshal, write to a temp
// file in the same directory, fsync, then rename over the target.
func (s *Store) saveLocked() error {
	st := s.state
	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &SaveError{Path: s.path, Err: err}
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &SaveError{Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".state-tmp-*")
	if err != nil {
		return &SaveError{Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &SaveError{Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &SaveError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &SaveError{Path: s.path, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return &SaveError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return &SaveError{Path: s.path, Err: err}
	}
	return nil
}

func copySet(m map[string]bool) map[string]bool {
	cp := make(map[string]bool, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
