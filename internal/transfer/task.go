// Package transfer rebuilds manifest files on disk. Downloader reconstructs
// one file chunk by chunk; Scheduler runs a bounded pool of them for every
// file of a set of manifests.
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
)

// TaskState represents the current state of a file task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"    // Waiting for a worker slot
	TaskActive    TaskState = "active"    // Reconstructing
	TaskCompleted TaskState = "completed" // All chunks present on disk
	TaskFailed    TaskState = "failed"    // File-scoped error
	TaskCancelled TaskState = "cancelled" // Stopped before all chunks were handled
)

// FileTask tracks the reconstruction of one manifest file.
// Thread-safe: use the provided methods to update state.
type FileTask struct {
	ID       string
	Manifest *manifest.Manifest
	File     *manifest.FileEntry

	mu          sync.RWMutex
	state       TaskState
	written     int64
	err         error
	startedAt   time.Time
	completedAt time.Time
}

// NewFileTask creates a task in TaskQueued state.
func NewFileTask(m *manifest.Manifest, f *manifest.FileEntry) *FileTask {
	return &FileTask{
		ID:       generateTaskID(),
		Manifest: m,
		File:     f,
		state:    TaskQueued,
	}
}

// State returns the current state.
func (t *FileTask) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState updates the state and its timestamps.
func (t *FileTask) SetState(state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
	if state == TaskActive && t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	if t.isTerminal() {
		t.completedAt = time.Now()
	}
}

// Finish records the outcome of a reconstruction.
func (t *FileTask) Finish(written int64, err error, state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = written
	t.err = err
	t.state = state
	t.completedAt = time.Now()
}

// Written returns the bytes fetched and written for this file.
func (t *FileTask) Written() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.written
}

// Err returns the file-scoped error, if any.
func (t *FileTask) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Duration returns the time spent active, or zero when not finished.
func (t *FileTask) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() || t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}

// IsTerminal returns true if the task is completed, failed or cancelled.
func (t *FileTask) IsTerminal() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isTerminal()
}

func (t *FileTask) isTerminal() bool {
	return t.state == TaskCompleted || t.state == TaskFailed || t.state == TaskCancelled
}

func (t *FileTask) String() string {
	return fmt.Sprintf("FileTask[id=%s depot=%d path=%s state=%s]",
		t.ID, t.Manifest.DepotID, t.File.Path(), t.State())
}

var taskCounter atomic.Uint64

func generateTaskID() string {
	return fmt.Sprintf("task-%d", taskCounter.Add(1))
}
