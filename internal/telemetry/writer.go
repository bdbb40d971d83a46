package telemetry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crafthq/craft/internal/fsutil"
)

// WriteError reports a disk-level failure persisting an event. Callers on
// the command path are expected to swallow it with a warning; tests and the
// daemon treat it truthfully.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing telemetry record %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer persists one event per uniquely named file inside a buffer
// directory. Files are written atomically so a concurrent reader (the relay
// loop) never observes a partial record. A disabled writer does nothing.
type Writer struct {
	id      string
	dir     string
	enabled bool
}

// NewWriter returns a writer namespacing its files with id. When enabled is
// false every Write is a no-op.
func NewWriter(id, dir string, enabled bool) *Writer {
	return &Writer{id: id, dir: dir, enabled: enabled}
}

// Write serializes the event and atomically creates a fresh file named
// {id}_{random}.json in the buffer directory, creating the directory first
// if needed. The random suffix makes concurrent CLI invocations collision
// free without any locking.
func (w *Writer) Write(ev Event) error {
	if !w.enabled {
		return nil
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return &WriteError{Path: w.dir, Err: err}
	}

	if err := fsutil.EnsureDir(w.dir); err != nil {
		return &WriteError{Path: w.dir, Err: err}
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", w.id, uuid.NewString()))
	if err := fsutil.WriteAtomic(path, b, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// IsRecordFile reports whether name is a buffered record belonging to the
// given daemon id. PID files, log files, and in-flight temp files do not
// match.
func IsRecordFile(name, id string) bool {
	return strings.HasPrefix(name, id+"_") && strings.HasSuffix(name, ".json")
}
