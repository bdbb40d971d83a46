// Package fsutil provides the small filesystem primitives shared by the
// config layer and the telemetry subsystem, most importantly atomic file
// replacement. A file written through WriteAtomic is never observable in a
// partially written state: readers see either the old content or the new.
package fsutil

import (
	"os"
	"path/filepath"
)

// EnsureDir creates dir and any missing parents. It is a no-op when the
// directory already exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// WriteAtomic writes data to path by staging it in a temporary file in the
// same directory, syncing it to disk, and renaming it into place. The rename
// is atomic on POSIX filesystems, so concurrent readers never observe a
// torn write. The temp file is removed on any failure.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
