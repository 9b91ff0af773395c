// Package securefile writes relay-owned state — the uploaded blob bytes
// stored by api/blobs — so that only the process owner can
// read them, and so a crash mid-write never leaves a half-written file at
// the final path.
package securefile

import (
	"os"
	"path/filepath"
	"runtime"
)

// MkdirAllOwnerOnly creates dir, and any missing parents, restricted to the
// owner (mode 0700). Permission bits aren't meaningful on Windows, so there
// the call only ensures the directory exists.
func MkdirAllOwnerOnly(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	// os.MkdirAll leaves an already-existing directory's mode untouched.
	return os.Chmod(dir, 0o700)
}

// WriteFileAtomic writes data to filename by writing a sibling temp file and
// renaming it into place, so readers never observe a partial write, and
// applies perm to the result even when filename already existed (unlike
// os.WriteFile, which only sets the mode on create).
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	renamed := false
	defer func() {
		_ = tmpFile.Close()
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	if runtime.GOOS != "windows" {
		if err := tmpFile.Chmod(perm); err != nil {
			return err
		}
	}
	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		// os.Rename refuses to overwrite an existing destination on Windows.
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmpPath, filename); err != nil {
		return err
	}
	renamed = true

	if runtime.GOOS != "windows" {
		// Rename can pick up the destination directory's umask; re-assert
		// the requested mode on the final path.
		return os.Chmod(filename, perm)
	}
	return nil
}
