package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// CopyAtomic writes data provided by the reader to the destination file atomically.
// It returns the number of bytes written.
func CopyAtomic(filename string, reader io.Reader) (int64, error) {
	return CopyAtomicVia(filename, filepath.Dir(filename), reader)
}

// CopyAtomicVia is CopyAtomic with the temp file staged in stagingDir.
// stagingDir must be on the same filesystem as filename.
func CopyAtomicVia(filename, stagingDir string, reader io.Reader) (int64, error) {
	if err := EnsureDir(filepath.Dir(filename)); err != nil {
		return 0, err
	}
	if err := EnsureDir(stagingDir); err != nil {
		return 0, err
	}
	tempFile, err := os.CreateTemp(stagingDir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	written, err := io.Copy(tempFile, reader)
	if err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("copy to temp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close temp: %w", err)
	}
	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(filename); err == nil {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("rename temp: %w", err)
	}
	return written, nil
}

// RemoveDir deletes a directory tree. A missing directory is not an error.
func RemoveDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("remove dir: %w", err)
	}
	return nil
}
