package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	fileutil "fileflow/internal/file"
)

var (
	ErrTaskDirNotFound = errors.New("task directory not found")
	ErrInvalidName     = errors.New("invalid file name")
)

// Entry is one stored file of a task.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// TaskStore abstracts the on-disk layout of uploaded files: one directory per task id.
type TaskStore interface {
	TaskDir(taskID string) string
	EnsureTaskDir(ctx context.Context, taskID string) (string, error)
	Put(ctx context.Context, taskID, name string, r io.Reader) (Entry, error)
	List(ctx context.Context, taskID string) ([]Entry, error)
	RemoveTask(ctx context.Context, taskID string) error
}

// stagingDir holds in-flight writes. It sits beside the task directories so
// that no client file name can collide with a temp file.
const stagingDir = ".staging"

// diskStore implements TaskStore using the local filesystem under root.
type diskStore struct {
	root string
}

func NewDiskStore(root string) TaskStore { //nolint:ireturn
	if root == "" {
		root = "uploads"
	}
	return &diskStore{root: root}
}

func (s *diskStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

func (s *diskStore) EnsureTaskDir(ctx context.Context, taskID string) (string, error) { //nolint:revive // context reserved for future use
	dir := s.TaskDir(taskID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("ensure task dir: %w", err)
	}
	return dir, nil
}

// Put writes r under the task directory using name. An existing file with the same name is replaced.
func (s *diskStore) Put(ctx context.Context, taskID, name string, r io.Reader) (Entry, error) {
	if err := validName(name); err != nil {
		return Entry{}, err
	}
	dir, err := s.EnsureTaskDir(ctx, taskID)
	if err != nil {
		return Entry{}, err
	}
	dest := filepath.Join(dir, name)
	written, err := fileutil.CopyAtomicVia(dest, filepath.Join(s.root, stagingDir), r)
	if err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", name, err)
	}
	return Entry{Name: name, Path: dest, Size: written, ModTime: time.Now()}, nil
}

// List returns regular files of the task directory sorted by name.
func (s *diskStore) List(ctx context.Context, taskID string) ([]Entry, error) { //nolint:revive // context reserved for future use
	dirEntries, err := os.ReadDir(s.TaskDir(taskID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrTaskDirNotFound
		}
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// vanished between listing and stat
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(s.TaskDir(taskID), de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

func (s *diskStore) RemoveTask(ctx context.Context, taskID string) error { //nolint:revive // context reserved for future use
	if taskID == "" {
		return errors.New("empty task id")
	}
	return fileutil.RemoveDir(s.TaskDir(taskID)) //nolint:wrapcheck
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
