package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"fileflow/internal/storage"
	"fileflow/internal/task"
)

const (
	processedPrefix    = "processed_"
	zipContentType     = "application/zip"
	defaultContentType = "application/octet-stream"
)

type Registry interface {
	GetTask(taskID string) (task.Task, bool)
	FilesByTask(taskID string) []task.UploadedFile
}

// Builder turns the stored files of a completed task into a downloadable result.
type Builder struct {
	registry Registry
	store    storage.TaskStore
}

func NewBuilder(registry Registry, store storage.TaskStore) *Builder {
	return &Builder{registry: registry, store: store}
}

// Download is a result ready to be streamed. Single-file results hold an open file; call Close when done.
type Download struct {
	TaskID      string
	Filename    string
	ContentType string
	// Size is the exact length for single files and -1 for archives.
	Size int64

	single  *os.File
	entries []storage.Entry
}

// Prepare checks the task preconditions and enumerates its directory. No bytes are produced yet.
func (b *Builder) Prepare(ctx context.Context, taskID string) (*Download, error) {
	current, ok := b.registry.GetTask(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	if current.Status != task.StatusCompleted {
		return nil, ErrTaskNotReady.Wrap(fmt.Errorf("status %s", current.Status))
	}

	entries, err := b.store.List(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskDirNotFound) {
			return nil, ErrNoFilesAvailable.Wrap(err)
		}
		return nil, ErrArchiveFailed.Wrap(err)
	}
	if len(entries) == 0 {
		return nil, ErrNoFilesAvailable
	}

	if len(entries) == 1 {
		return b.prepareSingle(taskID, entries[0])
	}
	return &Download{
		TaskID:      taskID,
		Filename:    processedPrefix + taskID + ".zip",
		ContentType: zipContentType,
		Size:        -1,
		entries:     entries,
	}, nil
}

func (b *Builder) prepareSingle(taskID string, entry storage.Entry) (*Download, error) {
	f, err := os.Open(entry.Path) //nolint:gosec // path comes from the task directory listing
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoFilesAvailable.Wrap(err)
		}
		return nil, ErrArchiveFailed.Wrap(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ErrArchiveFailed.Wrap(err)
	}
	return &Download{
		TaskID:      taskID,
		Filename:    processedPrefix + entry.Name,
		ContentType: b.contentType(taskID, entry),
		Size:        info.Size(),
		single:      f,
	}, nil
}

// contentType prefers the type recorded at upload and sniffs the file otherwise.
func (b *Builder) contentType(taskID string, entry storage.Entry) string {
	for _, f := range b.registry.FilesByTask(taskID) {
		if f.FileName == entry.Name && f.FileType != "" {
			return f.FileType
		}
	}
	if detected, err := mimetype.DetectFile(entry.Path); err == nil {
		return detected.String()
	}
	return defaultContentType
}

// IsArchive reports whether the download is a multi-file ZIP.
func (d *Download) IsArchive() bool { return d.single == nil }

// Entries returns the number of files in the result.
func (d *Download) Entries() int {
	if d.single != nil {
		return 1
	}
	return len(d.entries)
}

// Stream writes the result to w and returns the number of bytes delivered.
func (d *Download) Stream(ctx context.Context, w io.Writer) (int64, error) {
	if d.single != nil {
		n, err := io.Copy(w, d.single)
		if err != nil {
			return n, ErrArchiveFailed.Wrap(err)
		}
		return n, nil
	}
	return d.streamZip(ctx, w)
}

func (d *Download) Close() error {
	if d.single == nil {
		return nil
	}
	return d.single.Close() //nolint:wrapcheck
}

// streamZip runs the archive producer and the sink copier as a pipeline so the archive is never
// materialised; a failure on either side tears down the other.
func (d *Download) streamZip(ctx context.Context, w io.Writer) (int64, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := writeZip(gctx, pw, d.TaskID, d.entries)
		_ = pw.CloseWithError(err)
		return err
	})

	var delivered int64
	g.Go(func() error {
		n, err := io.Copy(w, pr)
		delivered = n
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return delivered, ErrArchiveFailed.Wrap(err)
	}
	return delivered, nil
}

func writeZip(ctx context.Context, out io.Writer, taskID string, entries []storage.Entry) error {
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	added := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck
		}
		ok, err := addEntry(zw, entry)
		if err != nil {
			return fmt.Errorf("add %s: %w", entry.Name, err)
		}
		if !ok {
			log.Warn().Str("task_id", taskID).Str("file", entry.Name).Msg("file vanished before archiving, skipped")
			continue
		}
		added++
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	log.Debug().Str("task_id", taskID).Int("entries", added).Msg("archive stream finished")
	return nil
}

// addEntry copies one file into the archive. It returns false if the file no longer exists.
func addEntry(zw *zip.Writer, entry storage.Entry) (bool, error) {
	f, err := os.Open(entry.Path) //nolint:gosec // path comes from the task directory listing
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err //nolint:wrapcheck
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return false, err //nolint:wrapcheck
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err //nolint:wrapcheck
	}
	header.Name = processedPrefix + entry.Name
	header.Method = zip.Deflate

	entryWriter, err := zw.CreateHeader(header)
	if err != nil {
		return false, err //nolint:wrapcheck
	}
	if _, err := io.Copy(entryWriter, f); err != nil {
		return false, err //nolint:wrapcheck
	}
	return true, nil
}
