package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"fileflow/internal/metrics"
	"fileflow/internal/storage"
	"fileflow/internal/task"
)

const (
	DefaultMaxFileSize int64 = 50 << 20
	DefaultMaxFiles          = 50
	genericContentType       = "application/octet-stream"
)

// DefaultAllowedTypes are the MIME types accepted when none are configured.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/zip",
	"application/x-zip-compressed",
}

// Upload is one file of an incoming batch.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type Registry interface {
	CreateTaskWithFiles(fields task.NewTask, attach func(taskID string) ([]task.NewFile, error)) (task.Task, []task.UploadedFile, error)
	UpdateTask(taskID string, upd task.TaskUpdate) (task.Task, bool)
}

// Dispatcher hands a freshly created task to background processing without blocking.
type Dispatcher interface {
	Start(taskID string, files []task.UploadedFile) error
}

type Options struct {
	MaxFileSize  int64
	MaxFiles     int
	AllowedTypes []string
}

type Service struct {
	registry    Registry
	store       storage.TaskStore
	dispatcher  Dispatcher
	maxFileSize int64
	maxFiles    int
	allowed     map[string]struct{}
}

func NewService(registry Registry, store storage.TaskStore, dispatcher Dispatcher, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Service{
		registry:    registry,
		store:       store,
		dispatcher:  dispatcher,
		maxFileSize: opts.MaxFileSize,
		maxFiles:    opts.MaxFiles,
		allowed:     allowed,
	}
}

// MaxFiles is the largest accepted batch.
func (s *Service) MaxFiles() int { return s.maxFiles }

// MaxFileSize is the largest accepted file in bytes.
func (s *Service) MaxFileSize() int64 { return s.maxFileSize }

type prepared struct {
	upload      Upload
	name        string
	contentType string
}

// Ingest validates the batch, writes it under a new task directory and registers the task with its files.
// Nothing is registered unless every file was written. Processing is started in the background.
func (s *Service) Ingest(ctx context.Context, uploads []Upload) (task.Task, error) {
	batch, err := s.validate(uploads)
	if err != nil {
		return task.Task{}, err
	}

	var written int64
	created, files, err := s.registry.CreateTaskWithFiles(task.NewTask{
		Status:           task.StatusPending,
		FileCount:        len(batch),
		OriginalFileName: batch[0].name,
	}, func(taskID string) ([]task.NewFile, error) {
		newFiles, n, err := s.persist(ctx, taskID, batch)
		if err != nil {
			if rmErr := s.store.RemoveTask(ctx, taskID); rmErr != nil {
				log.Warn().Str("task_id", taskID).Err(rmErr).Msg("cleanup of partial upload failed")
			}
			return nil, err
		}
		written = n
		return newFiles, nil
	})
	if err != nil {
		metrics.UploadsRejected.WithLabelValues("io").Inc()
		log.Error().Str("stage", "ingest").Err(err).Msg("upload failed")
		return task.Task{}, ErrIngestionFailed.Wrap(err)
	}

	metrics.TasksCreated.Inc()
	metrics.UploadBytes.Add(float64(written))
	log.Info().Str("task_id", created.ID).Int("files", len(files)).Int64("bytes", written).Msg("task created")

	if err := s.dispatcher.Start(created.ID, files); err != nil {
		msg := "failed to start processing: " + err.Error()
		s.registry.UpdateTask(created.ID, task.TaskUpdate{Status: task.Ptr(task.StatusFailed), Error: &msg})
		log.Error().Str("task_id", created.ID).Err(err).Msg("dispatch failed")
	}
	return created, nil
}

func (s *Service) validate(uploads []Upload) ([]prepared, error) {
	if len(uploads) == 0 {
		metrics.UploadsRejected.WithLabelValues("empty").Inc()
		return nil, ErrNoFilesProvided
	}
	if len(uploads) > s.maxFiles {
		metrics.UploadsRejected.WithLabelValues("too_many").Inc()
		return nil, ErrTooManyFiles.Wrap(fmt.Errorf("%d files, limit %d", len(uploads), s.maxFiles))
	}
	batch := make([]prepared, 0, len(uploads))
	for i, u := range uploads {
		name := cleanName(u.Name, i)
		if u.Size > s.maxFileSize {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			return nil, ErrFileTooLarge.Wrap(fmt.Errorf("%s is %d bytes, limit %d", name, u.Size, s.maxFileSize))
		}
		contentType, err := s.resolveType(u)
		if err != nil {
			metrics.UploadsRejected.WithLabelValues("io").Inc()
			return nil, ErrIngestionFailed.Wrap(err)
		}
		if _, ok := s.allowed[contentType]; !ok {
			metrics.UploadsRejected.WithLabelValues("type").Inc()
			return nil, ErrInvalidFileType.Wrap(fmt.Errorf("%s has type %q", name, contentType))
		}
		batch = append(batch, prepared{upload: u, name: name, contentType: contentType})
	}
	return batch, nil
}

// resolveType trusts the declared type and sniffs the content only when the client sent none.
func (s *Service) resolveType(u Upload) (string, error) {
	declared := normalizeType(u.ContentType)
	if declared != "" && declared != genericContentType {
		return declared, nil
	}
	if u.Open == nil {
		return declared, nil
	}
	rc, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", u.Name, err)
	}
	defer func() { _ = rc.Close() }()
	detected, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", u.Name, err)
	}
	return normalizeType(detected.String()), nil
}

func (s *Service) persist(ctx context.Context, taskID string, batch []prepared) ([]task.NewFile, int64, error) {
	if _, err := s.store.EnsureTaskDir(ctx, taskID); err != nil {
		return nil, 0, err //nolint:wrapcheck
	}
	newFiles := make([]task.NewFile, 0, len(batch))
	var total int64
	for _, p := range batch {
		entry, err := s.writeOne(ctx, taskID, p)
		if err != nil {
			return nil, 0, err
		}
		total += entry.Size
		newFiles = append(newFiles, task.NewFile{
			FileName: p.name,
			FileType: p.contentType,
			FileSize: entry.Size,
			FilePath: entry.Path,
			Status:   task.FilePending,
		})
	}
	return newFiles, total, nil
}

func (s *Service) writeOne(ctx context.Context, taskID string, p prepared) (storage.Entry, error) {
	if p.upload.Open == nil {
		return storage.Entry{}, fmt.Errorf("no content for %s", p.name)
	}
	rc, err := p.upload.Open()
	if err != nil {
		return storage.Entry{}, fmt.Errorf("open %s: %w", p.name, err)
	}
	defer func() { _ = rc.Close() }()
	entry, err := s.store.Put(ctx, taskID, p.name, rc)
	if err != nil {
		return storage.Entry{}, err //nolint:wrapcheck
	}
	return entry, nil
}

func normalizeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}

// cleanName keeps only the base name of a client-supplied path, falling back to an index-based name.
func cleanName(raw string, index int) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/"))
	if base == "/" || base == "." || base == ".." || base == "" {
		return fmt.Sprintf("file-%d", index+1)
	}
	return base
}
