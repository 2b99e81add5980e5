package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"fileflow/internal/apperr"
	"fileflow/internal/archive"
	"fileflow/internal/ingest"
	"fileflow/internal/metrics"
	"fileflow/internal/task"
)

const (
	uploadField = "files"
	// multipart framing on top of the file bytes
	uploadOverheadBytes = 1 << 20
)

// Uploader accepts a batch of files and returns the created task.
type Uploader interface {
	Ingest(ctx context.Context, uploads []ingest.Upload) (task.Task, error)
	MaxFiles() int
	MaxFileSize() int64
}

type TaskReader interface {
	GetTask(taskID string) (task.Task, bool)
	ListTasks() []task.Task
	FilesByTask(taskID string) []task.UploadedFile
}

type ArchiveBuilder interface {
	Prepare(ctx context.Context, taskID string) (*archive.Download, error)
}

type API struct {
	uploader Uploader
	tasks    TaskReader
	archives ArchiveBuilder
}

func NewAPI(uploader Uploader, tasks TaskReader, archives ArchiveBuilder) *API {
	return &API{uploader: uploader, tasks: tasks, archives: archives}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/upload", a.Upload)
		api.GET("/status/:taskId", a.GetStatus)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:taskId/files", a.ListFiles)
		api.GET("/download/:taskId", a.Download)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Upload stores a multipart batch under field "files" and starts background processing
func (a *API) Upload(c *gin.Context) {
	limit := int64(a.uploader.MaxFiles())*a.uploader.MaxFileSize() + uploadOverheadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			log.Warn().Int64("limit", tooBig.Limit).Msg("upload body exceeds limit")
			respondError(c, ingest.ErrFileTooLarge, "Upload failed")
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			respondError(c, ingest.ErrNoFilesProvided, "Upload failed")
		default:
			log.Warn().Err(err).Msg("invalid multipart upload")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload"})
		}
		return
	}

	headers := form.File[uploadField]
	uploads := make([]ingest.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, toUpload(fh))
	}

	created, err := a.uploader.Ingest(c.Request.Context(), uploads)
	if err != nil {
		log.Warn().Int("files", len(uploads)).Err(err).Msg("upload rejected")
		respondError(c, err, "Upload failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": created.ID})
}

// GetStatus returns the task record
func (a *API) GetStatus(c *gin.Context) {
	id := c.Param("taskId")
	if found, ok := a.tasks.GetTask(id); ok {
		c.JSON(http.StatusOK, found)
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on status")
	respondError(c, task.ErrTaskNotFound, "Failed to get status")
}

// ListTasks returns every task in creation order
func (a *API) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, a.tasks.ListTasks())
}

func (a *API) ListFiles(c *gin.Context) {
	id := c.Param("taskId")
	if _, ok := a.tasks.GetTask(id); !ok {
		respondError(c, task.ErrTaskNotFound, "Failed to get files")
		return
	}
	files := a.tasks.FilesByTask(id)
	if files == nil {
		files = []task.UploadedFile{}
	}
	c.JSON(http.StatusOK, files)
}

// Download streams the processed result: the file itself for one upload, a ZIP otherwise
func (a *API) Download(c *gin.Context) {
	id := c.Param("taskId")
	download, err := a.archives.Prepare(c.Request.Context(), id)
	if err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("download refused")
		respondError(c, err, "Download failed")
		return
	}
	defer func() { _ = download.Close() }()

	sink := &attachmentWriter{c: c, download: download}
	written, err := download.Stream(c.Request.Context(), sink)
	if err != nil {
		metrics.ArchiveFailures.Inc()
		if !sink.started {
			log.Error().Str("task_id", id).Str("stage", "archive").Err(err).Msg("download failed before streaming")
			respondError(c, err, "Download failed")
			return
		}
		log.Error().Str("task_id", id).Str("stage", "archive").Int64("bytes", written).Err(err).Msg("download aborted mid-stream")
		abortConnection(c)
		return
	}
	sink.start()

	kind := "single"
	if download.IsArchive() {
		kind = "zip"
	}
	metrics.Downloads.WithLabelValues(kind).Inc()
	log.Info().Str("task_id", id).Str("kind", kind).Int("entries", download.Entries()).Int64("bytes", written).Msg("download completed")
}

func toUpload(fh *multipart.FileHeader) ingest.Upload {
	return ingest.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open() //nolint:wrapcheck
		},
	}
}

// respondError writes {"error": message} with the status of the error's code.
func respondError(c *gin.Context, err error, fallback string) {
	if appErr, ok := apperr.From(err); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
		return
	}
	log.Error().Err(err).Msg("unclassified error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}

// attachmentWriter commits the attachment headers on the first byte, so a failure
// before any output can still become a JSON error.
type attachmentWriter struct {
	c        *gin.Context
	download *archive.Download
	started  bool
}

func (w *attachmentWriter) start() {
	if w.started {
		return
	}
	w.started = true
	header := w.c.Writer.Header()
	header.Set("Content-Type", w.download.ContentType)
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": w.download.Filename}))
	if w.download.Size >= 0 {
		header.Set("Content-Length", strconv.FormatInt(w.download.Size, 10))
	}
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}

func (w *attachmentWriter) Write(p []byte) (int, error) {
	w.start()
	return w.c.Writer.Write(p) //nolint:wrapcheck
}

// abortConnection drops the connection once headers are out; net/http closes it without a trailer.
func abortConnection(c *gin.Context) {
	c.Abort()
	panic(http.ErrAbortHandler)
}
