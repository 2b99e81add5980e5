package archive

import (
	"fileflow/internal/apperr"
	"fileflow/internal/task"
)

var (
	ErrTaskNotFound     = task.ErrTaskNotFound
	ErrTaskNotReady     = apperr.New(apperr.CodeNotReady, "Task not completed yet")
	ErrNoFilesAvailable = apperr.New(apperr.CodeNotFound, "No files found")
	ErrArchiveFailed    = apperr.New(apperr.CodeInternal, "Failed to create archive")
)
