package worker

import (
	"errors"

	"fileflow/internal/task"
)

var (
	ErrAlreadyRunning = errors.New("task is already being processed")
	ErrNotPending     = errors.New("task is not pending")
	ErrTaskNotFound   = task.ErrTaskNotFound
	ErrNoFiles        = errors.New("no files to process")
	errInterrupted    = errors.New("processing interrupted")
)
