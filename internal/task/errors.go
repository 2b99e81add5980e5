package task

import (
	"errors"

	"fileflow/internal/apperr"
)

var (
	ErrMissingTaskID = errors.New("file record requires a task id")
	ErrTaskNotFound  = apperr.New(apperr.CodeNotFound, "Task not found")
)
