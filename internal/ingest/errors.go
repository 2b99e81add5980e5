package ingest

import "fileflow/internal/apperr"

var (
	ErrNoFilesProvided = apperr.New(apperr.CodeValidation, "No files uploaded")
	ErrInvalidFileType = apperr.New(apperr.CodeValidation, "Invalid file type. Only images, PDF, and ZIP files are allowed.")
	ErrFileTooLarge    = apperr.New(apperr.CodeValidation, "File too large")
	ErrTooManyFiles    = apperr.New(apperr.CodeValidation, "Too many files")
	ErrIngestionFailed = apperr.New(apperr.CodeInternal, "Upload failed")
)
