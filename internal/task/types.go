package task

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileProcessed FileStatus = "processed"
)

type Task struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	FileCount        int        `json:"fileCount"`
	ProcessedCount   int        `json:"processedCount"`
	OriginalFileName *string    `json:"originalFileName"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt"`
	Error            *string    `json:"error"`
}

type UploadedFile struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"taskId"`
	FileName  string     `json:"fileName"`
	FileType  string     `json:"fileType"`
	FileSize  int64      `json:"fileSize"`
	FilePath  string     `json:"filePath"`
	Status    FileStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NewTask holds the caller-provided fields of a task. Zero values fall back to defaults.
type NewTask struct {
	Status           Status
	Progress         int
	FileCount        int
	ProcessedCount   int
	OriginalFileName string
}

type NewFile struct {
	TaskID   string
	FileName string
	FileType string
	FileSize int64
	FilePath string
	Status   FileStatus
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Status         *Status
	Progress       *int
	ProcessedCount *int
	CompletedAt    *time.Time
	Error          *string
}

type FileUpdate struct {
	Status *FileStatus
}

func (u TaskUpdate) apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.ProcessedCount != nil {
		t.ProcessedCount = *u.ProcessedCount
	}
	if u.CompletedAt != nil {
		completedAt := *u.CompletedAt
		t.CompletedAt = &completedAt
	}
	if u.Error != nil {
		msg := *u.Error
		t.Error = &msg
	}
}

func (u FileUpdate) apply(f *UploadedFile) {
	if u.Status != nil {
		f.Status = *u.Status
	}
}

// Ptr returns a pointer to v, for building partial updates.
func Ptr[T any](v T) *T { return &v }

// clone copies a task so callers never share nullable fields with the stored record.
func (t Task) clone() Task {
	if t.OriginalFileName != nil {
		name := *t.OriginalFileName
		t.OriginalFileName = &name
	}
	if t.CompletedAt != nil {
		completedAt := *t.CompletedAt
		t.CompletedAt = &completedAt
	}
	if t.Error != nil {
		msg := *t.Error
		t.Error = &msg
	}
	return t
}
