package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry is the in-memory owner of tasks and their uploaded files.
// Every read returns a copy; every mutation happens under the registry lock,
// so a merge is never interleaved with another write to the same record.
type Registry struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	taskOrder []string
	files     map[string]*UploadedFile
	fileOrder []string
	now       func() time.Time
	newID     func() string
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		files: make(map[string]*UploadedFile),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// CreateTask stores a new task with a fresh id and creation time.
func (r *Registry) CreateTask(fields NewTask) Task {
	created := r.buildTask(r.newID(), fields)

	r.mu.Lock()
	r.insertTaskLocked(created)
	r.mu.Unlock()

	log.Debug().Str("task_id", created.ID).Int("file_count", created.FileCount).Msg("task registered")
	return created.clone()
}

// CreateTaskWithFiles assigns a task id, runs attach with it outside the lock and,
// only if attach succeeds, registers the task together with the returned files.
// Readers never observe the task without its files.
func (r *Registry) CreateTaskWithFiles(fields NewTask, attach func(taskID string) ([]NewFile, error)) (Task, []UploadedFile, error) {
	taskID := r.newID()
	newFiles, err := attach(taskID)
	if err != nil {
		return Task{}, nil, err
	}

	created := r.buildTask(taskID, fields)
	files := make([]*UploadedFile, 0, len(newFiles))
	for _, nf := range newFiles {
		nf.TaskID = taskID
		files = append(files, r.buildFile(nf))
	}

	r.mu.Lock()
	r.insertTaskLocked(created)
	for _, f := range files {
		r.insertFileLocked(f)
	}
	r.mu.Unlock()

	out := make([]UploadedFile, 0, len(files))
	for _, f := range files {
		out = append(out, *f)
	}
	log.Debug().Str("task_id", taskID).Int("file_count", len(out)).Msg("task registered with files")
	return created.clone(), out, nil
}

// GetTask returns a task by ID
func (r *Registry) GetTask(taskID string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return found.clone(), true
}

// ListTasks returns every task in insertion order.
func (r *Registry) ListTasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.taskOrder))
	for _, id := range r.taskOrder {
		out = append(out, r.tasks[id].clone())
	}
	return out
}

// UpdateTask merges the non-nil fields of upd into the stored task.
// It returns false when the task does not exist.
func (r *Registry) UpdateTask(taskID string, upd TaskUpdate) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	upd.apply(stored)
	return stored.clone(), true
}

// CreateFile stores a file record for an existing task.
func (r *Registry) CreateFile(fields NewFile) (UploadedFile, error) {
	if fields.TaskID == "" {
		return UploadedFile{}, ErrMissingTaskID
	}
	created := r.buildFile(fields)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[fields.TaskID]; !ok {
		return UploadedFile{}, fmt.Errorf("create file %q: %w", fields.FileName, ErrTaskNotFound)
	}
	r.insertFileLocked(created)
	return *created, nil
}

// FilesByTask returns the files of a task in insertion order.
func (r *Registry) FilesByTask(taskID string) []UploadedFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []UploadedFile
	for _, id := range r.fileOrder {
		if f := r.files[id]; f.TaskID == taskID {
			out = append(out, *f)
		}
	}
	return out
}

func (r *Registry) UpdateFile(fileID string, upd FileUpdate) (UploadedFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.files[fileID]
	if !ok {
		return UploadedFile{}, false
	}
	upd.apply(stored)
	return *stored, true
}

// DeleteTask drops a task and all of its files. Only retention calls this.
func (r *Registry) DeleteTask(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		return false
	}
	delete(r.tasks, taskID)
	r.taskOrder = removeID(r.taskOrder, taskID)

	kept := r.fileOrder[:0]
	for _, id := range r.fileOrder {
		if r.files[id].TaskID == taskID {
			delete(r.files, id)
			continue
		}
		kept = append(kept, id)
	}
	r.fileOrder = kept
	return true
}

func (r *Registry) buildTask(taskID string, fields NewTask) *Task {
	created := &Task{
		ID:             taskID,
		Status:         fields.Status,
		Progress:       fields.Progress,
		FileCount:      fields.FileCount,
		ProcessedCount: fields.ProcessedCount,
		CreatedAt:      r.now(),
	}
	if created.Status == "" {
		created.Status = StatusPending
	}
	if fields.OriginalFileName != "" {
		name := fields.OriginalFileName
		created.OriginalFileName = &name
	}
	return created
}

func (r *Registry) buildFile(fields NewFile) *UploadedFile {
	created := &UploadedFile{
		ID:        r.newID(),
		TaskID:    fields.TaskID,
		FileName:  fields.FileName,
		FileType:  fields.FileType,
		FileSize:  fields.FileSize,
		FilePath:  fields.FilePath,
		Status:    fields.Status,
		CreatedAt: r.now(),
	}
	if created.Status == "" {
		created.Status = FilePending
	}
	return created
}

func (r *Registry) insertTaskLocked(t *Task) {
	r.tasks[t.ID] = t
	r.taskOrder = append(r.taskOrder, t.ID)
}

func (r *Registry) insertFileLocked(f *UploadedFile) {
	r.files[f.ID] = f
	r.fileOrder = append(r.fileOrder, f.ID)
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
