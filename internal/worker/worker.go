package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"fileflow/internal/metrics"
	"fileflow/internal/task"
)

const (
	defaultPoolSize   = 16
	poolExpiry        = 30 * time.Second
	DefaultMinDelay   = time.Second
	DefaultMaxDelay   = 3 * time.Second
	completedProgress = 100
)

// Registry is the subset of task.Registry the worker mutates.
type Registry interface {
	GetTask(taskID string) (task.Task, bool)
	UpdateTask(taskID string, upd task.TaskUpdate) (task.Task, bool)
	UpdateFile(fileID string, upd task.FileUpdate) (task.UploadedFile, bool)
}

type Options struct {
	PoolSize int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Worker advances tasks from pending to a terminal status on a bounded goroutine pool.
// At most one run exists per task id.
type Worker struct {
	registry Registry
	pool     *ants.Pool

	mu      sync.Mutex
	running map[string]struct{}
	baseCtx context.Context
	wg      sync.WaitGroup

	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func New(registry Registry, opts Options) (*Worker, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	pool, err := ants.NewPool(opts.PoolSize,
		ants.WithExpiryDuration(poolExpiry),
		ants.WithPanicHandler(func(p any) {
			log.Error().Interface("panic", p).Msg("worker pool recovered panic")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Worker{
		registry: registry,
		pool:     pool,
		running:  make(map[string]struct{}),
		baseCtx:  context.Background(),
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

// SetBaseContext sets the context that bounds every run. Cancelling it interrupts in-flight runs.
func (w *Worker) SetBaseContext(ctx context.Context) {
	w.mu.Lock()
	w.baseCtx = ctx
	w.mu.Unlock()
}

// Start schedules processing of a pending task and returns immediately.
// files must be the task's records in processing order.
func (w *Worker) Start(taskID string, files []task.UploadedFile) error {
	w.mu.Lock()
	if _, busy := w.running[taskID]; busy {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	current, ok := w.registry.GetTask(taskID)
	if !ok {
		w.mu.Unlock()
		return ErrTaskNotFound
	}
	if current.Status != task.StatusPending {
		w.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrNotPending, current.Status)
	}
	w.running[taskID] = struct{}{}
	ctx := w.baseCtx
	w.wg.Add(1)
	w.mu.Unlock()
	metrics.WorkersInFlight.Inc()

	queued := append([]task.UploadedFile(nil), files...)
	// Submit blocks while the pool is saturated; keep that off the caller's path.
	go func() {
		err := w.pool.Submit(func() { w.run(ctx, taskID, queued) })
		if err != nil {
			w.fail(taskID, fmt.Errorf("schedule processing: %w", err))
			w.finish(taskID)
		}
	}()
	return nil
}

// IsRunning reports whether a run for the task is scheduled or executing.
func (w *Worker) IsRunning(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[taskID]
	return ok
}

// WaitAll blocks until all in-flight runs finish or the context is done.
// Returns true if all runs finished, false if timed out.
func (w *Worker) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the pool. Call after WaitAll.
func (w *Worker) Close() {
	w.pool.Release()
}

func (w *Worker) run(ctx context.Context, taskID string, files []task.UploadedFile) {
	defer w.finish(taskID)
	defer func() {
		if r := recover(); r != nil {
			w.fail(taskID, fmt.Errorf("panic: %v", r))
		}
	}()

	started := w.now()
	logger := log.With().Str("task_id", taskID).Logger()
	logger.Info().Int("files", len(files)).Msg("processing started")

	if err := w.process(ctx, taskID, files); err != nil {
		w.fail(taskID, err)
		return
	}
	metrics.TasksCompleted.Inc()
	metrics.ProcessingDuration.Observe(time.Since(started).Seconds())
	logger.Info().Dur("elapsed", time.Since(started)).Msg("processing completed")
}

func (w *Worker) process(ctx context.Context, taskID string, files []task.UploadedFile) error {
	total := len(files)
	if total == 0 {
		return ErrNoFiles
	}
	if _, ok := w.registry.UpdateTask(taskID, task.TaskUpdate{
		Status:         task.Ptr(task.StatusProcessing),
		Progress:       task.Ptr(0),
		ProcessedCount: task.Ptr(0),
	}); !ok {
		return ErrTaskNotFound
	}

	for i, f := range files {
		step := i + 1
		// the file flip lands before the counters so pollers never see progress ahead of files
		if _, ok := w.registry.UpdateFile(f.ID, task.FileUpdate{Status: task.Ptr(task.FileProcessed)}); !ok {
			return fmt.Errorf("file %s not found", f.FileName)
		}
		if _, ok := w.registry.UpdateTask(taskID, task.TaskUpdate{
			ProcessedCount: task.Ptr(step),
			Progress:       task.Ptr(Progress(step, total)),
		}); !ok {
			return ErrTaskNotFound
		}
		metrics.FilesProcessed.Inc()
		log.Debug().Str("task_id", taskID).Str("file", f.FileName).Int("step", step).Int("total", total).Msg("file processed")

		if err := w.sleep(ctx, w.nextDelay()); err != nil {
			if step < total {
				return errInterrupted
			}
			// every file is already processed, so a cancelled final pause still completes
			log.Debug().Str("task_id", taskID).Err(err).Msg("final pause interrupted")
		}
	}

	if _, ok := w.registry.UpdateTask(taskID, task.TaskUpdate{
		Status:      task.Ptr(task.StatusCompleted),
		Progress:    task.Ptr(completedProgress),
		CompletedAt: task.Ptr(w.now()),
	}); !ok {
		return ErrTaskNotFound
	}
	return nil
}

// fail records the single failed transition for a task.
func (w *Worker) fail(taskID string, cause error) {
	metrics.TasksFailed.Inc()
	msg := cause.Error()
	if _, ok := w.registry.UpdateTask(taskID, task.TaskUpdate{
		Status: task.Ptr(task.StatusFailed),
		Error:  &msg,
	}); !ok {
		log.Warn().Str("task_id", taskID).Err(cause).Msg("task vanished before failure could be recorded")
		return
	}
	log.Error().Str("task_id", taskID).Str("stage", "processing").Err(cause).Msg("processing failed")
}

func (w *Worker) finish(taskID string) {
	w.mu.Lock()
	delete(w.running, taskID)
	w.mu.Unlock()
	metrics.WorkersInFlight.Dec()
	w.wg.Done()
}

// nextDelay draws uniformly from [minDelay, maxDelay).
func (w *Worker) nextDelay() time.Duration {
	span := w.maxDelay - w.minDelay
	if span <= 0 {
		return w.minDelay
	}
	return w.minDelay + time.Duration(rand.Int64N(int64(span)))
}

// Progress is round(step/total*100).
func Progress(step, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(step) * 100 / float64(total)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
