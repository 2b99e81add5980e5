package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"fileflow/internal/metrics"
	"fileflow/internal/storage"
	"fileflow/internal/task"
)

// Policy decides whether a task and its files may be removed.
type Policy interface {
	Expired(t task.Task, now time.Time) bool
}

// KeepForever never expires anything.
type KeepForever struct{}

func (KeepForever) Expired(task.Task, time.Time) bool { return false }

// TTL expires finished tasks once MaxAge has passed since they finished.
// Tasks that are pending or processing are never expired.
type TTL struct {
	MaxAge time.Duration
}

func (p TTL) Expired(t task.Task, now time.Time) bool {
	if p.MaxAge <= 0 || !t.Status.Terminal() {
		return false
	}
	finished := t.CreatedAt
	if t.CompletedAt != nil {
		finished = *t.CompletedAt
	}
	return now.Sub(finished) >= p.MaxAge
}

// PolicyFor returns TTL for a positive max age and KeepForever otherwise.
func PolicyFor(maxAge time.Duration) Policy { //nolint:ireturn
	if maxAge > 0 {
		return TTL{MaxAge: maxAge}
	}
	return KeepForever{}
}

type Registry interface {
	ListTasks() []task.Task
	DeleteTask(taskID string) bool
}

// Sweeper periodically applies a Policy to the registry and the upload store.
type Sweeper struct {
	registry Registry
	store    storage.TaskStore
	policy   Policy
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSweeper(registry Registry, store storage.TaskStore, policy Policy) *Sweeper {
	if policy == nil {
		policy = KeepForever{}
	}
	return &Sweeper{registry: registry, store: store, policy: policy, now: time.Now}
}

// Start schedules sweeps with a cron spec such as "@every 10m".
// With KeepForever nothing is scheduled.
func (s *Sweeper) Start(spec string) error {
	if _, keep := s.policy.(KeepForever); keep {
		log.Info().Msg("retention disabled, task files are kept")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("retention sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule retention %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	log.Info().Str("schedule", spec).Msg("retention sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep removes expired tasks: the registry entry first, so clients stop seeing the task
// before its directory goes away. It returns the number of tasks removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	var firstErr error
	for _, t := range s.registry.ListTasks() {
		if err := ctx.Err(); err != nil {
			return removed, err //nolint:wrapcheck
		}
		if !s.policy.Expired(t, now) || !s.registry.DeleteTask(t.ID) {
			continue
		}
		removed++
		metrics.TasksSwept.Inc()
		if err := s.store.RemoveTask(ctx, t.ID); err != nil {
			log.Warn().Str("task_id", t.ID).Err(err).Msg("remove task files failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("remove task %s files: %w", t.ID, err)
			}
			continue
		}
		log.Info().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("task expired and removed")
	}
	return removed, firstErr
}
