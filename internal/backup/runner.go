package backup

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

var ErrRunnerClosed = errors.New("backup: runner is shut down")

type taskKind int

const (
	taskCreate taskKind = iota
	taskRestore
)

type task struct {
	kind    taskKind
	info    domain.BackupInfo
	create  CreateOptions
	restore RestoreOptions
}

// Runner executes backup builds and restores on a fixed pool of workers.
// Callers get the BackupInfo back immediately and follow progress through
// its status.
type Runner struct {
	engine *Engine
	log    zerolog.Logger
	queue  chan task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner starts workers goroutines reading from a queue of depth tasks.
func NewRunner(e *Engine, workers, depth int) *Runner {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 16
	}
	r := &Runner{
		engine: e,
		log:    e.log.With().Str("component", "backup-runner").Logger(),
		queue:  make(chan task, depth),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.loop()
	}
	return r
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for t := range r.queue {
		r.process(t)
	}
}

// process runs detached from any request: work that started is finished.
func (r *Runner) process(t task) {
	ctx := context.Background()
	switch t.kind {
	case taskCreate:
		if _, err := r.engine.Build(ctx, t.info, t.create); err != nil {
			r.log.Error().Err(err).Str("backup_id", t.info.ID).Msg("background backup failed")
		}
	case taskRestore:
		if _, err := r.engine.RunRestore(ctx, t.info, t.restore); err != nil {
			r.log.Error().Err(err).Str("backup_id", t.info.ID).Msg("background restore failed")
		}
	}
}

// SubmitCreate records the backup and schedules its build.
func (r *Runner) SubmitCreate(ctx context.Context, opts CreateOptions) (domain.BackupInfo, error) {
	if r.isClosed() {
		return domain.BackupInfo{}, ErrRunnerClosed
	}
	info, err := r.engine.Begin(ctx, opts)
	if err != nil {
		return domain.BackupInfo{}, err
	}
	if err := r.enqueue(task{kind: taskCreate, info: info, create: opts}); err != nil {
		if _, terr := r.engine.transition(ctx, info.ID, []domain.BackupStatus{domain.BackupCreating}, domain.BackupFailed, store.Document{
			"error_message": err.Error(),
		}); terr != nil {
			r.log.Error().Err(terr).Str("backup_id", info.ID).Msg("could not mark unscheduled backup failed")
		}
		return domain.BackupInfo{}, err
	}
	return info, nil
}

// SubmitRestore claims the backup for restoring and schedules the restore.
func (r *Runner) SubmitRestore(ctx context.Context, id string, opts RestoreOptions) (domain.BackupInfo, error) {
	if r.isClosed() {
		return domain.BackupInfo{}, ErrRunnerClosed
	}
	if err := validation.Struct(opts); err != nil {
		return domain.BackupInfo{}, err
	}
	info, err := r.engine.BeginRestore(ctx, id)
	if err != nil {
		return domain.BackupInfo{}, err
	}
	if err := r.enqueue(task{kind: taskRestore, info: info, restore: opts}); err != nil {
		if _, terr := r.engine.transition(ctx, info.ID, []domain.BackupStatus{domain.BackupRestoring}, domain.BackupCompleted, store.Document{
			"restore_error": err.Error(),
		}); terr != nil {
			r.log.Error().Err(terr).Str("backup_id", info.ID).Msg("could not release unscheduled restore")
		}
		return domain.BackupInfo{}, err
	}
	return info, nil
}

func (r *Runner) enqueue(t task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRunnerClosed
	}
	select {
	case r.queue <- t:
		return nil
	default:
		return apperr.Conflict("backup queue is full, try again later")
	}
}

func (r *Runner) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Shutdown stops accepting work and waits for queued tasks to finish or for
// ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
