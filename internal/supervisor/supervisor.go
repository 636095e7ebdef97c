// Package supervisor implements the Task Supervisor: a polling worker pool
// that claims tasks from the Task Store, runs each through a TaskRunner
// (a full piece run), and commits the result back to the store, per
// SPEC_FULL.md §4.9. It is grounded directly on the worker-pool shape in
// other_examples/26e81397_zkoranges-go-claw__internal-engine-engine.go:
// a Config-driven pool started with Start/Wait, drained with Drain(timeout),
// and a cancels map guarding per-task context.CancelFuncs for targeted abort.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cklxx/takt/internal/taskqueue"
)

// TaskRunner executes a single claimed task end to end (piece load, engine
// run, report rendering) and returns the record to persist.
type TaskRunner interface {
	RunTask(ctx context.Context, task taskqueue.Task) (taskqueue.RunRecord, error)
}

// Config controls pool size and poll cadence.
type Config struct {
	Concurrency      int
	TaskPollInterval time.Duration
	DrainTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Concurrency > 10 {
		c.Concurrency = 10
	}
	if c.TaskPollInterval <= 0 {
		c.TaskPollInterval = 500 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Supervisor runs the bounded worker pool over a Task Store.
type Supervisor struct {
	Store  *taskqueue.Store
	Runner TaskRunner
	Config Config
	Logger *slog.Logger

	once sync.Once
	wg   sync.WaitGroup

	active atomic.Int32

	cancelMu sync.RWMutex
	cancels  map[string]context.CancelFunc
}

// New constructs a Supervisor with defaults applied to zero-value config
// fields.
func New(store *taskqueue.Store, runner TaskRunner, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Store:   store,
		Runner:  runner,
		Config:  cfg.withDefaults(),
		Logger:  logger,
		cancels: map[string]context.CancelFunc{},
	}
}

// Start launches the bounded worker pool and its dispatcher; safe to call
// once per Supervisor. A single dispatcher goroutine claims batches of up
// to Concurrency tasks at a time via Store.ClaimNextTasks and hands them to
// Concurrency worker goroutines over a shared channel — replacing the
// earlier design where every worker raced for the same head-of-queue task
// via GetNextTask+TryClaim, which left all but one worker backing off for
// a full poll interval regardless of Concurrency.
func (s *Supervisor) Start(ctx context.Context) {
	s.once.Do(func() {
		tasks := make(chan taskqueue.Task)
		for i := 0; i < s.Config.Concurrency; i++ {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				for task := range tasks {
					s.runTask(task)
				}
			}()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer close(tasks)
			s.dispatch(ctx, tasks)
		}()
	})
}

// Wait blocks until every worker goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Drain waits up to the configured DrainTimeout for in-flight tasks to
// finish cleanly; on timeout it logs and returns without force-aborting —
// force-abort is the caller's job via AbortAll, mirroring the SIGINT
// grace-then-force sequence from SPEC_FULL.md §6.2.
func (s *Supervisor) Drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.Logger.Info("supervisor drained cleanly")
	case <-time.After(s.Config.DrainTimeout):
		s.Logger.Warn("supervisor drain timeout; tasks still in flight", "timeout", s.Config.DrainTimeout)
	}
}

// AbortAll cancels every in-flight task's context immediately. Call after
// Drain times out to force a hard stop (the second Ctrl-C in the CLI's
// SIGINT handler).
func (s *Supervisor) AbortAll() {
	s.cancelMu.RLock()
	defer s.cancelMu.RUnlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

// dispatch polls the Task Store for unclaimed work and feeds claimed tasks
// to the worker pool over tasks, claiming a full batch of free slots at
// once so all Concurrency workers can be kept busy concurrently rather
// than serialized behind a single-task claim race.
func (s *Supervisor) dispatch(ctx context.Context, tasks chan<- taskqueue.Task) {
	ticker := time.NewTicker(s.Config.TaskPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		free := s.Config.Concurrency - int(s.active.Load())
		var claimed []taskqueue.Task
		var err error
		if free > 0 {
			claimed, err = s.Store.ClaimNextTasks(free)
			if err != nil {
				s.Logger.Error("claim tasks", "error", err)
			}
		}
		if free <= 0 || err != nil || len(claimed) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		for _, task := range claimed {
			s.active.Add(1)
			select {
			case tasks <- task:
			case <-ctx.Done():
				s.active.Add(-1)
				s.Store.Claims.Release(task.Name)
				return
			}
		}
	}
}

// runTask derives its context from context.Background(), not the worker
// loop's poll context: cancelling the poll context should stop new claims
// (a graceful drain), not reach into an in-flight task. Only AbortAll
// reaches into cancels to cut a task short.
func (s *Supervisor) runTask(task taskqueue.Task) {
	taskCtx, cancel := context.WithCancel(context.Background())
	s.cancelMu.Lock()
	s.cancels[task.Name] = cancel
	s.cancelMu.Unlock()
	defer func() {
		cancel()
		s.cancelMu.Lock()
		delete(s.cancels, task.Name)
		s.cancelMu.Unlock()
		s.Store.Claims.Release(task.Name)
		s.active.Add(-1)
	}()

	started := time.Now()
	record, err := s.Runner.RunTask(taskCtx, task)
	record.Task = task
	record.StartedAt = started
	record.CompletedAt = time.Now()

	if err != nil {
		record.Success = false
		record.ExecutionLog = append(record.ExecutionLog, err.Error())
		s.Logger.Error("task run failed", "task", task.Name, "error", err)
		if failErr := s.Store.FailTask(taskqueue.Result{Record: record, Success: false}); failErr != nil {
			s.Logger.Error("persist failed task", "task", task.Name, "error", failErr)
		}
		return
	}

	record.Success = true
	if completeErr := s.Store.CompleteTask(taskqueue.Result{Record: record, Success: true}); completeErr != nil {
		s.Logger.Error("persist completed task", "task", task.Name, "error", completeErr)
	}
}
