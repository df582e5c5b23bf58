// Package scheduler runs the periodic maintenance jobs: the heartbeat sweep
// and the presence mirror resync.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. The context is
// cancelled when the task is removed or the scheduler stops.
type TaskFn func(ctx context.Context) error

// TaskInfo is a point-in-time view of a registered task.
type TaskInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Scheduler manages periodic tasks. A task never overlaps with itself.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logger *zap.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers fn to run on a fixed interval. Each run gets a deadline
// of one interval. A task with the same name is replaced.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{info: TaskInfo{Name: name, Interval: interval}, cancel: cancel}
	s.tasks[name] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(ctx, t, fn)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(parent context.Context, t *task, fn TaskFn) {
	ctx, cancel := context.WithTimeout(parent, t.info.Interval)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked",
					zap.String("task", t.info.Name),
					zap.Any("recover", r))
				err = errPanic
			}
		}()
		err = fn(ctx)
	}()

	s.mu.Lock()
	t.info.Runs++
	t.info.LastRun = time.Now()
	if err != nil {
		t.info.Failures++
		t.info.LastError = err.Error()
	} else {
		t.info.LastError = ""
	}
	s.mu.Unlock()

	if err != nil && err != errPanic {
		s.logger.Warn("scheduler task failed", zap.String("task", t.info.Name), zap.Error(err))
	}
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.cancel()
		delete(s.tasks, name)
	}
}

// Stop cancels all tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// List returns a snapshot of all registered tasks sorted by name.
func (s *Scheduler) List() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type panicError struct{}

func (panicError) Error() string { return "task panicked" }

var errPanic error = panicError{}
