// Package scheduler executes sets of asynchronous tasks under a fixed
// concurrency cap with priority ordering and a configurable failure policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/metrics"
)

// ErrTimeout is returned by ExecuteWithTimeout when the run exceeds its
// deadline in strict mode.
var ErrTimeout = errors.New("scheduler: execution timed out")

// Task is one unit of asynchronous work. Higher Priority dispatches first;
// ties keep submission order.
type Task struct {
	ID       string
	Priority int
	Run      func(ctx context.Context) (any, error)
}

// Result is the outcome of one Task. Exactly one Result is produced per
// submitted task when running in continue mode.
type Result struct {
	TaskID   string
	Value    any
	Err      error
	Duration time.Duration
}

// Config controls Executor behavior.
type Config struct {
	// Concurrency caps the number of tasks running at once. Defaults to 1.
	Concurrency int
	Logger      *zap.Logger
}

// Executor runs task sets. It holds no per-run state and is safe for
// concurrent and nested use.
type Executor struct {
	concurrency int
	logger      *zap.Logger
}

// New constructs an Executor.
func New(cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{concurrency: cfg.Concurrency, logger: logger}
}

// Concurrency reports the configured worker cap.
func (e *Executor) Concurrency() int {
	return e.concurrency
}

// ExecuteParallel runs tasks with at most Concurrency in flight. Tasks are
// dispatched in descending priority order (stable for equal priorities).
//
// With continueOnError true every task produces a Result and the returned
// error is always nil. With continueOnError false the first failure stops
// further dispatch and is returned; workers already running a task finish it,
// but results from tasks in flight at abort time are not collected.
func (e *Executor) ExecuteParallel(ctx context.Context, tasks []Task, continueOnError bool) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	queue := newTaskQueue(tasks)

	workers := e.concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
		once    sync.Once
		runErr  error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := queue.pop()
				if !ok {
					return
				}
				metrics.IncActiveWorkers()
				res := e.runTask(ctx, task)
				metrics.DecActiveWorkers()

				if res.Err != nil && !continueOnError {
					once.Do(func() {
						runErr = fmt.Errorf("task %s: %w", task.ID, res.Err)
					})
					queue.abort()
					return
				}
				// A task that finishes after another worker aborted the run is
				// not collected in strict mode.
				if !continueOnError && queue.isAborted() {
					return
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if runErr != nil {
		return e.sortResults(tasks, results), runErr
	}
	return e.sortResults(tasks, results), nil
}

// ExecuteAll runs tasks and fails fast on the first error.
func (e *Executor) ExecuteAll(ctx context.Context, tasks []Task) ([]Result, error) {
	return e.ExecuteParallel(ctx, tasks, false)
}

// ExecuteAllSettled runs tasks to completion and never returns an error;
// each task's failure is carried in its Result.
func (e *Executor) ExecuteAllSettled(ctx context.Context, tasks []Task) []Result {
	results, _ := e.ExecuteParallel(ctx, tasks, true)
	return results
}

// ExecuteInBatches splits tasks into consecutive groups of batchSize and runs
// the groups sequentially, each group through ExecuteParallel. In strict mode
// a failing group stops subsequent groups.
func (e *Executor) ExecuteInBatches(ctx context.Context, tasks []Task, batchSize int, continueOnError bool) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = len(tasks)
	}
	var all []Result
	for start := 0; start < len(tasks); start += batchSize {
		end := start + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		results, err := e.ExecuteParallel(ctx, tasks[start:end], continueOnError)
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// ExecuteWithTimeout races a parallel run against a timer. On timeout in
// strict mode it returns ErrTimeout. On timeout in continue mode it re-issues
// the whole run in continue mode and returns that second pass's results;
// external side effects of the timed-out attempt may still have happened.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, tasks []Task, timeout time.Duration, continueOnError bool) ([]Result, error) {
	if timeout <= 0 {
		return e.ExecuteParallel(ctx, tasks, continueOnError)
	}

	type outcome struct {
		results []Result
		err     error
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		results, err := e.ExecuteParallel(runCtx, tasks, continueOnError)
		done <- outcome{results: results, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.results, out.err
	case <-timer.C:
		cancel()
		e.logger.Warn("task set exceeded timeout",
			zap.Duration("timeout", timeout),
			zap.Int("tasks", len(tasks)),
			zap.Bool("continue_on_error", continueOnError),
		)
		if !continueOnError {
			return nil, ErrTimeout
		}
		results, _ := e.ExecuteParallel(ctx, tasks, true)
		return results, nil
	}
}

func (e *Executor) runTask(ctx context.Context, task Task) Result {
	start := time.Now()
	value, err := safeRun(ctx, task)
	dur := time.Since(start)
	if err != nil {
		metrics.IncTask("failed")
		e.logger.Debug("task failed", zap.String("task_id", task.ID), zap.Duration("duration", dur), zap.Error(err))
	} else {
		metrics.IncTask("succeeded")
		e.logger.Debug("task succeeded", zap.String("task_id", task.ID), zap.Duration("duration", dur))
	}
	return Result{TaskID: task.ID, Value: value, Err: err, Duration: dur}
}

// safeRun converts a panicking task into an error so one bad task cannot take
// down a worker.
func safeRun(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if task.Run == nil {
		return nil, errors.New("task has no run function")
	}
	return task.Run(ctx)
}

// sortResults orders collected results by dispatch order so callers see a
// deterministic sequence regardless of completion interleaving.
func (e *Executor) sortResults(tasks []Task, results []Result) []Result {
	order := make(map[string]int, len(tasks))
	sorted := sortByPriority(tasks)
	for i, t := range sorted {
		if _, dup := order[t.ID]; !dup {
			order[t.ID] = i
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].TaskID] < order[results[j].TaskID]
	})
	return results
}

// taskQueue is a mutex-guarded dispatch queue over a priority-sorted slice.
// The lock around pop preserves the "never more than cap in flight, dispatch
// in priority order" guarantee under real OS threads.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []Task
	next    int
	aborted bool
}

func newTaskQueue(tasks []Task) *taskQueue {
	return &taskQueue{tasks: sortByPriority(tasks)}
}

func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted || q.next >= len(q.tasks) {
		return Task{}, false
	}
	task := q.tasks[q.next]
	q.next++
	return task, true
}

func (q *taskQueue) abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
}

func (q *taskQueue) isAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

func sortByPriority(tasks []Task) []Task {
	sorted := append([]Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
