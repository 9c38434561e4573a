// Package worker provides a bounded pool for parallel batch work. Results
// come back in input order regardless of completion order, per-item failures
// become error placeholders instead of aborting the batch, and a full queue
// pushes work back onto the submitting goroutine rather than dropping it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Pool errors.
var (
	ErrShuttingDown    = errors.New("worker pool is shutting down")
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out with tasks in flight")
	ErrTimedOut        = errors.New("batch timed out before task completed")
)

// Task is one unit of work.
type Task func()

// Config controls pool behavior.
type Config struct {
	// Scope wraps each task's execution, for callers that need to pin a
	// resource (a DB connection, a tenant context) around every unit of
	// work. The wrapper must invoke run exactly once.
	Scope   func(run func())
	Logger  *slog.Logger
	Workers int
	// QueueSize bounds buffered tasks; when full, the submitter runs the
	// task itself.
	QueueSize int
}

// DefaultConfig runs four workers over a queue of 100 tasks.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 100,
	}
}

// Status is a live snapshot of pool state, safe to read during processing.
type Status struct {
	ActiveOperations int64 `json:"active_operations"`
	CompletedTasks   int64 `json:"completed_tasks"`
	PoolSize         int   `json:"pool_size"`
	QueueLength      int   `json:"queue_length"`
	Running          bool  `json:"running"`
}

// Result holds one item's outcome: a value or an error placeholder.
type Result[R any] struct {
	Value R
	Err   error
}

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	scope     func(run func())
	logger    *slog.Logger
	tasks     chan Task
	active    atomic.Int64
	completed atomic.Int64
	size      int
	stopped   bool
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// New creates a started pool with DefaultConfig.
func New() *Pool {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a started pool.
func NewWithConfig(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		scope:  cfg.Scope,
		logger: cfg.Logger,
		tasks:  make(chan Task, cfg.QueueSize),
		size:   cfg.Workers,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

// execute runs one task with active/completed accounting and panic
// containment. Also the caller-runs path, so it must be safe to invoke from
// any goroutine.
func (p *Pool) execute(task Task) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
		p.active.Add(-1)
		p.completed.Add(1)
	}()

	if p.scope != nil {
		p.scope(task)
		return
	}
	task()
}

// submit enqueues the task, or runs it on the calling goroutine when the
// queue is full.
func (p *Pool) submit(task Task) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrShuttingDown
	}
	select {
	case p.tasks <- task:
		p.mu.RUnlock()
		return nil
	default:
		p.mu.RUnlock()
		p.execute(task)
		return nil
	}
}

// Shutdown stops accepting work and waits up to timeout for in-flight tasks
// to drain. A timeout of zero waits indefinitely.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// Status reports a point-in-time view of the pool.
func (p *Pool) Status() Status {
	p.mu.RLock()
	running := !p.stopped
	p.mu.RUnlock()

	return Status{
		ActiveOperations: p.active.Load(),
		CompletedTasks:   p.completed.Load(),
		PoolSize:         p.size,
		QueueLength:      len(p.tasks),
		Running:          running,
	}
}

// Healthy reports whether the pool is accepting work.
func (p *Pool) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.stopped
}

// ProcessBatch runs work over every item and returns one Result per item in
// input order. Item failures and panics become error placeholders. When
// timeout elapses first, the returned slice still has len(items) entries;
// unfinished items carry ErrTimedOut and their tasks are abandoned (they may
// still run to completion in the background, but cannot touch the returned
// slice).
func ProcessBatch[T, R any](ctx context.Context, p *Pool, items []T, timeout time.Duration, work func(context.Context, T) (R, error)) ([]Result[R], error) {
	if p == nil || !p.Healthy() {
		return nil, ErrShuttingDown
	}
	if len(items) == 0 {
		return []Result[R]{}, nil
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		resMu   sync.Mutex
		pending sync.WaitGroup
	)
	results := make([]Result[R], len(items))
	written := make([]bool, len(items))

	pending.Add(len(items))
	for i := range items {
		idx := i
		item := items[i]
		err := p.submit(func() {
			defer pending.Done()
			if runCtx.Err() != nil {
				return
			}
			value, workErr := invoke(runCtx, item, work)
			resMu.Lock()
			results[idx] = Result[R]{Value: value, Err: workErr}
			written[idx] = true
			resMu.Unlock()
		})
		if err != nil {
			pending.Done()
			resMu.Lock()
			results[idx] = Result[R]{Err: err}
			written[idx] = true
			resMu.Unlock()
		}
	}

	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-runCtx.Done():
	}

	// Snapshot under the lock so tasks finishing after a timeout cannot
	// race with the caller reading the batch.
	resMu.Lock()
	out := make([]Result[R], len(items))
	copy(out, results)
	for i := range out {
		if !written[i] {
			out[i] = Result[R]{Err: ErrTimedOut}
		}
	}
	resMu.Unlock()
	return out, nil
}

// ProcessWithRateLimit runs work over every item, dispatching at most
// perSecond items per second. Ordering and failure isolation match
// ProcessBatch.
func ProcessWithRateLimit[T, R any](ctx context.Context, p *Pool, items []T, perSecond int, work func(context.Context, T) (R, error)) ([]Result[R], error) {
	if p == nil || !p.Healthy() {
		return nil, ErrShuttingDown
	}
	if perSecond <= 0 {
		return ProcessBatch(ctx, p, items, 0, work)
	}
	if len(items) == 0 {
		return []Result[R]{}, nil
	}

	interval := time.Second / time.Duration(perSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		resMu   sync.Mutex
		pending sync.WaitGroup
	)
	results := make([]Result[R], len(items))
	written := make([]bool, len(items))

	pending.Add(len(items))
	for i := range items {
		if i > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				// Remaining items were never dispatched.
				for j := i; j < len(items); j++ {
					pending.Done()
					resMu.Lock()
					results[j] = Result[R]{Err: fmt.Errorf("dispatch canceled: %w", ctx.Err())}
					written[j] = true
					resMu.Unlock()
				}
				pending.Wait()
				return results, nil
			}
		}

		idx := i
		item := items[i]
		err := p.submit(func() {
			defer pending.Done()
			value, workErr := invoke(ctx, item, work)
			resMu.Lock()
			results[idx] = Result[R]{Value: value, Err: workErr}
			written[idx] = true
			resMu.Unlock()
		})
		if err != nil {
			pending.Done()
			resMu.Lock()
			results[idx] = Result[R]{Err: err}
			written[idx] = true
			resMu.Unlock()
		}
	}

	pending.Wait()
	for i := range results {
		if !written[i] {
			results[i] = Result[R]{Err: ErrTimedOut}
		}
	}
	return results, nil
}

// invoke calls work and converts a panic into an error so one bad item
// cannot take down the batch.
func invoke[T, R any](ctx context.Context, item T, work func(context.Context, T) (R, error)) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return work(ctx, item)
}
