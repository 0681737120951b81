// Package pool implements the Worker Pool (C8): a parallel scheduler that
// runs N Interactive Worker Sessions concurrently under a configurable
// upper bound, preserving caller-supplied task order in the returned
// results, per spec.md §4.8.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/decision"
	"github.com/foreflux/conductor/internal/orchestration/events"
	"github.com/foreflux/conductor/internal/orchestration/status"
	"github.com/foreflux/conductor/internal/orchestration/worker"
)

// DefaultMaxWorkers bounds concurrent sessions when Config.MaxWorkers is
// unset, mirroring the teacher's fixed-size worker pool default.
const DefaultMaxWorkers = 4

// Config configures a Pool.
type Config struct {
	MaxWorkers int // default DefaultMaxWorkers

	// SessionConfig is applied to every Interactive Worker Session the
	// pool spawns; WorkspaceRoot must be set.
	SessionConfig worker.Config

	DecisionEngine *decision.Engine
	StatusMonitor  *status.Monitor
	Publisher      *events.Publisher

	// Timeout bounds the whole Submit call; zero means no pool-level
	// deadline beyond each session's own SessionTimeout.
	Timeout time.Duration
}

// Pool runs bounded-concurrency Interactive Worker Sessions and collects
// their results in submission order.
type Pool struct {
	cfg     Config
	sem     chan struct{}
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs a Pool ready to accept Submit calls.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	return &Pool{
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxWorkers),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit runs one Interactive Worker Session per task, bounded by
// MaxWorkers concurrent sessions, and returns once every session has
// reached a terminal state or the pool timeout elapses. The returned
// slice preserves the order of tasks, regardless of completion order.
func (p *Pool) Submit(ctx context.Context, tasks []worker.Task) []worker.Result {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	results := make([]worker.Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t worker.Task) {
			defer wg.Done()

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = p.terminatedResult(t)
				return
			}
			defer func() { <-p.sem }()

			results[idx] = p.runOne(ctx, t)
		}(i, task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Pool timeout: wait briefly for in-flight sessions to observe
		// ctx.Done() and report TERMINATED on their own, then return
		// whatever has landed so far for still-empty slots.
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}

	for i, t := range tasks {
		if results[i].WorkerID == "" {
			results[i] = p.terminatedResult(t)
		}
	}

	return results
}

func (p *Pool) runOne(ctx context.Context, t worker.Task) worker.Result {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatPool, "worker session panic recovered", "taskID", t.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	sess, err := worker.NewSession(t.ID, t, p.cfg.SessionConfig, p.cfg.DecisionEngine, p.cfg.StatusMonitor, p.cfg.Publisher)
	if err != nil {
		return worker.Result{
			WorkerID:     t.ID,
			Name:         t.Name,
			Success:      false,
			ErrorMessage: fmt.Sprintf("session init failed: %v", err),
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels[t.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, t.ID)
		p.mu.Unlock()
		cancel()
	}()

	result, err := sess.Run(sessCtx)
	if err != nil {
		log.Warn(log.CatPool, "worker session returned error", "taskID", t.ID, "error", err)
	}
	return result
}

// Cancel requests early termination of one still-running worker by task
// ID; it is a no-op if the worker has already finished or was never
// submitted.
func (p *Pool) Cancel(taskID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pool) terminatedResult(t worker.Task) worker.Result {
	if p.cfg.StatusMonitor != nil {
		p.cfg.StatusMonitor.UpdateState(t.ID, status.StateTerminated, "", "pool timeout")
	}
	return worker.Result{
		WorkerID:     t.ID,
		Name:         t.Name,
		Success:      false,
		ErrorMessage: "pool timeout: session did not complete",
	}
}
