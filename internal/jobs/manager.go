// Package jobs runs the learner process's periodic maintenance tasks:
// flushing hot run state to the durable store, sweeping dead actors
// out of the rendezvous registry, and expiring finished runs.
package jobs

import (
	"context"
	"sync"
	"time"

	"maro/pkg/logger"
)

// Job is a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob runs at aligned time boundaries (e.g. on the hour)
// instead of immediately on start.
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Manager owns the lifecycle of the registered jobs.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the given context.
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job. Registration after Start has no effect.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// Start launches every registered job in its own goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
	logger.InfoCtx(m.ctx, "%d background jobs started", len(jobs))
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until every job loop exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	if aligned, ok := job.(AlignedJob); ok && aligned.AlignToInterval() {
		// Hold the first run until the next interval boundary.
		now := time.Now()
		wait := now.Truncate(interval).Add(interval).Sub(now)
		logger.InfoCtx(m.ctx, "job %s waits %s for its first aligned run", job.Name(), wait.Round(time.Second))

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(wait):
			m.executeJob(job)
		}
	} else {
		m.executeJob(job)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

// executeJob shields the ticker loop from a failing job: errors are
// logged and the next tick still happens, and a panicking job must not
// take the whole process down.
func (m *Manager) executeJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(m.ctx, "background job %s panicked: %v", job.Name(), r)
		}
	}()

	if err := job.Run(m.ctx); err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}
