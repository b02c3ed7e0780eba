package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlbeats/beatscore/internal/api"
	"github.com/sqlbeats/beatscore/internal/security"
	"go.uber.org/zap"
)

// Job is a queued song download.
type Job struct {
	ID     string
	Song   api.Song
	Creds  security.TokenSource
	ctx    context.Context
	cancel context.CancelFunc
}

// Result represents the result of a job execution
type Result struct {
	JobID   string
	Success bool
	Error   error
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) error

// WorkerPool runs queued jobs on a fixed number of goroutines.
type WorkerPool struct {
	maxWorkers int
	queueSize  int
	jobs       chan *Job
	results    chan *Result
	activeJobs sync.Map // map[string]*Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	handler    JobHandler
	logger     *zap.Logger
	mu         sync.RWMutex
	started    bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int, handler JobHandler, logger *zap.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		queueSize:  1000,
		handler:    handler,
		logger:     logger,
	}
}

// Start spawns worker goroutines and begins processing jobs
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}
	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.jobs = make(chan *Job, wp.queueSize)
	wp.results = make(chan *Result, wp.maxWorkers*10)

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.started = true
	wp.logger.Debug("worker pool started", zap.Int("workers", wp.maxWorkers))
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug("worker stopping", zap.Int("worker", id), zap.Error(wp.ctx.Err()))
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(job)
		}
	}
}

func (wp *WorkerPool) processJob(job *Job) {
	wp.activeJobs.Store(job.ID, job)
	defer wp.activeJobs.Delete(job.ID)

	if job.ctx == nil {
		job.ctx, job.cancel = context.WithCancel(wp.ctx)
	}
	defer job.cancel()

	err := wp.runHandler(job)

	result := &Result{
		JobID:   job.ID,
		Success: err == nil,
		Error:   err,
	}

	select {
	case wp.results <- result:
	case <-wp.ctx.Done():
	}
}

func (wp *WorkerPool) runHandler(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("job handler panicked", zap.String("job", job.ID), zap.Any("panic", r))
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return wp.handler(job.ctx, job)
}

// Submit queues a job without blocking. It fails when the pool is not
// running or the queue is full.
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	job.ctx, job.cancel = context.WithCancel(wp.ctx)

	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		job.cancel()
		return fmt.Errorf("worker pool is shutting down")
	default:
		job.cancel()
		return fmt.Errorf("download queue is full (%d jobs)", wp.queueSize)
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}

	wp.activeJobs.Range(func(key, value interface{}) bool {
		if job, ok := value.(*Job); ok && job.cancel != nil {
			job.cancel()
		}
		return true
	})

	wp.cancel()
	close(wp.jobs)
	wp.wg.Wait()
	close(wp.results)

	wp.started = false
	wp.logger.Debug("worker pool stopped")
}

// Results returns the results channel of the current run. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan *Result {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.results
}

// CancelJob cancels a specific job by ID
func (wp *WorkerPool) CancelJob(jobID string) error {
	value, ok := wp.activeJobs.Load(jobID)
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}

	job, ok := value.(*Job)
	if !ok {
		return fmt.Errorf("invalid job type for ID: %s", jobID)
	}

	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// GetActiveJobCount returns the number of currently active jobs
func (wp *WorkerPool) GetActiveJobCount() int {
	count := 0
	wp.activeJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// IsJobActive checks if a job is currently active
func (wp *WorkerPool) IsJobActive(jobID string) bool {
	_, ok := wp.activeJobs.Load(jobID)
	return ok
}

// IsRunning reports whether the pool accepts jobs.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.started
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.maxWorkers
}
