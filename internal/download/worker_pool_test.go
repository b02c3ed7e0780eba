package download

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sqlbeats/beatscore/internal/api"
)

func songJob(id string) *Job {
	return &Job{ID: id, Song: api.Song{ID: id, Title: "Song " + id}}
}

func TestWorkerPoolStartStop(t *testing.T) {
	handler := func(ctx context.Context, job *Job) error {
		return nil
	}

	pool := NewWorkerPool(2, handler, nil)
	if pool.GetMaxWorkers() != 2 {
		t.Errorf("Expected 2 workers, got %d", pool.GetMaxWorkers())
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	if err := pool.Start(context.Background()); err == nil {
		t.Error("Expected error when starting already started pool")
	}

	pool.Stop()
	pool.Stop()
	if pool.IsRunning() {
		t.Error("Expected pool to be stopped")
	}

	// A stopped pool can be started again.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to restart pool: %v", err)
	}
	pool.Stop()
}

func TestWorkerPoolDefaultWorkers(t *testing.T) {
	pool := NewWorkerPool(0, func(ctx context.Context, job *Job) error { return nil }, nil)
	if pool.GetMaxWorkers() != 3 {
		t.Errorf("Expected 3 default workers, got %d", pool.GetMaxWorkers())
	}
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewWorkerPool(1, func(ctx context.Context, job *Job) error { return nil }, nil)
	if err := pool.Submit(songJob("a")); err == nil {
		t.Error("Expected error submitting to a pool that is not running")
	}
}

func TestWorkerPoolJobProcessing(t *testing.T) {
	processed := make(chan string, 10)

	handler := func(ctx context.Context, job *Job) error {
		processed <- job.Song.ID
		return nil
	}

	pool := NewWorkerPool(2, handler, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop()

	jobCount := 5
	for i := 0; i < jobCount; i++ {
		if err := pool.Submit(songJob(fmt.Sprintf("song-%d", i))); err != nil {
			t.Errorf("Failed to submit job: %v", err)
		}
	}

	timeout := time.After(5 * time.Second)
	seen := make(map[string]bool)
	for len(seen) < jobCount {
		select {
		case id := <-processed:
			seen[id] = true
		case <-timeout:
			t.Fatalf("Timeout waiting for results, got %d/%d", len(seen), jobCount)
		}
	}
}

func TestWorkerPoolJobCancellation(t *testing.T) {
	started := make(chan struct{})
	handler := func(ctx context.Context, job *Job) error {
		close(started)
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	pool := NewWorkerPool(2, handler, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop()

	if err := pool.Submit(songJob("test-job")); err != nil {
		t.Fatalf("Failed to submit job: %v", err)
	}
	<-started

	if !pool.IsJobActive("test-job") {
		t.Error("Expected job to be active")
	}
	if err := pool.CancelJob("test-job"); err != nil {
		t.Errorf("Failed to cancel job: %v", err)
	}
	if err := pool.CancelJob("missing"); err == nil {
		t.Error("Expected error cancelling an unknown job")
	}

	select {
	case result := <-pool.Results():
		if result.Success {
			t.Error("Expected job to fail after cancellation")
		}
		if !errors.Is(result.Error, context.Canceled) {
			t.Errorf("Expected context.Canceled error, got: %v", result.Error)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timeout waiting for cancelled job result")
	}
}

func TestWorkerPoolActiveJobCount(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, job *Job) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	pool := NewWorkerPool(2, handler, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop()
	defer close(release)

	for i := 0; i < 4; i++ {
		pool.Submit(songJob(fmt.Sprintf("song-%d", i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.GetActiveJobCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if active := pool.GetActiveJobCount(); active != 2 {
		t.Errorf("Expected 2 active jobs (worker count), got %d", active)
	}
}

func TestWorkerPoolErrorHandling(t *testing.T) {
	expectedError := errors.New("test error")

	handler := func(ctx context.Context, job *Job) error {
		switch job.ID {
		case "error-job":
			return expectedError
		case "panic-job":
			panic("handler exploded")
		}
		return nil
	}

	pool := NewWorkerPool(1, handler, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}
	defer pool.Stop()

	for _, id := range []string{"error-job", "panic-job", "ok-job"} {
		if err := pool.Submit(songJob(id)); err != nil {
			t.Fatalf("Failed to submit %s: %v", id, err)
		}
	}

	results := make(map[string]*Result)
	for len(results) < 3 {
		select {
		case result := <-pool.Results():
			results[result.JobID] = result
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for results, got %d", len(results))
		}
	}

	if r := results["error-job"]; r.Success || r.Error != expectedError {
		t.Errorf("Expected error %v, got %+v", expectedError, r)
	}
	if r := results["panic-job"]; r.Success || r.Error == nil {
		t.Errorf("Expected panic to surface as an error, got %+v", r)
	}
	if r := results["ok-job"]; !r.Success {
		t.Errorf("Expected ok-job to succeed after a panic, got %+v", r)
	}
}
