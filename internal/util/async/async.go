// Package async provides utilities for parallel task execution.
//
// This package contains generic helpers for running multiple operations
// concurrently, either all at once or in bounded batches. It's used for
// parallel node operations and other concurrent workflows.
package async

import (
	"context"
	"fmt"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes multiple tasks in parallel and returns the first
// error encountered. All tasks are started concurrently, and the function
// waits for all to complete.
func RunParallel(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	type result struct {
		name string
		err  error
	}

	resultChan := make(chan result, len(tasks))

	for _, task := range tasks {
		task := task
		go func() {
			err := task.Func(ctx)
			resultChan <- result{name: task.Name, err: err}
		}()
	}

	var firstError error
	for i := 0; i < len(tasks); i++ {
		res := <-resultChan
		if res.err != nil && firstError == nil {
			firstError = fmt.Errorf("failed to run %s: %w", res.name, res.err)
		}
	}

	return firstError
}

// RunBatched executes tasks in batches of at most batchSize. Each batch is
// joined in full before the next batch starts. The first failing batch
// stops the run; later batches are not started.
func RunBatched(ctx context.Context, tasks []Task, batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	for start := 0; start < len(tasks); start += batchSize {
		end := min(start+batchSize, len(tasks))
		if err := RunParallel(ctx, tasks[start:end]); err != nil {
			return err
		}
	}
	return nil
}
