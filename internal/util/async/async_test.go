package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunParallelCollectsFirstError(t *testing.T) {
	t.Parallel()
	tasks := []Task{
		{Name: "ok", Func: func(context.Context) error { return nil }},
		{Name: "bad", Func: func(context.Context) error { return errors.New("boom") }},
	}

	err := RunParallel(context.Background(), tasks)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestRunParallelEmpty(t *testing.T) {
	t.Parallel()
	if err := RunParallel(context.Background(), nil); err != nil {
		t.Errorf("Expected no error for empty task list, got: %v", err)
	}
}

func TestRunBatchedJoinsBeforeNextBatch(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var inFlight, peak int

	const batchSize = 4
	var tasks []Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, Task{
			Name: fmt.Sprintf("task-%d", i),
			Func: func(context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()
				defer func() {
					mu.Lock()
					inFlight--
					mu.Unlock()
				}()
				return nil
			},
		})
	}

	if err := RunBatched(context.Background(), tasks, batchSize); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if peak > batchSize {
		t.Errorf("Expected at most %d tasks in flight, saw %d", batchSize, peak)
	}
}

func TestRunBatchedStopsAfterFailingBatch(t *testing.T) {
	t.Parallel()
	var started atomic.Int32

	tasks := []Task{
		{Name: "a", Func: func(context.Context) error { started.Add(1); return errors.New("boom") }},
		{Name: "b", Func: func(context.Context) error { started.Add(1); return nil }},
	}

	err := RunBatched(context.Background(), tasks, 1)
	if err == nil {
		t.Fatal("Expected error from first batch, got nil")
	}
	if got := started.Load(); got != 1 {
		t.Errorf("Expected only the first batch to run, %d tasks ran", got)
	}
}

func TestRunBatchedRejectsNonPositiveBatch(t *testing.T) {
	t.Parallel()
	if err := RunBatched(context.Background(), nil, 0); err == nil {
		t.Error("Expected error for batch size 0, got nil")
	}
}
