package regiondb

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner fans tasks out to goroutines while bounding how many run at once.
type TaskRunner struct {
	maxThreadCount int
	eg             *errgroup.Group
	limiterChan    chan bool
	context        context.Context
}

// NewTaskRunner creates a task runner allowing up to maxThreadCount concurrent tasks.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		maxThreadCount: maxThreadCount,
		limiterChan:    make(chan bool, maxThreadCount),
		eg:             eg,
		context:        ctx2,
	}
}

// GetContext returns the group context; tasks should honor its cancellation.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go spins up a new goroutine to run a task function, blocking while all slots are occupied.
func (tr *TaskRunner) Go(task func() error) {
	t := func() error {
		// Free up this thread slot, on failure too, or errored tasks would
		// bleed capacity until every Go call blocks.
		defer func() { <-tr.limiterChan }()
		return task()
	}
	// Occupy a thread slot.
	tr.limiterChan <- true
	tr.eg.Go(t)
}

// Wait is a wrapper to errgroup.Wait.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
