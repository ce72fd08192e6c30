package widget

import "context"

// Task is a controller invocation running in its own goroutine.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	result T
	err    error
}

func startTask[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = fn(ctx)
	}()

	return t
}

// Cancel stops the task. A cancelled controller discards its outcome.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task has finished and returns its outcome.
func (t *Task[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}
