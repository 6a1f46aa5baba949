package tether

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// future holds the result settled exactly once.
type future[T any] struct {
	settled atomic.Bool
	done    chan struct{}
	value   T
	err     error
}

func newFuture[T any]() *future[T] {
	return &future[T]{
		done: make(chan struct{}),
	}
}

// TrySetResult settles future with value.
func (f *future[T]) TrySetResult(value T) bool {
	if !f.settled.CompareAndSwap(false, true) {
		return false
	}
	f.value = value
	close(f.done)
	return true
}

// TrySetError settles future with error.
func (f *future[T]) TrySetError(err error) bool {
	if !f.settled.CompareAndSwap(false, true) {
		return false
	}
	f.err = err
	close(f.done)
	return true
}

// Done is closed when future is settled.
func (f *future[T]) Done() <-chan struct{} {
	return f.done
}

// IsSettled tells whether future has been settled.
func (f *future[T]) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value. It must be called after Done is closed.
func (f *future[T]) Result() (T, error) {
	return f.value, f.err
}

// Wait waits for the result.
func (f *future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var v T
		return v, errors.WithStack(ctx.Err())
	case <-f.done:
		return f.value, f.err
	}
}
