package tether

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Source produces stream items. It returns io.EOF when the stream is exhausted. Source is
// called with the context of the stream, not the context of the call which created it.
type Source[T any] func(ctx context.Context) (T, error)

// FromSlice returns source producing items.
func FromSlice[T any](items []T) Source[T] {
	var i int
	return func(ctx context.Context) (T, error) {
		if i >= len(items) {
			var v T
			return v, io.EOF
		}
		i++
		return items[i-1], nil
	}
}

// FromChannel returns source producing items received from channel until it is closed.
func FromChannel[T any](ch <-chan T) Source[T] {
	return func(ctx context.Context) (T, error) {
		select {
		case <-ctx.Done():
			var v T
			return v, errors.WithStack(ctx.Err())
		case v, ok := <-ch:
			if !ok {
				return v, io.EOF
			}
			return v, nil
		}
	}
}

type erasedSource struct {
	next        func(ctx context.Context) (any, error)
	polymorphic bool
}
