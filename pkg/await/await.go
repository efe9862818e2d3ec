// Package await provides a single-use fulfillment cell: one side waits
// with a deadline, the other side delivers a value exactly once. It
// replaces fixed-interval polling for "wait until X arrives or give up"
// situations while keeping the same bounded-wait contract.
package await

import (
	"context"
	"sync"
)

// Cell is a single-use rendezvous between one producer and any number of
// waiters. The zero value is not usable; create cells with New.
type Cell[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// New creates an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Fulfill delivers the value and wakes all waiters. Only the first call
// has any effect.
func (c *Cell[T]) Fulfill(val T) {
	c.once.Do(func() {
		c.val = val
		close(c.done)
	})
}

// Fulfilled reports whether a value has been delivered.
func (c *Cell[T]) Fulfilled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the cell is fulfilled or ctx expires. On expiry the
// zero value and ctx.Err() are returned.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
