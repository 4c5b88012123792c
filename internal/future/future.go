// Package future provides the deferred-value substrate underneath every
// asynchronous operation in atomflow. A Future[T] is created unresolved,
// handed out immediately, and completed exactly once by the task that
// produces its value. Composition never blocks; only Result does.
package future

import (
	"context"
	"sync"
)

// Waiter is the type-erased view of a Future used for dependency sets.
type Waiter interface {
	// Done is closed once the future has resolved, successfully or not.
	Done() <-chan struct{}
	// Err returns the resolution error. Valid only after Done is closed.
	Err() error
}

// Future holds the eventual result of a deferred computation.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// Resolver completes a Future. Calling it more than once is a no-op.
type Resolver[T any] func(val T, err error)

// New returns an unresolved future together with its resolver.
func New[T any]() (*Future[T], Resolver[T]) {
	f := &Future[T]{done: make(chan struct{})}
	resolve := func(val T, err error) {
		f.once.Do(func() {
			f.val = val
			f.err = err
			close(f.done)
		})
	}
	return f, resolve
}

// Completed returns a future that already holds val.
func Completed[T any](val T) *Future[T] {
	f, resolve := New[T]()
	resolve(val, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f, resolve := New[T]()
	var zero T
	resolve(zero, err)
	return f
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Err returns the resolution error. Valid only after Done is closed.
func (f *Future[T]) Err() error { return f.err }

// Result blocks until the future resolves or ctx is cancelled.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Map derives a future whose value is fn applied to f's value. The
// derivation runs on its own goroutine and starts only once f resolves.
// If f fails, the error propagates and fn never runs.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out, resolve := New[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			resolve(zero, f.err)
			return
		}
		resolve(fn(f.val))
	}()
	return out
}

// Join derives a future from two parents, resolving once both have.
func Join[A, B, U any](a *Future[A], b *Future[B], fn func(A, B) (U, error)) *Future[U] {
	out, resolve := New[U]()
	go func() {
		<-a.done
		<-b.done
		var zero U
		if a.err != nil {
			resolve(zero, a.err)
			return
		}
		if b.err != nil {
			resolve(zero, b.err)
			return
		}
		resolve(fn(a.val, b.val))
	}()
	return out
}

// WaitAll blocks until every dependency has resolved or ctx is cancelled.
// The first dependency error encountered (in argument order) is returned.
func WaitAll(ctx context.Context, deps ...Waiter) error {
	for _, dep := range deps {
		select {
		case <-dep.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, dep := range deps {
		if err := dep.Err(); err != nil {
			return err
		}
	}
	return nil
}
