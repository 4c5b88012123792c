package execution

import (
	"context"
	"fmt"

	"github.com/vk/atomflow/internal/future"
)

// TaskFunc is the body of a deferred operation. It runs on a lane worker
// once every declared dependency has resolved.
type TaskFunc[T any] func(ctx context.Context) (T, error)

// Submit schedules fn on the named lane and returns its future
// immediately. The task waits for deps, then for a worker slot; a failed
// dependency fails the task without running it.
func Submit[T any](ec *Context, laneName string, deps []future.Waiter, fn TaskFunc[T]) *future.Future[T] {
	ln, err := ec.lane(laneName)
	if err != nil {
		return future.Failed[T](err)
	}
	f, resolve := future.New[T]()
	go func() {
		ctx := ec.baseCtx
		var zero T
		if err := future.WaitAll(ctx, deps...); err != nil {
			resolve(zero, err)
			return
		}
		if err := ln.sem.Acquire(ctx, 1); err != nil {
			resolve(zero, err)
			return
		}
		defer ln.sem.Release(1)
		val, err := fn(ctx)
		resolve(val, err)
	}()
	return f
}

// SubmitCached memoizes Submit on the given key: identical keys return the
// original future instead of recomputing. Keys are digests of the task's
// inputs (see memo.go); reusing a key for a task of a different result
// type is a programming error.
func SubmitCached[T any](ec *Context, laneName, key string, deps []future.Waiter, fn TaskFunc[T]) *future.Future[T] {
	ec.memoMu.Lock()
	if cached, ok := ec.memo[key]; ok {
		ec.memoMu.Unlock()
		f, ok := cached.(*future.Future[T])
		if !ok {
			return future.Failed[T](fmt.Errorf("memo key %q reused for a different task type", key))
		}
		return f
	}
	f := Submit(ec, laneName, deps, fn)
	ec.memo[key] = f
	ec.memoMu.Unlock()
	return f
}
