package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOnce(t *testing.T) {
	t.Parallel()

	f, resolve := New[int]()
	select {
	case <-f.Done():
		t.Fatal("future resolved before its resolver ran")
	default:
	}

	resolve(42, nil)
	resolve(7, errors.New("ignored"))

	val, err := f.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val, "the first resolution wins")
}

func TestCompletedAndFailed(t *testing.T) {
	t.Parallel()

	val, err := Completed("ready").Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", val)

	boom := errors.New("boom")
	_, err = Failed[string](boom).Result(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestResultHonoursContext(t *testing.T) {
	t.Parallel()

	f, _ := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMapPropagatesValueAndError(t *testing.T) {
	t.Parallel()

	doubled := Map(Completed(21), func(v int) (int, error) { return v * 2, nil })
	val, err := doubled.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	boom := errors.New("boom")
	mapped := Map(Failed[int](boom), func(v int) (int, error) {
		t.Fatal("fn must not run on a failed parent")
		return 0, nil
	})
	_, err = mapped.Result(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestJoinWaitsForBothParents(t *testing.T) {
	t.Parallel()

	a, resolveA := New[int]()
	b, resolveB := New[string]()
	joined := Join(a, b, func(x int, s string) (string, error) {
		return s, nil
	})

	resolveA(1, nil)
	select {
	case <-joined.Done():
		t.Fatal("join resolved with one parent pending")
	case <-time.After(10 * time.Millisecond):
	}

	resolveB("both", nil)
	val, err := joined.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "both", val)
}

func TestWaitAllReturnsFirstErrorInArgumentOrder(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	second := errors.New("second")
	deps := []Waiter{
		Completed(1),
		Failed[int](first),
		Failed[int](second),
	}

	err := WaitAll(context.Background(), deps...)
	assert.ErrorIs(t, err, first)
}

func TestWaitAllCancelled(t *testing.T) {
	t.Parallel()

	pending, _ := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitAll(ctx, pending)
	assert.ErrorIs(t, err, context.Canceled)
}
