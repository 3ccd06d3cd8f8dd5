package timing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waiters(t *testing.T) map[string]Waiter {
	t.Helper()
	w, err := NewWaiter()
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return map[string]Waiter{
		"timer":    NewTimerWaiter(),
		"platform": w,
	}
}

func TestWaiter_WaitElapses(t *testing.T) {
	for name, w := range waiters(t) {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			require.NoError(t, w.Wait(context.Background(), 20*time.Millisecond))
			assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		})
	}
}

func TestWaiter_CancelAbortsWait(t *testing.T) {
	for name, w := range waiters(t) {
		t.Run(name, func(t *testing.T) {
			errc := make(chan error, 1)
			go func() { errc <- w.Wait(context.Background(), 10*time.Second) }()

			// Cancel until the waiter picks it up; a cancel before Wait starts is a no-op.
			deadline := time.After(2 * time.Second)
			for {
				w.Cancel()
				select {
				case err := <-errc:
					assert.True(t, errors.Is(err, ErrWaitCanceled), "got %v", err)
					return
				case <-deadline:
					t.Fatal("wait was not canceled")
				case <-time.After(5 * time.Millisecond):
				}
			}
		})
	}
}

func TestWaiter_ContextCancelAbortsWait(t *testing.T) {
	for name, w := range waiters(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(20*time.Millisecond, cancel)

			start := time.Now()
			err := w.Wait(ctx, 10*time.Second)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestWaiter_CancelWhileIdleIsNoop(t *testing.T) {
	for name, w := range waiters(t) {
		t.Run(name, func(t *testing.T) {
			w.Cancel()
			require.NoError(t, w.Wait(context.Background(), 5*time.Millisecond))
		})
	}
}

func TestWaiter_ClosedWaiterRefusesWait(t *testing.T) {
	w := NewTimerWaiter()
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Wait(context.Background(), time.Millisecond), ErrWaiterClosed)
}
