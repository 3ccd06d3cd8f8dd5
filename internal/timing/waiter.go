package timing

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrWaitCanceled is returned by Wait when Cancel interrupted it.
	ErrWaitCanceled = errors.New("wait canceled")
	// ErrWaiterBusy is returned when Wait is entered concurrently.
	ErrWaiterBusy = errors.New("waiter already waiting")
	// ErrWaiterClosed is returned by Wait after Close.
	ErrWaiterClosed = errors.New("waiter closed")
)

// Waiter blocks the calling goroutine for a relative duration.
//
// Wait returns nil once d elapsed, ErrWaitCanceled when Cancel was called
// while waiting, and ctx.Err() when ctx ends first. Cancel on a waiter that is
// not waiting does nothing. Close releases the underlying OS resources.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
	Cancel()
	Close() error
}

// TimerWaiter is a Waiter backed by time.Timer. Its resolution is whatever
// the Go runtime timer gives, so it serves tests and platforms without
// timerfd.
type TimerWaiter struct {
	mu      sync.Mutex
	waiting bool
	closed  bool
	cancel  chan struct{}
}

// NewTimerWaiter returns an idle TimerWaiter.
func NewTimerWaiter() *TimerWaiter {
	return &TimerWaiter{cancel: make(chan struct{}, 1)}
}

func (w *TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWaiterClosed
	}
	if w.waiting {
		w.mu.Unlock()
		return ErrWaiterBusy
	}
	w.waiting = true
	// Drop a cancel that raced with the end of the previous wait.
	select {
	case <-w.cancel:
	default:
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.waiting = false
		w.mu.Unlock()
	}()

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-w.cancel:
		return ErrWaitCanceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *TimerWaiter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting {
		return
	}
	select {
	case w.cancel <- struct{}{}:
	default:
	}
}

func (w *TimerWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
