//go:build linux

package timing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// HighResolutionWaiter waits on a CLOCK_MONOTONIC timerfd armed with a
// relative nanosecond deadline. Cancellation writes to an eventfd watched by
// the same epoll set, so an in-progress wait returns immediately.
type HighResolutionWaiter struct {
	mu      sync.Mutex
	timerfd int
	eventfd int
	epfd    int
	waiting bool
	closed  bool
}

// NewHighResolutionWaiter acquires the timerfd, eventfd and epoll instance.
// Every descriptor is released again if any acquisition fails.
func NewHighResolutionWaiter() (*HighResolutionWaiter, error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(tfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(tfd)
		unix.Close(efd)
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	for _, fd := range []int{tfd, efd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(tfd)
			unix.Close(efd)
			unix.Close(epfd)
			return nil, fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		}
	}

	return &HighResolutionWaiter{timerfd: tfd, eventfd: efd, epfd: epfd}, nil
}

// NewWaiter returns the best waiter available on this platform.
func NewWaiter() (Waiter, error) {
	return NewHighResolutionWaiter()
}

func (w *HighResolutionWaiter) Wait(ctx context.Context, d time.Duration) error {
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
	drain(w.eventfd)
	drain(w.timerfd)
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.waiting = false
		w.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, w.Cancel)
	defer stop()

	its := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(w.timerfd, 0, &its, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}

	events := make([]unix.EpollEvent, 2)
	for {
		n, err := unix.EpollWait(w.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			w.disarm()
			return fmt.Errorf("epoll_wait: %w", err)
		}

		canceled, fired := false, false
		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case w.eventfd:
				canceled = true
			case w.timerfd:
				fired = true
			}
		}

		switch {
		case canceled:
			drain(w.eventfd)
			w.disarm()
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrWaitCanceled
		case fired:
			drain(w.timerfd)
			return nil
		}
	}
}

func (w *HighResolutionWaiter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting || w.closed {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.eventfd, buf[:])
}

// Close releases all descriptors. It is safe to call more than once.
func (w *HighResolutionWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(
		unix.Close(w.epfd),
		unix.Close(w.timerfd),
		unix.Close(w.eventfd),
	)
}

func (w *HighResolutionWaiter) disarm() {
	var zero unix.ItimerSpec
	_ = unix.TimerfdSettime(w.timerfd, 0, &zero, nil)
	drain(w.timerfd)
}

// drain consumes the 8-byte counter of a non-blocking timerfd or eventfd.
func drain(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
