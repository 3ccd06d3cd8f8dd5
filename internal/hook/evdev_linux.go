//go:build linux

package hook

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"actionrepeater/internal/action"
	"actionrepeater/internal/evdev"
	"actionrepeater/internal/timing"
)

// Evdev reads /dev/input event devices on one epoll goroutine and delivers
// translated events to the installed handler.
type Evdev struct {
	cfg    EvdevConfig
	logger *slog.Logger
	cursor *cursor

	mu      sync.Mutex
	handler Handler
	running *evdevLoop
}

type evdevDevice struct {
	path        string
	fd          int
	kernelClock bool
	tr          *translator
}

type evdevLoop struct {
	epfd    int
	wakefd  int
	devices map[int]*evdevDevice
	done    chan struct{}

	// fdMu guards the descriptors against a wake racing the loop's own exit.
	fdMu   sync.Mutex
	closed bool
}

// NewEvdev returns an uninstalled evdev source.
func NewEvdev(cfg EvdevConfig, logger *slog.Logger) *Evdev {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evdev{
		cfg:    cfg,
		logger: logger,
		cursor: newCursor(cfg.ScreenWidth, cfg.ScreenHeight),
	}
}

// CursorPosition returns the virtual cursor position.
func (e *Evdev) CursorPosition() action.Point {
	return e.cursor.position()
}

// Install opens the configured devices and starts the delivery goroutine.
// Installing again while the goroutine runs only swaps the handler; once it
// has stopped on its own the devices are opened afresh.
func (e *Evdev) Install(h Handler) error {
	if h == nil {
		return errors.New("evdev: nil handler")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.handler = h
	if e.running != nil {
		select {
		case <-e.running.done:
			e.running = nil
		default:
			return nil
		}
	}

	loop, err := e.open()
	if err != nil {
		e.handler = nil
		return err
	}
	e.running = loop
	go e.run(loop)
	return nil
}

// Uninstall stops the delivery goroutine and closes every device. It must not
// be called from a handler.
func (e *Evdev) Uninstall() error {
	e.mu.Lock()
	loop := e.running
	e.running = nil
	e.handler = nil
	e.mu.Unlock()

	if loop == nil {
		return nil
	}

	if err := loop.wake(); err != nil {
		e.logger.Warn("evdev wake failed", "error", err)
	}
	<-loop.done
	return nil
}

func (e *Evdev) currentHandler() Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

func (e *Evdev) open() (*evdevLoop, error) {
	if len(e.cfg.Devices) == 0 {
		return nil, errors.New("evdev: no input devices configured")
	}

	loop := &evdevLoop{epfd: -1, wakefd: -1, devices: make(map[int]*evdevDevice), done: make(chan struct{})}
	fail := func(err error) (*evdevLoop, error) {
		loop.close()
		return nil, err
	}

	var err error
	if loop.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fail(fmt.Errorf("epoll_create1: %w", err))
	}
	if loop.wakefd, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK); err != nil {
		return fail(fmt.Errorf("eventfd: %w", err))
	}
	if err := epollAdd(loop.epfd, loop.wakefd); err != nil {
		return fail(err)
	}

	for _, path := range e.cfg.Devices {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return fail(fmt.Errorf("open input device %s: %w", path, err))
		}
		dev := &evdevDevice{path: path, fd: fd, tr: newTranslator(e.cursor)}
		loop.devices[fd] = dev

		if err := evdev.SetClockMonotonic(fd); err != nil {
			e.logger.Warn("input device keeps realtime timestamps; stamping on read", "device", path, "error", err)
		} else {
			dev.kernelClock = true
		}

		if err := epollAdd(loop.epfd, fd); err != nil {
			return fail(err)
		}
		e.logger.Info("input device opened", "device", path, "kernel_clock", dev.kernelClock)
	}
	return loop, nil
}

func epollAdd(epfd, fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}
	return nil
}

// wake interrupts epoll_wait. A loop that already closed is left alone.
func (l *evdevLoop) wake() error {
	l.fdMu.Lock()
	defer l.fdMu.Unlock()
	if l.closed {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(l.wakefd, buf[:])
	return err
}

func (l *evdevLoop) close() {
	l.fdMu.Lock()
	defer l.fdMu.Unlock()
	l.closed = true
	for _, d := range l.devices {
		_ = unix.Close(d.fd)
	}
	if l.wakefd >= 0 {
		_ = unix.Close(l.wakefd)
	}
	if l.epfd >= 0 {
		_ = unix.Close(l.epfd)
	}
}

// run is the delivery goroutine. When it stops by itself it detaches from e
// so the next Install opens the devices again.
func (e *Evdev) run(loop *evdevLoop) {
	defer close(loop.done)
	defer loop.close()
	defer e.detach(loop)

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, 64*evdev.EventSize)
	dec := evdev.NewDecoder()

	for {
		n, err := unix.EpollWait(loop.epfd, epollEvents, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.logger.Error("epoll_wait failed; input capture stopped", "error", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == loop.wakefd {
				return
			}
			dev := loop.devices[fd]
			if dev == nil {
				continue
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				e.logger.Warn("input device error/hangup; dropping it", "device", dev.path)
				e.dropDevice(loop, dev)
				if len(loop.devices) == 0 {
					e.logger.Error("no input devices left; input capture stopped")
					return
				}
				continue
			}

			if err := e.drainDevice(dev, buf, dec); err != nil {
				e.logger.Warn("read from input device failed; dropping it", "device", dev.path, "error", err)
				e.dropDevice(loop, dev)
				if len(loop.devices) == 0 {
					e.logger.Error("no input devices left; input capture stopped")
					return
				}
			}
		}
	}
}

func (e *Evdev) detach(loop *evdevLoop) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == loop {
		e.running = nil
	}
}

func (e *Evdev) dropDevice(loop *evdevLoop, dev *evdevDevice) {
	_ = unix.EpollCtl(loop.epfd, unix.EPOLL_CTL_DEL, dev.fd, nil)
	_ = unix.Close(dev.fd)
	delete(loop.devices, dev.fd)
}

// drainDevice reads until the non-blocking fd is empty.
func (e *Evdev) drainDevice(dev *evdevDevice, buf []byte, dec *evdev.Decoder) error {
	for {
		n, err := unix.Read(dev.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return errors.New("end of file")
		}

		raw, err := dec.DecodeAll(buf[:n])
		if err != nil {
			e.logger.Debug("skipping malformed input events", "device", dev.path, "error", err)
		}
		for _, ev := range raw {
			tick := timing.Monotonic.Now()
			if dev.kernelClock {
				tick = timing.FromTimeval(ev.Sec, ev.Usec)
			}
			for _, out := range dev.tr.feed(ev, tick) {
				e.deliver(out)
			}
		}
	}
}

func (e *Evdev) deliver(ev Event) {
	h := e.currentHandler()
	if h == nil {
		return
	}
	switch ev := ev.(type) {
	case KeyEvent:
		h.HandleKey(ev)
	case MouseEvent:
		h.HandleMouse(ev)
	}
}
