//go:build linux

package synth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"actionrepeater/internal/action"
	"actionrepeater/internal/evdev"
)

// DefaultUinputPath is the uinput control node.
const DefaultUinputPath = "/dev/uinput"

// UinputConfig configures the virtual devices.
type UinputConfig struct {
	Path string
	// Name prefixes the names of the two virtual devices.
	Name         string
	ScreenWidth  int
	ScreenHeight int
}

// Uinput injects input through two virtual devices: a keyboard with a
// relative pointer (keys, buttons, wheel and MoveBy) and an absolute pointer
// spanning the screen (MoveTo).
type Uinput struct {
	mu     sync.Mutex
	rel    *os.File
	abs    *os.File
	logger *slog.Logger
}

// NewUinput creates both devices.
func NewUinput(cfg UinputConfig, logger *slog.Logger) (*Uinput, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultUinputPath
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		return nil, errors.New("uinput: screen size must be > 0")
	}

	rel, err := createDevice(cfg.Path, cfg.Name, setupRelative)
	if err != nil {
		return nil, err
	}
	abs, err := createDevice(cfg.Path, cfg.Name+" (absolute)", func(fd int) error {
		return setupAbsolute(fd, cfg.ScreenWidth, cfg.ScreenHeight)
	})
	if err != nil {
		destroy(rel)
		return nil, err
	}

	logger.Info("uinput devices created", "name", cfg.Name, "screen_w", cfg.ScreenWidth, "screen_h", cfg.ScreenHeight)
	return &Uinput{rel: rel, abs: abs, logger: logger}, nil
}

func createDevice(path, name string, setup func(fd int) error) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w (tip: load the uinput module and check permissions)", path, err)
	}
	fd := int(f.Fd())

	if err := setup(fd); err != nil {
		f.Close()
		return nil, fmt.Errorf("uinput setup %q: %w", name, err)
	}

	us := evdev.UinputSetup{BusType: evdev.BUS_VIRTUAL, Vendor: 0x1209, Product: 0x4172, Version: 1}
	copy(us.Name[:len(us.Name)-1], name)
	if err := evdev.DevSetup(fd, &us); err != nil {
		f.Close()
		return nil, fmt.Errorf("UI_DEV_SETUP %q: %w", name, err)
	}
	if err := evdev.DevCreate(fd); err != nil {
		f.Close()
		return nil, fmt.Errorf("UI_DEV_CREATE %q: %w", name, err)
	}
	return f, nil
}

func setupRelative(fd int) error {
	for _, ev := range []int{evdev.EV_SYN, evdev.EV_KEY, evdev.EV_REL} {
		if err := evdev.SetBit(fd, evdev.UI_SET_EVBIT, ev); err != nil {
			return err
		}
	}
	for code := 1; code < evdev.BTN_MISC; code++ {
		if err := evdev.SetBit(fd, evdev.UI_SET_KEYBIT, code); err != nil {
			return err
		}
	}
	for code := evdev.BTN_LEFT; code <= evdev.BTN_EXTRA; code++ {
		if err := evdev.SetBit(fd, evdev.UI_SET_KEYBIT, code); err != nil {
			return err
		}
	}
	for _, code := range []int{evdev.REL_X, evdev.REL_Y, evdev.REL_WHEEL, evdev.REL_HWHEEL, evdev.REL_WHEEL_HI_RES, evdev.REL_HWHEEL_HI_RES} {
		if err := evdev.SetBit(fd, evdev.UI_SET_RELBIT, code); err != nil {
			return err
		}
	}
	return nil
}

func setupAbsolute(fd, width, height int) error {
	for _, ev := range []int{evdev.EV_SYN, evdev.EV_KEY, evdev.EV_ABS} {
		if err := evdev.SetBit(fd, evdev.UI_SET_EVBIT, ev); err != nil {
			return err
		}
	}
	// Without a button the absolute device is not classified as a pointer.
	if err := evdev.SetBit(fd, evdev.UI_SET_KEYBIT, evdev.BTN_LEFT); err != nil {
		return err
	}
	if err := evdev.SetBit(fd, evdev.UI_SET_PROPBIT, evdev.INPUT_PROP_POINTER); err != nil {
		return err
	}
	for code, hi := range map[uint16]int{evdev.ABS_X: width - 1, evdev.ABS_Y: height - 1} {
		if err := evdev.SetBit(fd, evdev.UI_SET_ABSBIT, int(code)); err != nil {
			return err
		}
		s := evdev.UinputAbsSetup{Code: code, Info: evdev.AbsInfo{Maximum: int32(hi)}}
		if err := evdev.AbsSetup(fd, &s); err != nil {
			return err
		}
	}
	return nil
}

func destroy(f *os.File) error {
	err := evdev.DevDestroy(int(f.Fd()))
	return errors.Join(err, f.Close())
}

// emit writes events plus SYN_REPORT to the absolute or the relative device.
func (u *Uinput) emit(absolute bool, events ...evdev.RawEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	f := u.rel
	if absolute {
		f = u.abs
	}
	if f == nil {
		return errors.New("uinput: device closed")
	}
	events = append(events, evdev.Syn())
	if err := evdev.Write(f, events...); err != nil {
		return fmt.Errorf("uinput write: %w", err)
	}
	return nil
}

func keyEvent(code uint16, value int32) evdev.RawEvent {
	return evdev.RawEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func (u *Uinput) KeyDown(k action.Key) error {
	return u.emit(false, keyEvent(uint16(k), evdev.ValuePress))
}

func (u *Uinput) KeyRepeat(k action.Key) error {
	return u.emit(false, keyEvent(uint16(k), evdev.ValueRepeat))
}

func (u *Uinput) KeyUp(k action.Key) error {
	return u.emit(false, keyEvent(uint16(k), evdev.ValueRelease))
}

func (u *Uinput) ButtonDown(b action.Button) error {
	code, err := ButtonCode(b)
	if err != nil {
		return err
	}
	return u.emit(false, keyEvent(code, evdev.ValuePress))
}

func (u *Uinput) ButtonUp(b action.Button) error {
	code, err := ButtonCode(b)
	if err != nil {
		return err
	}
	return u.emit(false, keyEvent(code, evdev.ValueRelease))
}

func (u *Uinput) Wheel(steps int, horizontal bool) error {
	var lo, hi uint16 = evdev.REL_WHEEL, evdev.REL_WHEEL_HI_RES
	if horizontal {
		lo, hi = evdev.REL_HWHEEL, evdev.REL_HWHEEL_HI_RES
	}
	return u.emit(false,
		evdev.RawEvent{Type: evdev.EV_REL, Code: lo, Value: int32(steps)},
		evdev.RawEvent{Type: evdev.EV_REL, Code: hi, Value: int32(steps * evdev.HiResPerDetent)},
	)
}

func (u *Uinput) MoveTo(p action.Point) error {
	return u.emit(true,
		evdev.RawEvent{Type: evdev.EV_ABS, Code: evdev.ABS_X, Value: int32(p.X)},
		evdev.RawEvent{Type: evdev.EV_ABS, Code: evdev.ABS_Y, Value: int32(p.Y)},
	)
}

func (u *Uinput) MoveBy(dx, dy int) error {
	return u.emit(false,
		evdev.RawEvent{Type: evdev.EV_REL, Code: evdev.REL_X, Value: int32(dx)},
		evdev.RawEvent{Type: evdev.EV_REL, Code: evdev.REL_Y, Value: int32(dy)},
	)
}

// Close destroys both devices.
func (u *Uinput) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&u.rel, &u.abs} {
		if *f == nil {
			continue
		}
		errs = append(errs, destroy(*f))
		*f = nil
	}
	return errors.Join(errs...)
}
