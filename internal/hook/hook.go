// Package hook delivers low-level keyboard and mouse input to a handler.
package hook

import (
	"fmt"

	"actionrepeater/internal/action"
	"actionrepeater/internal/timing"
)

// WheelDelta is the wheel delta of one notch.
const WheelDelta = 120

// Event is either a KeyEvent or a MouseEvent.
type Event interface {
	isEvent()
}

// KeyEvent is a key transition.
type KeyEvent struct {
	Key      action.Key
	ScanCode uint32
	Down     bool
	// Repeat is set for OS autorepeat downs when the source can tell them
	// apart. The recorder also detects autorepeat from the down timing.
	Repeat bool
	Tick   timing.Tick
}

// MouseEventKind discriminates MouseEvent.
type MouseEventKind uint8

const (
	MouseMove MouseEventKind = iota + 1
	MouseButtonDown
	MouseButtonUp
	MouseWheel
)

func (k MouseEventKind) String() string {
	switch k {
	case MouseMove:
		return "move"
	case MouseButtonDown:
		return "button_down"
	case MouseButtonUp:
		return "button_up"
	case MouseWheel:
		return "wheel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MouseEvent is a pointer event. Position is the absolute cursor position
// after the event; Delta is the relative motion that produced it.
type MouseEvent struct {
	Kind       MouseEventKind
	Button     action.Button
	WheelDelta int
	Horizontal bool
	Position   action.Point
	Delta      action.Point
	Tick       timing.Tick
}

func (KeyEvent) isEvent()   {}
func (MouseEvent) isEvent() {}

// Handler receives events on the source's delivery goroutine. Handlers must
// not block.
type Handler interface {
	HandleKey(KeyEvent)
	HandleMouse(MouseEvent)
}

// Source installs and removes a system-wide handler. Both calls are
// idempotent; Install replaces a previously installed handler.
type Source interface {
	Install(h Handler) error
	Uninstall() error
}

// CursorLocator reports the current cursor position.
type CursorLocator interface {
	CursorPosition() action.Point
}
