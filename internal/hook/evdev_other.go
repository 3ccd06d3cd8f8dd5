//go:build !linux

package hook

import (
	"errors"
	"log/slog"

	"actionrepeater/internal/action"
)

// Evdev is only available on Linux.
type Evdev struct {
	cursor *cursor
}

// NewEvdev returns a source whose Install always fails.
func NewEvdev(cfg EvdevConfig, _ *slog.Logger) *Evdev {
	return &Evdev{cursor: newCursor(cfg.ScreenWidth, cfg.ScreenHeight)}
}

func (e *Evdev) CursorPosition() action.Point { return e.cursor.position() }

func (e *Evdev) Install(Handler) error {
	return errors.New("evdev input capture requires linux")
}

func (e *Evdev) Uninstall() error { return nil }
