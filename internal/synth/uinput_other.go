//go:build !linux

package synth

import (
	"errors"
	"log/slog"

	"actionrepeater/internal/action"
)

const DefaultUinputPath = "/dev/uinput"

type UinputConfig struct {
	Path         string
	Name         string
	ScreenWidth  int
	ScreenHeight int
}

// Uinput is only available on Linux.
type Uinput struct{}

func NewUinput(UinputConfig, *slog.Logger) (*Uinput, error) {
	return nil, errors.New("uinput input synthesis requires linux")
}

func (*Uinput) KeyDown(action.Key) error       { return nil }
func (*Uinput) KeyRepeat(action.Key) error     { return nil }
func (*Uinput) KeyUp(action.Key) error         { return nil }
func (*Uinput) ButtonDown(action.Button) error { return nil }
func (*Uinput) ButtonUp(action.Button) error   { return nil }
func (*Uinput) Wheel(int, bool) error          { return nil }
func (*Uinput) MoveTo(action.Point) error      { return nil }
func (*Uinput) MoveBy(int, int) error          { return nil }
func (*Uinput) Close() error                   { return nil }
