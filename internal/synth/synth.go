// Package synth injects keyboard and mouse input.
package synth

import (
	"fmt"

	"actionrepeater/internal/action"
	"actionrepeater/internal/evdev"
)

// ButtonCode maps a mouse button to its BTN_* code.
func ButtonCode(b action.Button) (uint16, error) {
	switch b {
	case action.ButtonLeft:
		return evdev.BTN_LEFT, nil
	case action.ButtonRight:
		return evdev.BTN_RIGHT, nil
	case action.ButtonMiddle:
		return evdev.BTN_MIDDLE, nil
	case action.ButtonX1:
		return evdev.BTN_SIDE, nil
	case action.ButtonX2:
		return evdev.BTN_EXTRA, nil
	}
	return 0, fmt.Errorf("unknown mouse button %d", uint8(b))
}
