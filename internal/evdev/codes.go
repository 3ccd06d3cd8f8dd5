// Package evdev holds the Linux input subsystem wire format shared by the
// evdev hook source and the uinput synthesizer.
package evdev

// Event types and codes (from <linux/input-event-codes.h>).
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_ABS = 0x03
	EV_MSC = 0x04

	SYN_REPORT  = 0x00
	SYN_DROPPED = 0x03

	MSC_SCAN = 0x04

	REL_X             = 0x00
	REL_Y             = 0x01
	REL_HWHEEL        = 0x06
	REL_WHEEL         = 0x08
	REL_WHEEL_HI_RES  = 0x0b
	REL_HWHEEL_HI_RES = 0x0c

	ABS_X = 0x00
	ABS_Y = 0x01

	BTN_LEFT   = 0x110
	BTN_RIGHT  = 0x111
	BTN_MIDDLE = 0x112
	BTN_SIDE   = 0x113
	BTN_EXTRA  = 0x114

	// Codes in [BTN_MISC, KEY_OK) are buttons, not keyboard keys.
	BTN_MISC = 0x100
	KEY_OK   = 0x160
	KEY_MAX  = 0x2ff

	INPUT_PROP_POINTER = 0x00

	BUS_VIRTUAL = 0x06
)

// EV_KEY values.
const (
	ValueRelease = 0
	ValuePress   = 1
	ValueRepeat  = 2
)

// HiResPerDetent is the REL_*_HI_RES value of one wheel notch.
const HiResPerDetent = 120
