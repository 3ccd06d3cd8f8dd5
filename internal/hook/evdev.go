package hook

import (
	"sync"

	"actionrepeater/internal/action"
	"actionrepeater/internal/evdev"
	"actionrepeater/internal/timing"
)

// EvdevConfig configures the evdev source.
type EvdevConfig struct {
	// Devices are /dev/input/event* paths to read from.
	Devices []string
	// ScreenWidth and ScreenHeight bound the virtual cursor that relative
	// pointer motion is integrated into.
	ScreenWidth  int
	ScreenHeight int
}

// ============================================================================
// Virtual cursor
// ============================================================================

// cursor integrates relative motion into a clamped screen position. It is
// written by the delivery goroutine and read by CursorPosition.
type cursor struct {
	mu            sync.Mutex
	pos           action.Point
	width, height int
}

func newCursor(width, height int) *cursor {
	return &cursor{
		pos:    action.Point{X: width / 2, Y: height / 2},
		width:  width,
		height: height,
	}
}

func (c *cursor) moveBy(d action.Point) action.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos.X = clamp(c.pos.X+d.X, 0, c.width-1)
	c.pos.Y = clamp(c.pos.Y+d.Y, 0, c.height-1)
	return c.pos
}

func (c *cursor) position() action.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

// ============================================================================
// Frame translation
// ============================================================================

// translator turns one device's raw events into hook events. Events are
// buffered until SYN_REPORT so that motion within a frame is delivered
// before the buttons and wheel steps reported with it.
type translator struct {
	cursor *cursor

	delta    action.Point
	moved    bool
	scan     uint32
	pending  []Event
	wheel    [2]int
	hiRes    [2]int
	hasHiRes [2]bool
	dropping bool
	tick     timing.Tick
}

const (
	axisVertical = iota
	axisHorizontal
)

func newTranslator(c *cursor) *translator {
	return &translator{cursor: c}
}

func buttonFromCode(code uint16) (action.Button, bool) {
	switch code {
	case evdev.BTN_LEFT:
		return action.ButtonLeft, true
	case evdev.BTN_RIGHT:
		return action.ButtonRight, true
	case evdev.BTN_MIDDLE:
		return action.ButtonMiddle, true
	case evdev.BTN_SIDE:
		return action.ButtonX1, true
	case evdev.BTN_EXTRA:
		return action.ButtonX2, true
	}
	return 0, false
}

// feed consumes one raw event stamped with tick and returns the events of a
// completed frame, if any.
func (t *translator) feed(ev evdev.RawEvent, tick timing.Tick) []Event {
	t.tick = tick

	if ev.Type == evdev.EV_SYN {
		switch ev.Code {
		case evdev.SYN_DROPPED:
			t.reset()
			t.dropping = true
			return nil
		case evdev.SYN_REPORT:
			if t.dropping {
				t.reset()
				return nil
			}
			return t.flush()
		}
		return nil
	}
	if t.dropping {
		return nil
	}

	switch ev.Type {
	case evdev.EV_MSC:
		if ev.Code == evdev.MSC_SCAN {
			t.scan = uint32(ev.Value)
		}

	case evdev.EV_KEY:
		if b, ok := buttonFromCode(ev.Code); ok {
			if ev.Value == evdev.ValueRepeat {
				return nil
			}
			kind := MouseButtonUp
			if ev.Value == evdev.ValuePress {
				kind = MouseButtonDown
			}
			t.pending = append(t.pending, MouseEvent{Kind: kind, Button: b, Tick: tick})
			return nil
		}
		if ev.Code >= evdev.BTN_MISC && ev.Code < evdev.KEY_OK {
			// joystick, gamepad and digitizer buttons
			return nil
		}
		t.pending = append(t.pending, KeyEvent{
			Key:      action.Key(ev.Code),
			ScanCode: t.scan,
			Down:     ev.Value != evdev.ValueRelease,
			Repeat:   ev.Value == evdev.ValueRepeat,
			Tick:     tick,
		})
		t.scan = 0

	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X:
			t.delta.X += int(ev.Value)
			t.moved = true
		case evdev.REL_Y:
			t.delta.Y += int(ev.Value)
			t.moved = true
		case evdev.REL_WHEEL:
			t.wheel[axisVertical] += int(ev.Value)
		case evdev.REL_HWHEEL:
			t.wheel[axisHorizontal] += int(ev.Value)
		case evdev.REL_WHEEL_HI_RES:
			t.hiRes[axisVertical] += int(ev.Value)
			t.hasHiRes[axisVertical] = true
		case evdev.REL_HWHEEL_HI_RES:
			t.hiRes[axisHorizontal] += int(ev.Value)
			t.hasHiRes[axisHorizontal] = true
		}
	}
	return nil
}

func (t *translator) flush() []Event {
	var out []Event

	pos := t.cursor.position()
	if t.moved && (t.delta.X != 0 || t.delta.Y != 0) {
		pos = t.cursor.moveBy(t.delta)
		out = append(out, MouseEvent{Kind: MouseMove, Position: pos, Delta: t.delta, Tick: t.tick})
	}

	for _, ev := range t.pending {
		if me, ok := ev.(MouseEvent); ok {
			me.Position = pos
			ev = me
		}
		out = append(out, ev)
	}

	for axis := range t.wheel {
		delta := t.wheel[axis] * WheelDelta
		if t.hasHiRes[axis] {
			delta = t.hiRes[axis] * WheelDelta / evdev.HiResPerDetent
		}
		if delta == 0 {
			continue
		}
		out = append(out, MouseEvent{
			Kind:       MouseWheel,
			WheelDelta: delta,
			Horizontal: axis == axisHorizontal,
			Position:   pos,
			Tick:       t.tick,
		})
	}

	t.reset()
	return out
}

func (t *translator) reset() {
	t.delta = action.Point{}
	t.moved = false
	t.scan = 0
	t.pending = t.pending[:0]
	t.wheel = [2]int{}
	t.hiRes = [2]int{}
	t.hasHiRes = [2]bool{}
	t.dropping = false
}
