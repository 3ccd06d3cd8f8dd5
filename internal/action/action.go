// Package action defines the recordable input actions, the cursor path that
// accompanies a recording, and the shared collection both the recorder and
// the player work against.
package action

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformedAction is returned for actions that break the model's
// invariants, typically from an imported action file.
var ErrMalformedAction = errors.New("malformed action")

// Point is a screen position or, in a relative cursor path, a movement delta.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// ============================================================================
// Enums
// ============================================================================

// Transition is the edge an input action represents.
type Transition uint8

const (
	Press Transition = iota + 1
	Release
	// Click is a press immediately followed by a release of the same mouse
	// button.
	Click
)

var transitionNames = map[Transition]string{
	Press:   "press",
	Release: "release",
	Click:   "click",
}

func (t Transition) String() string {
	if s, ok := transitionNames[t]; ok {
		return s
	}
	return fmt.Sprintf("transition(%d)", uint8(t))
}

func (t Transition) MarshalText() ([]byte, error) {
	s, ok := transitionNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transition %d", ErrMalformedAction, uint8(t))
	}
	return []byte(s), nil
}

func (t *Transition) UnmarshalText(b []byte) error {
	for k, v := range transitionNames {
		if v == strings.ToLower(string(b)) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown transition %q", ErrMalformedAction, b)
}

// Button identifies a mouse button.
type Button uint8

const (
	ButtonLeft Button = iota + 1
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2
)

var buttonNames = map[Button]string{
	ButtonLeft:   "left",
	ButtonRight:  "right",
	ButtonMiddle: "middle",
	ButtonX1:     "x1",
	ButtonX2:     "x2",
}

func (b Button) String() string {
	if s, ok := buttonNames[b]; ok {
		return s
	}
	return fmt.Sprintf("button(%d)", uint8(b))
}

// Valid reports whether b names a known button.
func (b Button) Valid() bool {
	_, ok := buttonNames[b]
	return ok
}

func (b Button) MarshalText() ([]byte, error) {
	s, ok := buttonNames[b]
	if !ok {
		return nil, fmt.Errorf("%w: unknown button %d", ErrMalformedAction, uint8(b))
	}
	return []byte(s), nil
}

func (b *Button) UnmarshalText(text []byte) error {
	for k, v := range buttonNames {
		if v == strings.ToLower(string(text)) {
			*b = k
			return nil
		}
	}
	return fmt.Errorf("%w: unknown button %q", ErrMalformedAction, text)
}

// CursorMovementMode selects whether and how cursor movement is captured.
type CursorMovementMode uint8

const (
	CursorMovementNone CursorMovementMode = iota
	CursorMovementAbsolute
	CursorMovementRelative
)

var movementModeNames = map[CursorMovementMode]string{
	CursorMovementNone:     "none",
	CursorMovementAbsolute: "absolute",
	CursorMovementRelative: "relative",
}

func (m CursorMovementMode) String() string {
	if s, ok := movementModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m CursorMovementMode) MarshalText() ([]byte, error) {
	s, ok := movementModeNames[m]
	if !ok {
		return nil, fmt.Errorf("unknown cursor movement mode %d", uint8(m))
	}
	return []byte(s), nil
}

func (m *CursorMovementMode) UnmarshalText(b []byte) error {
	for k, v := range movementModeNames {
		if v == strings.ToLower(string(b)) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown cursor movement mode %q (must be none, absolute or relative)", b)
}

// ============================================================================
// Actions
// ============================================================================

// Action is one recordable input action. The set of implementations is
// closed: KeyAction, MouseButtonAction, MouseWheelAction, WaitAction and
// TextTypeAction. Actions are referenced by pointer and treated as immutable
// once stored in a Collection; edits replace the pointer.
type Action interface {
	fmt.Stringer
	isAction()
}

// KeyAction presses or releases a key.
type KeyAction struct {
	Transition Transition `json:"transition"`
	Key        Key        `json:"key"`
	// AutoRepeat marks an OS autorepeat press coalesced into the preceding
	// press of the same key.
	AutoRepeat bool `json:"auto_repeat,omitempty"`
}

// MouseButtonAction presses, releases or clicks a mouse button.
type MouseButtonAction struct {
	Transition Transition `json:"transition"`
	Button     Button     `json:"button"`
	Position   *Point     `json:"position,omitempty"`
	// UsePosition moves the cursor to Position before the button event.
	UsePosition bool `json:"use_position"`
	// Count is the number of clicks for a Click transition.
	Count int `json:"count,omitempty"`
}

// MouseWheelAction scrolls by Steps notches, spread over DurationMs.
type MouseWheelAction struct {
	Horizontal bool `json:"horizontal,omitempty"`
	Steps      int  `json:"steps"`
	DurationMs int  `json:"duration_ms,omitempty"`
}

// WaitAction pauses playback.
type WaitAction struct {
	DurationMs int `json:"duration_ms"`
}

// TextTypeAction types literal text. WPM paces the typing at five
// characters per word; zero types without delay.
type TextTypeAction struct {
	Text string `json:"text"`
	WPM  int    `json:"wpm,omitempty"`
}

func (*KeyAction) isAction()         {}
func (*MouseButtonAction) isAction() {}
func (*MouseWheelAction) isAction()  {}
func (*WaitAction) isAction()        {}
func (*TextTypeAction) isAction()    {}

func (a *KeyAction) String() string {
	s := fmt.Sprintf("Key %s %s", a.Transition, a.Key)
	if a.AutoRepeat {
		s += " (autorepeat)"
	}
	return s
}

func (a *MouseButtonAction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mouse %s %s", a.Transition, a.Button)
	if a.Transition == Click && a.Count > 1 {
		fmt.Fprintf(&sb, " x%d", a.Count)
	}
	if a.Position != nil {
		if a.UsePosition {
			fmt.Fprintf(&sb, " at %s", a.Position)
		} else {
			fmt.Fprintf(&sb, " (recorded at %s)", a.Position)
		}
	}
	return sb.String()
}

func (a *MouseWheelAction) String() string {
	axis := "Wheel"
	if a.Horizontal {
		axis = "Horizontal wheel"
	}
	if a.DurationMs > 0 {
		return fmt.Sprintf("%s %d steps over %dms", axis, a.Steps, a.DurationMs)
	}
	return fmt.Sprintf("%s %d steps", axis, a.Steps)
}

func (a *WaitAction) String() string { return fmt.Sprintf("Wait %dms", a.DurationMs) }

func (a *TextTypeAction) String() string {
	if a.WPM > 0 {
		return fmt.Sprintf("Type %q at %d wpm", a.Text, a.WPM)
	}
	return fmt.Sprintf("Type %q", a.Text)
}

// Validate checks a's invariants.
func Validate(a Action) error {
	switch a := a.(type) {
	case *KeyAction:
		if a == nil {
			return fmt.Errorf("%w: nil key action", ErrMalformedAction)
		}
		if a.Transition != Press && a.Transition != Release {
			return fmt.Errorf("%w: key transition must be press or release, got %s", ErrMalformedAction, a.Transition)
		}
		if a.Key == 0 {
			return fmt.Errorf("%w: key code is zero", ErrMalformedAction)
		}
		if a.AutoRepeat && a.Transition != Press {
			return fmt.Errorf("%w: only presses can be autorepeat", ErrMalformedAction)
		}

	case *MouseButtonAction:
		if a == nil {
			return fmt.Errorf("%w: nil mouse button action", ErrMalformedAction)
		}
		if !a.Button.Valid() {
			return fmt.Errorf("%w: unknown button %d", ErrMalformedAction, uint8(a.Button))
		}
		switch a.Transition {
		case Press, Release:
			if a.Count != 0 {
				return fmt.Errorf("%w: count is only valid for clicks", ErrMalformedAction)
			}
		case Click:
			if a.Count < 1 {
				return fmt.Errorf("%w: click count must be >= 1", ErrMalformedAction)
			}
		default:
			return fmt.Errorf("%w: unknown mouse transition %d", ErrMalformedAction, uint8(a.Transition))
		}
		if a.UsePosition && a.Position == nil {
			return fmt.Errorf("%w: use_position set without a position", ErrMalformedAction)
		}

	case *MouseWheelAction:
		if a == nil {
			return fmt.Errorf("%w: nil wheel action", ErrMalformedAction)
		}
		if a.Steps == 0 {
			return fmt.Errorf("%w: wheel steps must not be zero", ErrMalformedAction)
		}
		if a.DurationMs < 0 {
			return fmt.Errorf("%w: wheel duration must be >= 0", ErrMalformedAction)
		}

	case *WaitAction:
		if a == nil {
			return fmt.Errorf("%w: nil wait action", ErrMalformedAction)
		}
		if a.DurationMs < 0 {
			return fmt.Errorf("%w: wait duration must be >= 0", ErrMalformedAction)
		}

	case *TextTypeAction:
		if a == nil {
			return fmt.Errorf("%w: nil text action", ErrMalformedAction)
		}
		if !utf8.ValidString(a.Text) {
			return fmt.Errorf("%w: text is not valid UTF-8", ErrMalformedAction)
		}
		if a.WPM < 0 {
			return fmt.Errorf("%w: wpm must be >= 0", ErrMalformedAction)
		}

	default:
		return fmt.Errorf("%w: unsupported action type %T", ErrMalformedAction, a)
	}
	return nil
}

// ============================================================================
// Cursor path
// ============================================================================

// MouseMovement is one recorded cursor sample. TimestampMs counts from the
// start of the recording session. Position is absolute in Absolute mode and a
// delta from the previous sample in Relative mode.
type MouseMovement struct {
	Position    Point `json:"position"`
	TimestampMs int   `json:"timestamp_ms"`
}

// CursorPath is the cursor trail of one recording session.
type CursorPath struct {
	Mode      CursorMovementMode `json:"mode"`
	Start     Point              `json:"start"`
	Movements []MouseMovement    `json:"movements"`
}

// Clone returns a deep copy of p. A nil path clones to nil.
func (p *CursorPath) Clone() *CursorPath {
	if p == nil {
		return nil
	}
	c := *p
	c.Movements = append([]MouseMovement(nil), p.Movements...)
	return &c
}

// AbsolutePositions resolves every movement to a screen position.
func (p *CursorPath) AbsolutePositions() []Point {
	if p == nil {
		return nil
	}
	out := make([]Point, 0, len(p.Movements))
	cur := p.Start
	for _, m := range p.Movements {
		if p.Mode == CursorMovementRelative {
			cur.X += m.Position.X
			cur.Y += m.Position.Y
		} else {
			cur = m.Position
		}
		out = append(out, cur)
	}
	return out
}

// AsAbsolute returns a copy of p whose movements are screen positions. An
// absolute path is only cloned.
func (p *CursorPath) AsAbsolute() *CursorPath {
	if p == nil || p.Mode != CursorMovementRelative {
		return p.Clone()
	}
	positions := p.AbsolutePositions()
	c := &CursorPath{Mode: CursorMovementAbsolute, Start: p.Start, Movements: make([]MouseMovement, len(p.Movements))}
	for i, m := range p.Movements {
		c.Movements[i] = MouseMovement{Position: positions[i], TimestampMs: m.TimestampMs}
	}
	return c
}

// DurationMs is the timestamp of the last movement.
func (p *CursorPath) DurationMs() int {
	if p == nil || len(p.Movements) == 0 {
		return 0
	}
	return p.Movements[len(p.Movements)-1].TimestampMs
}
