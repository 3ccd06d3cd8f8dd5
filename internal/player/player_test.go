package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionrepeater/internal/action"
	"actionrepeater/internal/timing"
)

type mockSynth struct {
	mu     sync.Mutex
	calls  []string
	onCall func(call string) error
}

func (m *mockSynth) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	m.mu.Lock()
	m.calls = append(m.calls, call)
	hook := m.onCall
	m.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return nil
}

func (m *mockSynth) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockSynth) KeyDown(k action.Key) error       { return m.record("keydown %s", k) }
func (m *mockSynth) KeyRepeat(k action.Key) error     { return m.record("repeat %s", k) }
func (m *mockSynth) KeyUp(k action.Key) error         { return m.record("keyup %s", k) }
func (m *mockSynth) ButtonDown(b action.Button) error { return m.record("down %s", b) }
func (m *mockSynth) ButtonUp(b action.Button) error   { return m.record("up %s", b) }
func (m *mockSynth) Wheel(steps int, h bool) error    { return m.record("wheel %d %t", steps, h) }
func (m *mockSynth) MoveTo(p action.Point) error      { return m.record("moveto %d %d", p.X, p.Y) }
func (m *mockSynth) MoveBy(dx, dy int) error          { return m.record("moveby %d %d", dx, dy) }

// instantWaiter records requested durations and returns at once.
type instantWaiter struct {
	mu     sync.Mutex
	waits  []time.Duration
	closed bool
}

func (w *instantWaiter) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return nil
}

func (w *instantWaiter) Cancel() {}

func (w *instantWaiter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *instantWaiter) Waits() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.waits...)
}

func (w *instantWaiter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func newInstant(t *testing.T) (*Player, *mockSynth, *instantWaiter) {
	t.Helper()
	synth := &mockSynth{}
	w := &instantWaiter{}
	p := New(Config{
		Synth:     synth,
		NewWaiter: func() (timing.Waiter, error) { return w, nil },
	})
	return p, synth, w
}

func playAndWait(t *testing.T, p *Player, req Request) error {
	t.Helper()
	done, err := p.Play(context.Background(), req)
	require.NoError(t, err)
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
		return nil
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestPlay_SynthesizesInOrder(t *testing.T) {
	p, synth, w := newInstant(t)

	err := playAndWait(t, p, Request{Actions: []action.Action{
		&action.KeyAction{Transition: action.Press, Key: action.KeyA},
		&action.WaitAction{DurationMs: 50},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
		&action.MouseButtonAction{Transition: action.Click, Button: action.ButtonLeft, Count: 2, Position: &action.Point{X: 3, Y: 4}, UsePosition: true},
		&action.MouseButtonAction{Transition: action.Press, Button: action.ButtonRight, Position: &action.Point{X: 9, Y: 9}},
		&action.MouseButtonAction{Transition: action.Release, Button: action.ButtonRight},
		&action.KeyAction{Transition: action.Press, Key: action.KeyA, AutoRepeat: true},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"keydown KEY_A",
		"keyup KEY_A",
		"moveto 3 4",
		"down left", "up left", "down left", "up left",
		"down right",
		"up right",
		"repeat KEY_A",
	}, synth.Calls())
	assert.Equal(t, []time.Duration{ms(50)}, w.Waits())
	assert.True(t, w.Closed())
	assert.False(t, p.IsPlaying())
}

func TestPlay_WheelSpreadsSteps(t *testing.T) {
	p, synth, w := newInstant(t)

	err := playAndWait(t, p, Request{Actions: []action.Action{
		&action.MouseWheelAction{Steps: -3, DurationMs: 100},
		&action.MouseWheelAction{Horizontal: true, Steps: 4},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"wheel -1 false", "wheel -1 false", "wheel -1 false", "wheel 4 true"}, synth.Calls())
	assert.Equal(t, []time.Duration{ms(50), ms(50)}, w.Waits())
}

func TestPlay_TypesText(t *testing.T) {
	p, synth, w := newInstant(t)

	err := playAndWait(t, p, Request{Actions: []action.Action{
		&action.TextTypeAction{Text: "aBé", WPM: 60},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"keydown KEY_A", "keyup KEY_A",
		"keydown KEY_LEFTSHIFT", "keydown KEY_B", "keyup KEY_B", "keyup KEY_LEFTSHIFT",
	}, synth.Calls())
	assert.Equal(t, []time.Duration{ms(200)}, w.Waits())
}

func TestPlay_RepeatAndSpeed(t *testing.T) {
	p, synth, w := newInstant(t)

	err := playAndWait(t, p, Request{
		Actions: []action.Action{
			&action.KeyAction{Transition: action.Press, Key: action.KeyX},
			&action.WaitAction{DurationMs: 50},
		},
		RepeatCount: 3,
		Speed:       2,
	})
	require.NoError(t, err)

	assert.Len(t, synth.Calls(), 3)
	assert.Equal(t, []time.Duration{ms(25), ms(25), ms(25)}, w.Waits())
}

func TestPlay_ZeroRepeatPlaysOnce(t *testing.T) {
	p, synth, _ := newInstant(t)
	err := playAndWait(t, p, Request{Actions: []action.Action{&action.KeyAction{Transition: action.Press, Key: action.KeyX}}})
	require.NoError(t, err)
	assert.Len(t, synth.Calls(), 1)
}

func TestPlay_InterleavesCursorPath(t *testing.T) {
	p, synth, w := newInstant(t)

	err := playAndWait(t, p, Request{
		Actions: []action.Action{
			&action.WaitAction{DurationMs: 50},
			&action.KeyAction{Transition: action.Press, Key: action.KeyA},
			&action.WaitAction{DurationMs: 50},
			&action.KeyAction{Transition: action.Release, Key: action.KeyA},
		},
		CursorPath: &action.CursorPath{
			Mode:  action.CursorMovementRelative,
			Start: action.Point{X: 10, Y: 10},
			Movements: []action.MouseMovement{
				{Position: action.Point{X: 1}, TimestampMs: 20},
				{Position: action.Point{Y: 1}, TimestampMs: 60},
				{Position: action.Point{X: 2, Y: 2}, TimestampMs: 150},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"moveto 10 10",
		"moveby 1 0",
		"keydown KEY_A",
		"moveby 0 1",
		"keyup KEY_A",
		"moveby 2 2",
	}, synth.Calls())
	assert.Equal(t, []time.Duration{ms(20), ms(30), ms(10), ms(40), ms(50)}, w.Waits())
}

func TestPlay_AbsolutePathOnly(t *testing.T) {
	p, synth, _ := newInstant(t)

	err := playAndWait(t, p, Request{CursorPath: &action.CursorPath{
		Mode:      action.CursorMovementAbsolute,
		Movements: []action.MouseMovement{{Position: action.Point{X: 5, Y: 6}, TimestampMs: 10}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"moveto 0 0", "moveto 5 6"}, synth.Calls())
}

func TestPlay_EmptyRequestFinishes(t *testing.T) {
	p, synth, w := newInstant(t)
	require.NoError(t, playAndWait(t, p, Request{}))
	assert.Empty(t, synth.Calls())
	assert.True(t, w.Closed())
}

func TestPlay_TimerAcquisitionFailure(t *testing.T) {
	boom := errors.New("timerfd_create: EMFILE")
	p := New(Config{
		Synth:     &mockSynth{},
		NewWaiter: func() (timing.Waiter, error) { return nil, boom },
	})
	var changes []bool
	p.OnPlayingChanged(func(on bool) { changes = append(changes, on) })

	done, err := p.Play(context.Background(), Request{Actions: []action.Action{&action.WaitAction{DurationMs: 1}}})
	assert.Nil(t, done)
	assert.ErrorIs(t, err, ErrTimerAcquisitionFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, p.IsPlaying())
	assert.Empty(t, changes)
}

type trackedWaiter struct {
	*timing.TimerWaiter
	closed chan struct{}
}

func (w *trackedWaiter) Close() error {
	close(w.closed)
	return w.TimerWaiter.Close()
}

func TestPlay_CancelDuringWait(t *testing.T) {
	pressed := make(chan struct{})
	synth := &mockSynth{onCall: func(call string) error {
		if call == "keydown KEY_A" {
			close(pressed)
		}
		return nil
	}}
	w := &trackedWaiter{TimerWaiter: timing.NewTimerWaiter(), closed: make(chan struct{})}
	p := New(Config{Synth: synth, NewWaiter: func() (timing.Waiter, error) { return w, nil }})

	var mu sync.Mutex
	var changes []bool
	p.OnPlayingChanged(func(on bool) {
		mu.Lock()
		changes = append(changes, on)
		mu.Unlock()
	})

	done, err := p.Play(context.Background(), Request{Actions: []action.Action{
		&action.KeyAction{Transition: action.Press, Key: action.KeyA},
		&action.WaitAction{DurationMs: 60_000},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
	}})
	require.NoError(t, err)
	assert.True(t, p.IsPlaying())

	<-pressed
	_, err = p.Play(context.Background(), Request{Actions: []action.Action{&action.WaitAction{}}})
	assert.ErrorIs(t, err, ErrAlreadyPlaying)

	start := time.Now()
	p.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt the wait")
	}
	assert.Less(t, time.Since(start), time.Second)

	<-w.closed
	assert.False(t, p.IsPlaying())
	assert.Equal(t, []string{"keydown KEY_A"}, synth.Calls())

	mu.Lock()
	assert.Equal(t, []bool{true, false}, changes)
	mu.Unlock()

	// The player is reusable afterwards.
	p.newWaiter = func() (timing.Waiter, error) { return &instantWaiter{}, nil }
	done, err = p.Play(context.Background(), Request{Actions: []action.Action{&action.KeyAction{Transition: action.Release, Key: action.KeyA}}})
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestPlay_ContextCancellationStopsEndlessRepeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	synth := &mockSynth{}
	synth.onCall = func(string) error {
		synth.mu.Lock()
		n := len(synth.calls)
		synth.mu.Unlock()
		if n == 10 {
			cancel()
		}
		return nil
	}
	p := New(Config{Synth: synth, NewWaiter: func() (timing.Waiter, error) { return &instantWaiter{}, nil }})

	done, err := p.Play(ctx, Request{
		Actions:     []action.Action{&action.KeyAction{Transition: action.Press, Key: action.KeyA}},
		RepeatCount: -1,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, synth.Calls(), 10)
}

func TestPlay_SynthesisErrorAborts(t *testing.T) {
	boom := errors.New("uinput write: EIO")
	synth := &mockSynth{onCall: func(call string) error {
		if call == "keyup KEY_A" {
			return boom
		}
		return nil
	}}
	w := &instantWaiter{}
	p := New(Config{Synth: synth, NewWaiter: func() (timing.Waiter, error) { return w, nil }})

	err := playAndWait(t, p, Request{Actions: []action.Action{
		&action.KeyAction{Transition: action.Press, Key: action.KeyA},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
		&action.KeyAction{Transition: action.Press, Key: action.KeyB},
	}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"keydown KEY_A", "keyup KEY_A"}, synth.Calls())
	assert.True(t, w.Closed())
	assert.False(t, p.IsPlaying())
}

func TestRefreshIsPlaying(t *testing.T) {
	p, _, _ := newInstant(t)
	var got []bool
	p.OnPlayingChanged(func(on bool) { got = append(got, on) })
	p.RefreshIsPlaying()
	assert.Equal(t, []bool{false}, got)
}
