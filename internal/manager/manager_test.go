package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionrepeater/internal/action"
	"actionrepeater/internal/hook"
	"actionrepeater/internal/options"
	"actionrepeater/internal/recorder"
	"actionrepeater/internal/timing"
)

type mockSynth struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockSynth) record(format string, args ...any) error {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
	m.mu.Unlock()
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

type immediateWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *immediateWaiter) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.waits = append(w.waits, d)
	w.mu.Unlock()
	return nil
}

func (w *immediateWaiter) Cancel()      {}
func (w *immediateWaiter) Close() error { return nil }

type fixture struct {
	src    *hook.Scripted
	synth  *mockSynth
	waiter *immediateWaiter
	now    timing.Tick
	mgr    *Manager

	mu     sync.Mutex
	events []Event
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{src: hook.NewScripted(), synth: &mockSynth{}, waiter: &immediateWaiter{}}
	cfg := Config{
		Hooks:     f.src,
		Synth:     f.synth,
		NewWaiter: func() (timing.Waiter, error) { return f.waiter, nil },
		Ticks:     timing.TickFunc(func() timing.Tick { return f.now }),
	}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	m.Subscribe(func(ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	f.mgr = m
	return f
}

func (f *fixture) kinds() []EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EventKind, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (f *fixture) resetEvents() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
		return nil
	}
}

func keyPress(k action.Key) *action.KeyAction {
	return &action.KeyAction{Transition: action.Press, Key: k}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	opts := options.Default()
	opts.PlaybackSpeed = 0
	_, err := New(Config{Synth: &mockSynth{}, Options: opts})
	require.Error(t, err)

	_, err = New(Config{})
	require.Error(t, err)
}

func TestRecordThenReplay(t *testing.T) {
	f := newFixture(t)
	f.now = 1000

	require.NoError(t, f.mgr.StartRecording())
	assert.True(t, f.mgr.IsRecording())
	require.NoError(t, f.src.Deliver(
		hook.KeyEvent{Key: action.KeyA, Down: true, Tick: 1000},
		hook.KeyEvent{Key: action.KeyA, Tick: 1050},
		hook.MouseEvent{Kind: hook.MouseButtonDown, Button: action.ButtonLeft, Position: action.Point{X: 5, Y: 5}, Tick: 1100},
		hook.MouseEvent{Kind: hook.MouseButtonUp, Button: action.ButtonLeft, Position: action.Point{X: 5, Y: 5}, Tick: 1150},
	))
	f.mgr.StopRecording()
	assert.False(t, f.mgr.IsRecording())

	pos := action.Point{X: 5, Y: 5}
	assert.Equal(t, []action.Action{
		keyPress(action.KeyA),
		&action.WaitAction{DurationMs: 50},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
		&action.WaitAction{DurationMs: 50},
		&action.MouseButtonAction{Transition: action.Click, Button: action.ButtonLeft, Position: &pos, UsePosition: true, Count: 1},
	}, f.mgr.Actions())

	done, err := f.mgr.PlayActions(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"keydown KEY_A", "keyup KEY_A", "moveto 5 5", "down left", "up left"}, f.synth.Calls())
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, f.waiter.waits)
	assert.False(t, f.mgr.IsPlaying())
}

func TestTryPlayActions_RefusedWhileRecording(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyA)))
	require.NoError(t, f.mgr.StartRecording())
	f.resetEvents()

	assert.False(t, f.mgr.TryPlayActions(context.Background()))
	_, err := f.mgr.PlayActions(context.Background())
	assert.ErrorIs(t, err, ErrRecordingActive)

	assert.False(t, f.mgr.IsPlaying())
	assert.True(t, f.mgr.IsRecording())
	assert.Empty(t, f.synth.Calls())
	assert.Empty(t, f.kinds())
}

func TestTryPlayActions_RefusedWhenEmpty(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.mgr.TryPlayActions(context.Background()))
	_, err := f.mgr.PlayActions(context.Background())
	assert.ErrorIs(t, err, ErrNoActions)
	assert.Empty(t, f.kinds())
}

func TestTryPlayActions_AlreadyPlayingRefreshes(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.NewWaiter = func() (timing.Waiter, error) { return timing.NewTimerWaiter(), nil }
	})
	require.NoError(t, f.mgr.AddAction(&action.WaitAction{DurationMs: 60_000}))

	done, err := f.mgr.PlayActions(context.Background())
	require.NoError(t, err)
	assert.True(t, f.mgr.IsPlaying())
	f.resetEvents()

	assert.False(t, f.mgr.TryPlayActions(context.Background()))
	assert.Equal(t, []EventKind{PlayingChanged}, f.kinds())
	assert.ErrorIs(t, f.mgr.StartRecording(), ErrPlaybackActive)

	f.mgr.CancelPlayback()
	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.False(t, f.mgr.IsPlaying())
}

func TestPlayActions_TimerFailure(t *testing.T) {
	boom := errors.New("no timer")
	f := newFixture(t, func(c *Config) {
		c.NewWaiter = func() (timing.Waiter, error) { return nil, boom }
	})
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyA)))
	f.resetEvents()

	assert.False(t, f.mgr.TryPlayActions(context.Background()))
	assert.False(t, f.mgr.IsPlaying())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 1)
	assert.Equal(t, Event{Kind: PlayingChanged}, f.events[0])
}

func TestPlayActions_AutoRepeatSelection(t *testing.T) {
	f := newFixture(t)
	for _, a := range []action.Action{
		keyPress(action.KeyA),
		&action.WaitAction{DurationMs: 30},
		&action.KeyAction{Transition: action.Press, Key: action.KeyA, AutoRepeat: true},
		&action.WaitAction{DurationMs: 30},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
	} {
		require.NoError(t, f.mgr.AddAction(a))
	}

	done, err := f.mgr.PlayActions(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, done))
	assert.Equal(t, []string{"keydown KEY_A", "repeat KEY_A", "keyup KEY_A"}, f.synth.Calls())

	opts := f.mgr.Options()
	opts.SendKeyAutoRepeat = false
	require.NoError(t, f.mgr.SetOptions(opts))
	f.synth.calls = nil

	done, err = f.mgr.PlayActions(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, done))
	assert.Equal(t, []string{"keydown KEY_A", "keyup KEY_A"}, f.synth.Calls())
}

func TestRemoveAction_RefusesRepresentativeWait(t *testing.T) {
	f := newFixture(t)
	for _, a := range []action.Action{
		keyPress(action.KeyA),
		&action.WaitAction{DurationMs: 30},
		&action.KeyAction{Transition: action.Press, Key: action.KeyA, AutoRepeat: true},
		&action.WaitAction{DurationMs: 31},
		&action.KeyAction{Transition: action.Press, Key: action.KeyA, AutoRepeat: true},
		&action.WaitAction{DurationMs: 79},
		&action.KeyAction{Transition: action.Release, Key: action.KeyA},
	} {
		require.NoError(t, f.mgr.AddAction(a))
	}

	view := f.mgr.View()
	require.Len(t, view, 3)
	assert.Equal(t, &action.WaitAction{DurationMs: 140}, view[1])

	ok, err := f.mgr.RemoveActionAt(1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, action.ErrActionRemovalRefused)

	ok, err = f.mgr.RemoveAction(view[1])
	assert.False(t, ok)
	assert.ErrorIs(t, err, action.ErrActionRemovalRefused)
	assert.Len(t, f.mgr.Actions(), 7)

	_, err = f.mgr.RemoveActionAt(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestEditing_ByViewIndex(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyA)))
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyC)))
	f.resetEvents()

	require.NoError(t, f.mgr.InsertAction(1, keyPress(action.KeyB)))
	require.NoError(t, f.mgr.InsertAction(3, &action.TextTypeAction{Text: "hi"}))
	require.NoError(t, f.mgr.ReplaceAction(0, &action.WaitAction{DurationMs: 5}))
	ok, err := f.mgr.RemoveActionAt(2)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []action.Action{
		&action.WaitAction{DurationMs: 5},
		keyPress(action.KeyB),
		&action.TextTypeAction{Text: "hi"},
	}, f.mgr.View())

	assert.ErrorIs(t, f.mgr.InsertAction(9, keyPress(action.KeyA)), ErrIndexOutOfRange)
	assert.ErrorIs(t, f.mgr.AddAction(&action.WaitAction{DurationMs: -1}), action.ErrMalformedAction)
	assert.Equal(t, []EventKind{ActionsChanged, ActionsChanged, ActionsChanged, ActionsChanged}, f.kinds())

	f.mu.Lock()
	assert.Equal(t, action.Change{Op: action.ChangeAdded, Index: 1}, f.events[0].Change)
	f.mu.Unlock()
}

func TestEditing_RefusedWhileRecording(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyA)))
	require.NoError(t, f.mgr.StartRecording())

	assert.ErrorIs(t, f.mgr.AddAction(keyPress(action.KeyB)), ErrRecordingActive)
	assert.ErrorIs(t, f.mgr.InsertAction(0, keyPress(action.KeyB)), ErrRecordingActive)
	assert.ErrorIs(t, f.mgr.ReplaceAction(0, keyPress(action.KeyB)), ErrRecordingActive)
	_, err := f.mgr.RemoveActionAt(0)
	assert.ErrorIs(t, err, ErrRecordingActive)
	assert.ErrorIs(t, f.mgr.ClearAll(), ErrRecordingActive)
	assert.ErrorIs(t, f.mgr.Import(strings.NewReader(`{}`)), ErrRecordingActive)

	assert.Equal(t, []action.Action{keyPress(action.KeyA)}, f.mgr.Actions())
}

func TestToggleRecording(t *testing.T) {
	f := newFixture(t)

	on, err := f.mgr.ToggleRecording()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, f.src.Installed())

	on, err = f.mgr.ToggleRecording()
	require.NoError(t, err)
	assert.False(t, on)

	assert.Equal(t, []EventKind{RecordingChanged, RecordingChanged}, f.kinds())
	f.mu.Lock()
	assert.True(t, f.events[0].Recording)
	assert.False(t, f.events[1].Recording)
	f.mu.Unlock()

	require.NoError(t, f.mgr.Close())
	assert.False(t, f.src.Installed())
}

func TestStartRecording_HookFailure(t *testing.T) {
	f := newFixture(t)
	f.src.FailInstall(errors.New("permission denied"))

	err := f.mgr.StartRecording()
	assert.ErrorIs(t, err, recorder.ErrHookRegistrationFailed)
	assert.False(t, f.mgr.IsRecording())
	assert.Empty(t, f.kinds())
}

func TestCursorPath_RecordedAndCleared(t *testing.T) {
	f := newFixture(t)
	opts := f.mgr.Options()
	opts.CursorMovementMode = action.CursorMovementAbsolute
	require.NoError(t, f.mgr.SetOptions(opts))

	f.src.SetCursor(action.Point{X: 7, Y: 8})
	require.NoError(t, f.mgr.StartRecording())
	start, ok := f.mgr.CursorPathStart()
	require.True(t, ok)
	assert.Equal(t, action.Point{X: 7, Y: 8}, start)

	require.NoError(t, f.src.Deliver(hook.MouseEvent{Kind: hook.MouseMove, Position: action.Point{X: 9, Y: 9}, Tick: 20}))
	f.mgr.StopRecording()

	p := f.mgr.CursorPath()
	require.NotNil(t, p)
	assert.Equal(t, []action.MouseMovement{{Position: action.Point{X: 9, Y: 9}, TimestampMs: 20}}, p.Movements)

	require.NoError(t, f.mgr.ClearCursorPath())
	_, ok = f.mgr.CursorPathStart()
	assert.False(t, ok)
	assert.Contains(t, f.kinds(), CursorPathChanged)
}

func TestSetOptions_RewritesClickPositions(t *testing.T) {
	f := newFixture(t)
	pos := action.Point{X: 1, Y: 2}
	require.NoError(t, f.mgr.AddAction(&action.MouseButtonAction{Transition: action.Click, Button: action.ButtonLeft, Count: 1, Position: &pos, UsePosition: true}))
	require.NoError(t, f.mgr.AddAction(&action.MouseButtonAction{Transition: action.Press, Button: action.ButtonRight}))

	opts := f.mgr.Options()
	opts.UseCursorPosOnClicks = false
	require.NoError(t, f.mgr.SetOptions(opts))

	got := f.mgr.Actions()
	assert.False(t, got[0].(*action.MouseButtonAction).UsePosition)
	assert.Nil(t, got[1].(*action.MouseButtonAction).Position)

	opts.UseCursorPosOnClicks = true
	require.NoError(t, f.mgr.SetOptions(opts))
	assert.True(t, f.mgr.Actions()[0].(*action.MouseButtonAction).UsePosition)
	assert.False(t, f.mgr.Actions()[1].(*action.MouseButtonAction).UsePosition)

	bad := opts
	bad.MaxClickInterval = 0
	require.Error(t, f.mgr.SetOptions(bad))
	assert.Equal(t, opts, f.mgr.Options())
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.AddAction(keyPress(action.KeyA)))
	require.NoError(t, f.mgr.AddAction(&action.MouseWheelAction{Steps: -2, DurationMs: 40}))

	var buf bytes.Buffer
	require.NoError(t, f.mgr.Export(&buf))

	g := newFixture(t)
	require.NoError(t, g.mgr.AddAction(keyPress(action.KeyZ)))
	require.NoError(t, g.mgr.Import(&buf))
	assert.Equal(t, f.mgr.Actions(), g.mgr.Actions())
	assert.Nil(t, g.mgr.CursorPath())

	err := g.mgr.Import(strings.NewReader(`{"version":1,"actions":[{"type":"teleport","data":{}}]}`))
	assert.ErrorIs(t, err, action.ErrMalformedAction)
	assert.Equal(t, f.mgr.Actions(), g.mgr.Actions())
}

func TestPlayActions_FollowsCurrentCursorMode(t *testing.T) {
	const doc = `{"version": 1, "actions": [
		{"type": "key", "data": {"transition": "press", "key": "KEY_A"}},
		{"type": "wait", "data": {"duration_ms": 10}},
		{"type": "key", "data": {"transition": "release", "key": "KEY_A"}}
	], "cursor_path": {"mode": "relative", "start": {"x": 0, "y": 0}, "movements": [
		{"position": {"x": 1, "y": 1}, "timestamp_ms": 5},
		{"position": {"x": 2, "y": 0}, "timestamp_ms": 8}
	]}}`

	cases := []struct {
		mode action.CursorMovementMode
		want []string
	}{
		{action.CursorMovementNone, []string{"keydown KEY_A", "keyup KEY_A"}},
		{action.CursorMovementRelative, []string{"moveto 0 0", "keydown KEY_A", "moveby 1 1", "moveby 2 0", "keyup KEY_A"}},
		{action.CursorMovementAbsolute, []string{"moveto 0 0", "keydown KEY_A", "moveto 1 1", "moveto 3 1", "keyup KEY_A"}},
	}
	for _, tc := range cases {
		t.Run(tc.mode.String(), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.mgr.Import(strings.NewReader(doc)))
			opts := f.mgr.Options()
			opts.CursorMovementMode = tc.mode
			require.NoError(t, f.mgr.SetOptions(opts))

			done, err := f.mgr.PlayActions(context.Background())
			require.NoError(t, err)
			require.NoError(t, wait(t, done))
			assert.Equal(t, tc.want, f.synth.Calls())

			// The stored path keeps its recorded form.
			assert.Equal(t, action.CursorMovementRelative, f.mgr.CursorPath().Mode)
		})
	}
}
