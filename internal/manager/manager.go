// Package manager ties the action collection, the recorder and the player
// together behind the operations the daemon exposes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"actionrepeater/internal/action"
	"actionrepeater/internal/hook"
	"actionrepeater/internal/notify"
	"actionrepeater/internal/options"
	"actionrepeater/internal/player"
	"actionrepeater/internal/recorder"
	"actionrepeater/internal/timing"
)

var (
	// ErrRecordingActive refuses operations that cannot run during a
	// recording session.
	ErrRecordingActive = errors.New("recording in progress")
	// ErrPlaybackActive refuses a recording start during playback.
	ErrPlaybackActive = errors.New("playback in progress")
	// ErrNoActions refuses a playback of an empty collection.
	ErrNoActions = errors.New("no actions to play")
	// ErrIndexOutOfRange is returned for view indices past the end.
	ErrIndexOutOfRange = errors.New("action index out of range")
)

// ============================================================================
// Events
// ============================================================================

// EventKind discriminates Event.
type EventKind uint8

const (
	RecordingChanged EventKind = iota + 1
	PlayingChanged
	ActionsChanged
	CursorPathChanged
)

func (k EventKind) String() string {
	switch k {
	case RecordingChanged:
		return "recording_changed"
	case PlayingChanged:
		return "playing_changed"
	case ActionsChanged:
		return "actions_changed"
	case CursorPathChanged:
		return "cursor_path_changed"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is delivered to subscribers after the state it describes changed.
// Recording and Playing are filled for every kind; Session only while
// recording, Change only for ActionsChanged and CursorPath only for
// CursorPathChanged.
type Event struct {
	Kind       EventKind
	Recording  bool
	Playing    bool
	Session    uuid.UUID
	Change     action.Change
	CursorPath *action.CursorPath
}

// ============================================================================
// Manager
// ============================================================================

// Config wires a Manager.
type Config struct {
	Hooks hook.Source
	// Locator defaults to Hooks when it also implements hook.CursorLocator.
	Locator   hook.CursorLocator
	Synth     player.Synthesizer
	NewWaiter func() (timing.Waiter, error)
	Ticks     timing.TickSource
	Sink      recorder.PathSink
	// Options is the initial policy; the zero value means options.Default().
	Options options.Options
	Logger  *slog.Logger
}

// Manager owns the collection and serializes it between recording,
// playback and editing.
type Manager struct {
	col    *action.Collection
	rec    *recorder.Recorder
	play   *player.Player
	logger *slog.Logger

	mu   sync.Mutex
	opts options.Options

	events notify.Feed[Event]
	unsubs []func()
}

// New builds a manager. Hooks are installed lazily by the first recording.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Synth == nil {
		return nil, errors.New("manager: no synthesizer")
	}
	if cfg.Options == (options.Options{}) {
		cfg.Options = options.Default()
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if cfg.Locator == nil {
		if loc, ok := cfg.Hooks.(hook.CursorLocator); ok {
			cfg.Locator = loc
		}
	}

	m := &Manager{
		col: action.NewCollection(),
		rec: recorder.New(recorder.Config{
			Source:  cfg.Hooks,
			Locator: cfg.Locator,
			Ticks:   cfg.Ticks,
			Sink:    cfg.Sink,
			Logger:  cfg.Logger.With("component", "recorder"),
		}),
		play: player.New(player.Config{
			Synth:     cfg.Synth,
			NewWaiter: cfg.NewWaiter,
			Logger:    cfg.Logger.With("component", "player"),
		}),
		logger: cfg.Logger,
		opts:   cfg.Options,
	}

	m.unsubs = append(m.unsubs,
		m.rec.OnRecordingChanged(func(on bool) {
			m.events.Publish(Event{Kind: RecordingChanged, Recording: on, Playing: m.play.IsPlaying(), Session: m.rec.SessionID()})
		}),
		m.play.OnPlayingChanged(func(on bool) {
			m.events.Publish(Event{Kind: PlayingChanged, Recording: m.rec.IsRecording(), Playing: on})
		}),
		m.col.OnChange(func(c action.Change) {
			m.events.Publish(Event{Kind: ActionsChanged, Recording: m.rec.IsRecording(), Playing: m.play.IsPlaying(), Change: c})
		}),
		m.col.OnCursorPathChange(func(p *action.CursorPath) {
			m.events.Publish(Event{Kind: CursorPathChanged, Recording: m.rec.IsRecording(), Playing: m.play.IsPlaying(), CursorPath: p})
		}),
	)
	return m, nil
}

// Subscribe registers fn for state changes. fn may run on the hook delivery
// goroutine or the playback goroutine and must not block or call Start,
// Stop or Toggle recording.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	return m.events.Subscribe(fn)
}

// Close cancels playback, stops recording and removes the hooks.
func (m *Manager) Close() error {
	m.play.Cancel()
	err := m.rec.Unsubscribe()
	for _, u := range m.unsubs {
		u()
	}
	m.unsubs = nil
	return err
}

// ============================================================================
// Queries
// ============================================================================

func (m *Manager) IsRecording() bool { return m.rec.IsRecording() }
func (m *Manager) IsPlaying() bool   { return m.play.IsPlaying() }

// HooksInstalled reports whether the recorder holds the hook source.
func (m *Manager) HooksInstalled() bool { return m.rec.IsSubscribed() }

// RecordingSession identifies the running recording; uuid.Nil when idle.
func (m *Manager) RecordingSession() uuid.UUID { return m.rec.SessionID() }

// Actions returns the full action list, hidden autorepeat included.
func (m *Manager) Actions() []action.Action { return m.col.Actions() }

// View returns the filtered list editors index into.
func (m *Manager) View() []action.Action { return m.col.View() }

func (m *Manager) CursorPath() *action.CursorPath { return m.col.CursorPath() }

// CursorPathStart returns where the recorded cursor path begins.
func (m *Manager) CursorPathStart() (action.Point, bool) {
	p := m.col.CursorPath()
	if p == nil {
		return action.Point{}, false
	}
	return p.Start, true
}

// ============================================================================
// Editing
// ============================================================================

// AddAction appends a.
func (m *Manager) AddAction(a action.Action) error {
	if err := m.checkEdit(a); err != nil {
		return err
	}
	m.col.Append(a)
	return nil
}

// InsertAction inserts a before the view entry at index; index equal to the
// view length appends.
func (m *Manager) InsertAction(index int, a action.Action) error {
	if err := m.checkEdit(a); err != nil {
		return err
	}
	view := m.col.View()
	if index < 0 || index > len(view) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(view))
	}
	var ref action.Action
	if index < len(view) {
		ref = view[index]
	}
	return m.col.InsertBefore(ref, a)
}

// FullIndex returns the position of a in the full list, or -1 when a only
// exists in the filtered view.
func (m *Manager) FullIndex(a action.Action) int { return m.col.IndexOf(a) }

// IsFolded reports whether a is a view wait standing in for autorepeat
// presses.
func (m *Manager) IsFolded(a action.Action) bool { return m.col.IsCoalesced(a) }

// RemoveAction deletes a. It reports false with ErrActionRemovalRefused
// when a is an autorepeat representative or tied to one.
func (m *Manager) RemoveAction(a action.Action) (bool, error) {
	if m.rec.IsRecording() {
		return false, ErrRecordingActive
	}
	if err := m.col.Remove(a); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveActionAt deletes the view entry at index.
func (m *Manager) RemoveActionAt(index int) (bool, error) {
	a, err := m.viewAt(index)
	if err != nil {
		return false, err
	}
	return m.RemoveAction(a)
}

// ReplaceAction swaps the view entry at index for a.
func (m *Manager) ReplaceAction(index int, a action.Action) error {
	if err := m.checkEdit(a); err != nil {
		return err
	}
	old, err := m.viewAt(index)
	if err != nil {
		return err
	}
	return m.col.Replace(old, a)
}

func (m *Manager) ClearActions() error {
	if m.rec.IsRecording() {
		return ErrRecordingActive
	}
	m.col.Clear()
	return nil
}

func (m *Manager) ClearCursorPath() error {
	if m.rec.IsRecording() {
		return ErrRecordingActive
	}
	m.col.ClearCursorPath()
	return nil
}

// ClearAll drops the actions and the cursor path.
func (m *Manager) ClearAll() error {
	if m.rec.IsRecording() {
		return ErrRecordingActive
	}
	m.col.Clear()
	m.col.ClearCursorPath()
	return nil
}

func (m *Manager) checkEdit(a action.Action) error {
	if m.rec.IsRecording() {
		return ErrRecordingActive
	}
	return action.Validate(a)
}

func (m *Manager) viewAt(index int) (action.Action, error) {
	view := m.col.View()
	if index < 0 || index >= len(view) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(view))
	}
	return view[index], nil
}

// ============================================================================
// Recording
// ============================================================================

// StartRecording begins a session appending to the collection with the
// current options.
func (m *Manager) StartRecording() error {
	if m.play.IsPlaying() {
		return ErrPlaybackActive
	}
	return m.rec.Start(m.col, m.Options())
}

func (m *Manager) StopRecording() { m.rec.Stop() }

// ToggleRecording starts or stops recording and reports whether a session
// is now running.
func (m *Manager) ToggleRecording() (bool, error) {
	if m.rec.IsRecording() {
		m.rec.Stop()
		return false, nil
	}
	if err := m.StartRecording(); err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// Playback
// ============================================================================

// PlayActions starts a playback of the collection. Refusals leave every
// state untouched.
func (m *Manager) PlayActions(ctx context.Context) (<-chan error, error) {
	if m.rec.IsRecording() {
		return nil, ErrRecordingActive
	}
	opts := m.Options()
	actions := m.col.Snapshot(opts.SendKeyAutoRepeat)
	if len(actions) == 0 {
		return nil, ErrNoActions
	}

	done, err := m.play.Play(ctx, player.Request{
		Actions:     actions,
		CursorPath:  playbackPath(m.col.CursorPath(), opts.CursorMovementMode),
		RepeatCount: opts.Iterations(),
		Speed:       opts.PlaybackSpeed,
	})
	if err != nil {
		m.play.RefreshIsPlaying()
		return nil, err
	}
	return done, nil
}

// playbackPath selects what the current cursor mode replays: nothing for
// None, screen positions for Absolute and the recorded path otherwise.
func playbackPath(p *action.CursorPath, mode action.CursorMovementMode) *action.CursorPath {
	switch {
	case p == nil || mode == action.CursorMovementNone:
		return nil
	case mode == action.CursorMovementAbsolute:
		return p.AsAbsolute()
	}
	return p
}

// TryPlayActions is PlayActions for callers that only need to know whether
// playback started.
func (m *Manager) TryPlayActions(ctx context.Context) bool {
	_, err := m.PlayActions(ctx)
	if err != nil {
		m.logger.Debug("playback refused", "error", err)
		return false
	}
	return true
}

func (m *Manager) CancelPlayback() { m.play.Cancel() }

// ============================================================================
// Options
// ============================================================================

func (m *Manager) Options() options.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOptions replaces the policy for sessions started afterwards. Toggling
// UseCursorPosOnClicks also rewrites the recorded mouse button actions.
func (m *Manager) SetOptions(o options.Options) error {
	if err := o.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	prev := m.opts
	m.opts = o
	m.mu.Unlock()

	if prev.UseCursorPosOnClicks != o.UseCursorPosOnClicks {
		use := o.UseCursorPosOnClicks
		m.col.MapMouseButtons(func(mb *action.MouseButtonAction) *action.MouseButtonAction {
			if mb.Position == nil || mb.UsePosition == use {
				return mb
			}
			c := *mb
			c.UsePosition = use
			return &c
		})
	}
	m.logger.Info("options updated", "cursor_mode", o.CursorMovementMode, "repeat", o.PlayRepeatCount, "speed", o.PlaybackSpeed)
	return nil
}

// ============================================================================
// Action files
// ============================================================================

// Export writes the full action list and the cursor path.
func (m *Manager) Export(w io.Writer) error {
	return action.Encode(w, m.col.Actions(), m.col.CursorPath())
}

// Import replaces the collection with an action file. A malformed file
// leaves the collection untouched.
func (m *Manager) Import(r io.Reader) error {
	if m.rec.IsRecording() {
		return ErrRecordingActive
	}
	actions, path, err := action.Decode(r)
	if err != nil {
		return err
	}
	m.col.Load(actions, path)
	m.logger.Info("actions imported", "actions", len(actions), "cursor_path", path != nil)
	return nil
}
