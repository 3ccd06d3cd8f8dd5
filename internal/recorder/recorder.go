// Package recorder turns hook events into actions appended to a collection.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"actionrepeater/internal/action"
	"actionrepeater/internal/hook"
	"actionrepeater/internal/notify"
	"actionrepeater/internal/options"
	"actionrepeater/internal/timing"
)

var (
	// ErrHookRegistrationFailed wraps the source error when hooks cannot be
	// installed.
	ErrHookRegistrationFailed = errors.New("hook registration failed")
	// ErrAlreadyRecording is returned by Start during a session.
	ErrAlreadyRecording = errors.New("already recording")
)

// PathSink renders the cursor path live while it is recorded. Calls are made
// from the hook delivery goroutine and must not block.
type PathSink interface {
	Open()
	AddPoints(points []action.Point)
	Clear()
	Close()
}

type noopSink struct{}

func (noopSink) Open()                    {}
func (noopSink) AddPoints([]action.Point) {}
func (noopSink) Clear()                   {}
func (noopSink) Close()                   {}

// Config wires a Recorder to its collaborators.
type Config struct {
	Source hook.Source
	// Locator supplies the start position of a cursor path. Optional.
	Locator hook.CursorLocator
	Ticks   timing.TickSource
	Sink    PathSink
	Logger  *slog.Logger
}

// Recorder is the Idle / Subscribed / Recording state machine. Hooks stay
// installed across Stop and Start; Unsubscribe removes them.
//
// Collection notifications fire on the hook delivery goroutine while the
// recorder's event lock is held. Listeners may query IsRecording and
// IsSubscribed but must not call Start, Stop or Unsubscribe.
type Recorder struct {
	source  hook.Source
	locator hook.CursorLocator
	ticks   timing.TickSource
	sink    PathSink
	logger  *slog.Logger

	// lifeMu serializes Subscribe, Unsubscribe, Start and Stop.
	lifeMu     sync.Mutex
	subscribed atomic.Bool
	recording  atomic.Bool
	sessionID  atomic.Pointer[uuid.UUID]

	// mu guards the event-side state.
	mu          sync.Mutex
	sess        *session
	clickFilter func(hook.MouseEvent) bool

	changes notify.Feed[bool]
}

// New returns an idle recorder.
func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Ticks == nil {
		cfg.Ticks = timing.Monotonic
	}
	if cfg.Sink == nil {
		cfg.Sink = noopSink{}
	}
	return &Recorder{
		source:  cfg.Source,
		locator: cfg.Locator,
		ticks:   cfg.Ticks,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
	}
}

// OnRecordingChanged registers fn for recording state changes.
func (r *Recorder) OnRecordingChanged(fn func(bool)) (unsubscribe func()) {
	return r.changes.Subscribe(fn)
}

// SetClickFilter installs a predicate deciding whether a mouse button press
// is recorded. A rejected press and its matching release are both dropped.
// A nil filter records every press.
func (r *Recorder) SetClickFilter(fn func(hook.MouseEvent) bool) {
	r.mu.Lock()
	r.clickFilter = fn
	r.mu.Unlock()
}

func (r *Recorder) IsRecording() bool  { return r.recording.Load() }
func (r *Recorder) IsSubscribed() bool { return r.subscribed.Load() }

// SessionID identifies the current recording session; uuid.Nil when idle.
func (r *Recorder) SessionID() uuid.UUID {
	if id := r.sessionID.Load(); id != nil {
		return *id
	}
	return uuid.Nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Subscribe installs the hooks. It is a no-op when already subscribed.
func (r *Recorder) Subscribe() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.subscribeLocked()
}

func (r *Recorder) subscribeLocked() error {
	if r.subscribed.Load() {
		return nil
	}
	if r.source == nil {
		return fmt.Errorf("%w: no hook source", ErrHookRegistrationFailed)
	}
	if err := r.source.Install(r); err != nil {
		return fmt.Errorf("%w: %w", ErrHookRegistrationFailed, err)
	}
	r.subscribed.Store(true)
	r.logger.Debug("input hooks installed")
	return nil
}

// Unsubscribe stops any session and removes the hooks.
func (r *Recorder) Unsubscribe() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	stopped := r.stopLocked()
	var err error
	if r.subscribed.Load() {
		if err = r.source.Uninstall(); err != nil {
			err = fmt.Errorf("uninstall hooks: %w", err)
		}
		r.subscribed.Store(false)
		r.logger.Debug("input hooks removed")
	}
	if stopped {
		r.changes.Publish(false)
	}
	return err
}

// Start begins a session appending to col. The options are fixed for the
// whole session. Start subscribes first when needed.
func (r *Recorder) Start(col *action.Collection, opts options.Options) error {
	if col == nil {
		return errors.New("recorder: nil collection")
	}

	r.lifeMu.Lock()
	if r.recording.Load() {
		r.lifeMu.Unlock()
		return ErrAlreadyRecording
	}
	if err := r.subscribeLocked(); err != nil {
		r.lifeMu.Unlock()
		return err
	}

	id := uuid.New()
	now := r.ticks.Now()
	s := newSession(id, col, opts, now)

	if opts.CursorMovementMode != action.CursorMovementNone {
		var start action.Point
		if r.locator != nil {
			start = r.locator.CursorPosition()
		}
		col.SetCursorPath(&action.CursorPath{Mode: opts.CursorMovementMode, Start: start})
		r.sink.Clear()
		r.sink.Open()
	} else {
		col.ClearCursorPath()
	}

	r.mu.Lock()
	r.sess = s
	r.mu.Unlock()

	r.sessionID.Store(&id)
	r.recording.Store(true)
	r.lifeMu.Unlock()

	r.logger.Info("recording started", "session", id, "cursor_mode", opts.CursorMovementMode)
	r.changes.Publish(true)
	return nil
}

// Stop ends the session. Events still in flight are discarded.
func (r *Recorder) Stop() {
	r.lifeMu.Lock()
	stopped := r.stopLocked()
	r.lifeMu.Unlock()

	if stopped {
		r.changes.Publish(false)
	}
}

func (r *Recorder) stopLocked() bool {
	if !r.recording.Load() {
		return false
	}

	r.mu.Lock()
	s := r.sess
	r.sess = nil
	if s != nil && s.pathMode != action.CursorMovementNone {
		r.flushPathLocked(s)
		r.sink.Close()
	}
	r.mu.Unlock()

	r.recording.Store(false)
	r.sessionID.Store(nil)
	if s != nil {
		r.logger.Info("recording stopped", "session", s.id, "actions", s.emitted, "movements", s.movements)
	}
	return true
}

// ============================================================================
// Hook boundary
// ============================================================================

// HandleKey implements hook.Handler.
func (r *Recorder) HandleKey(ev hook.KeyEvent) {
	defer r.recoverHook("key")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}
	r.handleKeyLocked(r.sess, ev)
}

// HandleMouse implements hook.Handler.
func (r *Recorder) HandleMouse(ev hook.MouseEvent) {
	defer r.recoverHook("mouse")

	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sess
	if s == nil {
		return
	}

	switch ev.Kind {
	case hook.MouseMove:
		r.handleMoveLocked(s, ev)
	case hook.MouseButtonDown:
		r.handleButtonDownLocked(s, ev)
	case hook.MouseButtonUp:
		r.handleButtonUpLocked(s, ev)
	case hook.MouseWheel:
		r.handleWheelLocked(s, ev)
	default:
		r.logger.Debug("dropping mouse event of unknown kind", "kind", ev.Kind)
	}
}

func (r *Recorder) recoverHook(kind string) {
	if p := recover(); p != nil {
		r.logger.Error("recorder panicked in hook handler; event dropped", "event", kind, "panic", p)
	}
}

// ============================================================================
// Session state
// ============================================================================

type session struct {
	id   uuid.UUID
	col  *action.Collection
	opts options.Options

	start    timing.Tick
	lastTick timing.Tick
	emitted  int

	keys    map[action.Key]*keyState
	buttons map[action.Button]*buttonState

	wheel    *wheelBurst
	wheelRem [2]int

	pathMode   action.CursorMovementMode
	pathBatch  []action.Point
	lastMoveTs int
	movements  int
}

func newSession(id uuid.UUID, col *action.Collection, opts options.Options, now timing.Tick) *session {
	return &session{
		id:       id,
		col:      col,
		opts:     opts,
		start:    now,
		lastTick: now,
		keys:     make(map[action.Key]*keyState),
		buttons:  make(map[action.Button]*buttonState),
		pathMode: opts.CursorMovementMode,
	}
}

// emitLocked appends a, preceded by a wait when more than MinWaitMs passed
// since the previous action.
func (r *Recorder) emitLocked(s *session, a action.Action, tick timing.Tick) {
	r.flushPathLocked(s)

	if elapsed := timing.Elapsed(tick, s.lastTick); elapsed > s.opts.MinWaitMs {
		s.col.Append(&action.WaitAction{DurationMs: elapsed})
	}
	s.col.Append(a)
	s.emitted++
	r.advanceLocked(s, tick)
	s.wheel = nil

	r.logger.Debug("recorded action", "session", s.id, "action", a)
}

// advanceLocked moves the wait reference point forward; out-of-order ticks
// never move it back.
func (r *Recorder) advanceLocked(s *session, tick timing.Tick) {
	if !tick.Before(s.lastTick) {
		s.lastTick = tick
	}
}
