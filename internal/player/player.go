// Package player replays actions and cursor paths through a synthesizer.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"actionrepeater/internal/action"
	"actionrepeater/internal/notify"
	"actionrepeater/internal/timing"
)

var (
	// ErrAlreadyPlaying is returned by Play while a playback is in flight.
	ErrAlreadyPlaying = errors.New("already playing")
	// ErrTimerAcquisitionFailed wraps the error of the waiter factory.
	ErrTimerAcquisitionFailed = errors.New("timer acquisition failed")
)

// Synthesizer injects input events. Calls return once the event is queued
// with the OS.
type Synthesizer interface {
	KeyDown(k action.Key) error
	KeyRepeat(k action.Key) error
	KeyUp(k action.Key) error
	ButtonDown(b action.Button) error
	ButtonUp(b action.Button) error
	Wheel(steps int, horizontal bool) error
	MoveTo(p action.Point) error
	MoveBy(dx, dy int) error
}

// Config wires a Player.
type Config struct {
	Synth Synthesizer
	// NewWaiter acquires the wait primitive for one playback. Defaults to
	// timing.NewWaiter.
	NewWaiter func() (timing.Waiter, error)
	Logger    *slog.Logger
}

// Request describes one playback.
type Request struct {
	Actions    []action.Action
	CursorPath *action.CursorPath
	// RepeatCount is the number of iterations; negative repeats until
	// cancelled and zero plays once.
	RepeatCount int
	// Speed scales time; 2 plays twice as fast. Zero means 1.
	Speed float64
}

// Player runs at most one playback at a time on its own goroutine.
type Player struct {
	synth     Synthesizer
	newWaiter func() (timing.Waiter, error)
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing atomic.Bool

	changes notify.Feed[bool]
}

// New returns an idle player.
func New(cfg Config) *Player {
	if cfg.NewWaiter == nil {
		cfg.NewWaiter = timing.NewWaiter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Player{synth: cfg.Synth, newWaiter: cfg.NewWaiter, logger: cfg.Logger}
}

// OnPlayingChanged registers fn for playing state changes.
func (p *Player) OnPlayingChanged(fn func(bool)) (unsubscribe func()) {
	return p.changes.Subscribe(fn)
}

func (p *Player) IsPlaying() bool { return p.playing.Load() }

// RefreshIsPlaying republishes the current playing state, so listeners that
// assumed a start can resynchronize after a refused Play.
func (p *Player) RefreshIsPlaying() {
	p.changes.Publish(p.playing.Load())
}

// Play starts a playback and returns a channel that receives its outcome
// (nil, context.Canceled or a synthesis error) and is then closed. When Play
// itself fails nothing was started.
func (p *Player) Play(ctx context.Context, req Request) (<-chan error, error) {
	p.mu.Lock()
	if p.playing.Load() {
		p.mu.Unlock()
		return nil, ErrAlreadyPlaying
	}
	w, err := p.newWaiter()
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrTimerAcquisitionFailed, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.playing.Store(true)
	p.mu.Unlock()

	id := uuid.New()
	p.logger.Info("playback started", "session", id, "actions", len(req.Actions), "repeat", req.RepeatCount)
	p.changes.Publish(true)

	done := make(chan error, 1)
	go func() {
		err := p.run(sctx, w, req)
		cancel()
		if cerr := w.Close(); cerr != nil {
			p.logger.Warn("closing waiter failed", "session", id, "error", cerr)
		}

		p.mu.Lock()
		p.cancel = nil
		p.playing.Store(false)
		p.mu.Unlock()

		switch {
		case err == nil:
			p.logger.Info("playback finished", "session", id)
		case errors.Is(err, context.Canceled):
			p.logger.Info("playback canceled", "session", id)
		default:
			p.logger.Error("playback aborted", "session", id, "error", err)
		}
		p.changes.Publish(false)

		done <- err
		close(done)
	}()
	return done, nil
}

// Cancel stops the running playback. The event being synthesized completes;
// nothing after it is sent.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Player) run(ctx context.Context, w timing.Waiter, req Request) error {
	iterations := req.RepeatCount
	if iterations == 0 {
		iterations = 1
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	if len(req.Actions) == 0 && req.CursorPath == nil {
		return nil
	}

	for i := 0; iterations < 0 || i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tl := newTimeline(ctx, w, p.synth, req.CursorPath, speed)
		if err := p.iterate(ctx, tl, req.Actions); err != nil {
			return err
		}
		p.logger.Debug("playback iteration done", "iteration", i+1)
	}
	return nil
}

func (p *Player) iterate(ctx context.Context, tl *timeline, actions []action.Action) error {
	if err := tl.begin(); err != nil {
		return err
	}
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.execute(tl, a); err != nil {
			return err
		}
	}
	return tl.finish()
}

// ============================================================================
// Action dispatch
// ============================================================================

func (p *Player) execute(tl *timeline, a action.Action) error {
	switch a := a.(type) {
	case *action.WaitAction:
		return tl.advance(float64(a.DurationMs))

	case *action.KeyAction:
		if err := tl.advance(0); err != nil {
			return err
		}
		switch {
		case a.Transition == action.Release:
			return p.synth.KeyUp(a.Key)
		case a.AutoRepeat:
			return p.synth.KeyRepeat(a.Key)
		default:
			return p.synth.KeyDown(a.Key)
		}

	case *action.MouseButtonAction:
		if err := tl.advance(0); err != nil {
			return err
		}
		return p.mouseButton(a)

	case *action.MouseWheelAction:
		if err := tl.advance(0); err != nil {
			return err
		}
		return p.wheel(tl, a)

	case *action.TextTypeAction:
		if err := tl.advance(0); err != nil {
			return err
		}
		return p.typeText(tl, a)

	default:
		return fmt.Errorf("%w: unsupported action type %T", action.ErrMalformedAction, a)
	}
}

func (p *Player) mouseButton(a *action.MouseButtonAction) error {
	if a.UsePosition && a.Position != nil {
		if err := p.synth.MoveTo(*a.Position); err != nil {
			return err
		}
	}
	switch a.Transition {
	case action.Press:
		return p.synth.ButtonDown(a.Button)
	case action.Release:
		return p.synth.ButtonUp(a.Button)
	case action.Click:
		for i := 0; i < max(a.Count, 1); i++ {
			if err := p.synth.ButtonDown(a.Button); err != nil {
				return err
			}
			if err := p.synth.ButtonUp(a.Button); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: mouse transition %s", action.ErrMalformedAction, a.Transition)
}

// wheel spreads single steps evenly over the recorded duration.
func (p *Player) wheel(tl *timeline, a *action.MouseWheelAction) error {
	n := a.Steps
	dir := 1
	if n < 0 {
		n, dir = -n, -1
	}
	if a.DurationMs <= 0 || n <= 1 {
		return p.synth.Wheel(a.Steps, a.Horizontal)
	}

	interval := float64(a.DurationMs) / float64(n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := tl.advance(interval); err != nil {
				return err
			}
		}
		if err := p.synth.Wheel(dir, a.Horizontal); err != nil {
			return err
		}
	}
	return nil
}

// typeText types each character with its US-layout key; a WPM paces the
// characters at five characters per word.
func (p *Player) typeText(tl *timeline, a *action.TextTypeAction) error {
	var perChar float64
	if a.WPM > 0 {
		perChar = 60000 / float64(a.WPM*5)
	}

	first := true
	for _, r := range a.Text {
		k, shift, ok := action.KeyForRune(r)
		if !ok {
			p.logger.Debug("no key types this character; skipping", "rune", string(r))
			continue
		}
		if !first && perChar > 0 {
			if err := tl.advance(perChar); err != nil {
				return err
			}
		}
		first = false

		if shift {
			if err := p.synth.KeyDown(action.KeyLeftShift); err != nil {
				return err
			}
		}
		if err := p.synth.KeyDown(k); err != nil {
			return err
		}
		if err := p.synth.KeyUp(k); err != nil {
			return err
		}
		if shift {
			if err := p.synth.KeyUp(action.KeyLeftShift); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitDuration converts recorded milliseconds to wall time at speed.
func waitDuration(ms, speed float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond) / speed)
}
