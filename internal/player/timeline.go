package player

import (
	"context"
	"errors"

	"actionrepeater/internal/action"
	"actionrepeater/internal/timing"
)

// timeline tracks the recorded-time position of one iteration and plays the
// cursor path movements that fall due while it advances.
type timeline struct {
	ctx   context.Context
	w     timing.Waiter
	synth Synthesizer
	path  *action.CursorPath
	speed float64

	nowMs float64
	next  int
}

func newTimeline(ctx context.Context, w timing.Waiter, synth Synthesizer, path *action.CursorPath, speed float64) *timeline {
	return &timeline{ctx: ctx, w: w, synth: synth, path: path, speed: speed}
}

// begin puts the cursor at the path start.
func (t *timeline) begin() error {
	if t.path == nil {
		return nil
	}
	return t.synth.MoveTo(t.path.Start)
}

// advance moves the timeline forward by ms, dispatching path movements at
// their timestamps. advance(0) only dispatches movements already due.
func (t *timeline) advance(ms float64) error {
	target := t.nowMs + ms

	if t.path != nil {
		moves := t.path.Movements
		for t.next < len(moves) && float64(moves[t.next].TimestampMs) <= target {
			m := moves[t.next]
			if err := t.sleep(float64(m.TimestampMs) - t.nowMs); err != nil {
				return err
			}
			t.nowMs = max(t.nowMs, float64(m.TimestampMs))
			if err := t.move(m); err != nil {
				return err
			}
			t.next++
		}
	}

	if err := t.sleep(target - t.nowMs); err != nil {
		return err
	}
	t.nowMs = target
	return nil
}

// finish plays out the movements recorded after the last action.
func (t *timeline) finish() error {
	if t.path == nil || t.next >= len(t.path.Movements) {
		return nil
	}
	last := float64(t.path.DurationMs())
	return t.advance(max(last-t.nowMs, 0))
}

func (t *timeline) move(m action.MouseMovement) error {
	if t.path.Mode == action.CursorMovementRelative {
		return t.synth.MoveBy(m.Position.X, m.Position.Y)
	}
	return t.synth.MoveTo(m.Position)
}

func (t *timeline) sleep(ms float64) error {
	if ms <= 0 {
		return t.ctx.Err()
	}
	err := t.w.Wait(t.ctx, waitDuration(ms, t.speed))
	if errors.Is(err, timing.ErrWaitCanceled) {
		return context.Canceled
	}
	return err
}
