package recorder

import (
	"slices"

	"actionrepeater/internal/action"
	"actionrepeater/internal/hook"
	"actionrepeater/internal/timing"
)

// ============================================================================
// Buttons
// ============================================================================

// buttonState tracks click detection for one button. The checker is seeded
// at a press to time the hold and at a click's release to time the gap to
// the next press; both must stay within MaxClickInterval.
type buttonState struct {
	checker *timing.Checker

	// press is the recorded press still waiting for its release.
	press *action.MouseButtonAction
	// click is the most recent click, while it can still be extended.
	click *action.MouseButtonAction

	extending bool
	downTick  timing.Tick
	downPos   action.Point
	vetoed    bool
}

func (s *session) button(b action.Button) *buttonState {
	bs := s.buttons[b]
	if bs == nil {
		interval := uint32(s.opts.MaxClickInterval)
		bs = &buttonState{checker: timing.NewChecker(
			timing.WithMaxTimeDelta(interval),
			timing.WithMargin(interval),
		)}
		s.buttons[b] = bs
	}
	return bs
}

func (bs *buttonState) restart(tick timing.Tick) {
	bs.checker.Reset()
	bs.checker.UpdateAndCheck(tick)
}

func samePosition(a *action.MouseButtonAction, p action.Point) bool {
	return a != nil && a.Position != nil && *a.Position == p
}

func (r *Recorder) handleButtonDownLocked(s *session, ev hook.MouseEvent) {
	if !ev.Button.Valid() {
		r.logger.Debug("dropping press of unknown mouse button", "button", uint8(ev.Button))
		return
	}
	bs := s.button(ev.Button)

	if r.clickFilter != nil && !r.clickFilter(ev) {
		bs.vetoed = true
		r.logger.Debug("mouse press vetoed by click filter", "button", ev.Button, "pos", ev.Position)
		return
	}
	bs.vetoed = false
	bs.press = nil

	if bs.click != nil && s.col.Last() == action.Action(bs.click) &&
		samePosition(bs.click, ev.Position) && bs.checker.UpdateAndCheck(ev.Tick) {
		bs.extending = true
		bs.downTick = ev.Tick
		bs.downPos = ev.Position
		bs.restart(ev.Tick)
		return
	}

	bs.click = nil
	bs.extending = false
	bs.restart(ev.Tick)

	pos := ev.Position
	press := &action.MouseButtonAction{
		Transition:  action.Press,
		Button:      ev.Button,
		Position:    &pos,
		UsePosition: s.opts.UseCursorPosOnClicks,
	}
	r.emitLocked(s, press, ev.Tick)
	bs.press = press
}

func (r *Recorder) handleButtonUpLocked(s *session, ev hook.MouseEvent) {
	if !ev.Button.Valid() {
		r.logger.Debug("dropping release of unknown mouse button", "button", uint8(ev.Button))
		return
	}
	bs := s.buttons[ev.Button]
	if bs == nil {
		// Pressed before the session started.
		r.emitRelease(s, ev)
		return
	}
	if bs.vetoed {
		bs.vetoed = false
		return
	}

	inTime := bs.checker.UpdateAndCheck(ev.Tick)

	if bs.extending {
		bs.extending = false
		if inTime && s.col.Last() == action.Action(bs.click) && samePosition(bs.click, ev.Position) {
			next := *bs.click
			next.Count++
			s.col.ReplaceLast(&next)
			bs.click = &next
			bs.restart(ev.Tick)
			r.advanceLocked(s, ev.Tick)
			r.logger.Debug("extended click", "session", s.id, "action", &next)
			return
		}

		// The extension fell through; record the swallowed press as such.
		pos := bs.downPos
		r.emitLocked(s, &action.MouseButtonAction{
			Transition:  action.Press,
			Button:      ev.Button,
			Position:    &pos,
			UsePosition: s.opts.UseCursorPosOnClicks,
		}, bs.downTick)
		bs.click = nil
		r.emitRelease(s, ev)
		bs.checker.Reset()
		return
	}

	if bs.press != nil && inTime && s.col.Last() == action.Action(bs.press) && samePosition(bs.press, ev.Position) {
		click := &action.MouseButtonAction{
			Transition:  action.Click,
			Button:      ev.Button,
			Position:    bs.press.Position,
			UsePosition: bs.press.UsePosition,
			Count:       1,
		}
		s.col.ReplaceLast(click)
		bs.press = nil
		bs.click = click
		bs.restart(ev.Tick)
		r.advanceLocked(s, ev.Tick)
		r.logger.Debug("collapsed press into click", "session", s.id, "action", click)
		return
	}

	bs.press = nil
	bs.click = nil
	bs.checker.Reset()
	r.emitRelease(s, ev)
}

func (r *Recorder) emitRelease(s *session, ev hook.MouseEvent) {
	pos := ev.Position
	r.emitLocked(s, &action.MouseButtonAction{
		Transition:  action.Release,
		Button:      ev.Button,
		Position:    &pos,
		UsePosition: s.opts.UseCursorPosOnClicks,
	}, ev.Tick)
}

// ============================================================================
// Wheel
// ============================================================================

type wheelBurst struct {
	act   *action.MouseWheelAction
	first timing.Tick
	last  timing.Tick
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

// handleWheelLocked converts wheel deltas to whole steps and merges
// same-direction steps on one axis into a burst while the gap between
// events stays within WheelBurstGapMs.
func (r *Recorder) handleWheelLocked(s *session, ev hook.MouseEvent) {
	if ev.WheelDelta == 0 {
		r.logger.Debug("dropping wheel event with zero delta")
		return
	}

	axis := 0
	if ev.Horizontal {
		axis = 1
	}
	if sign(s.wheelRem[axis]) == -sign(ev.WheelDelta) {
		s.wheelRem[axis] = 0
	}
	s.wheelRem[axis] += ev.WheelDelta
	steps := s.wheelRem[axis] / hook.WheelDelta
	s.wheelRem[axis] -= steps * hook.WheelDelta
	if steps == 0 {
		return
	}

	if b := s.wheel; b != nil &&
		s.col.Last() == action.Action(b.act) &&
		b.act.Horizontal == ev.Horizontal &&
		sign(b.act.Steps) == sign(steps) &&
		timing.Elapsed(ev.Tick, b.last) <= s.opts.WheelBurstGapMs {
		next := &action.MouseWheelAction{
			Horizontal: ev.Horizontal,
			Steps:      b.act.Steps + steps,
			DurationMs: timing.Elapsed(ev.Tick, b.first),
		}
		s.col.ReplaceLast(next)
		b.act = next
		b.last = ev.Tick
		r.advanceLocked(s, ev.Tick)
		return
	}

	act := &action.MouseWheelAction{Horizontal: ev.Horizontal, Steps: steps}
	r.emitLocked(s, act, ev.Tick)
	s.wheel = &wheelBurst{act: act, first: ev.Tick, last: ev.Tick}
}

// ============================================================================
// Movement
// ============================================================================

func (r *Recorder) handleMoveLocked(s *session, ev hook.MouseEvent) {
	if s.pathMode == action.CursorMovementNone {
		return
	}

	ts := max(timing.Elapsed(ev.Tick, s.start), s.lastMoveTs)
	s.lastMoveTs = ts

	pt := ev.Position
	if s.pathMode == action.CursorMovementRelative {
		pt = ev.Delta
	}
	s.col.AppendMovement(action.MouseMovement{Position: pt, TimestampMs: ts})
	s.movements++

	s.pathBatch = append(s.pathBatch, ev.Position)
	if len(s.pathBatch) >= s.opts.PathBatchSize {
		r.flushPathLocked(s)
	}
}

// flushPathLocked hands buffered screen positions to the render sink.
func (r *Recorder) flushPathLocked(s *session) {
	if len(s.pathBatch) == 0 {
		return
	}
	r.sink.AddPoints(slices.Clone(s.pathBatch))
	s.pathBatch = s.pathBatch[:0]
}
