package recorder

import (
	"actionrepeater/internal/action"
	"actionrepeater/internal/hook"
	"actionrepeater/internal/timing"
)

// keyState is the open press of one held key.
type keyState struct {
	checker *timing.Checker
}

func (s *session) newKeyChecker() *timing.Checker {
	return timing.NewChecker(
		timing.WithMaxTimeDelta(uint32(s.opts.RepeatMaxDeltaMs)),
		timing.WithMargin(uint32(s.opts.RepeatMarginMs)),
		timing.WithLastDeltaAsBaseline(true),
	)
}

// handleKeyLocked records presses and releases. A down for a key that is
// already held is autorepeat when the source flags it as such or when its
// timing continues the key's repeat stream; autorepeat downs are stored as
// hidden autorepeat presses. Any other down opens a new visible press.
func (r *Recorder) handleKeyLocked(s *session, ev hook.KeyEvent) {
	if ev.Key == 0 {
		r.logger.Debug("dropping key event without key code", "scan_code", ev.ScanCode)
		return
	}

	if !ev.Down {
		delete(s.keys, ev.Key)
		r.emitLocked(s, &action.KeyAction{Transition: action.Release, Key: ev.Key}, ev.Tick)
		return
	}

	ks, held := s.keys[ev.Key]
	if !held {
		ks = &keyState{checker: s.newKeyChecker()}
		ks.checker.UpdateAndCheck(ev.Tick)
		s.keys[ev.Key] = ks
		r.emitLocked(s, &action.KeyAction{Transition: action.Press, Key: ev.Key}, ev.Tick)
		return
	}

	consistent := ks.checker.UpdateAndCheck(ev.Tick)
	if consistent || ev.Repeat {
		r.emitLocked(s, &action.KeyAction{Transition: action.Press, Key: ev.Key, AutoRepeat: true}, ev.Tick)
		return
	}

	ks.checker.Reset()
	ks.checker.UpdateAndCheck(ev.Tick)
	r.emitLocked(s, &action.KeyAction{Transition: action.Press, Key: ev.Key}, ev.Tick)
}
