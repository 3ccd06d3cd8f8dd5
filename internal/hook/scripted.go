package hook

import (
	"errors"
	"sync"

	"actionrepeater/internal/action"
)

// ErrNotInstalled is returned by Scripted.Deliver without a handler.
var ErrNotInstalled = errors.New("hook not installed")

// Scripted is a Source driven by the caller. Deliver feeds events to the
// installed handler synchronously on the calling goroutine.
type Scripted struct {
	mu         sync.Mutex
	handler    Handler
	installErr error
	installs   int
	cursor     action.Point
}

// NewScripted returns an uninstalled scripted source.
func NewScripted() *Scripted {
	return &Scripted{}
}

// FailInstall makes the next Install calls return err.
func (s *Scripted) FailInstall(err error) {
	s.mu.Lock()
	s.installErr = err
	s.mu.Unlock()
}

func (s *Scripted) Install(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installErr != nil {
		return s.installErr
	}
	s.handler = h
	s.installs++
	return nil
}

func (s *Scripted) Uninstall() error {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

// Installed reports whether a handler is installed.
func (s *Scripted) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler != nil
}

// Installs counts successful Install calls.
func (s *Scripted) Installs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installs
}

// SetCursor sets the position reported by CursorPosition.
func (s *Scripted) SetCursor(p action.Point) {
	s.mu.Lock()
	s.cursor = p
	s.mu.Unlock()
}

func (s *Scripted) CursorPosition() action.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Deliver hands events to the installed handler in order. Mouse events
// also move the reported cursor.
func (s *Scripted) Deliver(events ...Event) error {
	for _, ev := range events {
		s.mu.Lock()
		h := s.handler
		if me, ok := ev.(MouseEvent); ok {
			s.cursor = me.Position
		}
		s.mu.Unlock()
		if h == nil {
			return ErrNotInstalled
		}

		switch ev := ev.(type) {
		case KeyEvent:
			h.HandleKey(ev)
		case MouseEvent:
			h.HandleMouse(ev)
		}
	}
	return nil
}
