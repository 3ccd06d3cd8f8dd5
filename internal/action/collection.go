package action

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"actionrepeater/internal/notify"
)

var (
	// ErrActionRemovalRefused is returned when removing or replacing an action
	// would desynchronize the hidden autorepeat actions it stands for.
	ErrActionRemovalRefused = errors.New("action removal refused")
	// ErrActionNotFound is returned for references that are not part of the
	// collection (or of its current view).
	ErrActionNotFound = errors.New("action not found")
)

// ChangeOp describes a collection mutation.
type ChangeOp uint8

const (
	ChangeAdded ChangeOp = iota + 1
	ChangeRemoved
	ChangeReplaced
	// ChangeReset means the collection changed in more than one place.
	ChangeReset
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeReplaced:
		return "replaced"
	case ChangeReset:
		return "reset"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Change is published after every collection mutation. Index points into
// the full action list and is -1 for ChangeReset.
type Change struct {
	Op    ChangeOp
	Index int
}

// Collection is the ordered action sequence shared by the recorder, the
// player and whoever edits it.
//
// Besides the full list it offers a filtered view in which autorepeat key
// presses are hidden and the waits around them are folded into a single
// representative WaitAction. Representatives keep their identity until the
// next mutation.
//
// Listeners registered with OnChange and OnCursorPathChange run after the
// mutation is applied and after the internal lock is released.
type Collection struct {
	mu      sync.Mutex
	actions []Action
	path    *CursorPath

	// Derived from actions; nil view means stale.
	view []Action
	reps map[*WaitAction]struct{}
	tied map[Action]*WaitAction

	changes     notify.Feed[Change]
	pathChanges notify.Feed[*CursorPath]
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

// OnChange registers fn for action mutations.
func (c *Collection) OnChange(fn func(Change)) (unsubscribe func()) {
	return c.changes.Subscribe(fn)
}

// OnCursorPathChange registers fn for cursor path replacement. fn receives
// a copy of the new path, or nil when it was cleared.
func (c *Collection) OnCursorPathChange(fn func(*CursorPath)) (unsubscribe func()) {
	return c.pathChanges.Subscribe(fn)
}

// ============================================================================
// Queries
// ============================================================================

// Len returns the length of the full list.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// Last returns the last action of the full list, or nil.
func (c *Collection) Last() Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.actions) == 0 {
		return nil
	}
	return c.actions[len(c.actions)-1]
}

// Actions returns a copy of the full list, hidden autorepeat included.
func (c *Collection) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.actions)
}

// View returns a copy of the filtered list.
func (c *Collection) View() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureViewLocked()
	return slices.Clone(c.view)
}

// Snapshot returns the full list when includeAutoRepeat is set and the
// filtered view otherwise.
func (c *Collection) Snapshot(includeAutoRepeat bool) []Action {
	if includeAutoRepeat {
		return c.Actions()
	}
	return c.View()
}

// IndexOf returns the position of a in the full list, or -1.
func (c *Collection) IndexOf(a Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(a)
}

// IsCoalesced reports whether a is a representative wait of the current view.
func (c *Collection) IsCoalesced(a Action) bool {
	w, ok := a.(*WaitAction)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureViewLocked()
	_, ok = c.reps[w]
	return ok
}

// ============================================================================
// Recorder-side mutation
// ============================================================================

// Append adds a to the end. A WaitAction appended right after another
// WaitAction is merged into it.
func (c *Collection) Append(a Action) {
	c.mu.Lock()
	change := c.appendLocked(a)
	c.mu.Unlock()

	c.changes.Publish(change)
}

func (c *Collection) appendLocked(a Action) Change {
	c.invalidateLocked()
	if w, ok := a.(*WaitAction); ok && len(c.actions) > 0 {
		last := len(c.actions) - 1
		if prev, ok := c.actions[last].(*WaitAction); ok {
			c.actions[last] = &WaitAction{DurationMs: prev.DurationMs + w.DurationMs}
			return Change{Op: ChangeReplaced, Index: last}
		}
	}
	c.actions = append(c.actions, a)
	return Change{Op: ChangeAdded, Index: len(c.actions) - 1}
}

// ReplaceLast swaps the last action for a. It is a no-op on an empty
// collection.
func (c *Collection) ReplaceLast(a Action) {
	c.mu.Lock()
	if len(c.actions) == 0 {
		c.mu.Unlock()
		return
	}
	last := len(c.actions) - 1
	c.actions[last] = a
	c.invalidateLocked()
	c.mu.Unlock()

	c.changes.Publish(Change{Op: ChangeReplaced, Index: last})
}

// ============================================================================
// Editor-side mutation
// ============================================================================

// InsertBefore inserts a in front of ref. A nil ref appends.
func (c *Collection) InsertBefore(ref Action, a Action) error {
	c.mu.Lock()
	var change Change
	if ref == nil {
		change = c.appendLocked(a)
	} else {
		idx := c.indexLocked(ref)
		if idx < 0 {
			c.ensureViewLocked()
			if w, ok := ref.(*WaitAction); ok {
				if _, isRep := c.reps[w]; isRep {
					idx = c.groupStartLocked(w)
				}
			}
		}
		if idx < 0 {
			c.mu.Unlock()
			return ErrActionNotFound
		}
		c.actions = slices.Insert(c.actions, idx, a)
		change = Change{Op: ChangeAdded, Index: idx}
		if c.normalizeLocked() {
			change = Change{Op: ChangeReset, Index: -1}
		}
		c.invalidateLocked()
	}
	c.mu.Unlock()

	c.changes.Publish(change)
	return nil
}

// Remove deletes a. Removing a representative wait, or an action folded into
// one, is refused with ErrActionRemovalRefused.
func (c *Collection) Remove(a Action) error {
	c.mu.Lock()
	if err := c.checkEditableLocked(a); err != nil {
		c.mu.Unlock()
		return err
	}
	idx := c.indexLocked(a)
	if idx < 0 {
		c.mu.Unlock()
		return ErrActionNotFound
	}

	c.actions = slices.Delete(c.actions, idx, idx+1)
	change := Change{Op: ChangeRemoved, Index: idx}
	if c.normalizeLocked() {
		change = Change{Op: ChangeReset, Index: -1}
	}
	c.invalidateLocked()
	c.mu.Unlock()

	c.changes.Publish(change)
	return nil
}

// Replace swaps old for a, under the same refusal rules as Remove.
func (c *Collection) Replace(old Action, a Action) error {
	c.mu.Lock()
	if err := c.checkEditableLocked(old); err != nil {
		c.mu.Unlock()
		return err
	}
	idx := c.indexLocked(old)
	if idx < 0 {
		c.mu.Unlock()
		return ErrActionNotFound
	}

	c.actions[idx] = a
	change := Change{Op: ChangeReplaced, Index: idx}
	if c.normalizeLocked() {
		change = Change{Op: ChangeReset, Index: -1}
	}
	c.invalidateLocked()
	c.mu.Unlock()

	c.changes.Publish(change)
	return nil
}

// Clear removes every action. The cursor path is kept.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.actions = nil
	c.invalidateLocked()
	c.mu.Unlock()

	c.changes.Publish(Change{Op: ChangeReset, Index: -1})
}

// Load replaces the actions and the cursor path wholesale.
func (c *Collection) Load(actions []Action, path *CursorPath) {
	c.mu.Lock()
	c.actions = slices.Clone(actions)
	c.normalizeLocked()
	c.invalidateLocked()
	c.path = path.Clone()
	published := c.path.Clone()
	c.mu.Unlock()

	c.changes.Publish(Change{Op: ChangeReset, Index: -1})
	c.pathChanges.Publish(published)
}

// MapMouseButtons replaces every mouse button action with fn's result.
// Returning the same pointer leaves an action untouched.
func (c *Collection) MapMouseButtons(fn func(*MouseButtonAction) *MouseButtonAction) {
	c.mu.Lock()
	changed := false
	for i, a := range c.actions {
		mb, ok := a.(*MouseButtonAction)
		if !ok {
			continue
		}
		if n := fn(mb); n != mb {
			c.actions[i] = n
			changed = true
		}
	}
	if changed {
		c.invalidateLocked()
	}
	c.mu.Unlock()

	if changed {
		c.changes.Publish(Change{Op: ChangeReset, Index: -1})
	}
}

func (c *Collection) checkEditableLocked(a Action) error {
	c.ensureViewLocked()
	if w, ok := a.(*WaitAction); ok {
		if _, isRep := c.reps[w]; isRep {
			return fmt.Errorf("%w: the wait stands for hidden autorepeat input of a held key", ErrActionRemovalRefused)
		}
	}
	if _, isTied := c.tied[a]; isTied {
		return fmt.Errorf("%w: the action is tied to a coalesced autorepeat wait", ErrActionRemovalRefused)
	}
	return nil
}

// ============================================================================
// Cursor path
// ============================================================================

// CursorPath returns a copy of the current path, or nil.
func (c *Collection) CursorPath() *CursorPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path.Clone()
}

// SetCursorPath replaces the path wholesale.
func (c *Collection) SetCursorPath(p *CursorPath) {
	c.mu.Lock()
	c.path = p.Clone()
	published := c.path.Clone()
	c.mu.Unlock()

	c.pathChanges.Publish(published)
}

// AppendMovement extends the current path. It does nothing without a path
// and does not notify; the path is only announced when replaced.
func (c *Collection) AppendMovement(m MouseMovement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != nil {
		c.path.Movements = append(c.path.Movements, m)
	}
}

// ClearCursorPath drops the path.
func (c *Collection) ClearCursorPath() {
	c.mu.Lock()
	had := c.path != nil
	c.path = nil
	c.mu.Unlock()

	if had {
		c.pathChanges.Publish(nil)
	}
}

// ============================================================================
// Internals
// ============================================================================

func (c *Collection) indexLocked(a Action) int {
	for i, x := range c.actions {
		if x == a {
			return i
		}
	}
	return -1
}

func (c *Collection) invalidateLocked() {
	c.view = nil
	c.reps = nil
	c.tied = nil
}

func (c *Collection) groupStartLocked(rep *WaitAction) int {
	first := -1
	for i, a := range c.actions {
		if c.tied[a] == rep {
			first = i
			break
		}
	}
	return first
}

func isHidden(a Action) bool {
	k, ok := a.(*KeyAction)
	return ok && k.AutoRepeat
}

// ensureViewLocked rebuilds the filtered view. A run of waits and hidden
// autorepeat presses between two visible actions shows as its single wait
// when it has one, and as a new representative wait summing all of them
// when it has several; members of such a run are tied to the representative.
func (c *Collection) ensureViewLocked() {
	if c.view != nil {
		return
	}
	c.view = make([]Action, 0, len(c.actions))
	c.reps = make(map[*WaitAction]struct{})
	c.tied = make(map[Action]*WaitAction)

	var run []Action
	var waits []*WaitAction

	flush := func() {
		switch len(waits) {
		case 0:
		case 1:
			c.view = append(c.view, waits[0])
		default:
			total := 0
			for _, w := range waits {
				total += w.DurationMs
			}
			rep := &WaitAction{DurationMs: total}
			c.reps[rep] = struct{}{}
			for _, m := range run {
				c.tied[m] = rep
			}
			c.view = append(c.view, rep)
		}
		run = run[:0]
		waits = waits[:0]
	}

	for _, a := range c.actions {
		if w, ok := a.(*WaitAction); ok {
			run = append(run, a)
			waits = append(waits, w)
			continue
		}
		if isHidden(a) {
			run = append(run, a)
			continue
		}
		flush()
		c.view = append(c.view, a)
	}
	flush()
}

// normalizeLocked drops autorepeat presses whose key is no longer held by a
// preceding press and merges adjacent waits. It reports whether anything
// beyond the triggering edit changed.
func (c *Collection) normalizeLocked() bool {
	held := make(map[Key]bool)
	out := make([]Action, 0, len(c.actions))
	changed := false

	for _, a := range c.actions {
		if k, ok := a.(*KeyAction); ok {
			switch {
			case k.AutoRepeat:
				if !held[k.Key] {
					changed = true
					continue
				}
			case k.Transition == Press:
				held[k.Key] = true
			case k.Transition == Release:
				delete(held, k.Key)
			}
		}
		if w, ok := a.(*WaitAction); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*WaitAction); ok {
				out[len(out)-1] = &WaitAction{DurationMs: prev.DurationMs + w.DurationMs}
				changed = true
				continue
			}
		}
		out = append(out, a)
	}

	c.actions = out
	return changed
}
