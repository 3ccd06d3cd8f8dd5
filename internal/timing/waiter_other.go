//go:build !linux

package timing

// NewWaiter returns the best waiter available on this platform.
func NewWaiter() (Waiter, error) {
	return NewTimerWaiter(), nil
}
