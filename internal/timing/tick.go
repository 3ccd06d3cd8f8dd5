// Package timing holds the clock-facing pieces of the engine: the wrap-safe
// millisecond tick, the jitter-tolerant consistency checker used for
// autorepeat and click detection, and the cancellable high-resolution waiters
// used during playback.
package timing

// Tick is a 32-bit monotonic millisecond counter value. It wraps roughly every
// 49.7 days, so ticks are only ever compared through subtraction.
type Tick uint32

// Since returns the milliseconds elapsed from earlier to t.
func (t Tick) Since(earlier Tick) uint32 {
	return uint32(t - earlier)
}

// Before reports whether t precedes other, assuming both lie within half the
// counter range of each other.
func (t Tick) Before(other Tick) bool {
	return int32(t-other) < 0
}

// Elapsed is Since clamped to zero when earlier is actually later than t.
func Elapsed(t, earlier Tick) int {
	if t.Before(earlier) {
		return 0
	}
	return int(t.Since(earlier))
}

// FromTimeval converts a kernel timeval into a tick.
func FromTimeval(sec, usec int64) Tick {
	return Tick(uint64(sec)*1000 + uint64(usec)/1000)
}

// TickSource returns the current tick.
type TickSource interface {
	Now() Tick
}

// TickFunc adapts a function to TickSource.
type TickFunc func() Tick

func (f TickFunc) Now() Tick { return f() }

// Monotonic is the process-wide monotonic tick source.
var Monotonic TickSource = monotonic{}
