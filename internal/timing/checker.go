package timing

// Default checker tuning, in milliseconds.
const (
	DefaultMaxTimeDelta = 1000
	DefaultMargin       = 150
)

// Checker classifies each new tick of a repeating event stream as either
// continuing the stream (its delta matches the baseline within a margin) or
// breaking it. Only relative deltas are used, so process suspension and
// counter wrap do not confuse it.
//
// A Checker is not safe for concurrent use; each stream owns one.
type Checker struct {
	maxTimeDelta uint32
	margin       uint32
	useLastDelta bool

	last        Tick
	hasLast     bool
	baseline    uint32
	hasBaseline bool

	count int
	total uint64
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithMaxTimeDelta sets the largest delta still considered part of the
// stream. Larger deltas reset the checker.
func WithMaxTimeDelta(ms uint32) CheckerOption {
	return func(c *Checker) { c.maxTimeDelta = ms }
}

// WithMargin sets the tolerated distance from the baseline.
func WithMargin(ms uint32) CheckerOption {
	return func(c *Checker) { c.margin = ms }
}

// WithLastDeltaAsBaseline makes the baseline follow the most recent
// consistent delta instead of staying fixed at the first one.
func WithLastDeltaAsBaseline(on bool) CheckerOption {
	return func(c *Checker) { c.useLastDelta = on }
}

// NewChecker returns a checker with the default tuning adjusted by opts.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		maxTimeDelta: DefaultMaxTimeDelta,
		margin:       DefaultMargin,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateAndCheck feeds tick into the stream and reports whether it is
// consistent with it.
//
// The first call after construction or Reset always returns true. The second
// establishes the baseline and returns true unless the delta exceeds the
// maximum. After that a tick is consistent iff its delta lies strictly inside
// (baseline-margin, baseline+margin).
func (c *Checker) UpdateAndCheck(tick Tick) bool {
	if !c.hasLast {
		c.last = tick
		c.hasLast = true
		return true
	}

	delta := tick.Since(c.last)
	c.last = tick

	if delta > c.maxTimeDelta {
		c.Reset()
		return false
	}

	if !c.hasBaseline {
		c.baseline = delta
		c.hasBaseline = true
		c.accumulate(delta)
		return true
	}

	lo := int64(c.baseline) - int64(c.margin)
	hi := int64(c.baseline) + int64(c.margin)
	d := int64(delta)
	if d <= lo || d >= hi {
		return false
	}

	c.accumulate(delta)
	if c.useLastDelta {
		c.baseline = delta
	}
	return true
}

func (c *Checker) accumulate(delta uint32) {
	c.count++
	c.total += uint64(delta)
}

// Reset clears all accumulated state.
func (c *Checker) Reset() {
	c.last = 0
	c.hasLast = false
	c.baseline = 0
	c.hasBaseline = false
	c.count = 0
	c.total = 0
}

// Baseline returns the current baseline delta, if one is established.
func (c *Checker) Baseline() (uint32, bool) {
	return c.baseline, c.hasBaseline
}

// DeltaCount is the number of consistent deltas since the last reset.
func (c *Checker) DeltaCount() int { return c.count }

// DeltaTotal is the sum of consistent deltas since the last reset.
func (c *Checker) DeltaTotal() uint64 { return c.total }

// AverageDelta estimates the true period of the stream.
func (c *Checker) AverageDelta() uint32 {
	if c.count == 0 {
		return c.baseline
	}
	return uint32(c.total / uint64(c.count))
}
