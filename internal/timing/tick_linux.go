//go:build linux

package timing

import "golang.org/x/sys/unix"

type monotonic struct{}

func (monotonic) Now() Tick {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return Tick(uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1_000_000)
}
