//go:build !linux

package timing

import "time"

var processStart = time.Now()

type monotonic struct{}

func (monotonic) Now() Tick {
	return Tick(uint64(time.Since(processStart).Milliseconds()))
}
