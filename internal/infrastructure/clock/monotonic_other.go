//go:build !linux

package clock

import "time"

func (c *SystemClock) monotonic() time.Duration {
	// Go's runtime clock is monotonic within the process; without
	// CLOCK_BOOTTIME the reading restarts with the process instead of the
	// machine, which the ringing guard treats like a reboot.
	return time.Since(c.start)
}
