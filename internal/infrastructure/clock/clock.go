// Package clock implements the Clock port. Monotonic readings come from
// CLOCK_BOOTTIME where the platform provides it, so elapsed-time math in
// the ringing guard keeps counting across device sleep and only resets
// on reboot.
package clock

import "time"

type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Monotonic() time.Duration {
	return c.monotonic()
}
