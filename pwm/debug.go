package pwm

import "fmt"

// debugChecks enables developer assertions. Build with -tags pwmdebug.
var debugChecks = false

// MightSleep must be called by drivers before any operation that can block
// (bus transfers, sleeps, allocations that may wait). With debug checks
// enabled it panics when reached from inside a driver call on a chip that
// was registered as atomic: that driver claims atomic safety but sleeps.
func MightSleep(c *Chip) {
	if !debugChecks || c == nil {
		return
	}
	if c.nonBlock.Load() > 0 {
		panic(fmt.Sprintf("pwm: chip %d (%s) is atomic but its driver may sleep", c.ID(), c.opts.Label))
	}
}
