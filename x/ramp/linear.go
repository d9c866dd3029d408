// Package ramp steps a value linearly towards a target, with timing and
// cancellation left to the caller.
package ramp

import (
	"context"
	"errors"
	"time"

	"pwmcore-go/x/mathx"
)

// ErrCancelled is returned when Tick reports cancellation.
var ErrCancelled = errors.New("ramp: cancelled")

// Step applies the next value. An error stops the ramp.
type Step func(v uint64) error

// Tick waits for d and reports whether to continue (false => cancelled).
type Tick func(d time.Duration) bool

// Sleeper is a Tick that sleeps unless ctx ends first.
func Sleeper(ctx context.Context) Tick {
	return func(d time.Duration) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// Linear moves from cur to to in steps evenly spaced over duration. Values
// that do not change are not re-applied; the last step always lands on to.
// steps==0 or duration==0 snaps to to.
func Linear(cur, to uint64, duration time.Duration, steps int, tick Tick, set Step) error {
	if steps <= 0 || duration <= 0 {
		return set(to)
	}
	stepDur := max(duration/time.Duration(steps), time.Millisecond)

	last := cur
	for i := 1; i < steps; i++ {
		if !tick(stepDur) {
			return ErrCancelled
		}
		v := At(cur, to, i, steps)
		if v == last {
			continue
		}
		if err := set(v); err != nil {
			return err
		}
		last = v
	}
	if !tick(stepDur) {
		return ErrCancelled
	}
	return set(to)
}

// At returns the value i/n of the way from a to b.
func At(a, b uint64, i, n int) uint64 {
	if n <= 0 || i >= n {
		return b
	}
	if i <= 0 {
		return a
	}
	if b >= a {
		return a + mathx.MulDiv(b-a, uint64(i), uint64(n))
	}
	return a - mathx.MulDiv(a-b, uint64(i), uint64(n))
}
