package pwm

import (
	"time"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm/internal/chiplock"
	"pwmcore-go/types"
)

// Apply configures the channel. It may block waiting for the chip lock and
// is the call to use from goroutines that are allowed to wait.
func (ch *Channel) Apply(st types.State) error {
	return ch.apply(st, emit)
}

// ApplyAtomic is Apply for callers that must not block. It is only safe on
// atomic chips; using it on a sleeping chip is logged once per chip. Its
// trace record only reaches NonBlocking tracers.
func (ch *Channel) ApplyAtomic(st types.State) error {
	c := ch.chip
	if !c.opts.Atomic {
		c.sleepyWarn.Do(func() {
			logger().WithField("chip", c.ID()).Warn("sleeping PWM chip used from atomic path")
		})
	}
	return ch.apply(st, emitNonBlocking)
}

func (ch *Channel) apply(st types.State, trace func(types.TraceRecord)) error {
	c := ch.chip
	start := time.Now()

	var mismatch *types.State
	err := chiplock.With(c.lock, func() error {
		if !c.operational {
			return errcode.NotOperational
		}
		if ch.stateValid && ch.state == st {
			return nil
		}
		if err := c.invoke(func() error { return c.ops.Apply(c, ch, st) }); err != nil {
			return err
		}
		ch.state, ch.stateValid = st, true
		if debugChecks {
			mismatch = c.readBackLocked(ch, st)
		}
		return nil
	})

	trace(types.TraceRecord{Op: types.TraceApply, Chip: c.ID(), Channel: ch.index, State: &st,
		Err: errString(err), Duration: time.Since(start)})
	if mismatch != nil {
		logger().WithField("chip", c.ID()).WithField("channel", ch.index).
			WithField("requested", st).WithField("hardware", *mismatch).
			Warn("applied state does not read back")
	}
	return err
}

// readBackLocked returns the hardware state if it differs from want.
// Disabled channels only compare the enable bit.
func (c *Chip) readBackLocked(ch *Channel, want types.State) *types.State {
	var got types.State
	err := c.invoke(func() (err error) {
		got, err = c.ops.GetState(c, ch)
		return err
	})
	if err != nil {
		return nil
	}
	if !want.Enabled && !got.Enabled {
		return nil
	}
	if got != want {
		return &got
	}
	return nil
}

// GetState asks the driver for the channel's current hardware state.
func (ch *Channel) GetState() (types.State, error) {
	c := ch.chip
	start := time.Now()

	var st types.State
	err := chiplock.With(c.lock, func() error {
		if !c.operational {
			return errcode.NotOperational
		}
		return c.invoke(func() (err error) {
			st, err = c.ops.GetState(c, ch)
			return err
		})
	})

	rec := types.TraceRecord{Op: types.TraceGetState, Chip: c.ID(), Channel: ch.index,
		Err: errString(err), Duration: time.Since(start)}
	if err == nil {
		rec.State = &st
	}
	emit(rec)
	return st, err
}

// Capture measures the channel's input waveform. The global lock is held
// for the whole call to keep it ordered with request and release.
func (ch *Channel) Capture(timeout time.Duration) (types.Capture, error) {
	c := ch.chip
	start := time.Now()

	var res types.Capture
	err := func() error {
		global.mu.Lock()
		defer global.mu.Unlock()
		return chiplock.With(c.lock, func() error {
			if !c.operational {
				return errcode.NotOperational
			}
			cp, ok := c.ops.(Capturer)
			if !ok {
				return errcode.Unsupported
			}
			return c.invoke(func() (err error) {
				res, err = cp.Capture(c, ch, timeout)
				return err
			})
		})
	}()

	rec := types.TraceRecord{Op: types.TraceCapture, Chip: c.ID(), Channel: ch.index,
		Err: errString(err), Duration: time.Since(start)}
	if err == nil {
		rec.Capture = &res
	}
	emit(rec)
	return res, err
}
