package pwm

import (
	"strconv"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm/internal/chiplock"
	"pwmcore-go/types"
)

// Request marks channel index of c as in use by label.
func Request(c *Chip, index int, label string) (*Channel, error) {
	if c == nil {
		return nil, errcode.New(errcode.InvalidParams, "pwm.request", "nil chip")
	}
	if index < 0 || index >= len(c.channels) {
		return nil, errcode.New(errcode.InvalidParams, "pwm.request",
			"channel "+strconv.Itoa(index)+" out of range")
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	ch := &c.channels[index]
	err := ch.requestLocked(label)
	emit(types.TraceRecord{Op: types.TraceRequest, Chip: c.ID(), Channel: index, Label: label, Err: errString(err)})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RequestByID is Request for a chip known only by its identifier.
func RequestByID(chipID, index int, label string) (*Channel, error) {
	c, ok := Lookup(chipID)
	if !ok {
		return nil, errcode.UnknownChip
	}
	return Request(c, index, label)
}

// requestLocked runs with the global lock held.
func (ch *Channel) requestLocked(label string) error {
	c := ch.chip
	if ch.requested {
		return errcode.AlreadyRequested
	}
	// Read without the chip lock: every write of operational happens with
	// the global lock held (AddChip, RemoveChip), so it cannot change here.
	if !c.operational {
		return errcode.NotOperational
	}
	if c.opts.Owner != nil && !c.opts.Owner.Get() {
		return errcode.DriverUnavailable
	}
	ch.requested = true
	ch.label = label
	ch.ownerRef = c.opts.Owner != nil

	// Undone on a hook error and on a hook panic alike.
	committed := false
	defer func() {
		if !committed {
			ch.requested = false
			ch.label = ""
			ch.putOwnerLocked()
		}
	}()

	if r, ok := c.ops.(Requester); ok {
		if err := chiplock.With(c.lock, func() error {
			return c.invoke(func() error { return r.Request(c, ch) })
		}); err != nil {
			return err
		}
	}

	// Seed the cached state from hardware; a failure leaves it unknown.
	_ = chiplock.With(c.lock, func() error {
		ch.stateValid = false
		var st types.State
		err := c.invoke(func() (err error) {
			st, err = c.ops.GetState(c, ch)
			return err
		})
		if err == nil {
			ch.state, ch.stateValid = st, true
		}
		return nil
	})
	committed = true
	return nil
}

// Release gives the channel back. After the chip was removed it only drops
// the consumer's module reference: removal already freed the channel.
// Releasing twice on a live chip is a caller bug and is logged.
func (ch *Channel) Release() {
	c := ch.chip

	global.mu.Lock()
	defer global.mu.Unlock()

	if !c.operational {
		ch.label = ""
		ch.putOwnerLocked()
		return
	}
	if !ch.requested {
		logger().WithField("chip", c.ID()).WithField("channel", ch.index).
			Warn("channel already released")
		return
	}

	label := ch.label
	ch.requested = false
	ch.label = ""
	defer ch.putOwnerLocked()
	if f, ok := c.ops.(Freer); ok {
		_ = chiplock.With(c.lock, func() error {
			ch.freeLocked(f)
			return nil
		})
	}
	emit(types.TraceRecord{Op: types.TraceFree, Chip: c.ID(), Channel: ch.index, Label: label})
}

// freeLocked runs the driver's Free hook. The chip lock must be held. The
// hook changes the output, so the cached state no longer describes it and
// the next Apply must reach the driver.
func (ch *Channel) freeLocked(f Freer) {
	c := ch.chip
	ch.stateValid = false
	_ = c.invoke(func() error { f.Free(c, ch); return nil })
}

func (ch *Channel) putOwnerLocked() {
	if ch.ownerRef {
		ch.ownerRef = false
		ch.chip.opts.Owner.Put()
	}
}
