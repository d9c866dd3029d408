package pwm

import (
	"time"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm/internal/chiplock"
	"pwmcore-go/types"
)

// Exporter publishes chip metadata when a chip is added (attribute export,
// lookup tables, bus announcements). Export runs between registry insertion
// and the chip becoming operational; an error aborts AddChip.
//
// Both methods run with the global lock held and must not call back into
// this package.
type Exporter interface {
	Export(c *Chip) error
	Unexport(c *Chip)
}

func RegisterExporter(e Exporter) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.exporters = append(global.exporters, e)
}

func UnregisterExporter(e Exporter) {
	global.mu.Lock()
	defer global.mu.Unlock()
	for i, x := range global.exporters {
		if x == e {
			global.exporters = append(global.exporters[:i], global.exporters[i+1:]...)
			return
		}
	}
}

// AddChip registers c and makes it operational. On failure the registry
// insertion and any completed exports are undone and c may be added again.
func AddChip(c *Chip) error {
	if c == nil {
		return errcode.New(errcode.InvalidParams, "pwm.add_chip", "nil chip")
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if lc := c.Lifecycle(); lc != Uninitialized {
		return errcode.New(errcode.InvalidParams, "pwm.add_chip", "chip is "+lc.String())
	}

	id, err := global.registerLocked(c)
	if err != nil {
		return err
	}
	c.id.Store(int64(id))

	for i, e := range global.exporters {
		if err := e.Export(c); err != nil {
			for j := i - 1; j >= 0; j-- {
				global.exporters[j].Unexport(c)
			}
			global.unregisterLocked(id)
			c.id.Store(-1)
			logger().WithField("chip", id).WithError(err).Warn("chip export failed")
			return err
		}
	}

	c.lock.Lock()
	c.operational = true
	c.lock.Unlock()

	emit(types.TraceRecord{Op: types.TraceChipAdd, Chip: id, Channel: -1, Label: c.opts.Label})
	logger().WithField("chip", id).WithField("npwm", len(c.channels)).
		WithField("atomic", c.opts.Atomic).Debug("chip added")
	return nil
}

// RemoveChip makes c non-operational, frees channels consumers did not
// release and drops it from the registry. It waits for any driver call in
// flight on c.
func RemoveChip(c *Chip) error {
	if c == nil {
		return errcode.New(errcode.InvalidParams, "pwm.remove_chip", "nil chip")
	}
	start := time.Now()

	global.mu.Lock()
	defer global.mu.Unlock()

	if err := chiplock.With(c.lock, func() error {
		if !c.operational {
			return errcode.NotOperational
		}
		c.operational = false
		c.removed = true
		return nil
	}); err != nil {
		return err
	}

	id := c.ID()
	// The chip leaves the registry even if a Free hook panics.
	defer func() {
		global.unregisterLocked(id)
		for j := len(global.exporters) - 1; j >= 0; j-- {
			global.exporters[j].Unexport(c)
		}
		emit(types.TraceRecord{Op: types.TraceChipRemove, Chip: id, Channel: -1, Label: c.opts.Label,
			Duration: time.Since(start)})
		logger().WithField("chip", id).Debug("chip removed")
	}()

	freer, _ := c.ops.(Freer)
	for i := range c.channels {
		ch := &c.channels[i]
		if !ch.requested {
			continue
		}
		ch.requested = false
		logger().WithField("chip", id).WithField("channel", i).WithField("label", ch.label).
			Warn("freeing channel still requested at chip removal")
		emit(types.TraceRecord{Op: types.TraceForcedFree, Chip: id, Channel: i, Label: ch.label})
		if freer != nil {
			_ = chiplock.With(c.lock, func() error {
				ch.freeLocked(freer)
				return nil
			})
		}
	}
	return nil
}

// RemoveChipByID looks up and removes a live chip.
func RemoveChipByID(id int) error {
	c, ok := Lookup(id)
	if !ok {
		return errcode.UnknownChip
	}
	return RemoveChip(c)
}
