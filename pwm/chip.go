package pwm

import (
	"sync"
	"sync/atomic"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm/internal/chiplock"
	"pwmcore-go/types"
)

// Lifecycle is the externally visible state of a chip.
type Lifecycle uint8

const (
	Uninitialized Lifecycle = iota // created, not (yet) added
	Operational                    // added; driver may be called
	Removed                        // terminal; driver is never called again
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Operational:
		return "operational"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Options are fixed for the lifetime of a chip.
type Options struct {
	Label  string
	Driver string // informational, reported in ChipInfo
	Atomic bool   // driver is safe to call from non-blocking contexts
	Owner  Owner  // optional module reference taken per requested channel
}

// Chip is one PWM controller and its channels.
type Chip struct {
	ops      Ops
	opts     Options
	lock     chiplock.Locker
	channels []Channel

	id atomic.Int64 // -1 until added

	// guarded by lock; written only with the global lock also held
	operational bool
	removed     bool

	nonBlock   atomic.Int32 // >0 while an atomic chip is inside a driver call (debug)
	sleepyWarn sync.Once
}

// Channel is one output of a chip. Its lifetime is the chip's lifetime.
type Channel struct {
	chip  *Chip // fixed, non-owning
	index int

	// guarded by the global lock
	requested bool
	label     string
	ownerRef  bool

	// guarded by the chip lock
	state      types.State
	stateValid bool
}

// NewChip allocates a chip in the Uninitialized state. The lock variant is
// chosen here from opts.Atomic and never changes.
func NewChip(ops Ops, npwm int, opts Options) (*Chip, error) {
	if ops == nil {
		return nil, errcode.New(errcode.InvalidParams, "pwm.new_chip", "nil ops")
	}
	if npwm <= 0 {
		return nil, errcode.New(errcode.InvalidParams, "pwm.new_chip", "npwm must be > 0")
	}
	c := &Chip{
		ops:      ops,
		opts:     opts,
		lock:     chiplock.New(opts.Atomic),
		channels: make([]Channel, npwm),
	}
	c.id.Store(-1)
	for i := range c.channels {
		c.channels[i] = Channel{chip: c, index: i}
	}
	return c, nil
}

// ID is the registry identifier, or -1 if the chip was never added.
// It stays valid after removal for diagnostics.
func (c *Chip) ID() int        { return int(c.id.Load()) }
func (c *Chip) Label() string  { return c.opts.Label }
func (c *Chip) Driver() string { return c.opts.Driver }
func (c *Chip) NPWM() int      { return len(c.channels) }
func (c *Chip) Atomic() bool   { return c.opts.Atomic }
func (c *Chip) Ops() Ops       { return c.ops }

// Channel returns channel i, or nil when out of range.
func (c *Chip) Channel(i int) *Channel {
	if i < 0 || i >= len(c.channels) {
		return nil
	}
	return &c.channels[i]
}

// Lifecycle reads the current state under the chip lock.
func (c *Chip) Lifecycle() Lifecycle {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lifecycleLocked()
}

func (c *Chip) lifecycleLocked() Lifecycle {
	switch {
	case c.removed:
		return Removed
	case c.operational:
		return Operational
	default:
		return Uninitialized
	}
}

// OperationalLocked reports the operational flag. The caller must hold the
// chip lock, which is the case inside every driver hook.
func (c *Chip) OperationalLocked() bool { return c.operational }

func (c *Chip) Info() types.ChipInfo {
	return types.ChipInfo{
		ID:     c.ID(),
		Label:  c.opts.Label,
		Driver: c.opts.Driver,
		NPWM:   len(c.channels),
		Atomic: c.opts.Atomic,
	}
}

// invoke runs one driver call. The chip lock must be held.
func (c *Chip) invoke(fn func() error) error {
	if debugChecks && c.opts.Atomic {
		c.nonBlock.Add(1)
		defer c.nonBlock.Add(-1)
	}
	return fn()
}

func (ch *Channel) Chip() *Chip { return ch.chip }
func (ch *Channel) Index() int  { return ch.index }

// Label is the consumer label given at request time.
func (ch *Channel) Label() string {
	global.mu.Lock()
	defer global.mu.Unlock()
	return ch.label
}

func (ch *Channel) Requested() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return ch.requested
}

// State is the last state successfully applied (or read from hardware at
// request time). It does not call the driver.
func (ch *Channel) State() types.State {
	c := ch.chip
	c.lock.Lock()
	defer c.lock.Unlock()
	return ch.state
}

func (ch *Channel) Info() types.ChannelInfo {
	c := ch.chip
	global.mu.Lock()
	defer global.mu.Unlock()
	info := types.ChannelInfo{
		Chip:      c.ID(),
		Index:     ch.index,
		Label:     ch.label,
		Requested: ch.requested,
	}
	c.lock.Lock()
	info.State = ch.state
	c.lock.Unlock()
	return info
}
