// Package regbank is a memory-mapped PWM block: every channel is a set of
// registers that take effect as soon as they are written. Register access
// never blocks, so chips built from a Bank are atomic.
//
// Capture loops the programmed waveform back, which makes the bank useful
// as a stand-in for SoC timer blocks on a host.
package regbank

import (
	"sync/atomic"
	"time"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

// DriverName is reported in ChipInfo.
const DriverName = "regbank"

const (
	ctlEnable   = 1 << 0
	ctlInversed = 1 << 1
)

// regs is one channel's register window.
type regs struct {
	period atomic.Uint64
	duty   atomic.Uint64
	ctl    atomic.Uint32
	users  atomic.Int32 // clock users
}

// Bank holds the register windows of n channels.
type Bank struct {
	ch []regs
}

func New(n int) *Bank {
	if n < 0 {
		n = 0
	}
	return &Bank{ch: make([]regs, n)}
}

func (b *Bank) Len() int { return len(b.ch) }

// NewChip wraps the bank in an atomic chip with one PWM channel per
// register window.
func (b *Bank) NewChip(label string, owner pwm.Owner) (*pwm.Chip, error) {
	return pwm.NewChip(b, len(b.ch), pwm.Options{
		Label:  label,
		Driver: DriverName,
		Atomic: true,
		Owner:  owner,
	})
}

func (b *Bank) window(ch *pwm.Channel) (*regs, error) {
	i := ch.Index()
	if i < 0 || i >= len(b.ch) {
		return nil, errcode.UnknownChannel
	}
	return &b.ch[i], nil
}

func (b *Bank) Apply(_ *pwm.Chip, ch *pwm.Channel, st types.State) error {
	r, err := b.window(ch)
	if err != nil {
		return err
	}
	if st.Enabled && (st.PeriodNs == 0 || st.DutyNs > st.PeriodNs) {
		return errcode.InvalidParams
	}
	var ctl uint32
	if st.Enabled {
		ctl |= ctlEnable
	}
	if st.Polarity == types.PolarityInversed {
		ctl |= ctlInversed
	}
	// Gate the output while the timing registers change.
	r.ctl.Store(r.ctl.Load() &^ ctlEnable)
	r.period.Store(st.PeriodNs)
	r.duty.Store(st.DutyNs)
	r.ctl.Store(ctl)
	return nil
}

func (b *Bank) GetState(_ *pwm.Chip, ch *pwm.Channel) (types.State, error) {
	r, err := b.window(ch)
	if err != nil {
		return types.State{}, err
	}
	return r.state(), nil
}

func (r *regs) state() types.State {
	ctl := r.ctl.Load()
	st := types.State{
		PeriodNs: r.period.Load(),
		DutyNs:   r.duty.Load(),
		Enabled:  ctl&ctlEnable != 0,
	}
	if ctl&ctlInversed != 0 {
		st.Polarity = types.PolarityInversed
	}
	return st
}

// Capture measures the channel's own output. A disabled output never
// produces an edge, so it reports a timeout straight away.
func (b *Bank) Capture(_ *pwm.Chip, ch *pwm.Channel, _ time.Duration) (types.Capture, error) {
	r, err := b.window(ch)
	if err != nil {
		return types.Capture{}, err
	}
	st := r.state()
	if !st.Enabled || st.PeriodNs == 0 {
		return types.Capture{}, errcode.Timeout
	}
	high := st.DutyNs
	if st.Polarity == types.PolarityInversed {
		high = st.PeriodNs - st.DutyNs
	}
	return types.Capture{PeriodNs: st.PeriodNs, DutyNs: high}, nil
}

func (b *Bank) Request(_ *pwm.Chip, ch *pwm.Channel) error {
	r, err := b.window(ch)
	if err != nil {
		return err
	}
	r.users.Add(1)
	return nil
}

func (b *Bank) Free(_ *pwm.Chip, ch *pwm.Channel) {
	r, err := b.window(ch)
	if err != nil {
		return
	}
	r.ctl.Store(r.ctl.Load() &^ ctlEnable)
	r.users.Add(-1)
}

// Users reports the clock users of channel i.
func (b *Bank) Users(i int) int {
	if i < 0 || i >= len(b.ch) {
		return 0
	}
	return int(b.ch[i].users.Load())
}

// Output returns the live register contents of channel i.
func (b *Bank) Output(i int) types.State {
	if i < 0 || i >= len(b.ch) {
		return types.State{}
	}
	return b.ch[i].state()
}
