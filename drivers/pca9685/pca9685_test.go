package pca9685

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
	"pwmcore-go/x/i2csim"
)

const (
	period20ms = 20_000_000
	// 20 ms quantised to prescale 121 at 25 MHz.
	period121 = 19_988_480
)

func newDevice(t *testing.T) (*Device, *i2csim.Regs, *pwm.Chip) {
	t.Helper()
	pwm.ResetRegistry()
	pwm.SetLogger(nil)
	t.Cleanup(pwm.ResetRegistry)

	bus := i2csim.New()
	regs := i2csim.NewRegs()
	regs.Set(regPrescale, prescalePOR)
	bus.Attach(Address, regs)

	d := New(bus, Config{})
	require.NoError(t, d.Configure())
	c, err := d.NewChip("servo", nil)
	require.NoError(t, err)
	require.False(t, c.Atomic())
	require.NoError(t, pwm.AddChip(c))
	return d, regs, c
}

func TestConfigure(t *testing.T) {
	_, regs, _ := newDevice(t)
	assert.Equal(t, byte(mode1AI|mode1AllCall), regs.Reg(regMode1))
	assert.Equal(t, byte(mode2OutDrv), regs.Reg(regMode2))
	assert.Equal(t, byte(ledFull), regs.Reg(regAllLED+3))
}

func TestPrescaleMaths(t *testing.T) {
	d := New(nil, Config{})
	assert.Equal(t, byte(121), d.prescaleFor(period20ms))
	assert.Equal(t, byte(5), d.prescaleFor(1_000_000))
	assert.Equal(t, byte(prescaleMin), d.prescaleFor(1))
	assert.Equal(t, byte(prescaleMax), d.prescaleFor(1_000_000_000))
	assert.Equal(t, uint64(period121), d.Period(121))
}

func TestApplyWritesCounters(t *testing.T) {
	_, regs, c := newDevice(t)
	ch, err := pwm.Request(c, 3, "servo3")
	require.NoError(t, err)

	require.NoError(t, ch.Apply(types.State{PeriodNs: period20ms, DutyNs: 5_000_000, Enabled: true}))
	assert.Equal(t, byte(121), regs.Reg(regPrescale))
	base := ledReg(3)
	assert.Equal(t, []byte{0, 0, 0x00, 0x04},
		[]byte{regs.Reg(base), regs.Reg(base + 1), regs.Reg(base + 2), regs.Reg(base + 3)})

	got, err := ch.GetState()
	require.NoError(t, err)
	assert.Equal(t, types.State{PeriodNs: period121, DutyNs: 4_997_120, Enabled: true}, got)
}

func TestFullOnAndOff(t *testing.T) {
	_, regs, c := newDevice(t)
	ch, err := pwm.Request(c, 0, "led")
	require.NoError(t, err)

	require.NoError(t, ch.Apply(types.State{PeriodNs: period20ms, DutyNs: period20ms, Enabled: true}))
	assert.Equal(t, byte(ledFull), regs.Reg(ledReg(0)+1))
	got, err := ch.GetState()
	require.NoError(t, err)
	assert.Equal(t, got.PeriodNs, got.DutyNs)

	require.NoError(t, ch.Apply(types.State{PeriodNs: period20ms}))
	assert.Equal(t, byte(ledFull), regs.Reg(ledReg(0)+3))
	got, err = ch.GetState()
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestPeriodIsChipWide(t *testing.T) {
	_, _, c := newDevice(t)
	a, err := pwm.Request(c, 0, "a")
	require.NoError(t, err)
	b, err := pwm.Request(c, 1, "b")
	require.NoError(t, err)

	require.NoError(t, a.Apply(types.State{PeriodNs: period20ms, DutyNs: 1_000_000, Enabled: true}))
	err = b.Apply(types.State{PeriodNs: 1_000_000, DutyNs: 500_000, Enabled: true})
	assert.Equal(t, errcode.Busy, errcode.Of(err))

	// Same period is fine, and the owner of the only enabled channel may
	// change it.
	require.NoError(t, b.Apply(types.State{PeriodNs: period20ms, DutyNs: 2_000_000, Enabled: true}))
	require.NoError(t, b.Apply(types.State{PeriodNs: period20ms}))
	require.NoError(t, a.Apply(types.State{PeriodNs: 1_000_000, DutyNs: 500_000, Enabled: true}))
}

func TestUnsupportedAndInvalid(t *testing.T) {
	_, _, c := newDevice(t)
	ch, err := pwm.Request(c, 7, "x")
	require.NoError(t, err)

	err = ch.Apply(types.State{PeriodNs: period20ms, DutyNs: 1, Polarity: types.PolarityInversed, Enabled: true})
	assert.Equal(t, errcode.Unsupported, errcode.Of(err))
	err = ch.Apply(types.State{PeriodNs: 10, DutyNs: 20, Enabled: true})
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	_, err = ch.Capture(0)
	assert.Equal(t, errcode.Unsupported, errcode.Of(err))
}

func TestBusErrorPassesThrough(t *testing.T) {
	_, regs, c := newDevice(t)
	ch, err := pwm.Request(c, 2, "x")
	require.NoError(t, err)

	nack := errors.New("nack")
	regs.FailNext(nack)
	err = ch.Apply(types.State{PeriodNs: period20ms, DutyNs: 1_000_000, Enabled: true})
	require.ErrorIs(t, err, nack)
	assert.Equal(t, errcode.Error, errcode.Of(err))
}

func TestReleaseAndRemovalTurnOutputsOff(t *testing.T) {
	_, regs, c := newDevice(t)
	a, err := pwm.Request(c, 0, "a")
	require.NoError(t, err)
	b, err := pwm.Request(c, 5, "b")
	require.NoError(t, err)
	on := types.State{PeriodNs: period20ms, DutyNs: period20ms, Enabled: true}
	require.NoError(t, a.Apply(on))
	require.NoError(t, b.Apply(on))

	a.Release()
	assert.Equal(t, byte(ledFull), regs.Reg(ledReg(0)+3))

	require.NoError(t, pwm.RemoveChip(c))
	assert.Equal(t, byte(ledFull), regs.Reg(ledReg(5)+3))
	b.Release()
}
