// Package pca9685 drives the NXP PCA9685 16-channel, 12-bit PWM controller
// over I²C.
//
// All channels share one prescaler, so the period is chip-wide: it can only
// be changed while no other channel is enabled. The controller cannot
// invert a single output, so inversed polarity is refused.
//
// Every register access is a bus transfer that may sleep; chips built from
// a Device are never atomic.
package pca9685

import (
	"time"

	"tinygo.org/x/drivers"

	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
	"pwmcore-go/x/mathx"
)

const (
	// Address is the default address with A0-A5 tied low.
	Address = 0x40
	// DefaultOscHz is the internal oscillator frequency.
	DefaultOscHz = 25_000_000
	// NumChannels is the number of outputs.
	NumChannels = 16
	// DriverName is reported in ChipInfo.
	DriverName = "pca9685"
)

// Config is optional; zero fields take defaults.
type Config struct {
	Address uint16
	OscHz   uint32
}

// Device is one PCA9685. Its cached register state is guarded by the chip
// lock once the device is wrapped in a chip.
type Device struct {
	bus  drivers.I2C
	addr uint16
	osc  uint64

	prescale byte
	enabled  uint16 // channels currently driving a waveform

	w [5]byte
	r [4]byte
}

// New creates a Device. It does not touch the bus.
func New(bus drivers.I2C, cfg Config) *Device {
	d := &Device{bus: bus, addr: cfg.Address, osc: uint64(cfg.OscHz), prescale: prescalePOR}
	if d.addr == 0 {
		d.addr = Address
	}
	if d.osc == 0 {
		d.osc = DefaultOscHz
	}
	return d
}

// Configure resets the outputs to off, enables register auto-increment and
// starts the oscillator. Call it before the device is wrapped in a chip.
func (d *Device) Configure() error {
	if err := d.write(nil, regMode1, mode1Sleep|mode1AI|mode1AllCall); err != nil {
		return err
	}
	if err := d.write(nil, regMode2, mode2OutDrv); err != nil {
		return err
	}
	if err := d.write(nil, regAllLED, 0, 0, 0, ledFull); err != nil {
		return err
	}
	ps, err := d.read(nil, regPrescale, 1)
	if err != nil {
		return err
	}
	d.prescale = ps[0]
	d.enabled = 0
	if err := d.write(nil, regMode1, mode1AI|mode1AllCall); err != nil {
		return err
	}
	time.Sleep(500 * time.Microsecond)
	return nil
}

// NewChip wraps the device in a sleep-capable chip with 16 channels.
func (d *Device) NewChip(label string, owner pwm.Owner) (*pwm.Chip, error) {
	return pwm.NewChip(d, NumChannels, pwm.Options{
		Label:  label,
		Driver: DriverName,
		Owner:  owner,
	})
}

// Period returns the period produced by prescale value ps.
func (d *Device) Period(ps byte) uint64 {
	return mathx.MulDivRound(uint64(ps)+1, counterSteps*1_000_000_000, d.osc)
}

// prescaleFor returns round(osc*period / (4096 * 1e9)) - 1, clamped to
// what the register accepts.
func (d *Device) prescaleFor(periodNs uint64) byte {
	ticks := mathx.MulDivRound(d.osc, periodNs, counterSteps*1_000_000_000)
	if ticks > 0 {
		ticks--
	}
	return byte(mathx.Clamp[uint64](ticks, prescaleMin, prescaleMax))
}

func (d *Device) Apply(c *pwm.Chip, ch *pwm.Channel, st types.State) error {
	i := ch.Index()
	bit := uint16(1) << i
	if !st.Enabled {
		if err := d.setOff(c, i); err != nil {
			return err
		}
		d.enabled &^= bit
		return nil
	}
	if st.Polarity != types.PolarityNormal {
		return errcode.Unsupported
	}
	if st.PeriodNs == 0 || st.DutyNs > st.PeriodNs {
		return errcode.InvalidParams
	}

	ps := d.prescaleFor(st.PeriodNs)
	if ps != d.prescale {
		if d.enabled&^bit != 0 {
			return errcode.Busy
		}
		if err := d.setPrescale(c, ps); err != nil {
			return err
		}
	}

	var onH, offL, offH byte
	switch {
	case st.DutyNs >= st.PeriodNs:
		onH = ledFull
	default:
		n := mathx.MulDivRound(st.DutyNs, counterSteps, st.PeriodNs)
		n = min(n, counterSteps-1)
		offL, offH = byte(n), byte(n>>8)
	}
	if err := d.write(c, ledReg(i), 0, onH, offL, offH); err != nil {
		return err
	}
	d.enabled |= bit
	return nil
}

func (d *Device) GetState(c *pwm.Chip, ch *pwm.Channel) (types.State, error) {
	ps, err := d.read(c, regPrescale, 1)
	if err != nil {
		return types.State{}, err
	}
	period := d.Period(ps[0])
	led, err := d.read(c, ledReg(ch.Index()), 4)
	if err != nil {
		return types.State{}, err
	}

	st := types.State{PeriodNs: period}
	switch {
	case led[3]&ledFull != 0:
	case led[1]&ledFull != 0:
		st.DutyNs, st.Enabled = period, true
	default:
		on := uint64(led[0]) | uint64(led[1]&0x0F)<<8
		off := uint64(led[2]) | uint64(led[3]&0x0F)<<8
		n := (off + counterSteps - on) % counterSteps
		st.DutyNs = mathx.MulDivRound(n, period, counterSteps)
		st.Enabled = true
	}
	return st, nil
}

// Free forces the output off. A failed transfer leaves the output as it
// was; there is nobody to report it to.
func (d *Device) Free(c *pwm.Chip, ch *pwm.Channel) {
	i := ch.Index()
	if err := d.setOff(c, i); err == nil {
		d.enabled &^= uint16(1) << i
	}
}

func (d *Device) setOff(c *pwm.Chip, i int) error {
	return d.write(c, ledReg(i), 0, 0, 0, ledFull)
}

// setPrescale follows the datasheet sequence: the prescaler is only
// writable while the oscillator sleeps, and PWM restarts afterwards.
func (d *Device) setPrescale(c *pwm.Chip, ps byte) error {
	m, err := d.read(c, regMode1, 1)
	if err != nil {
		return err
	}
	mode := m[0] &^ mode1Restart
	if err := d.write(c, regMode1, mode|mode1Sleep); err != nil {
		return err
	}
	if err := d.write(c, regPrescale, ps); err != nil {
		return err
	}
	if err := d.write(c, regMode1, mode&^mode1Sleep); err != nil {
		return err
	}
	time.Sleep(500 * time.Microsecond)
	if err := d.write(c, regMode1, mode&^mode1Sleep|mode1Restart); err != nil {
		return err
	}
	d.prescale = ps
	return nil
}

func (d *Device) write(c *pwm.Chip, reg byte, data ...byte) error {
	pwm.MightSleep(c)
	d.w[0] = reg
	n := copy(d.w[1:], data)
	return d.bus.Tx(d.addr, d.w[:1+n], nil)
}

func (d *Device) read(c *pwm.Chip, reg byte, n int) ([]byte, error) {
	pwm.MightSleep(c)
	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:n]); err != nil {
		return nil, err
	}
	return d.r[:n], nil
}
