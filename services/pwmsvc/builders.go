package pwmsvc

import (
	"pwmcore-go/drivers/pca9685"
	"pwmcore-go/drivers/regbank"
	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
)

const defaultRegbankChannels = 4

func init() {
	RegisterBuilder(regbank.DriverName, BuilderFunc(buildRegbank))
	RegisterBuilder(pca9685.DriverName, BuilderFunc(buildPCA9685))
}

// buildRegbank makes a register bank chip. It is atomic unless the config
// says otherwise.
func buildRegbank(in BuildInput) (*pwm.Chip, error) {
	n := in.Chip.Channels
	if n == 0 {
		n = defaultRegbankChannels
	}
	b := regbank.New(n)
	if in.Chip.Atomic != nil && !*in.Chip.Atomic {
		return pwm.NewChip(b, n, pwm.Options{
			Label:  in.Chip.Name,
			Driver: regbank.DriverName,
			Owner:  in.Owner,
		})
	}
	return b.NewChip(in.Chip.Name, in.Owner)
}

func buildPCA9685(in BuildInput) (*pwm.Chip, error) {
	const op = "pwmsvc.build_pca9685"
	c := in.Chip
	if c.I2C == nil {
		return nil, errcode.New(errcode.InvalidParams, op, c.Name+": i2c section required")
	}
	if c.Channels != 0 && c.Channels != pca9685.NumChannels {
		return nil, errcode.New(errcode.InvalidParams, op, c.Name+": pca9685 has 16 channels")
	}
	if c.Atomic != nil && *c.Atomic {
		return nil, errcode.New(errcode.InvalidParams, op, c.Name+": pca9685 cannot be atomic")
	}
	if in.I2C == nil {
		return nil, errcode.New(errcode.UnknownBus, op, c.I2C.Bus)
	}
	bus, ok := in.I2C.ByID(c.I2C.Bus)
	if !ok {
		return nil, errcode.New(errcode.UnknownBus, op, c.I2C.Bus)
	}
	d := pca9685.New(bus, pca9685.Config{Address: c.I2C.Address, OscHz: c.I2C.OscHz})
	if err := d.Configure(); err != nil {
		return nil, errcode.Wrap(errcode.Error, op, err)
	}
	return d.NewChip(c.Name, in.Owner)
}
