package pwmsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pwmcore-go/drivers/pca9685"
	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
	"pwmcore-go/x/i2csim"
)

func boolp(v bool) *bool { return &v }

func TestBuiltinDrivers(t *testing.T) {
	assert.Equal(t, []string{"pca9685", "regbank"}, Drivers())
	assert.Panics(t, func() { RegisterBuilder("regbank", BuilderFunc(buildRegbank)) })
}

func TestBuildRegbank(t *testing.T) {
	c, err := buildRegbank(BuildInput{Chip: types.ChipConfig{Name: "t"}})
	require.NoError(t, err)
	assert.Equal(t, defaultRegbankChannels, c.NPWM())
	assert.True(t, c.Atomic())

	c, err = buildRegbank(BuildInput{Chip: types.ChipConfig{Name: "t", Channels: 3, Atomic: boolp(false)}})
	require.NoError(t, err)
	assert.Equal(t, 3, c.NPWM())
	assert.False(t, c.Atomic())
	assert.Equal(t, "regbank", c.Driver())
}

func TestBuildPCA9685(t *testing.T) {
	i2c := NewSimI2CFactory("i2c0", "i2c1")
	b0, _ := i2c.Bus("i2c0")
	b0.Attach(pca9685.Address, i2csim.NewRegs())
	owner := pwm.NewModule("pca9685")

	good := types.ChipConfig{Name: "servo", Driver: "pca9685", I2C: &types.I2CConfig{Bus: "i2c0"}}
	c, err := buildPCA9685(BuildInput{Chip: good, I2C: i2c, Owner: owner})
	require.NoError(t, err)
	assert.Equal(t, pca9685.NumChannels, c.NPWM())
	assert.False(t, c.Atomic())

	cases := map[string]struct {
		mutate func(*types.ChipConfig)
		code   errcode.Code
	}{
		"no i2c":    {func(c *types.ChipConfig) { c.I2C = nil }, errcode.InvalidParams},
		"channels":  {func(c *types.ChipConfig) { c.Channels = 8 }, errcode.InvalidParams},
		"atomic":    {func(c *types.ChipConfig) { c.Atomic = boolp(true) }, errcode.InvalidParams},
		"bus":       {func(c *types.ChipConfig) { c.I2C = &types.I2CConfig{Bus: "i2c7"} }, errcode.UnknownBus},
		"no device": {func(c *types.ChipConfig) { c.I2C = &types.I2CConfig{Bus: "i2c1"} }, errcode.Error},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			_, err := buildPCA9685(BuildInput{Chip: cfg, I2C: i2c, Owner: owner})
			require.Error(t, err)
			assert.Equal(t, tc.code, errcode.Of(err))
		})
	}
}
