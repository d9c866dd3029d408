package i2csim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegsAutoIncrement(t *testing.T) {
	bus := New()
	dev := NewRegs()
	bus.Attach(0x40, dev)

	require.NoError(t, bus.Tx(0x40, []byte{0x06, 0x01, 0x02, 0x03, 0x04}, nil))
	assert.Equal(t, byte(0x03), dev.Reg(0x08))

	r := make([]byte, 4)
	require.NoError(t, bus.Tx(0x40, []byte{0x06}, r))
	assert.Equal(t, []byte{1, 2, 3, 4}, r)

	w := dev.Writes()
	require.Len(t, w, 1)
	assert.Equal(t, byte(0x06), w[0].Reg)
	assert.Equal(t, 2, bus.Count())
}

func TestPointerWraps(t *testing.T) {
	dev := NewRegs()
	require.NoError(t, dev.Tx([]byte{0xFF, 0xAA, 0xBB}, nil))
	assert.Equal(t, byte(0xAA), dev.Reg(0xFF))
	assert.Equal(t, byte(0xBB), dev.Reg(0x00))
}

func TestMissingDevice(t *testing.T) {
	bus := New()
	err := bus.Tx(0x41, []byte{0}, nil)
	require.ErrorIs(t, err, ErrNoDevice)

	dev := NewRegs()
	bus.Attach(0x41, dev)
	require.NoError(t, bus.Tx(0x41, []byte{0}, nil))
	bus.Detach(0x41)
	require.ErrorIs(t, bus.Tx(0x41, []byte{0}, nil), ErrNoDevice)
}

func TestFailNextIsOneShot(t *testing.T) {
	dev := NewRegs()
	boom := errors.New("nack")
	dev.FailNext(boom)

	require.ErrorIs(t, dev.Tx([]byte{0x00, 0x11}, nil), boom)
	assert.Equal(t, byte(0), dev.Reg(0x00))
	require.NoError(t, dev.Tx([]byte{0x00, 0x11}, nil))
	assert.Equal(t, byte(0x11), dev.Reg(0x00))
}
