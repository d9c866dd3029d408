package pwmsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pwmcore-go/errcode"
	"pwmcore-go/types"
)

func TestDecode(t *testing.T) {
	want := types.State{PeriodNs: 20_000_000, DutyNs: 1_500_000, Enabled: true}

	got, err := decode[types.State](want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = decode[types.State](&want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = decode[types.State](map[string]any{"period_ns": 20_000_000, "duty_ns": 1_500_000, "enabled": true})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = decode[types.State]([]byte(`{"period_ns":20000000,"duty_ns":1500000,"enabled":true}`))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	zero, err := decode[types.RequestArgs](nil)
	require.NoError(t, err)
	assert.Empty(t, zero.Label)
}

func TestDecodeRejects(t *testing.T) {
	_, err := decode[types.State]("bogus")
	assert.Equal(t, errcode.InvalidPayload, errcode.Of(err))

	_, err = decodeRequired[types.State](nil)
	assert.Equal(t, errcode.InvalidPayload, errcode.Of(err))
}
