package logx

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	e, err := New("debug", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, e.Logger.GetLevel())

	e, err = New("", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, e.Logger.GetLevel())

	_, err = New("chatty", nil)
	require.Error(t, err)
}

func TestPrefixedOutput(t *testing.T) {
	var buf bytes.Buffer
	e, err := New("info", &buf)
	require.NoError(t, err)

	Prefix(e, "pwmsvc").WithField("chip", 3).Warn("chip removed")
	out := buf.String()
	assert.Contains(t, out, "pwmsvc")
	assert.Contains(t, out, "chip removed")
	assert.Contains(t, out, "chip=3")
}

func TestDiscard(t *testing.T) {
	e := Discard()
	assert.NotPanics(t, func() { e.Error("dropped") })
}
