// Package timex converts between frequencies and PWM periods.
package timex

import (
	"time"

	"pwmcore-go/x/mathx"
)

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return mathx.RoundDiv(uint64(time.Second), uint64(freqHz))
}

// HzFromPeriod is the inverse of PeriodFromHz, rounded to nearest. A zero
// period yields 0.
func HzFromPeriod(periodNs uint64) uint32 {
	if periodNs == 0 {
		return 0
	}
	return uint32(mathx.Clamp(mathx.RoundDiv(uint64(time.Second), periodNs), 0, uint64(^uint32(0))))
}

// DutyFromPermille returns the duty time for a 0..1000 fraction of period.
// Values above 1000 are clamped.
func DutyFromPermille(periodNs uint64, permille uint32) uint64 {
	return mathx.MulDivRound(periodNs, uint64(min(permille, 1000)), 1000)
}
