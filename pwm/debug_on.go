//go:build pwmdebug

package pwm

func init() { debugChecks = true }
