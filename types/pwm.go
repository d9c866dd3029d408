package types

import "strconv"

// ------------------------
// PWM waveform
// ------------------------

// Polarity selects which part of the period is the active (duty) phase.
type Polarity uint8

const (
	PolarityNormal   Polarity = iota // high for DutyNs, then low
	PolarityInversed                 // low for DutyNs, then high
)

func (p Polarity) String() string {
	switch p {
	case PolarityNormal:
		return "normal"
	case PolarityInversed:
		return "inversed"
	default:
		return "polarity(" + strconv.Itoa(int(p)) + ")"
	}
}

// State is the complete configuration of one channel.
// The core does not validate it; drivers reject what they cannot produce.
type State struct {
	PeriodNs uint64   `json:"period_ns" yaml:"period_ns" cbor:"1,keyasint"`
	DutyNs   uint64   `json:"duty_ns" yaml:"duty_ns" cbor:"2,keyasint"`
	Polarity Polarity `json:"polarity" yaml:"polarity" cbor:"3,keyasint"`
	Enabled  bool     `json:"enabled" yaml:"enabled" cbor:"4,keyasint"`
}

// Capture is the result of measuring an input waveform.
type Capture struct {
	PeriodNs uint64 `json:"period_ns" cbor:"1,keyasint"`
	DutyNs   uint64 `json:"duty_ns" cbor:"2,keyasint"`
}

// ------------------------
// Introspection
// ------------------------

type ChipInfo struct {
	ID     int    `json:"id"`
	Label  string `json:"label"`
	Driver string `json:"driver,omitempty"`
	NPWM   int    `json:"npwm"`
	Atomic bool   `json:"atomic"`
}

type ChannelInfo struct {
	Chip      int    `json:"chip"`
	Index     int    `json:"index"`
	Label     string `json:"label,omitempty"`
	Requested bool   `json:"requested"`
	State     State  `json:"state"`
}

// ChipStatus is the retained lifecycle status published per chip.
type ChipStatus string

const (
	ChipOperational ChipStatus = "operational"
	ChipRemoved     ChipStatus = "removed"
)
