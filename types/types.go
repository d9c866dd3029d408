package types

// ------------------------
// Service state (retained)
// ------------------------

// ServiceState is retained on "pwm/state".
type ServiceState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ns"`  // publish Unix ns
}

// ------------------------
// Control payloads
// ------------------------

type RequestArgs struct {
	Label string `json:"label,omitempty"`
}

type CaptureArgs struct {
	TimeoutMs uint32 `json:"timeout_ms"`
}

// RampArgs moves the duty cycle of an enabled channel to ToDutyNs over
// DurationMs, in Steps evenly spaced applies. The period is kept.
type RampArgs struct {
	ToDutyNs   uint64 `json:"to_duty_ns"`
	DurationMs uint32 `json:"duration_ms"`
	Steps      uint16 `json:"steps"`
}

// ------------------------
// Replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type StateReply struct {
	OK    bool  `json:"ok"`
	State State `json:"state"`
}

type CaptureReply struct {
	OK      bool    `json:"ok"`
	Capture Capture `json:"capture"`
}

type RequestReply struct {
	OK    bool   `json:"ok"`
	Label string `json:"label"`
}

type ChannelReply struct {
	OK      bool        `json:"ok"`
	Channel ChannelInfo `json:"channel"`
}

type ListReply struct {
	OK    bool       `json:"ok"`
	Chips []ChipInfo `json:"chips"`
}

// Heartbeat is published on "pwm/heartbeat" at the configured interval.
type Heartbeat struct {
	TS        int64 `json:"ts_ns"`
	Chips     int   `json:"chips"`
	Requested int   `json:"requested"`
}
