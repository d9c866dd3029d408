package types

import "time"

// TraceOp classifies a trace record.
type TraceOp uint8

const (
	TraceApply TraceOp = iota
	TraceGetState
	TraceCapture
	TraceRequest
	TraceFree
	TraceForcedFree
	TraceChipAdd
	TraceChipRemove
)

var traceOpNames = [...]string{
	TraceApply:      "apply",
	TraceGetState:   "get_state",
	TraceCapture:    "capture",
	TraceRequest:    "request",
	TraceFree:       "free",
	TraceForcedFree: "forced_free",
	TraceChipAdd:    "chip_add",
	TraceChipRemove: "chip_remove",
}

func (o TraceOp) String() string {
	if int(o) < len(traceOpNames) {
		return traceOpNames[o]
	}
	return "unknown"
}

// ParseTraceOp is the inverse of TraceOp.String.
func ParseTraceOp(s string) (TraceOp, bool) {
	for i, n := range traceOpNames {
		if n == s {
			return TraceOp(i), true
		}
	}
	return 0, false
}

// TraceRecord is emitted for every driver-facing call and lifecycle step.
// CBOR encoding uses integer keys for compactness.
type TraceRecord struct {
	Time     time.Time     `cbor:"1,keyasint"`
	Session  string        `cbor:"2,keyasint,omitempty"`
	Op       TraceOp       `cbor:"3,keyasint"`
	Chip     int           `cbor:"4,keyasint"`
	Channel  int           `cbor:"5,keyasint"` // -1 for chip-level records
	Label    string        `cbor:"6,keyasint,omitempty"`
	State    *State        `cbor:"7,keyasint,omitempty"`
	Capture  *Capture      `cbor:"8,keyasint,omitempty"`
	Err      string        `cbor:"9,keyasint,omitempty"` // errcode string; "" on success
	Duration time.Duration `cbor:"10,keyasint,omitempty"`
}
