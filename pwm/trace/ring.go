package trace

import (
	"sync"

	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

// Ring keeps the most recent records in memory, overwriting the oldest.
type Ring struct {
	mu      sync.Mutex
	buf     []types.TraceRecord
	next    int
	full    bool
	dropped uint64
}

var _ pwm.NonBlocking = (*Ring)(nil)

// NewRing keeps up to size records (minimum 1).
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]types.TraceRecord, size)}
}

// NonBlocking marks Ring as safe for the atomic apply path.
func (r *Ring) NonBlocking() {}

func (r *Ring) Trace(rec types.TraceRecord) {
	r.mu.Lock()
	if r.full {
		r.dropped++
	}
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns the retained records, oldest first.
func (r *Ring) Snapshot() []types.TraceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]types.TraceRecord(nil), r.buf[:r.next]...)
	}
	out := make([]types.TraceRecord, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Dropped counts records overwritten before being read.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
