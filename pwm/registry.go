package pwm

import (
	"sort"
	"sync"

	"pwmcore-go/errcode"
)

// DefaultIDLimit bounds chip identifiers to [0, DefaultIDLimit).
const DefaultIDLimit = 1 << 16

// registry maps identifiers to live chips. Its mutex is the global lock:
// it also guards channel request/release bookkeeping and the exporter list.
type registry struct {
	mu        sync.Mutex
	chips     map[int]*Chip
	limit     int
	exporters []Exporter
}

var global = newRegistry()

func newRegistry() *registry {
	return &registry{chips: make(map[int]*Chip), limit: DefaultIDLimit}
}

// registerLocked allocates the lowest free identifier.
func (r *registry) registerLocked(c *Chip) (int, error) {
	for id := 0; id < r.limit; id++ {
		if _, used := r.chips[id]; !used {
			r.chips[id] = c
			return id, nil
		}
	}
	return -1, errcode.OutOfIdentifiers
}

func (r *registry) unregisterLocked(id int) {
	delete(r.chips, id)
}

// Lookup returns the live chip registered under id.
func Lookup(id int) (*Chip, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	c, ok := global.chips[id]
	return c, ok
}

// Chips returns a snapshot of all live chips ordered by identifier.
func Chips() []*Chip {
	global.mu.Lock()
	out := make([]*Chip, 0, len(global.chips))
	for _, c := range global.chips {
		out = append(out, c)
	}
	global.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ResetRegistry forgets every chip and exporter and restores the default
// identifier limit. Chips are not removed; it exists for tests.
func ResetRegistry() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.chips = make(map[int]*Chip)
	global.exporters = nil
	global.limit = DefaultIDLimit
}

// SetIDLimit bounds future identifier allocation to [0, n).
func SetIDLimit(n int) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.limit = n
}
