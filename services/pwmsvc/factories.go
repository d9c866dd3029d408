package pwmsvc

import (
	"sync"

	"tinygo.org/x/drivers"

	"pwmcore-go/x/i2csim"
)

// SimI2CFactory hands out emulated buses, created on first use.
type SimI2CFactory struct {
	mu    sync.Mutex
	buses map[string]*i2csim.Bus
}

var _ I2CFactory = (*SimI2CFactory)(nil)

// NewSimI2CFactory creates buses ids up front; other names resolve to
// nothing.
func NewSimI2CFactory(ids ...string) *SimI2CFactory {
	f := &SimI2CFactory{buses: make(map[string]*i2csim.Bus, len(ids))}
	for _, id := range ids {
		f.buses[id] = i2csim.New()
	}
	return f
}

func (f *SimI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.Bus(id)
	if !ok {
		return nil, false
	}
	return b, true
}

// Bus exposes the emulated bus so tests and demos can attach devices.
func (f *SimI2CFactory) Bus(id string) (*i2csim.Bus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buses[id]
	return b, ok
}
