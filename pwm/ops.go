package pwm

import (
	"sync"
	"time"

	"pwmcore-go/types"
)

// Ops is the low-level driver table. Every method is called with the chip
// lock held and only while the chip is operational.
type Ops interface {
	Apply(c *Chip, ch *Channel, st types.State) error
	GetState(c *Chip, ch *Channel) (types.State, error)
}

// Capturer is implemented by drivers that can measure an input waveform.
type Capturer interface {
	Capture(c *Chip, ch *Channel, timeout time.Duration) (types.Capture, error)
}

// Requester is implemented by drivers that need to prepare a channel
// before its first use.
type Requester interface {
	Request(c *Chip, ch *Channel) error
}

// Freer is implemented by drivers that clean up a channel on release.
// It is also called by RemoveChip for channels still requested, which is
// the only driver call made after the chip stopped being operational.
type Freer interface {
	Free(c *Chip, ch *Channel)
}

// Owner is a reference on the code that provides a chip's driver.
// Request takes one reference per channel and Release drops it.
type Owner interface {
	Get() bool
	Put()
}

// Module is a reference-counted Owner. After Unload, Get fails and
// requests report errcode.DriverUnavailable.
type Module struct {
	mu      sync.Mutex
	name    string
	refs    int
	leaving bool
}

func NewModule(name string) *Module { return &Module{name: name} }

func (m *Module) Name() string { return m.name }

func (m *Module) Get() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaving {
		return false
	}
	m.refs++
	return true
}

func (m *Module) Put() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == 0 {
		panic("pwm: module " + m.name + " reference underflow")
	}
	m.refs--
}

// Unload stops handing out references. References already held stay valid
// until they are put.
func (m *Module) Unload() {
	m.mu.Lock()
	m.leaving = true
	m.mu.Unlock()
}

// Refs reports the number of outstanding references.
func (m *Module) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
