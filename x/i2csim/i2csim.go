// Package i2csim emulates an I²C bus with register-file targets so drivers
// written against tinygo's drivers.I2C can run on a host.
package i2csim

import (
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// ErrNoDevice is returned for transfers to an address nothing answers on.
var ErrNoDevice = errors.New("i2csim: no device at address")

// Target is one device on the bus. w carries the bytes written by the host;
// r is filled by the device after a repeated start.
type Target interface {
	Tx(w, r []byte) error
}

// Bus implements drivers.I2C. Transfers are serialised like on a real bus.
type Bus struct {
	mu      sync.Mutex
	targets map[uint16]Target
	delay   time.Duration
	txs     int
}

var _ drivers.I2C = (*Bus)(nil)

func New() *Bus {
	return &Bus{targets: make(map[uint16]Target)}
}

// Attach puts t at addr, replacing whatever was there.
func (b *Bus) Attach(addr uint16, t Target) {
	b.mu.Lock()
	b.targets[addr] = t
	b.mu.Unlock()
}

// Detach removes the device at addr.
func (b *Bus) Detach(addr uint16) {
	b.mu.Lock()
	delete(b.targets, addr)
	b.mu.Unlock()
}

// SetDelay makes every transfer take at least d.
func (b *Bus) SetDelay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs++
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	t, ok := b.targets[addr]
	if !ok {
		return ErrNoDevice
	}
	return t.Tx(w, r)
}

// Count reports the number of transfers attempted so far.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}

// Regs is a 256-byte register file with an auto-incrementing pointer, the
// layout most small I²C peripherals use. The first written byte selects the
// register; further bytes are stored from there on.
type Regs struct {
	mu   sync.Mutex
	regs [256]byte
	ptr  byte
	fail error
	log  []Write
}

// Write records one register write seen by a Regs target.
type Write struct {
	Reg  byte
	Data []byte
}

func NewRegs() *Regs { return &Regs{} }

func (d *Regs) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail; err != nil {
		d.fail = nil
		return err
	}
	if len(w) > 0 {
		d.ptr = w[0]
		if len(w) > 1 {
			d.log = append(d.log, Write{Reg: w[0], Data: append([]byte(nil), w[1:]...)})
		}
		for _, v := range w[1:] {
			d.regs[d.ptr] = v
			d.ptr++
		}
	}
	for i := range r {
		r[i] = d.regs[d.ptr]
		d.ptr++
	}
	return nil
}

// FailNext makes the next transfer return err without touching registers.
func (d *Regs) FailNext(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// Reg returns the current value of register a.
func (d *Regs) Reg(a byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[a]
}

// Set stores v in register a without logging a write.
func (d *Regs) Set(a, v byte) {
	d.mu.Lock()
	d.regs[a] = v
	d.mu.Unlock()
}

// Writes returns a copy of the register writes seen so far.
func (d *Regs) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.log...)
}
