// Package chiplock provides the per-chip lock whose backing primitive is
// fixed when the chip is created: a spin lock for chips whose driver may be
// called from contexts that must not block, a blocking mutex otherwise.
//
// Neither variant is recursive. Acquiring a lock already held by the
// current goroutine deadlocks.
package chiplock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Locker is the acquire/release contract shared by both variants.
type Locker interface {
	Lock()
	Unlock()
}

// New returns the variant selected by atomic. It is the only place where
// the choice is made.
func New(atomic bool) Locker {
	if atomic {
		return &Spin{}
	}
	return &Sleep{}
}

// Atomic reports whether l is backed by a spin lock.
func Atomic(l Locker) bool {
	_, ok := l.(*Spin)
	return ok
}

// With runs fn with l held and releases it on every exit path.
func With(l Locker, fn func() error) error {
	l.Lock()
	defer l.Unlock()
	return fn()
}

// -----------------------------------------------------------------------------
// Spin
// -----------------------------------------------------------------------------

// spinsBeforeYield bounds the tight loop before handing the P back to the
// scheduler. The holder may be descheduled, so spinning forever is not an
// option on a preemptive runtime.
const spinsBeforeYield = 64

// Spin busy-waits until the lock becomes available. It never parks the
// goroutine, so holders must not block while holding it.
type Spin struct {
	state uint32
}

func (l *Spin) Lock() {
	for {
		for i := 0; i < spinsBeforeYield; i++ {
			if atomic.CompareAndSwapUint32(&l.state, 0, 1) {
				return
			}
		}
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without waiting.
func (l *Spin) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Unlock releases the lock. Unlocking a free lock panics.
func (l *Spin) Unlock() {
	if atomic.SwapUint32(&l.state, 0) == 0 {
		panic("chiplock: unlock of unlocked spin lock")
	}
}

// -----------------------------------------------------------------------------
// Sleep
// -----------------------------------------------------------------------------

// Sleep is the blocking variant. Waiters are parked by the runtime.
type Sleep struct {
	mu sync.Mutex
}

func (l *Sleep) Lock()         { l.mu.Lock() }
func (l *Sleep) Unlock()       { l.mu.Unlock() }
func (l *Sleep) TryLock() bool { return l.mu.TryLock() }
