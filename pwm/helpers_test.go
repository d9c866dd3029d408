package pwm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"pwmcore-go/errcode"
	"pwmcore-go/types"
)

// fakeOps is an instrumented driver. It records every hook call, flags any
// call made while the chip is not operational (Free excepted) and any two
// calls that overlap on the same chip.
type fakeOps struct {
	mu         sync.Mutex
	calls      map[string]map[int]int // hook -> channel -> count
	violations []string
	hw         map[int]types.State

	inFlight atomic.Int32

	applyDelay time.Duration
	sleepy     bool   // calls MightSleep like a bus-backed driver
	applyErr   error  // returned by every Apply when set
	noReadBack bool   // GetState reports a disabled channel
	panicOn    string // hook name that panics once entered
}

func newFakeOps() *fakeOps {
	return &fakeOps{calls: map[string]map[int]int{}, hw: map[int]types.State{}}
}

func (f *fakeOps) enter(c *Chip, ch *Channel, hook string) {
	if !f.inFlight.CompareAndSwap(0, 1) {
		f.violate("%s on chip %d ch %d overlapped another driver call", hook, c.ID(), ch.Index())
	}
	if hook != "free" && !c.OperationalLocked() {
		f.violate("%s on chip %d ch %d while not operational", hook, c.ID(), ch.Index())
	}
	f.mu.Lock()
	m := f.calls[hook]
	if m == nil {
		m = map[int]int{}
		f.calls[hook] = m
	}
	m[ch.Index()]++
	f.mu.Unlock()
}

func (f *fakeOps) leave() { f.inFlight.Store(0) }

func (f *fakeOps) maybePanic(hook string) {
	if f.panicOn == hook {
		panic("fake driver: " + hook)
	}
}

func (f *fakeOps) violate(format string, args ...any) {
	f.mu.Lock()
	f.violations = append(f.violations, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeOps) count(hook string, ch int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[hook][ch]
}

func (f *fakeOps) total(hook string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls[hook] {
		n += v
	}
	return n
}

func (f *fakeOps) Violations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.violations...)
}

func (f *fakeOps) Apply(c *Chip, ch *Channel, st types.State) error {
	f.enter(c, ch, "apply")
	defer f.leave()
	if f.sleepy {
		MightSleep(c)
	}
	if f.applyDelay > 0 {
		time.Sleep(f.applyDelay)
	}
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	f.hw[ch.Index()] = st
	f.mu.Unlock()
	return nil
}

func (f *fakeOps) GetState(c *Chip, ch *Channel) (types.State, error) {
	f.enter(c, ch, "get_state")
	defer f.leave()
	f.maybePanic("get_state")
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.hw[ch.Index()]
	if f.noReadBack {
		st = types.State{PeriodNs: st.PeriodNs}
	}
	return st, nil
}

func (f *fakeOps) Capture(c *Chip, ch *Channel, timeout time.Duration) (types.Capture, error) {
	f.enter(c, ch, "capture")
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.hw[ch.Index()]
	if !st.Enabled {
		return types.Capture{}, errcode.Timeout
	}
	return types.Capture{PeriodNs: st.PeriodNs, DutyNs: st.DutyNs}, nil
}

func (f *fakeOps) Request(c *Chip, ch *Channel) error {
	f.enter(c, ch, "request")
	defer f.leave()
	f.maybePanic("request")
	return nil
}

func (f *fakeOps) Free(c *Chip, ch *Channel) {
	f.enter(c, ch, "free")
	defer f.leave()
	f.maybePanic("free")
}

// recTracer keeps every trace record.
type recTracer struct {
	mu   sync.Mutex
	recs []types.TraceRecord
}

func (r *recTracer) Trace(rec types.TraceRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func (r *recTracer) count(op types.TraceOp, chip int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recs {
		if rec.Op == op && rec.Chip == chip {
			n++
		}
	}
	return n
}

// setup isolates the global registry, logger and tracer for one test.
func setup(t *testing.T) (*logtest.Hook, *recTracer) {
	t.Helper()
	ResetRegistry()
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	SetLogger(logrus.NewEntry(l))
	tr := &recTracer{}
	SetTracer(tr)
	t.Cleanup(func() {
		ResetRegistry()
		SetTracer(nil)
		SetLogger(nil)
	})
	return hook, tr
}

func warnings(hook *logtest.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func newTestChip(t *testing.T, ops Ops, npwm int, atomic bool) *Chip {
	t.Helper()
	c, err := NewChip(ops, npwm, Options{Label: "test", Driver: "fake", Atomic: atomic})
	if err != nil {
		t.Fatalf("NewChip: %v", err)
	}
	return c
}

func addedChip(t *testing.T, ops Ops, npwm int, atomic bool) *Chip {
	t.Helper()
	c := newTestChip(t, ops, npwm, atomic)
	if err := AddChip(c); err != nil {
		t.Fatalf("AddChip: %v", err)
	}
	return c
}

func pwmState(period, duty uint64) types.State {
	return types.State{PeriodNs: period, DutyNs: duty, Enabled: true}
}
