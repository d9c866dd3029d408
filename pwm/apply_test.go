package pwm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"pwmcore-go/errcode"
	"pwmcore-go/types"
)

func TestApplyAndGetState(t *testing.T) {
	_, tr := setup(t)
	ops := newFakeOps()
	c := addedChip(t, ops, 2, true)
	ch := c.Channel(1)

	require.NoError(t, ch.Apply(pwmState(1_000_000, 250_000)))
	st, err := ch.GetState()
	require.NoError(t, err)
	assert.Equal(t, pwmState(1_000_000, 250_000), st)
	assert.Equal(t, st, ch.State())

	assert.Equal(t, 1, tr.count(types.TraceApply, c.ID()))
	assert.Equal(t, 1, tr.count(types.TraceGetState, c.ID()))
}

func TestApplySkipsUnchangedState(t *testing.T) {
	setup(t)
	ops := newFakeOps()
	c := addedChip(t, ops, 1, false)
	ch := c.Channel(0)

	st := pwmState(50_000, 10_000)
	require.NoError(t, ch.Apply(st))
	require.NoError(t, ch.Apply(st))
	assert.Equal(t, 1, ops.count("apply", 0))

	require.NoError(t, ch.Apply(pwmState(50_000, 20_000)))
	assert.Equal(t, 2, ops.count("apply", 0))
}

func TestApplyDriverErrorPassesThrough(t *testing.T) {
	_, tr := setup(t)
	ops := newFakeOps()
	ops.applyErr = errors.New("i2c nack")
	c := addedChip(t, ops, 1, false)
	ch := c.Channel(0)

	err := ch.Apply(pwmState(10, 5))
	require.ErrorIs(t, err, ops.applyErr)
	assert.Equal(t, types.State{}, ch.State(), "failed apply must not update the cache")

	tr.mu.Lock()
	last := tr.recs[len(tr.recs)-1]
	tr.mu.Unlock()
	assert.Equal(t, types.TraceApply, last.Op)
	assert.Equal(t, string(errcode.Error), last.Err)
}

func TestCallsRefusedWhenNotOperational(t *testing.T) {
	setup(t)
	ops := newFakeOps()
	c := newTestChip(t, ops, 2, false)
	ch := c.Channel(0)

	require.ErrorIs(t, ch.Apply(pwmState(10, 5)), errcode.NotOperational)

	require.NoError(t, AddChip(c))
	require.NoError(t, RemoveChip(c))

	require.ErrorIs(t, ch.Apply(pwmState(10, 5)), errcode.NotOperational)
	require.ErrorIs(t, ch.ApplyAtomic(pwmState(10, 5)), errcode.NotOperational)
	_, err := ch.GetState()
	require.ErrorIs(t, err, errcode.NotOperational)
	_, err = ch.Capture(time.Millisecond)
	require.ErrorIs(t, err, errcode.NotOperational)

	assert.Zero(t, ops.total("apply"))
	assert.Zero(t, ops.total("get_state"))
	assert.Zero(t, ops.total("capture"))
}

func TestCapture(t *testing.T) {
	setup(t)
	ops := newFakeOps()
	c := addedChip(t, ops, 1, true)
	ch := c.Channel(0)

	_, err := ch.Capture(time.Millisecond)
	require.ErrorIs(t, err, errcode.Timeout, "driver timeout passes through")

	require.NoError(t, ch.Apply(pwmState(40_000, 10_000)))
	got, err := ch.Capture(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.Capture{PeriodNs: 40_000, DutyNs: 10_000}, got)
}

type applyOnlyOps struct{}

func (applyOnlyOps) Apply(*Chip, *Channel, types.State) error { return nil }
func (applyOnlyOps) GetState(*Chip, *Channel) (types.State, error) {
	return types.State{}, nil
}

func TestCaptureUnsupported(t *testing.T) {
	setup(t)
	c := addedChip(t, applyOnlyOps{}, 1, false)
	_, err := c.Channel(0).Capture(time.Millisecond)
	require.ErrorIs(t, err, errcode.Unsupported)
}

func TestConcurrentApplyIsSerialised(t *testing.T) {
	for _, atomicMode := range []bool{true, false} {
		setup(t)
		ops := newFakeOps()
		c := addedChip(t, ops, 4, atomicMode)

		const workers, rounds = 16, 200
		g, _ := errgroup.WithContext(context.Background())
		for w := 0; w < workers; w++ {
			w := w
			g.Go(func() error {
				ch := c.Channel(w % 4)
				for i := 0; i < rounds; i++ {
					st := pwmState(100_000, uint64(w*rounds+i))
					if err := ch.Apply(st); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		require.Empty(t, ops.Violations(), "atomic=%v", atomicMode)
		require.Equal(t, workers*rounds, ops.total("apply"), "atomic=%v", atomicMode)
	}
}

// Chip A, four channels, blocking lock: removal and apply race on channel 2.
func TestRemovalRacesApply(t *testing.T) {
	for i := 0; i < 50; i++ {
		setup(t)
		ops := newFakeOps()
		ops.applyDelay = 200 * time.Microsecond
		c := addedChip(t, ops, 4, false)
		ch, err := Request(c, 2, "consumer")
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			applyErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			applyErr = ch.Apply(pwmState(1_000, uint64(i+1)))
		}()
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, RemoveChip(c))
		}()
		close(start)
		wg.Wait()

		if applyErr != nil {
			require.ErrorIs(t, applyErr, errcode.NotOperational)
			require.Zero(t, ops.count("apply", 2))
		} else {
			require.Equal(t, 1, ops.count("apply", 2))
		}
		require.Empty(t, ops.Violations())
		require.Equal(t, 1, ops.count("free", 2))
		require.ErrorIs(t, ch.Apply(pwmState(1_000, 999)), errcode.NotOperational)
	}
}

// Hammer every entry point while chips come and go; the instrumented driver
// must never be entered on a non-operational chip or concurrently.
func TestNoDriverCallAfterRemoval(t *testing.T) {
	setup(t)
	for round := 0; round < 20; round++ {
		ops := newFakeOps()
		c := addedChip(t, ops, 8, round%2 == 0)

		ctx, cancel := context.WithCancel(context.Background())
		g, ctx := errgroup.WithContext(ctx)
		for w := 0; w < 8; w++ {
			w := w
			g.Go(func() error {
				for n := 0; ctx.Err() == nil; n++ {
					ch, err := Request(c, w, "worker")
					if err != nil {
						if errcode.Of(err) == errcode.NotOperational {
							return nil
						}
						return err
					}
					_ = ch.Apply(pwmState(10_000, uint64(n%10_000)))
					_, _ = ch.GetState()
					_, _ = ch.Capture(0)
					ch.Release()
				}
				return nil
			})
		}
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, RemoveChip(c))
		cancel()
		require.NoError(t, g.Wait())
		require.Empty(t, ops.Violations(), "round %d", round)

		for i := 0; i < 8; i++ {
			require.Equal(t, ops.count("request", i), ops.count("free", i),
				"round %d ch %d: every request is freed exactly once", round, i)
		}
	}
}

func TestApplyAtomicOnSleepingChipWarnsOnce(t *testing.T) {
	hook, _ := setup(t)
	c := addedChip(t, newFakeOps(), 1, false)
	ch := c.Channel(0)

	require.NoError(t, ch.ApplyAtomic(pwmState(10, 1)))
	require.NoError(t, ch.ApplyAtomic(pwmState(10, 2)))
	assert.Equal(t, []string{"sleeping PWM chip used from atomic path"}, warnings(hook))

	a := addedChip(t, newFakeOps(), 1, true)
	require.NoError(t, a.Channel(0).ApplyAtomic(pwmState(10, 1)))
	assert.Len(t, warnings(hook), 1)
}

func withDebugChecks(t *testing.T) {
	t.Helper()
	old := debugChecks
	debugChecks = true
	t.Cleanup(func() { debugChecks = old })
}

func TestMightSleepOnAtomicChipPanics(t *testing.T) {
	setup(t)
	withDebugChecks(t)

	ops := newFakeOps()
	ops.sleepy = true
	c := addedChip(t, ops, 1, true)
	assert.Panics(t, func() { _ = c.Channel(0).Apply(pwmState(10, 1)) })

	// The chip lock was released on the panic path.
	assert.Equal(t, Operational, c.Lifecycle())

	sleeping := newFakeOps()
	sleeping.sleepy = true
	s := addedChip(t, sleeping, 1, false)
	assert.NotPanics(t, func() { _ = s.Channel(0).Apply(pwmState(10, 1)) })

	// Outside a driver call it is always fine.
	assert.NotPanics(t, func() { MightSleep(c) })
}

func TestDebugReadBackMismatchWarns(t *testing.T) {
	hook, _ := setup(t)
	withDebugChecks(t)

	ops := newFakeOps()
	ops.noReadBack = true
	c := addedChip(t, ops, 1, false)
	require.NoError(t, c.Channel(0).Apply(pwmState(10, 5)))
	assert.Equal(t, []string{"applied state does not read back"}, warnings(hook))
}

// ringTracer stands in for an in-memory sink that never blocks.
type ringTracer struct{ recTracer }

func (*ringTracer) NonBlocking() {}

func TestApplyAtomicTracesOnlyToNonBlockingSinks(t *testing.T) {
	_, tr := setup(t)
	c := addedChip(t, newFakeOps(), 1, true)
	ch := c.Channel(0)

	require.NoError(t, ch.ApplyAtomic(pwmState(10, 1)))
	assert.Zero(t, tr.count(types.TraceApply, c.ID()), "blocking tracer skipped on the atomic path")
	require.NoError(t, ch.Apply(pwmState(10, 2)))
	assert.Equal(t, 1, tr.count(types.TraceApply, c.ID()))

	nb := &ringTracer{}
	SetTracer(nb)
	require.NoError(t, ch.ApplyAtomic(pwmState(10, 3)))
	assert.Equal(t, 1, nb.count(types.TraceApply, c.ID()))
}
