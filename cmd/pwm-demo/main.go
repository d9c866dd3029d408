// Command pwm-demo exercises the PWM core under load.
//
// It builds chips from configuration (the embedded config for -device
// unless -config is given), starts the PWM service on an in-process bus and runs
// consumers that request, apply, read back and release channels while a
// chip is removed halfway through. Outcome counts are logged at the end and
// every core call can be written to a CBOR trace for pwm-trace.
//
// Usage:
//
//	pwm-demo [-config demo.yaml] [-workers 8] [-duration 2s] [-freq 50] [-trace trace.cbor]
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pwmcore-go/bus"
	"pwmcore-go/drivers/pca9685"
	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/pwm/trace"
	"pwmcore-go/services/config"
	"pwmcore-go/services/heartbeat"
	"pwmcore-go/services/pwmsvc"
	"pwmcore-go/types"
	"pwmcore-go/x/i2csim"
	"pwmcore-go/x/logx"
	"pwmcore-go/x/timex"
)

var (
	configPath = flag.String("config", "", "YAML configuration file (default: embedded config for -device)")
	device     = flag.String("device", "host", "Embedded configuration to use when -config is not given")
	workers    = flag.Int("workers", 8, "Number of concurrent consumers")
	duration   = flag.Duration("duration", 2*time.Second, "How long consumers run")
	tracePath  = flag.String("trace", "", "Write a CBOR trace to this file (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level (overrides config)")
	freqHz     = flag.Uint("freq", 50, "Output frequency consumers apply, in Hz")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pwm-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *tracePath != "" {
		cfg.Trace.Path = *tracePath
	}
	log, err := logx.New(cfg.Log.Level, nil)
	if err != nil {
		return err
	}
	pwm.SetLogger(logx.Prefix(log, "pwm"))

	ring := trace.NewRing(cfg.Trace.Ring)
	tracers := trace.Multi{ring, trace.NewLog(logx.Prefix(log, "trace"))}
	var rec *trace.Recorder
	if cfg.Trace.Path != "" {
		if rec, err = trace.Create(cfg.Trace.Path); err != nil {
			return err
		}
		tracers = append(tracers, rec)
	}
	pwm.SetTracer(tracers)
	defer pwm.SetTracer(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(cfg.Bus.QueueLen)
	svc := pwmsvc.New(b.NewConnection("pwmsvc"), simBuses(cfg), log)
	conn := b.NewConnection("demo")

	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(svcCtx)
	}()

	heartbeat.New(log).Start(svcCtx, b.NewConnection("heartbeat"))

	stateSub := conn.Subscribe(bus.T(pwmsvc.TokPWM, pwmsvc.TokState))
	if *configPath != "" {
		config.Publish(conn, cfg)
	} else {
		dctx := context.WithValue(svcCtx, config.CtxDeviceKey, *device)
		config.NewConfigService(log).Start(dctx, b.NewConnection("config"))
	}
	if err := waitReady(ctx, stateSub); err != nil {
		return err
	}
	conn.Unsubscribe(stateSub)

	chips := pwm.Chips()
	if len(chips) == 0 {
		return fmt.Errorf("no chips configured")
	}
	log.WithField("chips", len(chips)).WithField("workers", *workers).Info("running consumers")

	st := newStats()
	runCtx, cancelRun := context.WithTimeout(ctx, *duration)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			consume(gctx, i, chips, st)
			return nil
		})
	}
	g.Go(func() error {
		return removeHalfway(gctx, conn, chips[0], *duration/2, log)
	})
	werr := g.Wait()

	cancelSvc()
	<-done

	st.log(log)
	log.WithField("kept", len(ring.Snapshot())).WithField("dropped", ring.Dropped()).Info("trace ring")
	if rec != nil {
		if err := rec.Close(); err != nil {
			return err
		}
		log.WithField("path", cfg.Trace.Path).WithField("records", rec.Count()).
			WithField("session", rec.Session()).Info("trace written")
	}
	return werr
}

func loadConfig() (types.Config, error) {
	if *configPath != "" {
		return config.Load(*configPath)
	}
	return config.Embedded(*device)
}

// simBuses creates an emulated bus for every configured I²C chip with a
// register file at its address.
func simBuses(cfg types.Config) *pwmsvc.SimI2CFactory {
	var ids []string
	for _, c := range cfg.Chips {
		if c.I2C != nil {
			ids = append(ids, c.I2C.Bus)
		}
	}
	f := pwmsvc.NewSimI2CFactory(ids...)
	for _, c := range cfg.Chips {
		if c.I2C == nil {
			continue
		}
		addr := c.I2C.Address
		if addr == 0 {
			addr = pca9685.Address
		}
		b, _ := f.Bus(c.I2C.Bus)
		b.Attach(addr, i2csim.NewRegs())
	}
	return f
}

func waitReady(ctx context.Context, sub *bus.Subscription) error {
	for {
		select {
		case m := <-sub.Channel():
			st, _ := m.Payload.(types.ServiceState)
			switch st.Level {
			case pwmsvc.LevelReady:
				return nil
			case pwmsvc.LevelError:
				return fmt.Errorf("pwm service: %s", st.Status)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// removeHalfway removes c over the bus after d.
func removeHalfway(ctx context.Context, conn *bus.Connection, c *pwm.Chip, d time.Duration, log *logrus.Entry) error {
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req := conn.NewMessage(bus.T(pwmsvc.TokPWM, pwmsvc.TokChip, c.ID(), pwmsvc.TokControl, pwmsvc.CtrlRemove), nil, false)
	reply, err := conn.RequestWait(rctx, req)
	if err != nil {
		return fmt.Errorf("remove chip %d: %w", c.ID(), err)
	}
	if e, ok := reply.Payload.(types.ErrorReply); ok {
		return fmt.Errorf("remove chip %d: %s", c.ID(), e.Error)
	}
	log.WithField("chip", c.ID()).WithField("label", c.Label()).Info("chip removed mid-run")
	return nil
}

func consume(ctx context.Context, worker int, chips []*pwm.Chip, st *stats) {
	label := fmt.Sprintf("worker-%d", worker)
	period := timex.PeriodFromHz(uint32(*freqHz))
	for ctx.Err() == nil {
		c := chips[rand.IntN(len(chips))]
		ch, err := pwm.Request(c, rand.IntN(c.NPWM()), label)
		st.add("request", err)
		if err != nil {
			time.Sleep(time.Millisecond)
			continue
		}
		for i := 0; i < 4 && ctx.Err() == nil; i++ {
			s := types.State{PeriodNs: period, DutyNs: timex.DutyFromPermille(period, rand.Uint32N(1001)), Enabled: true}
			// Atomic applies only reach the ring tracer, not the CBOR file.
			if c.Atomic() {
				err = ch.ApplyAtomic(s)
			} else {
				err = ch.Apply(s)
			}
			st.add("apply", err)
			_, err = ch.GetState()
			st.add("get", err)
		}
		ch.Release()
	}
}

type stats struct {
	mu sync.Mutex
	n  map[string]map[errcode.Code]int
}

func newStats() *stats { return &stats{n: map[string]map[errcode.Code]int{}} }

func (s *stats) add(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.n[op]
	if m == nil {
		m = map[errcode.Code]int{}
		s.n[op] = m
	}
	m[errcode.Of(err)]++
}

func (s *stats) log(log *logrus.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, 0, len(s.n))
	for op := range s.n {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		f := logrus.Fields{"op": op}
		for code, n := range s.n[op] {
			f[string(code)] = n
		}
		log.WithFields(f).Info("outcomes")
	}
}
