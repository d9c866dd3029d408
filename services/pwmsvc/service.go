// services/pwmsvc/service.go
package pwmsvc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pwmcore-go/bus"
	"pwmcore-go/errcode"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
	"pwmcore-go/x/ramp"
)

type chanKey struct {
	chip  int
	index int
}

// Service exposes the PWM core on the bus. It builds chips from
// configuration, announces them as they are added and removed, and holds
// channels on behalf of bus consumers.
type Service struct {
	conn *bus.Connection
	i2c  I2CFactory
	log  *logrus.Entry

	stopped atomic.Bool

	mu      sync.Mutex
	built   map[string]*pwm.Chip // config name -> chip
	handles map[chanKey]*pwm.Channel
	ramps   map[chanKey]*rampJob
	modules map[string]*pwm.Module // driver -> module reference
}

type rampJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *rampJob) running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

var (
	topicConfigPWM = bus.Topic{TokConfig, TokPWM}
	topicState     = bus.Topic{TokPWM, TokState}
	topicChCtrl    = bus.Topic{TokPWM, TokChip, "+", TokCh, "+", TokControl, "+"}
	topicChipCtrl  = bus.Topic{TokPWM, TokChip, "+", TokControl, "+"}
	topicCtrl      = bus.Topic{TokPWM, TokControl, "+"}
)

// New creates the service and registers it as a chip exporter. Call Close
// when done with it.
func New(conn *bus.Connection, i2c I2CFactory, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		conn:    conn,
		i2c:     i2c,
		log:     log.WithField("prefix", "pwmsvc"),
		built:   map[string]*pwm.Chip{},
		handles: map[chanKey]*pwm.Channel{},
		ramps:   map[chanKey]*rampJob{},
		modules: map[string]*pwm.Module{},
	}
	pwm.RegisterExporter(s)
	return s
}

// -----------------------------------------------------------------------------
// Exporter
// -----------------------------------------------------------------------------

// Export announces c. It runs under the core's global lock, so it only
// touches the bus.
func (s *Service) Export(c *pwm.Chip) error {
	if s.stopped.Load() {
		return errcode.New(errcode.NotOperational, "pwmsvc.export", "service stopped")
	}
	s.conn.Publish(s.conn.NewMessage(chipTopic(c.ID(), TokInfo), c.Info(), true))
	s.conn.Publish(s.conn.NewMessage(chipTopic(c.ID(), TokStatus), types.ChipOperational, true))
	return nil
}

// Unexport retracts the chip info and leaves a removed status behind.
func (s *Service) Unexport(c *pwm.Chip) {
	s.conn.Publish(s.conn.NewMessage(chipTopic(c.ID(), TokInfo), nil, true))
	s.conn.Publish(s.conn.NewMessage(chipTopic(c.ID(), TokStatus), types.ChipRemoved, true))
}

func chipTopic(id int, suffix string) bus.Topic {
	return bus.Topic{TokPWM, TokChip, id, suffix}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ApplyConfig builds and adds every configured chip not built yet. Chips
// that fail are skipped and reported together; the others stay added.
func (s *Service) ApplyConfig(cfg types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, cc := range cfg.Chips {
		if _, ok := s.built[cc.Name]; ok {
			continue
		}
		c, err := s.buildLocked(cc)
		if err == nil {
			err = pwm.AddChip(c)
		}
		if err != nil {
			s.log.WithField("chip", cc.Name).WithField("driver", cc.Driver).WithError(err).Error("chip not added")
			if first == nil {
				first = err
			}
			continue
		}
		s.built[cc.Name] = c
		s.log.WithField("chip", cc.Name).WithField("id", c.ID()).WithField("npwm", c.NPWM()).Info("chip added")
	}
	return first
}

func (s *Service) buildLocked(cc types.ChipConfig) (*pwm.Chip, error) {
	b, ok := LookupBuilder(cc.Driver)
	if !ok {
		return nil, errcode.New(errcode.UnknownDriver, "pwmsvc.build", cc.Driver)
	}
	m, ok := s.modules[cc.Driver]
	if !ok {
		m = pwm.NewModule(cc.Driver)
		s.modules[cc.Driver] = m
	}
	return b.Build(BuildInput{Chip: cc, I2C: s.i2c, Owner: m})
}

// Chip returns the chip built for a configured name.
func (s *Service) Chip(name string) (*pwm.Chip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.built[name]
	return c, ok
}

// -----------------------------------------------------------------------------
// Run loop
// -----------------------------------------------------------------------------

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigPWM)
	chSub := s.conn.Subscribe(topicChCtrl)
	chipSub := s.conn.Subscribe(topicChipCtrl)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(chSub)
	defer s.conn.Unsubscribe(chipSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(LevelIdle, "awaiting_config")

	for {
		select {
		case <-ctx.Done():
			s.Close()
			s.publishState(LevelStopped, "context_cancelled")
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.Config)
			if !ok {
				s.publishState(LevelError, "config_wrong_type")
				continue
			}
			if err := s.ApplyConfig(cfg); err != nil {
				s.publishState(LevelError, "apply_config_failed")
				continue
			}
			s.publishState(LevelReady, "configured")

		case msg := <-chSub.Channel():
			s.handleChannel(msg)

		case msg := <-chipSub.Channel():
			s.handleChip(msg)

		case msg := <-ctrlSub.Channel():
			s.handleService(msg)
		}
	}
}

// Close releases every channel held for bus consumers, removes the chips
// this service built and unloads their driver modules.
func (s *Service) Close() {
	if s.stopped.Swap(true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.ramps {
		s.stopRampLocked(k)
	}
	for k, ch := range s.handles {
		ch.Release()
		delete(s.handles, k)
	}
	for name, c := range s.built {
		if err := pwm.RemoveChip(c); err != nil && errcode.Of(err) != errcode.NotOperational {
			s.log.WithField("chip", name).WithError(err).Warn("chip not removed")
		}
		delete(s.built, name)
	}
	for _, m := range s.modules {
		m.Unload()
	}
	pwm.UnregisterExporter(s)
}

// -----------------------------------------------------------------------------
// Control handlers
// -----------------------------------------------------------------------------

// handleChannel serves pwm/chip/<id>/ch/<n>/control/<verb>.
func (s *Service) handleChannel(msg *bus.Message) {
	if len(msg.Topic) < 7 {
		return
	}
	id, ok1 := asInt(msg.Topic[2])
	n, ok2 := asInt(msg.Topic[4])
	verb, _ := msg.Topic[6].(string)
	if !ok1 || !ok2 {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	key := chanKey{chip: id, index: n}

	switch verb {
	case CtrlRequest:
		s.doRequest(msg, key)
	case CtrlRelease:
		s.doRelease(msg, key)
	case CtrlRamp:
		s.doRamp(msg, key)
	case CtrlStop:
		s.mu.Lock()
		s.stopRampLocked(key)
		s.mu.Unlock()
		s.conn.Reply(msg, types.OKReply{OK: true}, false)
	case CtrlApply:
		s.mu.Lock()
		s.stopRampLocked(key)
		s.mu.Unlock()
		fallthrough
	default:
		ch, err := s.channel(key)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.doChannel(msg, verb, ch)
	}
}

func (s *Service) doRequest(msg *bus.Message, key chanKey) {
	a, err := decode[types.RequestArgs](msg.Payload)
	if err != nil {
		s.replyErr(msg, err)
		return
	}
	label := a.Label
	if label == "" {
		label = "bus-" + uuid.NewString()[:8]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropStaleLocked(key)
	ch, err := pwm.RequestByID(key.chip, key.index, label)
	if err != nil {
		s.replyErr(msg, err)
		return
	}
	s.handles[key] = ch
	s.conn.Reply(msg, types.RequestReply{OK: true, Label: label}, false)
}

func (s *Service) doRelease(msg *bus.Message, key chanKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropStaleLocked(key)
	ch, ok := s.handles[key]
	if !ok {
		s.replyErr(msg, errcode.New(errcode.UnknownChannel, "pwmsvc.release", "channel not held"))
		return
	}
	a, err := decode[types.RequestArgs](msg.Payload)
	if err != nil {
		s.replyErr(msg, err)
		return
	}
	if a.Label != "" && a.Label != ch.Label() {
		s.replyErr(msg, errcode.New(errcode.InvalidParams, "pwmsvc.release", "label mismatch"))
		return
	}
	s.stopRampLocked(key)
	ch.Release()
	delete(s.handles, key)
	s.conn.Reply(msg, types.OKReply{OK: true}, false)
}

// dropStaleLocked forgets a handle whose chip has been removed behind the
// service's back. Release on a removed chip only drops the module
// reference.
func (s *Service) dropStaleLocked(key chanKey) {
	ch, ok := s.handles[key]
	if !ok || ch.Chip().Lifecycle() != pwm.Removed {
		return
	}
	s.stopRampLocked(key)
	ch.Release()
	delete(s.handles, key)
}

func (s *Service) channel(key chanKey) (*pwm.Channel, error) {
	c, ok := pwm.Lookup(key.chip)
	if !ok {
		return nil, errcode.UnknownChip
	}
	ch := c.Channel(key.index)
	if ch == nil {
		return nil, errcode.UnknownChannel
	}
	return ch, nil
}

func (s *Service) doChannel(msg *bus.Message, verb string, ch *pwm.Channel) {
	switch verb {
	case CtrlApply:
		st, err := decodeRequired[types.State](msg.Payload)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		if err := ch.Apply(st); err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	case CtrlGet:
		st, err := ch.GetState()
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.StateReply{OK: true, State: st}, false)

	case CtrlCapture:
		a, err := decode[types.CaptureArgs](msg.Payload)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		cp, err := ch.Capture(time.Duration(a.TimeoutMs) * time.Millisecond)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.conn.Reply(msg, types.CaptureReply{OK: true, Capture: cp}, false)

	case CtrlInfo:
		s.conn.Reply(msg, types.ChannelReply{OK: true, Channel: ch.Info()}, false)

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// doRamp starts a duty ramp on a channel held for a bus consumer. One ramp
// runs per channel; apply, release and removal cancel it.
func (s *Service) doRamp(msg *bus.Message, key chanKey) {
	a, err := decodeRequired[types.RampArgs](msg.Payload)
	if err != nil {
		s.replyErr(msg, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropStaleLocked(key)
	ch, ok := s.handles[key]
	if !ok {
		s.replyErr(msg, errcode.New(errcode.UnknownChannel, "pwmsvc.ramp", "channel not held"))
		return
	}
	if j, ok := s.ramps[key]; ok && j.running() {
		s.replyErr(msg, errcode.Busy)
		return
	}
	base := ch.State()
	if !base.Enabled || base.PeriodNs == 0 || a.ToDutyNs > base.PeriodNs {
		s.replyErr(msg, errcode.New(errcode.InvalidParams, "pwmsvc.ramp", "channel not enabled or target above period"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &rampJob{cancel: cancel, done: make(chan struct{})}
	s.ramps[key] = j
	log := s.log.WithField("chip", key.chip).WithField("ch", key.index)

	// The ramp only touches the channel; it must never take s.mu, since
	// stopRampLocked waits for it while holding it.
	go func() {
		defer close(j.done)
		defer cancel()
		dur := time.Duration(a.DurationMs) * time.Millisecond
		err := ramp.Linear(base.DutyNs, a.ToDutyNs, dur, int(a.Steps), ramp.Sleeper(ctx), func(v uint64) error {
			st := base
			st.DutyNs = v
			return ch.Apply(st)
		})
		switch {
		case err == nil:
			log.WithField("duty_ns", a.ToDutyNs).Debug("ramp done")
		case errors.Is(err, ramp.ErrCancelled):
			log.Debug("ramp cancelled")
		default:
			log.WithError(err).Warn("ramp stopped")
		}
	}()
	s.conn.Reply(msg, types.OKReply{OK: true}, false)
}

// stopRampLocked cancels the ramp on key, if any, and waits for it to end.
func (s *Service) stopRampLocked(key chanKey) {
	j, ok := s.ramps[key]
	if !ok {
		return
	}
	j.cancel()
	<-j.done
	delete(s.ramps, key)
}

// handleChip serves pwm/chip/<id>/control/<verb>.
func (s *Service) handleChip(msg *bus.Message) {
	if len(msg.Topic) < 5 {
		return
	}
	id, ok := asInt(msg.Topic[2])
	if !ok {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	verb, _ := msg.Topic[4].(string)
	switch verb {
	case CtrlRemove:
		s.mu.Lock()
		err := pwm.RemoveChipByID(id)
		if err == nil {
			for k, ch := range s.handles {
				if k.chip == id {
					s.stopRampLocked(k)
					ch.Release()
					delete(s.handles, k)
				}
			}
			for name, c := range s.built {
				if c.ID() == id && c.Lifecycle() == pwm.Removed {
					delete(s.built, name)
				}
			}
		}
		s.mu.Unlock()
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.log.WithField("id", id).Info("chip removed")
		s.conn.Reply(msg, types.OKReply{OK: true}, false)

	case CtrlInfo:
		c, ok := pwm.Lookup(id)
		if !ok {
			s.replyErr(msg, errcode.UnknownChip)
			return
		}
		s.conn.Reply(msg, types.ListReply{OK: true, Chips: []types.ChipInfo{c.Info()}}, false)

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// handleService serves pwm/control/<verb>.
func (s *Service) handleService(msg *bus.Message) {
	verb, _ := msg.Topic[len(msg.Topic)-1].(string)
	switch verb {
	case CtrlList:
		chips := pwm.Chips()
		out := make([]types.ChipInfo, len(chips))
		for i, c := range chips {
			out[i] = c.Info()
		}
		s.conn.Reply(msg, types.ListReply{OK: true, Chips: out}, false)
	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Service) publishState(level, status string) {
	pl := types.ServiceState{Level: level, Status: status, TS: time.Now().UnixNano()}
	s.conn.Publish(s.conn.NewMessage(topicState, pl, true))
}

func (s *Service) replyErr(req *bus.Message, err error) {
	if !req.CanReply() {
		return
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(errcode.Of(err))}, false)
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	default:
		return 0, false
	}
}
