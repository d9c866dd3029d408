package heartbeat

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"pwmcore-go/bus"
	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

var (
	topicConfigPWM = bus.Topic{"config", "pwm"}
	topicHeartbeat = bus.Topic{"pwm", "heartbeat"}
)

const defaultInterval = time.Second

// Service publishes a liveness summary of the PWM core at a fixed
// interval. The interval follows the heartbeat section of config/pwm.
type Service struct {
	log *logrus.Entry
}

func New(log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{log: log.WithField("prefix", "heartbeat")}
}

// Beat counts live chips and requested channels.
func Beat() types.Heartbeat {
	hb := types.Heartbeat{TS: time.Now().UnixNano()}
	for _, c := range pwm.Chips() {
		hb.Chips++
		for i := 0; i < c.NPWM(); i++ {
			if c.Channel(i).Requested() {
				hb.Requested++
			}
		}
	}
	return hb
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigPWM)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()
	enabled := true

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("heartbeat service stopping")
			return
		case <-tick.C:
			if !enabled {
				continue
			}
			hb := Beat()
			conn.Publish(conn.NewMessage(topicHeartbeat, hb, false))
			s.log.WithField("chips", hb.Chips).WithField("requested", hb.Requested).Debug("heartbeat")
		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.Config)
			if !ok {
				continue
			}
			if iv := cfg.Heartbeat.Interval; iv > 0 {
				tick.Reset(iv)
				enabled = true
				s.log.WithField("interval", iv).Info("heartbeat interval set")
			} else {
				enabled = false
				s.log.Info("heartbeat disabled")
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	go s.serviceLoop(ctx, conn)
}
