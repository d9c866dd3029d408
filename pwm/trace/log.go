package trace

import (
	"github.com/sirupsen/logrus"

	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

// Log writes records to a logrus entry: successes at trace level,
// failures at debug level.
type Log struct {
	log *logrus.Entry
}

var _ pwm.Tracer = (*Log)(nil)

func NewLog(log *logrus.Entry) *Log { return &Log{log: log} }

func (l *Log) Trace(rec types.TraceRecord) {
	e := l.log.WithFields(logrus.Fields{
		"op":   rec.Op.String(),
		"chip": rec.Chip,
	})
	if rec.Channel >= 0 {
		e = e.WithField("channel", rec.Channel)
	}
	if rec.Label != "" {
		e = e.WithField("label", rec.Label)
	}
	if rec.State != nil {
		e = e.WithFields(logrus.Fields{
			"period_ns": rec.State.PeriodNs,
			"duty_ns":   rec.State.DutyNs,
			"polarity":  rec.State.Polarity.String(),
			"enabled":   rec.State.Enabled,
		})
	}
	if rec.Capture != nil {
		e = e.WithFields(logrus.Fields{
			"cap_period_ns": rec.Capture.PeriodNs,
			"cap_duty_ns":   rec.Capture.DutyNs,
		})
	}
	if rec.Duration > 0 {
		e = e.WithField("took", rec.Duration)
	}
	if rec.Err != "" {
		e.WithField("err", rec.Err).Debug("pwm call failed")
		return
	}
	e.Trace("pwm call")
}

// Multi fans records out to every tracer in order.
type Multi []pwm.Tracer

func (m Multi) Trace(rec types.TraceRecord) {
	for _, t := range m {
		if t != nil {
			t.Trace(rec)
		}
	}
}

// TraceNonBlocking forwards rec to the members that never block, including
// those reached through a nested Multi.
func (m Multi) TraceNonBlocking(rec types.TraceRecord) {
	for _, t := range m {
		switch t := t.(type) {
		case Multi:
			t.TraceNonBlocking(rec)
		case pwm.NonBlocking:
			t.Trace(rec)
		}
	}
}
