package pwm

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pwmcore-go/errcode"
	"pwmcore-go/types"
)

// Tracer receives one record per driver-facing call and lifecycle step.
// Records are emitted after the chip lock is released; Trace may block
// only as long as the caller of the traced operation can afford.
type Tracer interface {
	Trace(rec types.TraceRecord)
}

// NonBlocking marks a Tracer whose Trace never waits on I/O. Records from
// ApplyAtomic only go to such tracers.
type NonBlocking interface {
	Tracer
	NonBlocking()
}

// nonBlockingTracer is implemented by fan-out tracers that can forward a
// record to their non-blocking members only.
type nonBlockingTracer interface {
	TraceNonBlocking(rec types.TraceRecord)
}

type tracerBox struct{ t Tracer }

var (
	pkgLogger atomic.Pointer[logrus.Entry]
	pkgTracer atomic.Pointer[tracerBox]
)

func init() {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	pkgLogger.Store(l.WithField("prefix", "pwm"))
}

// SetLogger replaces the package logger. nil discards all output.
func SetLogger(e *logrus.Entry) {
	if e == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		e = logrus.NewEntry(l)
	}
	pkgLogger.Store(e)
}

// SetTracer installs t as the trace sink. nil disables tracing.
func SetTracer(t Tracer) {
	if t == nil {
		pkgTracer.Store(nil)
		return
	}
	pkgTracer.Store(&tracerBox{t: t})
}

func logger() *logrus.Entry { return pkgLogger.Load() }

func emit(rec types.TraceRecord) {
	b := pkgTracer.Load()
	if b == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	b.t.Trace(rec)
}

// emitNonBlocking is emit for callers that must not block.
func emitNonBlocking(rec types.TraceRecord) {
	b := pkgTracer.Load()
	if b == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	switch t := b.t.(type) {
	case nonBlockingTracer:
		t.TraceNonBlocking(rec)
	case NonBlocking:
		t.Trace(rec)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return string(errcode.Of(err))
}
