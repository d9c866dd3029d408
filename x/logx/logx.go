// Package logx builds the logrus loggers used by the binaries and services.
package logx

import (
	"io"
	"os"
	"strings"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

// New returns an entry writing to w (stderr when nil) at the named level.
// An empty level means info.
func New(level string, w io.Writer) (*logrus.Entry, error) {
	lvl := logrus.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		var err error
		if lvl, err = logrus.ParseLevel(s); err != nil {
			return nil, err
		}
	}
	if w == nil {
		w = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)

	f := new(prefixed.TextFormatter)
	f.TimestampFormat = "2006-01-02 15:04:05"
	f.FullTimestamp = true
	f.PrefixPadding = 20
	f.SpacePadding = 50
	l.SetFormatter(f)
	return logrus.NewEntry(l), nil
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// Prefix tags e with the component name shown by the prefixed formatter.
func Prefix(e *logrus.Entry, name string) *logrus.Entry {
	return e.WithField("prefix", name)
}
