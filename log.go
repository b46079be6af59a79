package channel

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Debug turns on Trace-level logging of engine lifecycle events
// (send/receive success and suspension, close, cancel) in addition to
// the always-on
// Error-level invariant logging.
var Debug bool

var (
	baseLogger     *logrus.Logger
	baseLoggerOnce sync.Once
)

func logger() *logrus.Entry {
	baseLoggerOnce.Do(func() {
		baseLogger = logrus.New()
		baseLogger.SetLevel(logrus.InfoLevel)
	})
	lvl := logrus.InfoLevel
	if Debug {
		lvl = logrus.TraceLevel
	}
	baseLogger.SetLevel(lvl)
	return logrus.NewEntry(baseLogger).WithField("component", "channel")
}

// SetLogger lets embedders replace the default logrus.Logger, e.g. to
// route channel diagnostics into an application-wide logger.
func SetLogger(l *logrus.Logger) {
	baseLoggerOnce.Do(func() {})
	baseLogger = l
}

func trace(id, event string, fields logrus.Fields) {
	if !Debug {
		return
	}
	e := logger().WithField("id", id).WithField("event", event)
	if fields != nil {
		e = e.WithFields(fields)
	}
	e.Trace("channel event")
}
