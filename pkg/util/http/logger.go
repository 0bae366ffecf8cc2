package http

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
)

type leveledLogger struct {
	log log.Logger
}

var _ retryablehttp.LeveledLogger = (*leveledLogger)(nil)

// NewLeveledLogger routes retryablehttp logging into a go-kit logger.
func NewLeveledLogger(logger log.Logger) retryablehttp.LeveledLogger {
	return &leveledLogger{log: log.With(logger, "component", "http")}
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	level.Error(l.log).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	level.Info(l.log).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	level.Debug(l.log).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	level.Warn(l.log).Log(append([]interface{}{"msg", msg}, keysAndValues...)...)
}
