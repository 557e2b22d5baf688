package webrtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

type loggerFactory struct {
	base *zap.SugaredLogger
}

// NewLoggerFactory sends pion's internal logs to zap, one named logger per
// pion scope. Trace output is dropped.
func NewLoggerFactory(base *zap.SugaredLogger) logging.LoggerFactory {
	return &loggerFactory{base: base.Named("pion")}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{log: f.base.Named(scope)}
}

type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l *leveledLogger) Trace(string)                           {}
func (l *leveledLogger) Tracef(string, ...interface{})          {}
func (l *leveledLogger) Debug(msg string)                       { l.log.Debug(msg) }
func (l *leveledLogger) Debugf(format string, a ...interface{}) { l.log.Debugf(format, a...) }
func (l *leveledLogger) Info(msg string)                        { l.log.Info(msg) }
func (l *leveledLogger) Infof(format string, a ...interface{})  { l.log.Infof(format, a...) }
func (l *leveledLogger) Warn(msg string)                        { l.log.Warn(msg) }
func (l *leveledLogger) Warnf(format string, a ...interface{})  { l.log.Warnf(format, a...) }
func (l *leveledLogger) Error(msg string)                       { l.log.Error(msg) }
func (l *leveledLogger) Errorf(format string, a ...interface{}) { l.log.Errorf(format, a...) }
