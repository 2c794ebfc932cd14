package sctp

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/dep2p/go-siptransport/pkg/lib/log"
)

// loggerFactory 把 pion/sctp 的日志桥接到统一日志
type loggerFactory struct{}

var _ logging.LoggerFactory = (*loggerFactory)(nil)

// NewLogger 为给定作用域创建 LeveledLogger
func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{inner: log.Logger("transport/sctp/" + scope)}
}

// leveledLogger pion LeveledLogger 适配器
//
// pion 的 Trace 级别映射到 Debug。
type leveledLogger struct {
	inner *log.LazyLogger
}

var _ logging.LeveledLogger = (*leveledLogger)(nil)

func (l *leveledLogger) Trace(msg string)                  { l.inner.Debug(msg) }
func (l *leveledLogger) Tracef(format string, args ...any) { l.inner.Debug(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Debug(msg string)                  { l.inner.Debug(msg) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.inner.Debug(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Info(msg string)                   { l.inner.Info(msg) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.inner.Info(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Warn(msg string)                   { l.inner.Warn(msg) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.inner.Warn(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Error(msg string)                  { l.inner.Error(msg) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.inner.Error(fmt.Sprintf(format, args...)) }
