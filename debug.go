package extconn

import (
	"context"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 1

// logstate is embedded by every task so each carries its own logger.
type logstate struct {
	logger        *slog.Logger
	_traceenabled bool
}

func (l *logstate) setLogger(logger *slog.Logger) {
	l.logger = logger
	l._traceenabled = logger != nil && logger.Handler().Enabled(context.Background(), levelTrace)
}

func (l *logstate) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

func (l *logstate) warn(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelWarn, msg, attrs...)
}

func (l *logstate) info(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelInfo, msg, attrs...)
}

func (l *logstate) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l *logstate) trace(msg string, attrs ...slog.Attr) {
	if l._traceenabled {
		l.logattrs(levelTrace, msg, attrs...)
	}
}

func (l *logstate) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if l.logger != nil {
		l.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (l *logstate) isTraceEnabled() bool { return l._traceenabled }

func errattr(err error) slog.Attr { return slog.String("err", err.Error()) }
