package sdio

import (
	"context"
	"log/slog"
)

func (h *Host) logerr(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelError, msg, attrs...)
}

func (h *Host) warn(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelWarn, msg, attrs...)
}

func (h *Host) info(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelInfo, msg, attrs...)
}

func (h *Host) debug(msg string, attrs ...slog.Attr) {
	h.logattrs(slog.LevelDebug, msg, attrs...)
}

func (h *Host) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if h.logger != nil {
		h.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
