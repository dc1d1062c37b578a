package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogWALogger bridges whatsmeow's printf-style logger onto slog.
type slogWALogger struct {
	logger *slog.Logger
	module string
	min    slog.Level
}

// NewWALogger returns a waLog.Logger writing to logger. level is one of
// DEBUG, INFO, WARN or ERROR; anything else means WARN.
func NewWALogger(logger *slog.Logger, module, level string) waLog.Logger {
	return &slogWALogger{logger: logger, module: module, min: parseWALevel(level)}
}

func parseWALevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func (l *slogWALogger) log(level slog.Level, msg string, args []any) {
	if level < l.min {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", l.module)
}

func (l *slogWALogger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *slogWALogger) Infof(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *slogWALogger) Warnf(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *slogWALogger) Errorf(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *slogWALogger) Sub(module string) waLog.Logger {
	return &slogWALogger{logger: l.logger, module: l.module + "/" + module, min: l.min}
}
