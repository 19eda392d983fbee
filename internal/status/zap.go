package status

import (
	"go.uber.org/zap"
)

// ZapLogger writes every status text to a zap logger. It is the always-on
// sink for the severities the on-demand surface ignores.
type ZapLogger struct {
	log   *zap.SugaredLogger
	title string
	last  uint32
}

var _ Logger = (*ZapLogger)(nil)

func NewZapLogger(log *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{log: log}
}

func (z *ZapLogger) StartLogging(title string, writeToLog bool) {
	z.title = title
	if writeToLog {
		z.log.Infow("operation started", "operation", title)
	}
}

func (z *ZapLogger) EndLogging() {
	z.log.Debugw("operation finished", "operation", z.title, "progress", z.last)
}

func (z *ZapLogger) SetProgress(percent uint32) bool {
	z.last = percent
	return true
}

func (z *ZapLogger) SetText(text string, severity Severity) bool {
	if text == "" {
		return true
	}
	switch severity {
	case Error:
		z.log.Errorw(text, "operation", z.title)
	case Warning:
		z.log.Warnw(text, "operation", z.title)
	case AdditionalInfo:
		z.log.Debugw(text, "operation", z.title)
	default:
		z.log.Infow(text, "operation", z.title)
	}
	return true
}

func (z *ZapLogger) ContinueWork() bool { return true }
