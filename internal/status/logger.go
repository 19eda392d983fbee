package status

// Severity classifies a status text
type Severity int

const (
	// Info texts are shown on the progress surface
	Info Severity = iota
	Warning
	Error
	// AdditionalInfo carries details that only belong in a log
	AdditionalInfo
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case AdditionalInfo:
		return "additional-info"
	default:
		return "unknown"
	}
}

// Logger is the interface long-running operations report their status through.
// Every method returning a bool returns false when the operation should stop.
type Logger interface {
	// StartLogging must be called once before any other method.
	StartLogging(title string, writeToLog bool)
	// EndLogging must be called exactly once when the operation is finished.
	EndLogging()
	SetProgress(percent uint32) bool
	SetText(text string, severity Severity) bool
	// ContinueWork gives the presentation layer a chance to run and reports
	// whether the user asked to cancel.
	ContinueWork() bool
}

// Percent converts a done/total pair into a 0-100 progress value
func Percent(done, total int64) uint32 {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return uint32(done * 100 / total)
}

// Discard is a Logger that drops everything and never asks to stop
var Discard Logger = discard{}

type discard struct{}

func (discard) StartLogging(string, bool) {}
func (discard) EndLogging() {}
func (discard) SetProgress(uint32) bool { return true }
func (discard) SetText(string, Severity) bool { return true }
func (discard) ContinueWork() bool { return true }

// Multi fans every call out to all loggers. Continue signals are combined:
// a single false stops the operation.
type Multi []Logger

// NewMulti skips nil loggers
func NewMulti(loggers ...Logger) Multi {
	m := make(Multi, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m Multi) StartLogging(title string, writeToLog bool) {
	for _, l := range m {
		l.StartLogging(title, writeToLog)
	}
}

func (m Multi) EndLogging() {
	for _, l := range m {
		l.EndLogging()
	}
}

func (m Multi) SetProgress(percent uint32) bool {
	ok := true
	for _, l := range m {
		// every logger sees the update even after one of them said stop
		ok = l.SetProgress(percent) && ok
	}
	return ok
}

func (m Multi) SetText(text string, severity Severity) bool {
	ok := true
	for _, l := range m {
		ok = l.SetText(text, severity) && ok
	}
	return ok
}

func (m Multi) ContinueWork() bool {
	ok := true
	for _, l := range m {
		ok = l.ContinueWork() && ok
	}
	return ok
}
