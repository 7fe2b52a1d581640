package docfill

import (
	"sync"

	"go.uber.org/zap"
)

// Level is the severity of a user notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Reporter receives the user-facing signals of a generation run
type Reporter interface {
	// Status reports progress, e.g. "rendering PDF"
	Status(msg string)
	// RecordMap receives the JSON dump of the record map for debugging
	RecordMap(dump string)
	Notify(level Level, msg string)
}

type nopReporter struct{}

func (nopReporter) Status(string)        {}
func (nopReporter) RecordMap(string)     {}
func (nopReporter) Notify(Level, string) {}

// Event is one signal captured by a Recorder
type Event struct {
	Kind    string `json:"kind"`
	Level   Level  `json:"level,omitempty"`
	Message string `json:"message"`
}

// Recorder is a Reporter that keeps every signal in order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Status(msg string)     { r.add(Event{Kind: "status", Message: msg}) }
func (r *Recorder) RecordMap(dump string) { r.add(Event{Kind: "record", Message: dump}) }
func (r *Recorder) Notify(level Level, msg string) {
	r.add(Event{Kind: "notify", Level: level, Message: msg})
}

// Events returns a copy of the captured signals
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Notifications returns the notifications of the given level
func (r *Recorder) Notifications(level Level) []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == "notify" && e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// LogReporter forwards signals to a logger
type LogReporter struct {
	Logger *zap.Logger
}

func (l LogReporter) Status(msg string) {
	l.Logger.Info(msg)
}

func (l LogReporter) RecordMap(dump string) {
	l.Logger.Debug("record map", zap.String("record", dump))
}

func (l LogReporter) Notify(level Level, msg string) {
	switch level {
	case LevelError:
		l.Logger.Error(msg)
	case LevelWarning:
		l.Logger.Warn(msg)
	default:
		l.Logger.Info(msg, zap.String("level", string(level)))
	}
}
