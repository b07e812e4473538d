// Package sink carries conversation events to presentation surfaces: the
// dashboard, logs and a Redis channel. Every method is fire-and-forget and
// must not block the caller, which is usually the conversation loop.
package sink

import (
	"log/slog"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sink receives presentation events.
type Sink interface {
	StateChanged(old, new string)
	StepChanged(step *procedure.StepContext)
	Transcript(role, text string)
	Partial(text string)
	Detections(set detection.Set)
	Highlight(class string)
	Completed()
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

var _ Sink = Fanout(nil)

func (f Fanout) StateChanged(old, new string) {
	for _, s := range f {
		s.StateChanged(old, new)
	}
}

func (f Fanout) StepChanged(step *procedure.StepContext) {
	for _, s := range f {
		s.StepChanged(step)
	}
}

func (f Fanout) Transcript(role, text string) {
	for _, s := range f {
		s.Transcript(role, text)
	}
}

func (f Fanout) Partial(text string) {
	for _, s := range f {
		s.Partial(text)
	}
}

func (f Fanout) Detections(set detection.Set) {
	for _, s := range f {
		s.Detections(set)
	}
}

func (f Fanout) Highlight(class string) {
	for _, s := range f {
		s.Highlight(class)
	}
}

func (f Fanout) Completed() {
	for _, s := range f {
		s.Completed()
	}
}

// Log writes events to a structured logger. Detection sets and partial
// transcripts are logged at debug level.
type Log struct {
	logger *slog.Logger
}

var _ Sink = (*Log)(nil)

// NewLog creates a log sink.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "sink.log")}
}

func (l *Log) StateChanged(old, new string) {
	l.logger.Info("state", "from", old, "to", new)
}

func (l *Log) StepChanged(step *procedure.StepContext) {
	if step == nil {
		l.logger.Info("step cleared")
		return
	}
	l.logger.Info("step", "procedure", step.ProcedureTitle, "title", step.StepTitle)
}

func (l *Log) Transcript(role, text string) {
	l.logger.Info("transcript", "role", role, "text", text)
}

func (l *Log) Partial(text string) {
	l.logger.Debug("partial", "text", text)
}

func (l *Log) Detections(set detection.Set) {
	l.logger.Debug("detections", "count", set.Len(), "classes", set.Classes())
}

func (l *Log) Highlight(class string) {
	l.logger.Info("highlight", "class", class)
}

func (l *Log) Completed() {
	l.logger.Info("procedure completed")
}
