package workflow

import (
	"time"
)

// Event is a progress notification for one run.
type Event struct {
	RunID   string      `json:"run_id"`
	Stage   Stage       `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	// Progress 阶段内进度 0-100
	Progress int       `json:"progress"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	Time     time.Time `json:"time"`
}

// Final reports whether e is the last event of its run.
func (e Event) Final() bool {
	return e.Outcome == OutcomeSucceeded || e.Outcome == OutcomeFailed
}

// EventSink receives run events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(e).
func (f EventSinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}

// Metrics is the subset of *metrics.Collector the engine reports to.
type Metrics interface {
	RunStarted()
	RecordRun(strategy, outcome, errorCode string, duration time.Duration)
	RecordStage(stage, status string, duration time.Duration)
	RecordPoll(status string)
}

type nopMetrics struct{}

func (nopMetrics) RunStarted() {}
func (nopMetrics) RecordRun(string, string, string, time.Duration) {}
func (nopMetrics) RecordStage(string, string, time.Duration) {}
func (nopMetrics) RecordPoll(string) {}
