package pipeline

import (
	"sync"

	"github.com/cemconv/cemrelease/types"
)

// EventSink receives stage events as a job progresses.
// *ipc.FrameEncoder satisfies it for subprocess jobs.
type EventSink interface {
	EncodeStage(event *types.StageEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event *types.StageEvent) error

// EncodeStage calls f.
func (f SinkFunc) EncodeStage(event *types.StageEvent) error {
	return f(event)
}

// Discard drops every event.
var Discard EventSink = SinkFunc(func(*types.StageEvent) error { return nil })

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []*types.StageEvent
}

// EncodeStage records a copy of event.
func (r *Recorder) EncodeStage(event *types.StageEvent) error {
	e := *event
	r.mu.Lock()
	r.events = append(r.events, &e)
	r.mu.Unlock()
	return nil
}

// Events returns the recorded events in arrival order.
func (r *Recorder) Events() []*types.StageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.StageEvent, len(r.events))
	copy(out, r.events)
	return out
}
