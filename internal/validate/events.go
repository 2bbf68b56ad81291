package validate

// EventKind tags a progress event.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventProgress EventKind = "progress"
	EventDelay    EventKind = "delay"
	EventComplete EventKind = "complete"
)

// Event is one progress update from a validation run. Fields are
// populated per kind: Start carries Total and DelaySeconds, Progress
// carries Index/Email/counters, Delay carries Seconds, Complete carries
// the final counters and FailedList.
type Event struct {
	Kind         EventKind `json:"kind"`
	Total        int       `json:"total,omitempty"`
	DelaySeconds int       `json:"delay_seconds,omitempty"`
	Index        int       `json:"index,omitempty"`
	Email        string    `json:"email,omitempty"`
	Succeeded    int       `json:"succeeded,omitempty"`
	Failed       int       `json:"failed,omitempty"`
	Seconds      int       `json:"seconds,omitempty"`
	FailedList   []string  `json:"failed_list,omitempty"`
}

// Sink receives progress events. Events are a side channel: a sink that
// stops listening must not affect persistence, so implementations must
// not block and must not panic.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards all events.
var NopSink Sink = SinkFunc(func(Event) {})
