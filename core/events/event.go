package events

// Event represents a structured state change emitted by a settlement engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers such as indexers or
// notification services.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// Engines default to it so event delivery stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder is an Emitter that retains everything it sees, in order. It exists
// for tests that assert on emitted event sequences.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.Events = append(r.Events, evt)
}
