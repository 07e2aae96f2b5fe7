package events

// Event represents a structured state change emitted by the escrow engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (gateway, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// lets engines emit unconditionally without nil checks at every call site.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// FuncEmitter adapts a plain function into an Emitter. Used by tests and the
// daemon's log-based subscriber.
type FuncEmitter func(Event)

// Emit implements the Emitter interface.
func (f FuncEmitter) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}
