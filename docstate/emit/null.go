package emit

// NullEmitter discards all events. It is the engine default when no emitter
// is configured.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops every event with zero
// overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
