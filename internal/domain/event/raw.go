package event

// Raw is an event whose concrete Go type is not known to this build.
// It shows up during replay when a newer writer has appended an event
// type this binary does not register yet. Consumers decide whether a
// Raw event is tolerable (projections usually skip it) or fatal.
type Raw struct {
	BaseEvent

	// Payload is the decoded event data as stored.
	Payload map[string]any
}

// NewRaw wraps a restored base event and its decoded payload.
func NewRaw(base BaseEvent, payload map[string]any) *Raw {
	return &Raw{BaseEvent: base, Payload: payload}
}

// IsRaw reports whether evt was reconstructed without a registered
// concrete type.
func IsRaw(evt DomainEvent) bool {
	_, ok := evt.(*Raw)
	return ok
}
