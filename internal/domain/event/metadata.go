package event

import "time"

// Metadata carries the who/why context of an event: the actor that
// caused it, the command or event it was caused by, and the workflow it
// belongs to. Extra holds anything callers want to pass through.
type Metadata struct {
	ActorID       string            `json:"actor_id,omitempty"       bson:"actor_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"   bson:"causation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitempty"      bson:"timestamp,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"          bson:"extra,omitempty"`
}

// NewMetadata creates metadata stamped with the current time.
func NewMetadata(actorID, correlationID, causationID string) Metadata {
	return Metadata{
		ActorID:       actorID,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Timestamp:     time.Now().UTC(),
	}
}

// WithExtra returns a copy with one extra key set.
func (m Metadata) WithExtra(key, value string) Metadata {
	extra := make(map[string]string, len(m.Extra)+1)
	for k, v := range m.Extra {
		extra[k] = v
	}
	extra[key] = value
	m.Extra = extra
	return m
}

// CausedBy returns metadata for a follow-up event caused by evt,
// keeping the correlation id and chaining the causation id. Saga
// handlers use this so a whole workflow shares one correlation id.
func CausedBy(evt DomainEvent, actorID string) Metadata {
	md := evt.Metadata()
	correlation := md.CorrelationID
	if correlation == "" {
		correlation = evt.EventID().String()
	}
	return Metadata{
		ActorID:       actorID,
		CorrelationID: correlation,
		CausationID:   evt.EventID().String(),
		Timestamp:     time.Now().UTC(),
	}
}
