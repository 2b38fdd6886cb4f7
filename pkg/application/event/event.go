// Package event defines the DomainEvent exchanged between the person and
// employee services and its JSON wire representation.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DomainEvent is immutable once created. EventID determines the payload for
// the event's lifetime: it is encoded once and the same bytes are replayed.
type DomainEvent struct {
	EventID       string
	EventType     string
	AggregateID   string
	SchemaVersion int
	Payload       json.RawMessage
	OccurredAt    time.Time
}

type Payload interface {
	EventType() string
	SchemaVersion() int
	AggregateID() string
}

// New wraps payload into a DomainEvent with a fresh time-ordered id.
func New(payload Payload, occurredAt time.Time) (DomainEvent, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return DomainEvent{}, errors.WithStack(err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, errors.Wrapf(err, "marshal %s payload", payload.EventType())
	}
	return DomainEvent{
		EventID:       uid.String(),
		EventType:     payload.EventType(),
		AggregateID:   payload.AggregateID(),
		SchemaVersion: payload.SchemaVersion(),
		Payload:       data,
		OccurredAt:    occurredAt.UTC(),
	}, nil
}
