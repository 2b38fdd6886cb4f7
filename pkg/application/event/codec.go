package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

const ContentType = "application/json"

var (
	ErrMalformed         = errors.New("malformed event")
	ErrUnsupportedSchema = errors.New("unsupported event schema")
)

type wireEvent struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	SchemaVersion int             `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    string          `json:"occurredAt"`
}

func Encode(e DomainEvent) ([]byte, error) {
	if err := validate(e); err != nil {
		return nil, err
	}
	payload := &bytes.Buffer{}
	if err := json.Compact(payload, e.Payload); err != nil {
		return nil, liberr.Permanent(errors.Wrap(ErrMalformed, err.Error()))
	}
	data, err := json.Marshal(wireEvent{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		SchemaVersion: e.SchemaVersion,
		Payload:       payload.Bytes(),
		OccurredAt:    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	return data, errors.WithStack(err)
}

// Decode parses the wire form and checks the envelope. The (type, version)
// pair is checked by Registry.Decode, not here, so tooling can inspect any
// well-formed event. Every error returned is permanent.
func Decode(data []byte) (DomainEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return DomainEvent{}, liberr.Permanent(errors.Wrap(ErrMalformed, err.Error()))
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
	if err != nil {
		return DomainEvent{}, liberr.Permanent(errors.Wrapf(ErrMalformed, "occurredAt %q", w.OccurredAt))
	}
	e := DomainEvent{
		EventID:       w.EventID,
		EventType:     w.EventType,
		AggregateID:   w.AggregateID,
		SchemaVersion: w.SchemaVersion,
		Payload:       w.Payload,
		OccurredAt:    occurredAt,
	}
	if err = validate(e); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}

func validate(e DomainEvent) error {
	switch {
	case e.EventID == "":
		return malformed("eventId is required")
	case e.EventType == "":
		return malformed("eventType is required")
	case e.AggregateID == "":
		return malformed("aggregateId is required")
	case e.SchemaVersion < 1:
		return malformed("schemaVersion must be positive")
	case len(e.Payload) == 0 || string(e.Payload) == "null":
		return malformed("payload is required")
	case e.OccurredAt.IsZero():
		return malformed("occurredAt is required")
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return malformed("eventId is not a uuid")
	}
	return nil
}

func malformed(reason string) error {
	return liberr.Permanent(errors.Wrap(ErrMalformed, reason))
}
