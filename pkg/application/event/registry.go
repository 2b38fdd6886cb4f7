package event

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

type schemaKey struct {
	eventType string
	version   int
}

type PayloadDecoder func(raw json.RawMessage) (Payload, error)

// Registry lists the (eventType, schemaVersion) pairs a consumer understands.
type Registry struct {
	decoders map[schemaKey]PayloadDecoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[schemaKey]PayloadDecoder)}
}

// DefaultRegistry knows every schema this module produces.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PersonUpdatedType, 1, decodePersonUpdatedV1)
	return r
}

func (r *Registry) Register(eventType string, version int, decoder PayloadDecoder) {
	r.decoders[schemaKey{eventType: eventType, version: version}] = decoder
}

func (r *Registry) Supports(eventType string, version int) bool {
	_, ok := r.decoders[schemaKey{eventType: eventType, version: version}]
	return ok
}

// Decode returns the typed payload of e, or a permanent error wrapping
// ErrUnsupportedSchema or ErrMalformed.
func (r *Registry) Decode(e DomainEvent) (Payload, error) {
	decoder, ok := r.decoders[schemaKey{eventType: e.EventType, version: e.SchemaVersion}]
	if !ok {
		return nil, liberr.Permanent(errors.Wrap(
			ErrUnsupportedSchema,
			fmt.Sprintf("%s v%d", e.EventType, e.SchemaVersion),
		))
	}
	payload, err := decoder(e.Payload)
	if err != nil {
		return nil, liberr.Permanent(errors.Wrap(ErrMalformed, err.Error()))
	}
	if payload.AggregateID() != e.AggregateID {
		return nil, liberr.Permanent(errors.Wrapf(
			ErrMalformed,
			"payload aggregate %q does not match %q", payload.AggregateID(), e.AggregateID,
		))
	}
	return payload, nil
}
