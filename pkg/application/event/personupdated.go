package event

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const PersonUpdatedType = "PersonUpdated"

// PersonUpdatedV1 carries the full changed state of a person. Version is the
// person's logical version after the update; consumers use it to discard
// stale redeliveries.
type PersonUpdatedV1 struct {
	PersonID string `json:"personId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Position string `json:"position"`
	Version  int64  `json:"version"`
}

func (p PersonUpdatedV1) EventType() string {
	return PersonUpdatedType
}

func (p PersonUpdatedV1) SchemaVersion() int {
	return 1
}

func (p PersonUpdatedV1) AggregateID() string {
	return p.PersonID
}

func decodePersonUpdatedV1(raw json.RawMessage) (Payload, error) {
	var p PersonUpdatedV1
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.WithStack(err)
	}
	if p.PersonID == "" {
		return nil, errors.New("personId is required")
	}
	if p.Version < 1 {
		return nil, errors.New("version must be positive")
	}
	return p, nil
}
