// Package ledger records which events the consuming service has already
// applied. A record exists only if its mutation was durably applied.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeStale marks an event older than the stored state; nothing changed.
	OutcomeStale Outcome = "stale"
)

var (
	ErrNotFound = errors.New("idempotency record not found")
	// ErrAlreadyProcessed is returned by Insert when a record for the event
	// exists, typically because a concurrent duplicate delivery won the race.
	ErrAlreadyProcessed = errors.New("event already processed")
)

type Record struct {
	EventID     string
	AggregateID string
	Outcome     Outcome
	OutcomeHash string
	Attempts    int
	ProcessedAt time.Time
}

type Reader interface {
	Get(ctx context.Context, eventID string) (Record, error)
}

type Writer interface {
	Insert(ctx context.Context, record Record) error
}

type Ledger interface {
	Reader
	Writer
}

// Mutation describes the effect an event had on the dependent store.
type Mutation struct {
	AggregateID string            `json:"aggregateId"`
	Outcome     Outcome           `json:"outcome"`
	Version     int64             `json:"version"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// OutcomeHash is a digest of m, stable across processes: json.Marshal sorts
// map keys, so equal mutations always hash equally.
func OutcomeHash(m Mutation) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.WithStack(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
