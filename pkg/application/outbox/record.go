// Package outbox stages domain events in the producer's store within the same
// unit of work as the state change, and forwards them to the broker.
package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned by Requeue when no failed record matches.
var ErrRecordNotFound = errors.New("outbox record not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

type Record struct {
	Seq           uint64
	EventID       string
	EventType     string
	AggregateID   string
	Body          []byte
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	ClaimedAt     *time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Writer appends records. Implementations must be bound to the caller's
// transaction so the record commits or rolls back with the state change.
type Writer interface {
	Append(ctx context.Context, record Record) error
}

type Repository interface {
	// Claim moves up to limit due pending records to in-flight and returns
	// them. At most one record per aggregate is returned, and only when no
	// older record of the same aggregate is pending or in flight.
	Claim(ctx context.Context, now time.Time, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error
	Reschedule(ctx context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, eventID string, attempts int, lastError string) error
	// ReleaseStale returns in-flight records claimed before claimedBefore to
	// pending, recovering claims of crashed publishers.
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)

	ListFailed(ctx context.Context, limit int) ([]Record, error)
	// Requeue moves a failed record back to pending with attempts reset.
	Requeue(ctx context.Context, eventID string, now time.Time) error
	// Purge deletes published records older than publishedBefore.
	Purge(ctx context.Context, publishedBefore time.Time) (int64, error)
}

type Message struct {
	EventID     string
	EventType   string
	AggregateID string
	Body        []byte
}

type Broker interface {
	// Publish returns only after the broker acknowledged the message.
	Publish(ctx context.Context, msg Message) error
}

type Observer interface {
	OutboxPublished(ctx context.Context, record Record)
	OutboxPublishFailed(ctx context.Context, record Record, err error)
	// OutboxFailed is the operator alarm for exhausted records.
	OutboxFailed(ctx context.Context, record Record, err error)
}

type nopObserver struct{}

func (nopObserver) OutboxPublished(context.Context, Record) {}

func (nopObserver) OutboxPublishFailed(context.Context, Record, error) {}

func (nopObserver) OutboxFailed(context.Context, Record, error) {}
