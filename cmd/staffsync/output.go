package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/person"
)

type personView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Position  string    `json:"position"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type outboxView struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type deadLetterView struct {
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type,omitempty"`
	AggregateID   string     `json:"aggregate_id,omitempty"`
	FailureKind   string     `json:"failure_kind"`
	FailureReason string     `json:"failure_reason"`
	AttemptCount  int        `json:"attempt_count"`
	FirstFailedAt time.Time  `json:"first_failed_at"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	Status        string     `json:"status"`
	ReplayedAt    *time.Time `json:"replayed_at,omitempty"`
}

func newPersonView(p person.Person) personView {
	return personView{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Position:  p.Position,
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,
	}
}

func newOutboxView(r outbox.Record) outboxView {
	return outboxView{
		EventID:     r.EventID,
		EventType:   r.EventType,
		AggregateID: r.AggregateID,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
	}
}

func newDeadLetterView(r deadletter.Record) deadLetterView {
	return deadLetterView{
		EventID:       r.EventID,
		EventType:     r.EventType,
		AggregateID:   r.AggregateID,
		FailureKind:   string(r.FailureKind),
		FailureReason: r.FailureReason,
		AttemptCount:  r.AttemptCount,
		FirstFailedAt: r.FirstFailedAt,
		LastAttemptAt: r.LastAttemptAt,
		Status:        string(r.Status),
		ReplayedAt:    r.ReplayedAt,
	}
}

// writeJSONLines writes one JSON document per line.
func writeJSONLines[T any](w io.Writer, items []T) error {
	encoder := json.NewEncoder(w)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
