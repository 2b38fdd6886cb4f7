package inbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

type storedDeadLetter struct {
	EventID       string     `db:"event_id"`
	EventType     string     `db:"event_type"`
	AggregateID   string     `db:"aggregate_id"`
	Payload       []byte     `db:"payload"`
	FailureReason string     `db:"failure_reason"`
	FailureKind   string     `db:"failure_kind"`
	AttemptCount  int        `db:"attempt_count"`
	FirstFailedAt time.Time  `db:"first_failed_at"`
	LastAttemptAt time.Time  `db:"last_attempt_at"`
	Status        string     `db:"status"`
	ReplayedAt    *time.Time `db:"replayed_at"`
}

func (d storedDeadLetter) record() deadletter.Record {
	return deadletter.Record{
		EventID:       d.EventID,
		EventType:     d.EventType,
		AggregateID:   d.AggregateID,
		Body:          d.Payload,
		FailureReason: d.FailureReason,
		FailureKind:   deadletter.Kind(d.FailureKind),
		AttemptCount:  d.AttemptCount,
		FirstFailedAt: d.FirstFailedAt,
		LastAttemptAt: d.LastAttemptAt,
		Status:        deadletter.Status(d.Status),
		ReplayedAt:    d.ReplayedAt,
	}
}

const deadLetterColumns = `event_id, event_type, aggregate_id, payload, failure_reason, failure_kind,
		attempt_count, first_failed_at, last_attempt_at, status, replayed_at`

func NewDeadLetterRepository(client mysql.ClientContext) deadletter.Repository {
	return &deadLetterRepository{client: client}
}

type deadLetterRepository struct {
	client mysql.ClientContext
}

// Park keeps first_failed_at of an existing record, so a replayed event that
// fails again shows when it first broke.
func (r *deadLetterRepository) Park(ctx context.Context, record deadletter.Record) error {
	const sqlQuery = `
		INSERT INTO inbox_dead_letter (` + deadLetterColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON DUPLICATE KEY UPDATE
			event_type = VALUES(event_type),
			aggregate_id = VALUES(aggregate_id),
			payload = VALUES(payload),
			failure_reason = VALUES(failure_reason),
			failure_kind = VALUES(failure_kind),
			attempt_count = VALUES(attempt_count),
			last_attempt_at = VALUES(last_attempt_at),
			status = VALUES(status),
			replayed_at = NULL
	`
	_, err := r.client.ExecContext(ctx, sqlQuery,
		record.EventID,
		record.EventType,
		record.AggregateID,
		record.Body,
		truncate(record.FailureReason),
		string(record.FailureKind),
		record.AttemptCount,
		record.FirstFailedAt,
		record.LastAttemptAt,
		string(deadletter.StatusParked),
	)
	return mysql.Classify(errors.WithStack(err))
}

func (r *deadLetterRepository) Get(ctx context.Context, eventID string) (deadletter.Record, error) {
	const sqlQuery = `SELECT ` + deadLetterColumns + ` FROM inbox_dead_letter WHERE event_id = ?`
	var stored storedDeadLetter
	err := r.client.GetContext(ctx, &stored, sqlQuery, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deadletter.Record{}, errors.Wrapf(deadletter.ErrNotFound, "event %s", eventID)
		}
		return deadletter.Record{}, mysql.Classify(errors.WithStack(err))
	}
	return stored.record(), nil
}

func (r *deadLetterRepository) List(ctx context.Context, status deadletter.Status, limit int) ([]deadletter.Record, error) {
	var (
		stored []storedDeadLetter
		err    error
	)
	if status == "" {
		err = r.client.SelectContext(ctx, &stored, `
			SELECT `+deadLetterColumns+` FROM inbox_dead_letter
			ORDER BY last_attempt_at DESC
			LIMIT ?
		`, limit)
	} else {
		err = r.client.SelectContext(ctx, &stored, `
			SELECT `+deadLetterColumns+` FROM inbox_dead_letter
			WHERE status = ?
			ORDER BY last_attempt_at DESC
			LIMIT ?
		`, string(status), limit)
	}
	if err != nil {
		return nil, mysql.Classify(errors.WithStack(err))
	}

	records := make([]deadletter.Record, 0, len(stored))
	for _, d := range stored {
		records = append(records, d.record())
	}
	return records, nil
}

func (r *deadLetterRepository) MarkReplayed(ctx context.Context, eventID string, replayedAt time.Time) error {
	const sqlQuery = `UPDATE inbox_dead_letter SET status = ?, replayed_at = ? WHERE event_id = ?`
	result, err := r.client.ExecContext(ctx, sqlQuery, string(deadletter.StatusReplayed), replayedAt, eventID)
	if err != nil {
		return mysql.Classify(errors.WithStack(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.Wrapf(deadletter.ErrNotFound, "event %s", eventID)
	}
	return nil
}

const maxReasonLength = 2048

func truncate(s string) string {
	if len(s) > maxReasonLength {
		return s[:maxReasonLength]
	}
	return s
}
