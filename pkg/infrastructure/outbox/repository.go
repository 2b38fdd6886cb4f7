package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

type storedEvent struct {
	Seq           uint64     `db:"seq"`
	EventID       string     `db:"event_id"`
	EventType     string     `db:"event_type"`
	AggregateID   string     `db:"aggregate_id"`
	Payload       []byte     `db:"payload"`
	Status        string     `db:"status"`
	Attempts      int        `db:"attempts"`
	LastError     string     `db:"last_error"`
	NextAttemptAt time.Time  `db:"next_attempt_at"`
	ClaimedAt     *time.Time `db:"claimed_at"`
	CreatedAt     time.Time  `db:"created_at"`
	PublishedAt   *time.Time `db:"published_at"`
}

func (e storedEvent) record() outbox.Record {
	return outbox.Record{
		Seq:           e.Seq,
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		Body:          e.Payload,
		Status:        outbox.Status(e.Status),
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		NextAttemptAt: e.NextAttemptAt,
		ClaimedAt:     e.ClaimedAt,
		CreatedAt:     e.CreatedAt,
		PublishedAt:   e.PublishedAt,
	}
}

const selectColumns = `seq, event_id, event_type, aggregate_id, payload, status, attempts, last_error,
		next_attempt_at, claimed_at, created_at, published_at`

// NewWriter returns a Writer bound to client, normally the transaction of the
// unit of work that changes the aggregate.
func NewWriter(client mysql.ClientContext, transport string) outbox.Writer {
	return NewRepository(client, transport)
}

// Repository is the MySQL outbox store for one transport, kept in the
// outbox_<transport>_event table.
type Repository interface {
	outbox.Writer
	outbox.Repository
}

func NewRepository(client mysql.ClientContext, transport string) Repository {
	if transport == "" {
		panic("transport cannot be empty")
	}
	return &repository{
		client:    client,
		transport: transport,
	}
}

type repository struct {
	client    mysql.ClientContext
	transport string
}

func (r *repository) Append(ctx context.Context, record outbox.Record) error {
	_, err := r.client.ExecContext(ctx, r.query(`
		INSERT INTO %table% (event_id, event_type, aggregate_id, payload, status, attempts, last_error, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
	`),
		record.EventID,
		record.EventType,
		record.AggregateID,
		record.Body,
		string(outbox.StatusPending),
		record.NextAttemptAt,
		record.CreatedAt,
	)
	return mysql.Classify(errors.WithStack(err))
}

func (r *repository) Claim(ctx context.Context, now time.Time, limit int) ([]outbox.Record, error) {
	// Only the oldest unfinished record of an aggregate is a candidate, so a
	// newer event never overtakes an older one that is pending or in flight.
	var candidates []storedEvent
	err := r.client.SelectContext(ctx, &candidates, r.query(`
		SELECT `+selectColumns+`
		FROM %table% e
		WHERE e.status = 'pending'
			AND e.next_attempt_at <= ?
			AND NOT EXISTS (
				SELECT 1 FROM %table% o
				WHERE o.aggregate_id = e.aggregate_id
					AND o.seq < e.seq
					AND o.status IN ('pending', 'in_flight')
			)
		ORDER BY e.seq
		LIMIT ?
	`), now, limit)
	if err != nil {
		return nil, mysql.Classify(errors.WithStack(err))
	}

	claimed := make([]outbox.Record, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := r.client.ExecContext(ctx, r.query(`
			UPDATE %table% SET status = 'in_flight', claimed_at = ?
			WHERE seq = ? AND status = 'pending'
		`), now, candidate.Seq)
		if err != nil {
			return claimed, mysql.Classify(errors.WithStack(err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return claimed, errors.WithStack(err)
		}
		if affected == 0 {
			// claimed by another worker
			continue
		}
		record := candidate.record()
		record.Status = outbox.StatusInFlight
		claimedAt := now
		record.ClaimedAt = &claimedAt
		claimed = append(claimed, record)
	}
	return claimed, nil
}

func (r *repository) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	_, err := r.client.ExecContext(ctx, r.query(`
		UPDATE %table% SET status = 'published', published_at = ?, claimed_at = NULL
		WHERE event_id = ? AND status IN ('pending', 'in_flight')
	`), publishedAt, eventID)
	return mysql.Classify(errors.WithStack(err))
}

func (r *repository) Reschedule(ctx context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.client.ExecContext(ctx, r.query(`
		UPDATE %table% SET status = 'pending', attempts = ?, next_attempt_at = ?, last_error = ?, claimed_at = NULL
		WHERE event_id = ? AND status = 'in_flight'
	`), attempts, nextAttemptAt, truncate(lastError), eventID)
	return mysql.Classify(errors.WithStack(err))
}

func (r *repository) MarkFailed(ctx context.Context, eventID string, attempts int, lastError string) error {
	_, err := r.client.ExecContext(ctx, r.query(`
		UPDATE %table% SET status = 'failed', attempts = ?, last_error = ?, claimed_at = NULL
		WHERE event_id = ? AND status = 'in_flight'
	`), attempts, truncate(lastError), eventID)
	return mysql.Classify(errors.WithStack(err))
}

func (r *repository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	result, err := r.client.ExecContext(ctx, r.query(`
		UPDATE %table% SET status = 'pending', claimed_at = NULL
		WHERE status = 'in_flight' AND claimed_at < ?
	`), claimedBefore)
	if err != nil {
		return 0, mysql.Classify(errors.WithStack(err))
	}
	affected, err := result.RowsAffected()
	return affected, errors.WithStack(err)
}

func (r *repository) ListFailed(ctx context.Context, limit int) ([]outbox.Record, error) {
	var events []storedEvent
	err := r.client.SelectContext(ctx, &events, r.query(`
		SELECT `+selectColumns+`
		FROM %table%
		WHERE status = 'failed'
		ORDER BY seq
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, mysql.Classify(errors.WithStack(err))
	}
	records := make([]outbox.Record, 0, len(events))
	for _, e := range events {
		records = append(records, e.record())
	}
	return records, nil
}

func (r *repository) Requeue(ctx context.Context, eventID string, now time.Time) error {
	result, err := r.client.ExecContext(ctx, r.query(`
		UPDATE %table% SET status = 'pending', attempts = 0, next_attempt_at = ?, last_error = ''
		WHERE event_id = ? AND status = 'failed'
	`), now, eventID)
	if err != nil {
		return mysql.Classify(errors.WithStack(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.Wrapf(outbox.ErrRecordNotFound, "failed event %s", eventID)
	}
	return nil
}

func (r *repository) Purge(ctx context.Context, publishedBefore time.Time) (int64, error) {
	result, err := r.client.ExecContext(ctx, r.query(`
		DELETE FROM %table% WHERE status = 'published' AND published_at < ?
	`), publishedBefore)
	if err != nil {
		return 0, mysql.Classify(errors.WithStack(err))
	}
	affected, err := result.RowsAffected()
	return affected, errors.WithStack(err)
}

func (r *repository) query(query string) string {
	return strings.ReplaceAll(query, "%table%", fmt.Sprintf("outbox_%s_event", r.transport))
}

const maxErrorLength = 1024

func truncate(s string) string {
	if len(s) > maxErrorLength {
		return s[:maxErrorLength]
	}
	return s
}
