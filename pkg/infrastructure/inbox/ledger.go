// Package inbox holds the consumer-side MySQL stores: the idempotency ledger
// and parked dead letters.
package inbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/ledger"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

type storedLedgerRecord struct {
	EventID     string    `db:"event_id"`
	AggregateID string    `db:"aggregate_id"`
	Outcome     string    `db:"outcome"`
	OutcomeHash string    `db:"outcome_hash"`
	Attempts    int       `db:"attempts"`
	ProcessedAt time.Time `db:"processed_at"`
}

// NewLedger returns the ledger over client. Inside a unit of work pass the
// transaction, so the record commits together with the mutation.
func NewLedger(client mysql.ClientContext) ledger.Ledger {
	return &ledgerRepository{client: client}
}

type ledgerRepository struct {
	client mysql.ClientContext
}

func (r *ledgerRepository) Get(ctx context.Context, eventID string) (ledger.Record, error) {
	const sqlQuery = `
		SELECT event_id, aggregate_id, outcome, outcome_hash, attempts, processed_at
		FROM inbox_ledger
		WHERE event_id = ?
	`
	var stored storedLedgerRecord
	err := r.client.GetContext(ctx, &stored, sqlQuery, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Record{}, errors.WithStack(ledger.ErrNotFound)
		}
		return ledger.Record{}, mysql.Classify(errors.WithStack(err))
	}
	return ledger.Record{
		EventID:     stored.EventID,
		AggregateID: stored.AggregateID,
		Outcome:     ledger.Outcome(stored.Outcome),
		OutcomeHash: stored.OutcomeHash,
		Attempts:    stored.Attempts,
		ProcessedAt: stored.ProcessedAt,
	}, nil
}

func (r *ledgerRepository) Insert(ctx context.Context, record ledger.Record) error {
	const sqlQuery = `
		INSERT INTO inbox_ledger (event_id, aggregate_id, outcome, outcome_hash, attempts, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.client.ExecContext(ctx, sqlQuery,
		record.EventID,
		record.AggregateID,
		string(record.Outcome),
		record.OutcomeHash,
		record.Attempts,
		record.ProcessedAt,
	)
	if err != nil {
		if mysql.IsDuplicateEntry(err) {
			return errors.Wrapf(ledger.ErrAlreadyProcessed, "event %s", record.EventID)
		}
		return mysql.Classify(errors.WithStack(err))
	}
	return nil
}
