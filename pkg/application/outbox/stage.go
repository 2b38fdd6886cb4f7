package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
)

// Stage encodes e and appends it as a pending record through w. Call it with
// the Writer of the unit of work that performs the state change.
func Stage(ctx context.Context, w Writer, e event.DomainEvent, now time.Time) (Record, error) {
	body, err := event.Encode(e)
	if err != nil {
		return Record{}, errors.Wrapf(err, "encode event %s", e.EventID)
	}
	record := Record{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		Body:          body,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err = w.Append(ctx, record); err != nil {
		return Record{}, errors.Wrapf(err, "stage event %s", e.EventID)
	}
	return record, nil
}
