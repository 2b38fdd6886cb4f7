package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type memoryRepository struct {
	mu      sync.Mutex
	seq     uint64
	records []*Record
}

func (r *memoryRepository) Append(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.EventID == record.EventID {
			return errors.Errorf("duplicate event %s", record.EventID)
		}
	}
	r.seq++
	record.Seq = r.seq
	r.records = append(r.records, &record)
	return nil
}

func (r *memoryRepository) Claim(_ context.Context, now time.Time, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	blocked := map[string]bool{}
	var claimed []Record
	for _, record := range r.records {
		if len(claimed) >= limit {
			break
		}
		if blocked[record.AggregateID] {
			continue
		}
		switch record.Status {
		case StatusInFlight:
			blocked[record.AggregateID] = true
		case StatusPending:
			blocked[record.AggregateID] = true
			if record.NextAttemptAt.After(now) {
				continue
			}
			record.Status = StatusInFlight
			claimedAt := now
			record.ClaimedAt = &claimedAt
			claimed = append(claimed, *record)
		}
	}
	return claimed, nil
}

func (r *memoryRepository) MarkPublished(_ context.Context, eventID string, publishedAt time.Time) error {
	return r.update(eventID, func(record *Record) {
		record.Status = StatusPublished
		record.PublishedAt = &publishedAt
	})
}

func (r *memoryRepository) Reschedule(_ context.Context, eventID string, attempts int, nextAttemptAt time.Time, lastError string) error {
	return r.update(eventID, func(record *Record) {
		record.Status = StatusPending
		record.Attempts = attempts
		record.NextAttemptAt = nextAttemptAt
		record.LastError = lastError
		record.ClaimedAt = nil
	})
}

func (r *memoryRepository) MarkFailed(_ context.Context, eventID string, attempts int, lastError string) error {
	return r.update(eventID, func(record *Record) {
		record.Status = StatusFailed
		record.Attempts = attempts
		record.LastError = lastError
	})
}

func (r *memoryRepository) ReleaseStale(_ context.Context, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, record := range r.records {
		if record.Status == StatusInFlight && record.ClaimedAt.Before(claimedBefore) {
			record.Status = StatusPending
			record.ClaimedAt = nil
			released++
		}
	}
	return released, nil
}

func (r *memoryRepository) ListFailed(_ context.Context, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []Record
	for _, record := range r.records {
		if record.Status == StatusFailed && len(failed) < limit {
			failed = append(failed, *record)
		}
	}
	return failed, nil
}

func (r *memoryRepository) Requeue(_ context.Context, eventID string, now time.Time) error {
	return r.update(eventID, func(record *Record) {
		record.Status = StatusPending
		record.Attempts = 0
		record.NextAttemptAt = now
	})
}

func (r *memoryRepository) Purge(_ context.Context, publishedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*Record
	var purged int64
	for _, record := range r.records {
		if record.Status == StatusPublished && record.PublishedAt.Before(publishedBefore) {
			purged++
			continue
		}
		kept = append(kept, record)
	}
	r.records = kept
	return purged, nil
}

func (r *memoryRepository) update(eventID string, f func(record *Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.EventID == eventID {
			f(record)
			return nil
		}
	}
	return errors.Errorf("event %s not found", eventID)
}

func (r *memoryRepository) get(eventID string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.EventID == eventID {
			return *record
		}
	}
	return Record{}
}

type fakeBroker struct {
	mu        sync.Mutex
	failures  map[string]int
	failAll   bool
	published []Message
}

func (b *fakeBroker) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without timeout")
	}
	if b.failAll {
		return errors.New("broker unreachable")
	}
	if b.failures[msg.EventID] > 0 {
		b.failures[msg.EventID]--
		return errors.New("broker unreachable")
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) publishedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.published))
	for _, msg := range b.published {
		ids = append(ids, msg.EventID)
	}
	return ids
}

type recordingObserver struct {
	mu       sync.Mutex
	failed   []string
	failures int
}

func (o *recordingObserver) OutboxPublished(context.Context, Record) {}

func (o *recordingObserver) OutboxPublishFailed(context.Context, Record, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *recordingObserver) OutboxFailed(_ context.Context, record Record, _ error) {
	o.mu.Lock()
	o.failed = append(o.failed, record.EventID)
	sort.Strings(o.failed)
	o.mu.Unlock()
}

type fakeLocker struct {
	calls []string
}

func (l *fakeLocker) ExecuteWithLock(_ context.Context, lockName string, _ time.Duration, callback func() error) error {
	l.calls = append(l.calls, lockName)
	return callback()
}
