package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/retry"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/logging"
)

var testPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

type publisherFixture struct {
	repo      *memoryRepository
	broker    *fakeBroker
	observer  *recordingObserver
	publisher *publisher
	now       time.Time
}

func newPublisherFixture(t *testing.T) *publisherFixture {
	t.Helper()
	f := &publisherFixture{
		repo:     &memoryRepository{},
		broker:   &fakeBroker{failures: map[string]int{}},
		observer: &recordingObserver{},
		now:      time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	p := NewPublisher(f.repo, f.broker, PublisherConfig{
		BatchSize:      10,
		PollInterval:   10 * time.Millisecond,
		PublishTimeout: time.Second,
		Policy:         testPolicy,
	}, f.observer, logging.NewDiscardLogger())
	f.publisher = p.(*publisher)
	f.publisher.now = func() time.Time { return f.now }
	return f
}

func (f *publisherFixture) stage(t *testing.T, personID, name string, version int64) Record {
	t.Helper()
	e, err := event.New(event.PersonUpdatedV1{PersonID: personID, Name: name, Version: version}, f.now)
	require.NoError(t, err)
	record, err := Stage(context.Background(), f.repo, e, f.now)
	require.NoError(t, err)
	return record
}

func TestStage(t *testing.T) {
	f := newPublisherFixture(t)
	record := f.stage(t, "P-42", "Alicia", 2)

	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, "P-42", record.AggregateID)
	assert.Equal(t, event.PersonUpdatedType, record.EventType)

	decoded, err := event.Decode(record.Body)
	require.NoError(t, err)
	assert.Equal(t, record.EventID, decoded.EventID)

	t.Run("writer failure is reported", func(t *testing.T) {
		e, err := event.New(event.PersonUpdatedV1{PersonID: "P-1", Version: 1}, f.now)
		require.NoError(t, err)
		_, err = Stage(context.Background(), failingWriter{}, e, f.now)
		assert.Error(t, err)
	})
}

type failingWriter struct{}

func (failingWriter) Append(context.Context, Record) error {
	return errors.New("tx aborted")
}

func TestPublishBatchPublishesStoredBytes(t *testing.T) {
	f := newPublisherFixture(t)
	record := f.stage(t, "P-42", "Alicia", 2)

	published, err := f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	require.Len(t, f.broker.published, 1)
	assert.Equal(t, record.Body, f.broker.published[0].Body)
	assert.Equal(t, "P-42", f.broker.published[0].AggregateID)

	stored := f.repo.get(record.EventID)
	assert.Equal(t, StatusPublished, stored.Status)
	require.NotNil(t, stored.PublishedAt)
	assert.Equal(t, f.now, *stored.PublishedAt)
}

func TestPublishBatchKeepsPerAggregateOrder(t *testing.T) {
	f := newPublisherFixture(t)
	first := f.stage(t, "P-1", "Ann", 1)
	second := f.stage(t, "P-1", "Anna", 2)
	other := f.stage(t, "P-2", "Bob", 1)

	_, err := f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{first.EventID, other.EventID}, f.broker.publishedIDs())

	_, err = f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{first.EventID, other.EventID, second.EventID}, f.broker.publishedIDs())
}

func TestPublishBatchReschedulesWithBackoff(t *testing.T) {
	f := newPublisherFixture(t)
	first := f.stage(t, "P-1", "Ann", 1)
	second := f.stage(t, "P-1", "Anna", 2)
	f.broker.failures[first.EventID] = 2

	_, err := f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)

	stored := f.repo.get(first.EventID)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, f.now.Add(time.Second), stored.NextAttemptAt)
	assert.Equal(t, "broker unreachable", stored.LastError)

	// not due yet, and the second event waits behind the first
	published, err := f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, published)

	f.now = f.now.Add(time.Second)
	_, err = f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	stored = f.repo.get(first.EventID)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, f.now.Add(2*time.Second), stored.NextAttemptAt)

	f.now = f.now.Add(2 * time.Second)
	_, err = f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	_, err = f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{first.EventID, second.EventID}, f.broker.publishedIDs())
	assert.Equal(t, 2, f.observer.failures)
	assert.Empty(t, f.observer.failed)
}

func TestPublishBatchFailsAfterMaxAttempts(t *testing.T) {
	f := newPublisherFixture(t)
	doomed := f.stage(t, "P-1", "Ann", 1)
	next := f.stage(t, "P-1", "Anna", 2)
	f.broker.failures[doomed.EventID] = 100

	for i := 0; i < testPolicy.MaxAttempts; i++ {
		_, err := f.publisher.PublishBatch(context.Background())
		require.NoError(t, err)
		f.now = f.now.Add(time.Hour)
	}

	stored := f.repo.get(doomed.EventID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, testPolicy.MaxAttempts, stored.Attempts)
	assert.Equal(t, []string{doomed.EventID}, f.observer.failed)

	failed, err := f.repo.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, doomed.EventID, failed[0].EventID)

	// a failed record does not block new events of the same aggregate
	_, err = f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{next.EventID}, f.broker.publishedIDs())
}

func TestConcurrentPublishersSendEachEventOnce(t *testing.T) {
	f := newPublisherFixture(t)
	var staged []string
	for i := 0; i < 20; i++ {
		for _, person := range []string{"P-1", "P-2", "P-3", "P-4"} {
			staged = append(staged, f.stage(t, person, "name", int64(i+1)).EventID)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				published, err := f.publisher.PublishBatch(context.Background())
				if err != nil || published == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	for {
		published, err := f.publisher.PublishBatch(context.Background())
		require.NoError(t, err)
		if published == 0 {
			break
		}
	}

	assert.ElementsMatch(t, staged, f.broker.publishedIDs())
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newPublisherFixture(t)
	record := f.stage(t, "P-42", "Alicia", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.publisher.Run(ctx)
	}()

	f.publisher.Wake()
	require.Eventually(t, func() bool {
		return f.repo.get(record.EventID).Status == StatusPublished
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestJanitorSweep(t *testing.T) {
	f := newPublisherFixture(t)
	old := f.stage(t, "P-1", "Ann", 1)
	_, err := f.publisher.PublishBatch(context.Background())
	require.NoError(t, err)

	stuck := f.stage(t, "P-2", "Bob", 1)
	claimed, err := f.repo.Claim(context.Background(), f.now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, StatusInFlight, f.repo.get(stuck.EventID).Status)

	locker := &fakeLocker{}
	janitor := NewJanitor(f.repo, locker, JanitorConfig{
		ClaimLease: time.Minute,
		Retention:  time.Hour,
	}, logging.NewDiscardLogger())
	janitor.now = func() time.Time { return f.now.Add(2 * time.Hour) }

	require.NoError(t, janitor.Sweep(context.Background()))
	assert.Equal(t, []string{janitorLockName}, locker.calls)
	assert.Equal(t, StatusPending, f.repo.get(stuck.EventID).Status)
	assert.Empty(t, f.repo.get(old.EventID).EventID, "published record past retention is purged")
}
