package outbox

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	libmysql "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

var columns = []string{
	"seq", "event_id", "event_type", "aggregate_id", "payload", "status", "attempts", "last_error",
	"next_attempt_at", "claimed_at", "created_at", "published_at",
}

func newRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewRepository(libmysql.NewTransactionalClient(sqlx.NewDb(db, "mysql")), "amqp"), mock
}

func TestRepositoryAppend(t *testing.T) {
	repo, mock := newRepository(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO outbox_amqp_event").
		WithArgs("E-1", "PersonUpdated", "P-1", []byte(`{"eventId":"E-1"}`), "pending", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Append(context.Background(), outbox.Record{
		EventID:       "E-1",
		EventType:     "PersonUpdated",
		AggregateID:   "P-1",
		Body:          []byte(`{"eventId":"E-1"}`),
		NextAttemptAt: now,
		CreatedAt:     now,
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClaim(t *testing.T) {
	repo, mock := newRepository(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	created := now.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_amqp_event e WHERE e.status = 'pending'")).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, "E-1", "PersonUpdated", "P-1", []byte("one"), "pending", 0, "", created, nil, created, nil).
			AddRow(2, "E-2", "PersonUpdated", "P-2", []byte("two"), "pending", 1, "nack", created, nil, created, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_amqp_event SET status = 'in_flight'")).
		WithArgs(now, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// lost to a concurrent worker
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_amqp_event SET status = 'in_flight'")).
		WithArgs(now, 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	records, err := repo.Claim(context.Background(), now, 10)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E-1", records[0].EventID)
	assert.Equal(t, outbox.StatusInFlight, records[0].Status)
	assert.Equal(t, []byte("one"), records[0].Body)
	require.NotNil(t, records[0].ClaimedAt)
	assert.Equal(t, now, *records[0].ClaimedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryTransitions(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	t.Run("mark published", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'published', published_at = ?")).
			WithArgs(now, "E-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkPublished(context.Background(), "E-1", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reschedule", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending', attempts = ?, next_attempt_at = ?")).
			WithArgs(2, now, "broker unreachable", "E-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Reschedule(context.Background(), "E-1", 2, now, "broker unreachable"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark failed", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
			WithArgs(5, "broker unreachable", "E-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkFailed(context.Background(), "E-1", 5, "broker unreachable"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock is transient", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec("UPDATE outbox_amqp_event").WillReturnError(&mysql.MySQLError{Number: 1213})

		err := repo.MarkPublished(context.Background(), "E-1", now)
		assert.True(t, liberr.IsTransient(err))
	})
}

func TestRepositoryMaintenance(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	t.Run("release stale", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE status = 'in_flight' AND claimed_at < ?")).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 3))

		released, err := repo.ReleaseStale(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, int64(3), released)
	})

	t.Run("purge", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_amqp_event WHERE status = 'published'")).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 7))

		purged, err := repo.Purge(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), purged)
	})

	t.Run("list failed", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'failed'")).
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(4, "E-4", "PersonUpdated", "P-4", []byte("four"), "failed", 5, "broker unreachable", now, nil, now, nil))

		records, err := repo.ListFailed(context.Background(), 50)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, outbox.StatusFailed, records[0].Status)
		assert.Equal(t, 5, records[0].Attempts)
	})

	t.Run("requeue", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE event_id = ? AND status = 'failed'")).
			WithArgs(now, "E-4").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Requeue(context.Background(), "E-4", now))
	})

	t.Run("requeue of a record that is not failed", func(t *testing.T) {
		repo, mock := newRepository(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE event_id = ? AND status = 'failed'")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Requeue(context.Background(), "E-4", now), outbox.ErrRecordNotFound)
	})
}
