package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/redelivery"
)

var (
	_ outbox.Observer     = (*Metrics)(nil)
	_ redelivery.Observer = (*Metrics)(nil)
)

func TestMetricsCount(t *testing.T) {
	m := New("staffsync")
	ctx := context.Background()
	failure := errors.New("broker unreachable")

	m.OutboxPublished(ctx, outbox.Record{})
	m.OutboxPublished(ctx, outbox.Record{})
	m.OutboxPublishFailed(ctx, outbox.Record{}, failure)
	m.OutboxFailed(ctx, outbox.Record{}, failure)
	m.DeliveryHandled(redelivery.OutcomeApplied)
	m.DeliveryHandled(redelivery.OutcomeDuplicate)
	m.DeliveryHandled(redelivery.OutcomeApplied)
	m.DeadLettered(deadletter.KindExhausted)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLetters.WithLabelValues("exhausted")))
}

func TestMetricsHandler(t *testing.T) {
	m := New("staffsync")
	m.OutboxFailed(context.Background(), outbox.Record{}, errors.New("broker unreachable"))

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "staffsync_outbox_failed_total 1")
}
