package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-legacy/internal/metrics"
)

func TestRegistry_Recording(t *testing.T) {
	reg := metrics.New()

	reg.ObserveDelivery(metrics.OutcomeSent, 120*time.Millisecond)
	reg.ObserveDelivery(metrics.OutcomeSent, 160*time.Millisecond)
	reg.ObserveDelivery(metrics.OutcomeTokenRejected, time.Millisecond)
	reg.IncGatewayStatus("invalid token")
	reg.IncTokensRemoved(metrics.RemovedByFeedback, 3)
	reg.IncTokensRemoved(metrics.RemovedByFeedback, 0)
	reg.AddFeedbackRecords(4)
	reg.IncFeedbackSweep(false)
	reg.IncFeedbackSweep(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.DeliveriesTotal.WithLabelValues(metrics.OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.DeliveriesTotal.WithLabelValues(metrics.OutcomeTokenRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.GatewayStatusTotal.WithLabelValues("invalid token")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.TokensRemovedTotal.WithLabelValues(metrics.RemovedByFeedback)))
	assert.Equal(t, 4.0, testutil.ToFloat64(reg.FeedbackRecordsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.FeedbackSweepsTotal.WithLabelValues("error")))
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var reg *metrics.Registry
	assert.NotPanics(t, func() {
		reg.ObserveDelivery(metrics.OutcomeSent, time.Second)
		reg.IncGatewayStatus("x")
		reg.IncTokensRemoved(metrics.RemovedByDispatch, 1)
		reg.AddFeedbackRecords(1)
		reg.IncFeedbackSweep(false)
	})
}

func TestRegistry_Handler(t *testing.T) {
	reg := metrics.New()
	reg.AddFeedbackRecords(2)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "apns_feedback_records_total 2")
}
