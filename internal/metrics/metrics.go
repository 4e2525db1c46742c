// Package metrics holds the Prometheus collectors for push delivery and the
// feedback sweep.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	OutcomeSent            = "sent"
	OutcomeTokenRejected   = "token_rejected"
	OutcomeGatewayRejected = "gateway_rejected"
	OutcomeTransportFailed = "transport_failed"
)

// Reasons a token is removed from the store.
const (
	RemovedByDispatch = "dispatch"
	RemovedByFeedback = "feedback"
)

// Registry holds all collectors on a private prometheus registry so
// several instances can coexist in one process.
type Registry struct {
	reg *prometheus.Registry

	DeliveriesTotal      *prometheus.CounterVec
	GatewayStatusTotal   *prometheus.CounterVec
	DeliveryDuration     prometheus.Histogram
	TokensRemovedTotal   *prometheus.CounterVec
	FeedbackRecordsTotal prometheus.Counter
	FeedbackSweepsTotal  *prometheus.CounterVec
}

// New creates and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apns_deliveries_total",
			Help: "Notifications handed to the gateway, by outcome",
		}, []string{"outcome"}),
		GatewayStatusTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apns_gateway_status_total",
			Help: "Error responses received from the gateway, by status",
		}, []string{"status"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "apns_delivery_duration_seconds",
			Help:    "Time from dial to the end of the probe window",
			Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
		}),
		TokensRemovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apns_tokens_removed_total",
			Help: "Device tokens unregistered automatically, by reason",
		}, []string{"reason"}),
		FeedbackRecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apns_feedback_records_total",
			Help: "Records read from the feedback service",
		}),
		FeedbackSweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apns_feedback_sweeps_total",
			Help: "Feedback sweeps, by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// The recording methods below accept a nil receiver so components can run
// without metrics.

func (r *Registry) ObserveDelivery(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.DeliveriesTotal.WithLabelValues(outcome).Inc()
	r.DeliveryDuration.Observe(d.Seconds())
}

func (r *Registry) IncGatewayStatus(status string) {
	if r == nil {
		return
	}
	r.GatewayStatusTotal.WithLabelValues(status).Inc()
}

func (r *Registry) IncTokensRemoved(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.TokensRemovedTotal.WithLabelValues(reason).Add(float64(n))
}

func (r *Registry) AddFeedbackRecords(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.FeedbackRecordsTotal.Add(float64(n))
}

func (r *Registry) IncFeedbackSweep(failed bool) {
	if r == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	r.FeedbackSweepsTotal.WithLabelValues(result).Inc()
}
