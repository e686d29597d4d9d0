package metrics

import (
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки outcome для счетчиков ниже
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
)

// ProvisioningMetrics интерфейс для метрик доступа и номеров
type ProvisioningMetrics interface {
	IncTrial(outcome string)
	IncApprovalSubmitted(plan string)
	IncApprovalDecided(decision string)
	IncRevocation()
	IncLogin(outcome string)
	IncPurchase(outcome string)
	ObservePurchaseCost(amount float64)
	IncInbound(outcome string)
	ObserveBackendCall(operation, outcome string, d time.Duration)
}

type provisioningMetrics struct {
	log          *logger.Logger
	trials       *prometheus.CounterVec
	approvals    *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	revocations  prometheus.Counter
	logins       *prometheus.CounterVec
	purchases    *prometheus.CounterVec
	purchaseCost prometheus.Histogram
	inbound      *prometheus.CounterVec
	backendCalls *prometheus.HistogramVec
}

// NewProvisioningMetrics регистрирует метрики в registry
func NewProvisioningMetrics(registry *prometheus.Registry, log *logger.Logger) ProvisioningMetrics {
	f := promauto.With(registry)

	return &provisioningMetrics{
		log: log,
		trials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_trials_total",
				Help: "Trial grant attempts by outcome",
			},
			[]string{"outcome"},
		),
		approvals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_requests_total",
				Help: "Paid plan requests submitted, by plan",
			},
			[]string{"plan"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_decisions_total",
				Help: "Applied administrator decisions",
			},
			[]string{"decision"},
		),
		revocations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlement_revocations_total",
				Help: "Lapsed windows revoked by the sweeper",
			},
		),
		logins: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioning_logins_total",
				Help: "Provisioning credential submissions by outcome",
			},
			[]string{"outcome"},
		),
		purchases: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "number_purchases_total",
				Help: "Number purchase attempts by outcome",
			},
			[]string{"outcome"},
		),
		purchaseCost: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "number_purchase_cost",
				Help:    "Quoted cost of purchased numbers in the reference currency",
				Buckets: []float64{0.5, 1, 1.5, 2, 5, 10},
			},
		),
		inbound: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbound_messages_total",
				Help: "Inbound provisioning events by routing outcome",
			},
			[]string{"outcome"},
		),
		backendCalls: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioning_backend_call_seconds",
				Help:    "Latency of provisioning backend calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
	}
}

func (m *provisioningMetrics) IncTrial(outcome string) {
	m.trials.WithLabelValues(outcome).Inc()
}

func (m *provisioningMetrics) IncApprovalSubmitted(plan string) {
	m.approvals.WithLabelValues(plan).Inc()
}

func (m *provisioningMetrics) IncApprovalDecided(decision string) {
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *provisioningMetrics) IncRevocation() {
	m.revocations.Inc()
}

func (m *provisioningMetrics) IncLogin(outcome string) {
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *provisioningMetrics) IncPurchase(outcome string) {
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *provisioningMetrics) ObservePurchaseCost(amount float64) {
	m.purchaseCost.Observe(amount)
}

func (m *provisioningMetrics) IncInbound(outcome string) {
	m.inbound.WithLabelValues(outcome).Inc()
}

// ObserveBackendCall фиксирует один исходящий вызов к провайдеру номеров
func (m *provisioningMetrics) ObserveBackendCall(operation, outcome string, d time.Duration) {
	m.backendCalls.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

type nopProvisioningMetrics struct{}

// NewNopProvisioningMetrics возвращает метрики, которые ничего не записывают
func NewNopProvisioningMetrics() ProvisioningMetrics {
	return nopProvisioningMetrics{}
}

func (nopProvisioningMetrics) IncTrial(string)                                  {}
func (nopProvisioningMetrics) IncApprovalSubmitted(string)                      {}
func (nopProvisioningMetrics) IncApprovalDecided(string)                        {}
func (nopProvisioningMetrics) IncRevocation()                                   {}
func (nopProvisioningMetrics) IncLogin(string)                                  {}
func (nopProvisioningMetrics) IncPurchase(string)                               {}
func (nopProvisioningMetrics) ObservePurchaseCost(float64)                      {}
func (nopProvisioningMetrics) IncInbound(string)                                {}
func (nopProvisioningMetrics) ObserveBackendCall(string, string, time.Duration) {}
