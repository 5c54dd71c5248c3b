// Package metrics exposes billing health signals over Prometheus.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PlanChangeOutcomePersisted   = "persisted"
	PlanChangeOutcomeRejected    = "rejected"
	PlanChangeOutcomeGatewayFail = "gateway_failure"
	PlanChangeOutcomeEntitlement = "entitlement_failure"
	PlanChangeOutcomePersistFail = "persistence_failure"
)

// Config carries the constant labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

// BillingMetrics captures the signals that matter for billing health:
// whether plan changes complete, how external calls behave, and whether
// the reconciler is clearing its backlog.
type BillingMetrics struct {
	planChanges     *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	reconcilerRuns  prometheus.Counter
	reconcilerStuck prometheus.Gauge
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billing"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	planChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_plan_changes_total",
		Help:        "Plan change attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	cancellations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_cancellations_total",
		Help:        "Subscription cancellations by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_registrations_total",
		Help:        "Customer registrations by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billing_gateway_request_duration_seconds",
		Help:        "Payment gateway call latency by operation.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		ConstLabels: constLabels,
	}, []string{"operation"})
	reconcilerRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "billing_reconciler_runs_total",
		Help:        "Reconciler sweeps over unfinished plan changes.",
		ConstLabels: constLabels,
	})
	reconcilerStuck := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "billing_reconciler_unfinished",
		Help:        "Unfinished plan change records seen by the last sweep.",
		ConstLabels: constLabels,
	})

	for _, c := range []prometheus.Collector{
		planChanges, cancellations, registrations,
		gatewayDuration, reconcilerRuns, reconcilerStuck,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			panic(err)
		}
	}

	return &BillingMetrics{
		planChanges:     planChanges,
		cancellations:   cancellations,
		registrations:   registrations,
		gatewayDuration: gatewayDuration,
		reconcilerRuns:  reconcilerRuns,
		reconcilerStuck: reconcilerStuck,
	}
}

// RecordPlanChange increments plan change counts by outcome.
func (m *BillingMetrics) RecordPlanChange(outcome string) {
	if m == nil {
		return
	}
	m.planChanges.WithLabelValues(outcome).Inc()
}

// RecordCancellation increments cancellation counts by outcome.
func (m *BillingMetrics) RecordCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

// RecordRegistration increments registration counts by outcome.
func (m *BillingMetrics) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// ObserveGateway records one gateway call's latency.
func (m *BillingMetrics) ObserveGateway(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordReconcilerSweep records one sweep and its backlog size.
func (m *BillingMetrics) RecordReconcilerSweep(unfinished int) {
	if m == nil {
		return
	}
	m.reconcilerRuns.Inc()
	m.reconcilerStuck.Set(float64(unfinished))
}
