package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics counts reconciliation signals by source and outcome.
type ReconcileMetrics struct {
	signals  *prometheus.CounterVec
	purchase *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation counters on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	signals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_signals_total",
		Help: "Reconciliation signals processed, by source and outcome.",
	}, []string{"source", "outcome"})
	purchase := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_purchases_total",
		Help: "Purchase attempts, by result.",
	}, []string{"result"})
	reg.MustRegister(signals, purchase)
	return &ReconcileMetrics{signals: signals, purchase: purchase}
}

// IncSignal records one reconciliation attempt.
func (m *ReconcileMetrics) IncSignal(source, outcome string) {
	if m == nil || m.signals == nil {
		return
	}
	m.signals.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncPurchase records a purchase result: created, reused, failed or unlinked.
func (m *ReconcileMetrics) IncPurchase(result string) {
	if m == nil || m.purchase == nil {
		return
	}
	m.purchase.WithLabelValues(normalizeLabel(result)).Inc()
}
