package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FundingMetrics aggregates the counters describing ledger and settlement
// activity.
type FundingMetrics struct {
	Pledges            prometheus.Counter
	Refunds            prometheus.Counter
	Dispatches         prometheus.Counter
	SettlementOutcomes *prometheus.CounterVec
}

var (
	fundingMetricsOnce sync.Once
	fundingRegistry    *FundingMetrics
)

// Funding returns the lazily-initialised funding metrics registry.
func Funding() *FundingMetrics {
	fundingMetricsOnce.Do(func() {
		fundingRegistry = &FundingMetrics{
			Pledges: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "metastage",
				Subsystem: "funding",
				Name:      "pledges_total",
				Help:      "Total pledges recorded in the funding ledger.",
			}),
			Refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "metastage",
				Subsystem: "funding",
				Name:      "refunds_total",
				Help:      "Total inbound payments refunded in full.",
			}),
			Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "metastage",
				Subsystem: "settlement",
				Name:      "dispatches_total",
				Help:      "Total outbound settlement transfers dispatched.",
			}),
			SettlementOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metastage",
				Subsystem: "settlement",
				Name:      "outcomes_total",
				Help:      "Settlement outcomes segmented by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			fundingRegistry.Pledges,
			fundingRegistry.Refunds,
			fundingRegistry.Dispatches,
			fundingRegistry.SettlementOutcomes,
		)
	})
	return fundingRegistry
}
