package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type ledgerMetrics struct {
	writes     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	contention *prometheus.CounterVec
	stockLevel *prometheus.GaugeVec
}

func newLedgerMetrics() *ledgerMetrics {
	return &ledgerMetrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tireshop",
			Subsystem: "ledger",
			Name:      "writes_total",
			Help:      "Committed ledger writes by family and operation.",
		}, []string{"family", "operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tireshop",
			Subsystem: "ledger",
			Name:      "rejections_total",
			Help:      "Rejected writes by operation and reason.",
		}, []string{"operation", "reason"}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tireshop",
			Subsystem: "ledger",
			Name:      "contention_retries_total",
			Help:      "Transactions retried after a product row lock conflict.",
		}, []string{"operation"}),
		stockLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tireshop",
			Subsystem: "ledger",
			Name:      "last_written_quantity",
			Help:      "Quantity of the product touched by the latest ledger write, per family.",
		}, []string{"family"}),
	}
}

func (lm *ledgerMetrics) register(reg prometheus.Registerer, logger *zap.Logger) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{lm.writes, lm.rejections, lm.contention, lm.stockLevel} {
		if err := reg.Register(c); err != nil {
			logger.Warn("ledger metric not registered", zap.Error(err))
		}
	}
}

func (lm *ledgerMetrics) written(family Family, op string, quantity int64) {
	lm.writes.WithLabelValues(string(family), op).Inc()
	lm.stockLevel.WithLabelValues(string(family)).Set(float64(quantity))
}
