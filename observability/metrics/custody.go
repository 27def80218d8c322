package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CustodyMetrics struct {
	operations      *prometheus.CounterVec
	operationErrors *prometheus.CounterVec
	deposits        prometheus.Counter
	transfers       prometheus.Counter
	withdrawals     prometheus.Counter
	operatorCount   prometheus.Gauge
}

var (
	custodyOnce     sync.Once
	custodyRegistry *CustodyMetrics
)

func Custody() *CustodyMetrics {
	custodyOnce.Do(func() {
		custodyRegistry = &CustodyMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "custody_operations_total",
				Help: "Count of custody operations attempted by method.",
			}, []string{"method"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "custody_operation_errors_total",
				Help: "Count of custody operations rejected by method.",
			}, []string{"method"}),
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "custody_deposits_total",
				Help: "Number of deposit records created.",
			}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "custody_operator_transfers_total",
				Help: "Number of successful operator transfers.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "custody_withdrawals_total",
				Help: "Number of user withdrawals that released funds.",
			}),
			operatorCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "custody_operators",
				Help: "Current number of registered operators.",
			}),
		}
		prometheus.MustRegister(
			custodyRegistry.operations,
			custodyRegistry.operationErrors,
			custodyRegistry.deposits,
			custodyRegistry.transfers,
			custodyRegistry.withdrawals,
			custodyRegistry.operatorCount,
		)
	})
	return custodyRegistry
}

func (m *CustodyMetrics) ObserveOperation(method string, err error) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.operations.WithLabelValues(method).Inc()
	if err != nil {
		m.operationErrors.WithLabelValues(method).Inc()
	}
}

func (m *CustodyMetrics) IncDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *CustodyMetrics) IncTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

func (m *CustodyMetrics) IncWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

func (m *CustodyMetrics) SetOperatorCount(n int) {
	if m == nil {
		return
	}
	m.operatorCount.Set(float64(n))
}
