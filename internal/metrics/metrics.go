package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReconMetrics counts what the reconciliation paths do. Labels stay low
// cardinality: driver is webhook|poller, result is the matcher's outcome.
type ReconMetrics struct {
	OrdersCreated    prometheus.Counter
	Transactions     *prometheus.CounterVec
	ExpiredOrders    prometheus.Counter
	FeedFetchErrors  prometheus.Counter
	SweepBatchErrors prometheus.Counter
}

func NewReconMetrics() *ReconMetrics {
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderrecon",
		Name:      "orders_created_total",
		Help:      "Total number of orders created.",
	})
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderrecon",
		Name:      "bank_transactions_total",
		Help:      "Bank transactions processed by driver and match result.",
	}, []string{"driver", "result"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderrecon",
		Name:      "orders_expired_total",
		Help:      "Orders cancelled by the expiration sweeper.",
	})
	feedErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderrecon",
		Name:      "feed_fetch_errors_total",
		Help:      "Failed transaction feed fetches.",
	})
	sweepErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderrecon",
		Name:      "sweep_order_errors_total",
		Help:      "Orders that failed during an expiration sweep.",
	})

	prometheus.MustRegister(ordersCreated, transactions, expired, feedErrors, sweepErrors)
	return &ReconMetrics{
		OrdersCreated:    ordersCreated,
		Transactions:     transactions,
		ExpiredOrders:    expired,
		FeedFetchErrors:  feedErrors,
		SweepBatchErrors: sweepErrors,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
