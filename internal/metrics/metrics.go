package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)

	CartOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Cart mutations by operation and outcome",
		},
		[]string{"op", "result"},
	)

	Checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"result"},
	)

	ReservedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reserved_units_total",
		Help: "Units moved from available to reserved",
	})

	ReleasedUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_released_units_total",
			Help: "Units released back to available, by reason",
		},
		[]string{"reason"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Order status transitions by target status",
		},
		[]string{"to"},
	)
)

// Result collapses an error into a low-cardinality label.
func Result(err error, classify func(error) string) string {
	if err == nil {
		return "ok"
	}
	if classify != nil {
		if r := classify(err); r != "" {
			return r
		}
	}
	return "error"
}
