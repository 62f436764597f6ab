package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts accepted order submissions by side (buy/sell)
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finscope_orders_submitted_total",
		Help: "Total number of orders accepted by the submission service",
	},
	[]string{"side"},
)

// OrdersFilled counts terminal fills by order kind
var OrdersFilled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finscope_orders_filled_total",
		Help: "Total number of orders that reached the filled status",
	},
	[]string{"kind"},
)

// OrdersCancelled counts cancellations by origin (user/expired)
var OrdersCancelled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "finscope_orders_cancelled_total",
		Help: "Total number of cancelled orders",
	},
	[]string{"reason"},
)

// SchedulerTicks counts scheduler passes over the pending queue
var SchedulerTicks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "finscope_scheduler_ticks_total",
		Help: "Total number of pending-queue scheduler ticks",
	},
)

// ClaimConflicts counts CAS failures caused by racing workers
var ClaimConflicts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "finscope_claim_conflicts_total",
		Help: "Total number of order updates lost to a racing worker",
	},
)

// EvaluationLatency records latency distribution for per-order evaluation
var EvaluationLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "finscope_order_evaluation_latency_seconds",
		Help:    "Latency in seconds to evaluate and apply a single order",
		Buckets: prometheus.DefBuckets,
	},
)

// Queue depth gauges, mirrored from the queue statistics tracker
var (
	QueuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finscope_queue_pending",
			Help: "Number of orders waiting in the pending queue",
		},
	)

	QueueProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finscope_queue_processing",
			Help: "Number of orders claimed and under evaluation",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersFilled, OrdersCancelled)
	prometheus.MustRegister(SchedulerTicks, ClaimConflicts, EvaluationLatency)
	prometheus.MustRegister(QueuePending, QueueProcessing)
}
