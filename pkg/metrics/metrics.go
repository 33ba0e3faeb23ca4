package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crosspay"

var (
	// PaymentTransitionsTotal counts persisted state transitions by edge
	PaymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Persisted payment state transitions",
		},
		[]string{"from", "to"},
	)

	// PaymentsCreatedTotal counts created payments by source and destination chain
	PaymentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_created_total",
			Help:      "Payments created",
		},
		[]string{"source_chain", "dest_chain"},
	)

	// AttestationPollsTotal counts attestation service polls by observed outcome
	AttestationPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attestation_polls_total",
			Help:      "Attestation API polls by outcome",
		},
		[]string{"outcome"},
	)

	// BridgeOperationDuration observes bridge primitive latency
	BridgeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_operation_duration_seconds",
			Help:      "Latency of burn, attestation and mint operations",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"operation", "result"},
	)

	// TransferJobsTotal counts worker pool jobs by result
	TransferJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_jobs_total",
			Help:      "Transfer worker jobs by result",
		},
		[]string{"result"},
	)

	// TransferQueueDepth reports queued advance jobs
	TransferQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_queue_depth",
			Help:      "Advance jobs waiting for a worker",
		},
	)

	// StalePaymentsGauge reports non-terminal payments past the staleness threshold
	StalePaymentsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_payments",
			Help:      "Non-terminal payments with no progress past the staleness threshold",
		},
		[]string{"status"},
	)

	// DatabaseConnectionsGauge reports sql.DB pool stats
	DatabaseConnectionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections",
			Help:      "Database connection pool state",
		},
		[]string{"state"},
	)

	// HTTPRequestDuration observes API latency
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PaymentTransitionsTotal,
		PaymentsCreatedTotal,
		AttestationPollsTotal,
		BridgeOperationDuration,
		TransferJobsTotal,
		TransferQueueDepth,
		StalePaymentsGauge,
		DatabaseConnectionsGauge,
		HTTPRequestDuration,
	)
}

// ObserveBridgeOperation records the duration of a bridge primitive since start
func ObserveBridgeOperation(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	BridgeOperationDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
