package businessflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pallet ordinals handed out by the atomic allocator
	palletNumbersAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pallet_numbers_allocated_total",
			Help: "Total number of pallet numbers issued by the atomic allocator",
		},
	)

	// Days whose counter row was created by an allocation call
	sequenceBootstraps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pallet_sequence_bootstraps_total",
			Help: "Number of allocations that initialized a fresh daily counter",
		},
	)

	seriesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "series_codes_generated_total",
			Help: "Total number of series codes accepted by the generator",
		},
	)

	// Candidates rejected because they were already issued, claimed or duplicated in-batch
	seriesCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "series_collisions_total",
			Help: "Number of series candidates rejected as collisions",
		},
	)

	allocatorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_errors_total",
			Help: "Allocator failures partitioned by operation and error kind",
		},
		[]string{"op", "kind"},
	)

	allocatorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocator_operation_duration_seconds",
			Help:    "Latency of allocator operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	reservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_transitions_total",
			Help: "Identifiers moved into a reservation state",
		},
		[]string{"state"},
	)
)

// observeOp records duration and, on failure, the error kind for op
func observeOp(op string, start time.Time, err error) {
	allocatorDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		allocatorErrors.WithLabelValues(op, errorKind(err)).Inc()
	}
}
