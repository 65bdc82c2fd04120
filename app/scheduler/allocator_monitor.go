// Package scheduler runs periodic background jobs next to the HTTP service
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/pallet-allocator/app/dto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	counterCurrentMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pallet_counter_current_max",
			Help: "Highest pallet ordinal issued for the current day",
		},
	)

	reservationsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pallet_reservations",
			Help: "Reservation rows for the current day by state",
		},
		[]string{"state"},
	)

	staleReservations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pallet_reservations_stale",
			Help: "Reserved rows older than the reservation TTL that were never confirmed or released",
		},
	)

	seriesClaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "series_claimed",
			Help: "Series codes claimed in the cache for the current day",
		},
	)

	monitorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocator_monitor_failures_total",
			Help: "Health monitor runs that could not read diagnostics",
		},
	)
)

// DiagnosticsSource is the part of the reservation flow the monitor needs
type DiagnosticsSource interface {
	Diagnostics(ctx context.Context) (*dto.AllocatorDiagnosticsResponse, error)
}

// AllocatorMonitor periodically reads allocator diagnostics, publishes them as gauges
// and warns about reservations that were never settled.
type AllocatorMonitor struct {
	source   DiagnosticsSource
	logger   *log.Logger
	interval time.Duration
	timeout  time.Duration

	lastDayCode string
}

func NewAllocatorMonitor(source DiagnosticsSource, logger *log.Logger, interval time.Duration) *AllocatorMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	timeout := interval / 2
	if timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &AllocatorMonitor{
		source:   source,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the monitor loop in a background goroutine and returns a stop function
func (m *AllocatorMonitor) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (m *AllocatorMonitor) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	diag, err := m.source.Diagnostics(runCtx)
	if err != nil {
		monitorFailures.Inc()
		m.logger.Printf("allocator monitor: diagnostics failed: %v", err)
		return
	}
	m.publish(diag)
}

func (m *AllocatorMonitor) publish(diag *dto.AllocatorDiagnosticsResponse) {
	if diag.DayCode != m.lastDayCode {
		// States seen yesterday must not linger on today's series
		reservationsByState.Reset()
		if m.lastDayCode != "" {
			m.logger.Printf("allocator monitor: day rolled over from %s to %s", m.lastDayCode, diag.DayCode)
		}
		m.lastDayCode = diag.DayCode
	}

	counterCurrentMax.Set(float64(diag.CurrentMax))
	for state, total := range diag.ReservationsByState {
		reservationsByState.WithLabelValues(state).Set(float64(total))
	}
	staleReservations.Set(float64(diag.StaleReservations))
	seriesClaimed.Set(float64(diag.SeriesClaimed))

	if diag.StaleReservations > 0 {
		m.logger.Printf("allocator monitor: %d reservations on day %s still unsettled past the TTL", diag.StaleReservations, diag.DayCode)
	}
}
