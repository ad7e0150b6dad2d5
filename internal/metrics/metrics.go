package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cinema_booking"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	lockAcquire = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "Lock acquisition attempts by result (acquired, held, error).",
		},
		[]string{"result"},
	)

	lockFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_fail_open_total",
			Help:      "Critical sections executed without the lock, by reason.",
		},
		[]string{"reason"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the screening lock.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking creation outcomes.",
		},
		[]string{"outcome"},
	)

	bestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Failed post-persistence steps by step name.",
		},
		[]string{"step"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, lockAcquire, lockFailOpen, lockWait, bookings, bestEffortFailures)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncLockAcquire(result string) {
	lockAcquire.WithLabelValues(result).Inc()
}

func IncLockFailOpen(reason string) {
	lockFailOpen.WithLabelValues(reason).Inc()
}

func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncBestEffortFailure(step string) {
	bestEffortFailures.WithLabelValues(step).Inc()
}
