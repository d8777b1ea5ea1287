package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result label values.
const (
	ResultAcquired = "acquired"
	ResultFailed   = "failed"
	ResultError    = "error"
	ResultOK       = "ok"
	ResultNotOwned = "not_owned"
)

var (
	// AcquireCounter counts finished Acquire calls by outcome.
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verrou_lock_acquire_total",
		Help: "Total number of lock acquisitions by result",
	}, []string{"result"})
	// AttemptCounter counts individual save attempts made by Acquire.
	AttemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "verrou_lock_attempts_total",
		Help: "Total number of store save attempts",
	})
	// ReleaseCounter counts Release and ForceRelease calls by outcome.
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verrou_lock_release_total",
		Help: "Total number of lock releases by result",
	}, []string{"result"})
	// ExtendCounter counts Extend calls by outcome.
	ExtendCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verrou_lock_extend_total",
		Help: "Total number of lock extensions by result",
	}, []string{"result"})
	// AcquireLatency observes the wall time spent inside Acquire.
	AcquireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "verrou_lock_acquire_seconds",
		Help:    "Time spent acquiring locks",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers the lock collectors on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, AttemptCounter, ReleaseCounter, ExtendCounter, AcquireLatency)
}

// ResultFor maps an operation error to a result label.
func ResultFor(err error, notOwned func(error) bool) string {
	switch {
	case err == nil:
		return ResultOK
	case notOwned != nil && notOwned(err):
		return ResultNotOwned
	default:
		return ResultError
	}
}
