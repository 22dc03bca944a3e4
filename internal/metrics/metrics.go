// Package metrics exposes Prometheus metrics for lifecycle operations and the
// monitor sweep.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitforge_operations_total",
			Help: "Total number of lifecycle operations by action and result",
		},
		[]string{"action", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unitforge_operation_duration_seconds",
			Help:    "Lifecycle operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Monitor metrics
	ServiceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unitforge_service_state",
			Help: "Classified state per managed service (1 for the current state, 0 otherwise)",
		},
		[]string{"service", "state"},
	)

	ServiceDiagnoses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unitforge_service_diagnoses",
			Help: "Number of known failure signatures in the recent log window",
		},
		[]string{"service"},
	)

	ManagedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "unitforge_managed_services",
			Help: "Number of persisted service configurations",
		},
	)

	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitforge_monitor_sweeps_total",
			Help: "Total number of monitor sweeps by result",
		},
		[]string{"result"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unitforge_monitor_sweep_duration_seconds",
			Help:    "Monitor sweep duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
)

// States lists every value of the state label.
var States = []string{"active", "inactive", "failed", "unknown"}

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(ServiceState)
	prometheus.MustRegister(ServiceDiagnoses)
	prometheus.MustRegister(ManagedServices)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(SweepDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records one lifecycle operation.
func ObserveOperation(action string, ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	OperationsTotal.WithLabelValues(action, result).Inc()
	OperationDuration.WithLabelValues(action).Observe(took.Seconds())
}

// SetServiceState sets the state gauge for service to 1 for state and 0 for
// every other state.
func SetServiceState(service, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		ServiceState.WithLabelValues(service, s).Set(v)
	}
}

// ForgetService drops all per-service series.
func ForgetService(service string) {
	for _, s := range States {
		ServiceState.DeleteLabelValues(service, s)
	}
	ServiceDiagnoses.DeleteLabelValues(service)
}

// ObserveSweep counts one monitor sweep and records its duration.
func ObserveSweep(ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	SweepsTotal.WithLabelValues(result).Inc()
	SweepDuration.Observe(took.Seconds())
}
