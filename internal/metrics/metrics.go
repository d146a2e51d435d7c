package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace for all gateway metrics
const namespace = "onpass"

// Registry is the Prometheus registry for all gateway metrics
var Registry = prometheus.NewRegistry()

// AppInfo exposes the running version as a label (value is always 1)
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version"},
)

// Scan pipeline metrics
var (
	// ScansTotal counts processed scans and door selections by outcome
	ScansTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_results_total",
			Help:      "Total number of processed access requests by source and outcome",
		},
		[]string{"source", "outcome"}, // source: scan|door_select
	)

	// ScansRejectedTotal counts scan events dropped before processing
	ScansRejectedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_rejected_total",
			Help:      "Total number of scan events rejected before processing",
		},
		[]string{"reason"}, // reason: invalid|not_scan|in_progress
	)

	// ScansInFlight tracks devices with a scan currently being processed
	ScansInFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_in_flight",
			Help:      "Current number of devices with a scan in progress",
		},
	)

	// AccessDuration records end-to-end processing time
	AccessDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_duration_seconds",
			Help:      "Time from acceptance to completion of an access request in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 7.5, 10, 15, 30},
		},
		[]string{"source"},
	)
)

// Outbound call metrics
var (
	// BackendRequestDuration records authorization backend latency
	BackendRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Authorization backend request latency in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"}, // operation: authorize|authorize_by_door, status: success|error
	)

	// DeviceCommandsTotal counts instructions sent to door controllers
	DeviceCommandsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_commands_total",
			Help:      "Total number of instructions sent to door controllers",
		},
		[]string{"type", "status"}, // status: success|error
	)
)

// Real-time metrics
var (
	// BroadcastsTotal counts notifications fanned out to UI clients
	BroadcastsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of real-time notifications by kind",
		},
		[]string{"kind"}, // kind: success|select_door
	)

	// WebSocketClients tracks connected real-time clients
	WebSocketClients = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Current number of connected WebSocket clients",
		},
	)
)

var initOnce sync.Once

// Init registers runtime collectors and sets version information.
// Safe to call more than once.
func Init(version string) {
	initOnce.Do(func() {
		// Go runtime metrics (memory, goroutines, GC)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	AppInfo.Reset()
	AppInfo.WithLabelValues(version).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Status renders an error as a success|error label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
