package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names. They are exposed as the `event` label of
// dropmesh_signal_events_total.
const (
	ConnectionOpened       = "connection_opened"
	ConnectionClosed       = "connection_closed"
	OriginRejected         = "origin_rejected"
	DeviceRegistered       = "device_registered"
	DirectoryRequested     = "directory_requested"
	RelayDelivered         = "relay_delivered"
	RelayDroppedUnresolved = "relay_dropped_unresolved"
	RelayDroppedMalformed  = "relay_dropped_malformed"
	MessageMalformed       = "message_malformed"
	MessageUnknownEvent    = "message_unknown_event"
	MessageRateLimited     = "message_rate_limited"
	MessageTooLarge        = "message_too_large"
	SendQueueFull          = "send_queue_full"
	DispatchPanic          = "dispatch_panic"
)

const namespace = "dropmesh_signal"

// Metrics owns a private Prometheus registry so tests can create as many
// instances as they need.
type Metrics struct {
	reg         *prometheus.Registry
	events      *prometheus.CounterVec
	connections prometheus.Gauge
	devices     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Signaling events by kind.",
		}, []string{"event"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_devices",
			Help:      "Devices currently in the registry.",
		}),
	}
	m.reg.MustRegister(
		m.events,
		m.connections,
		m.devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Inc is safe to call on a nil *Metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(name).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
