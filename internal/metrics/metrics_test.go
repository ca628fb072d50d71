package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Inc(RelayDelivered)
	m.Add(RelayDroppedUnresolved, 3)

	if got := m.Get(RelayDelivered); got != 1 {
		t.Fatalf("%s=%d, want 1", RelayDelivered, got)
	}
	if got := m.Get(RelayDroppedUnresolved); got != 3 {
		t.Fatalf("%s=%d, want 3", RelayDroppedUnresolved, got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(RelayDroppedUnresolved)); got != 3 {
		t.Fatalf("prometheus value=%v, want 3", got)
	}
	if got := m.Get("never_seen"); got != 0 {
		t.Fatalf("never_seen=%d, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(RelayDelivered)
	m.SetConnections(3)
	m.SetDevices(2)
	if got := m.Get(RelayDelivered); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandler_ExposesCountersAndGauges(t *testing.T) {
	m := New()
	m.Inc("foo")
	m.Add("bar", 2)
	m.SetConnections(4)
	m.SetDevices(2)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE dropmesh_signal_events_total counter",
		`dropmesh_signal_events_total{event="bar"} 2`,
		`dropmesh_signal_events_total{event="foo"} 1`,
		"dropmesh_signal_connections 4",
		"dropmesh_signal_registered_devices 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
