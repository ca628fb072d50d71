package presence

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func newTestPublisher(conn publishConn) *NATSPublisher {
	p := newNATSPublisher(conn, nil, "dropmesh.presence", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

func TestDeviceRegistered(t *testing.T) {
	conn := &fakeConn{}
	p := newTestPublisher(conn)

	p.DeviceRegistered(registry.Device{ConnID: "c1", Username: "alice", DeviceID: "dev1"})

	if len(conn.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.msgs))
	}
	if got := conn.msgs[0].subject; got != "dropmesh.presence.registered" {
		t.Fatalf("subject=%q", got)
	}

	var ev Event
	if err := json.Unmarshal(conn.msgs[0].data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", conn.msgs[0].data, err)
	}
	want := Event{
		Kind:      KindRegistered,
		DeviceID:  "dev1",
		Username:  "alice",
		SocketID:  "c1",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if !reflect.DeepEqual(ev, want) {
		t.Fatalf("event=%+v, want %+v", ev, want)
	}
}

func TestDevicesDisconnected(t *testing.T) {
	conn := &fakeConn{}
	p := newTestPublisher(conn)

	p.DevicesDisconnected([]registry.Device{
		{ConnID: "c1", Username: "alice", DeviceID: "dev1"},
		{ConnID: "c1", Username: "alice-phone", DeviceID: "dev3"},
	})
	p.DevicesDisconnected(nil)

	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}
	for _, m := range conn.msgs {
		if m.subject != "dropmesh.presence.disconnected" {
			t.Fatalf("subject=%q", m.subject)
		}
	}
	if !strings.Contains(string(conn.msgs[1].data), `"deviceId":"dev3"`) {
		t.Fatalf("second event=%s, want dev3", conn.msgs[1].data)
	}
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	p := newTestPublisher(&fakeConn{err: errors.New("nats: connection closed")})
	p.DeviceRegistered(registry.Device{DeviceID: "dev1"})
}

func TestClose(t *testing.T) {
	if err := newTestPublisher(&fakeConn{}).Close(); err != nil {
		t.Fatalf("Close without closer: %v", err)
	}

	closed := false
	p := newNATSPublisher(&fakeConn{}, func() error { closed = true; return nil }, "s", slog.Default())
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closed {
		t.Fatal("Close did not close the underlying connection")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.DeviceRegistered(registry.Device{})
	p.DevicesDisconnected([]registry.Device{{}})
	if err := p.Close(); err != nil {
		t.Fatalf("Nop.Close: %v", err)
	}
}

func TestConnect_RejectsEmptySubject(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:4222", " . ", slog.Default()); err == nil {
		t.Fatal("expected error for an empty subject")
	}
}
