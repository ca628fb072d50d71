package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

const testWait = 2 * time.Second

func startSignaling(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string

	msgs    chan Envelope
	readErr chan error
}

// dialRaw connects without consuming the hello.
func dialRaw(t *testing.T, url string, header http.Header) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tc := &testClient{
		t:       t,
		conn:    conn,
		msgs:    make(chan Envelope, 64),
		readErr: make(chan error, 1),
	}
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				tc.readErr <- err
				return
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				tc.readErr <- err
				return
			}
			tc.msgs <- env
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return tc
}

// dial connects and consumes the connected event.
func dial(t *testing.T, url string) *testClient {
	t.Helper()

	tc := dialRaw(t, url, nil)
	env := tc.expect(EventConnected)
	var hello connectedEvent
	if err := json.Unmarshal(env.Data, &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.SocketID == "" {
		t.Fatalf("empty socketId in hello")
	}
	tc.id = hello.SocketID
	return tc
}

func (tc *testClient) send(event string, data any) {
	tc.t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		tc.t.Fatalf("marshal: %v", err)
	}
	tc.sendRaw(string(raw))
}

func (tc *testClient) sendRaw(raw string) {
	tc.t.Helper()
	if err := tc.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		tc.t.Fatalf("write: %v", err)
	}
}

func (tc *testClient) next() Envelope {
	tc.t.Helper()
	select {
	case env := <-tc.msgs:
		return env
	case err := <-tc.readErr:
		tc.t.Fatalf("connection closed while waiting for message: %v", err)
	case <-time.After(testWait):
		tc.t.Fatalf("timeout waiting for message")
	}
	return Envelope{}
}

func (tc *testClient) expect(event string) Envelope {
	tc.t.Helper()
	env := tc.next()
	if env.Event != event {
		tc.t.Fatalf("event=%q, want %q (data=%s)", env.Event, event, env.Data)
	}
	return env
}

func (tc *testClient) expectDevices() []registry.Device {
	tc.t.Helper()
	env := tc.expect("active-devices")
	var devices []registry.Device
	if err := json.Unmarshal(env.Data, &devices); err != nil {
		tc.t.Fatalf("decode devices: %v (%s)", err, env.Data)
	}
	return devices
}

func (tc *testClient) expectNothing(d time.Duration) {
	tc.t.Helper()
	select {
	case env := <-tc.msgs:
		tc.t.Fatalf("unexpected message %q: %s", env.Event, env.Data)
	case err := <-tc.readErr:
		tc.t.Fatalf("unexpected close: %v", err)
	case <-time.After(d):
	}
}

func (tc *testClient) expectClose(code int) {
	tc.t.Helper()
	for {
		select {
		case <-tc.msgs:
			continue
		case err := <-tc.readErr:
			if !websocket.IsCloseError(err, code) {
				tc.t.Fatalf("expected close %d, got %v", code, err)
			}
			return
		case <-time.After(testWait):
			tc.t.Fatalf("timeout waiting for close %d", code)
		}
	}
}

func deviceIDs(devices []registry.Device) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.DeviceID)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", testWait)
}
