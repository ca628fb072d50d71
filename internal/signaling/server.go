package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/origin"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/presence"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/router"
)

// SocketPath is where RegisterRoutes mounts the WebSocket endpoint.
const SocketPath = "/socket"

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueMessages    = 64
)

// Config wires together the runtime dependencies for the signaling service.
// Zero values fall back to defaults.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Registry is created when nil.
	Registry *registry.Registry
	// Presence defaults to presence.Nop.
	Presence presence.Publisher

	// AllowedOrigins are normalized origins (or "*"). Empty means same-host only.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueMessages    int
}

// Server owns every live socket and the device registry behind them.
type Server struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	router   *router.Router
	presence presence.Publisher
	origins  origin.Policy
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueMessages    int

	// dispatchMu serializes inbound events and disconnects, so each one sees
	// and leaves a consistent registry. Never acquire it while holding mu.
	dispatchMu sync.Mutex

	mu      sync.Mutex
	clients map[registry.ConnID]*client
	closed  bool

	wg sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	s := &Server{
		log:                  cfg.Logger,
		metrics:              cfg.Metrics,
		registry:             cfg.Registry,
		presence:             cfg.Presence,
		origins:              origin.NewPolicy(cfg.AllowedOrigins),
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueMessages:    cfg.SendQueueMessages,
		clients:              make(map[registry.ConnID]*client),
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.presence == nil {
		s.presence = presence.Nop{}
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = min(defaultPingInterval, s.idleTimeout/2)
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if s.sendQueueMessages <= 0 {
		s.sendQueueMessages = defaultSendQueueMessages
	}

	s.router = router.New(s.registry, s)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if _, ok := s.origins.Check(r); !ok {
				s.metrics.Inc(metrics.OriginRejected)
				return false
			}
			return true
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+SocketPath, s.handleSocket)
}

// ServeHTTP provides minimal routing for tests and simple deployments.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == SocketPath {
		s.handleSocket(w, r)
		return
	}
	http.NotFound(w, r)
}

// Registry exposes the device registry, mainly for health and tests.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ConnectionCount returns the number of live sockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close sends a going-away close frame to every socket, disconnects them and
// waits for their goroutines to exit. New upgrades are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.stop()
	}
	s.wg.Wait()
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(s, conn, registry.ConnID(uuid.NewString()), r.RemoteAddr)
	if !s.attach(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.stop()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	c.readPump()
	c.stop()
	s.detach(c)
}

// attach makes c visible to Emit and Broadcast. The hello is queued first so
// it always precedes any directory broadcast.
func (s *Server) attach(c *client) bool {
	hello, err := encodeEnvelope(EventConnected, connectedEvent{SocketID: string(c.id)})
	if err == nil {
		c.enqueue(hello)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()

	s.metrics.Inc(metrics.ConnectionOpened)
	s.metrics.SetConnections(n)
	c.log.Info("socket connected")
	return true
}

// detach runs the disconnect rule: drop every device bound to c, then
// broadcast the directory to whoever is left, even if nothing changed.
func (s *Server) detach(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()

	s.metrics.Inc(metrics.ConnectionClosed)
	s.metrics.SetConnections(n)

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	removed := s.registry.RemoveByConnection(c.id)
	s.metrics.SetDevices(s.registry.Len())
	if len(removed) > 0 {
		s.presence.DevicesDisconnected(removed)
	}
	s.router.BroadcastSnapshot()

	c.log.Info("socket disconnected", "removed_devices", len(removed))
}

// dispatch applies one inbound frame. Malformed frames and unknown events are
// dropped; the socket stays open. Decoding happens before dispatchMu is taken;
// the lock covers registry access and the sends that must observe it.
func (s *Server) dispatch(c *client, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		s.metrics.Inc(metrics.MessageMalformed)
		c.log.Debug("dropping malformed message", "err", err)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.Inc(metrics.DispatchPanic)
			c.log.Error("panic in signaling dispatch", "event", env.Event, "recover", rec, "stack", string(debug.Stack()))
		}
	}()

	switch env.Event {
	case EventRegisterDevice:
		deviceID, username, err := decodeRegistration(env.Data)
		if err != nil {
			s.metrics.Inc(metrics.MessageMalformed)
			c.log.Debug("dropping malformed registration", "err", err)
			return
		}

		s.dispatchMu.Lock()
		defer s.dispatchMu.Unlock()

		dev := s.registry.Register(deviceID, username, c.id)
		s.metrics.Inc(metrics.DeviceRegistered)
		s.metrics.SetDevices(s.registry.Len())
		c.log.Info("device registered", "device_id", dev.DeviceID, "username", dev.Username)
		s.presence.DeviceRegistered(dev)
		s.router.BroadcastSnapshot()

	case EventGetDevices:
		s.metrics.Inc(metrics.DirectoryRequested)

		s.dispatchMu.Lock()
		defer s.dispatchMu.Unlock()
		s.router.ReplyWithSnapshot(c.id)

	default:
		kind, ok := router.KindForEvent(env.Event)
		if !ok {
			s.metrics.Inc(metrics.MessageUnknownEvent)
			c.log.Debug("ignoring unknown event", "event", env.Event)
			return
		}

		msg, ok := router.PrepareDirected(kind, env.Data)
		outcome := router.DroppedMalformed
		if ok {
			outcome = s.deliver(msg)
		}

		switch outcome {
		case router.Delivered:
			s.metrics.Inc(metrics.RelayDelivered)
		case router.DroppedUnresolved:
			s.metrics.Inc(metrics.RelayDroppedUnresolved)
		case router.DroppedMalformed:
			s.metrics.Inc(metrics.RelayDroppedMalformed)
		}
		c.log.Debug("relay", "event", env.Event, "to", msg.To(), "outcome", outcome.String())
	}
}

func (s *Server) deliver(msg router.Directed) router.Outcome {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.router.Deliver(msg)
}

// Emit implements router.Transport.
func (s *Server) Emit(conn registry.ConnID, event string, payload any) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		s.log.Error("encode outbound event", "event", event, "err", err)
		return
	}

	s.mu.Lock()
	c := s.clients[conn]
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.enqueue(msg)
}

// Broadcast implements router.Transport.
func (s *Server) Broadcast(event string, payload any) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		s.log.Error("encode outbound event", "event", event, "err", err)
		return
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}
