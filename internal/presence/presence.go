// Package presence publishes device registration and disconnect events so
// other services can follow who is reachable through the relay.
package presence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

const (
	KindRegistered   = "registered"
	KindDisconnected = "disconnected"
)

type Event struct {
	Kind      string    `json:"kind"`
	DeviceID  string    `json:"deviceId"`
	Username  string    `json:"username"`
	SocketID  string    `json:"socketId"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives registry changes. Implementations must not block the
// caller for long; they run on the signaling dispatch path.
type Publisher interface {
	DeviceRegistered(d registry.Device)
	DevicesDisconnected(ds []registry.Device)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) DeviceRegistered(registry.Device)      {}
func (Nop) DevicesDisconnected([]registry.Device) {}
func (Nop) Close() error                          { return nil }

type publishConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on "<subject>.<kind>".
type NATSPublisher struct {
	conn    publishConn
	closeFn func() error
	subject string
	log     *slog.Logger
	now     func() time.Time
}

// Connect dials url and returns a publisher rooted at subject.
func Connect(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		return nil, fmt.Errorf("presence subject must not be empty")
	}

	nc, err := nats.Connect(url,
		nats.Name("dropmesh-signal"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("nats presence feed connected", "url", nc.ConnectedUrl(), "subject", subject)
	return newNATSPublisher(nc, nc.Drain, subject, logger), nil
}

func newNATSPublisher(conn publishConn, closeFn func() error, subject string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		closeFn: closeFn,
		subject: subject,
		log:     logger,
		now:     time.Now,
	}
}

func (p *NATSPublisher) DeviceRegistered(d registry.Device) {
	p.publish(KindRegistered, d)
}

func (p *NATSPublisher) DevicesDisconnected(ds []registry.Device) {
	for _, d := range ds {
		p.publish(KindDisconnected, d)
	}
}

func (p *NATSPublisher) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}

// Subject returns the subject events of kind are published on.
func (p *NATSPublisher) Subject(kind string) string {
	return p.subject + "." + kind
}

func (p *NATSPublisher) publish(kind string, d registry.Device) {
	data, err := json.Marshal(Event{
		Kind:      kind,
		DeviceID:  d.DeviceID,
		Username:  d.Username,
		SocketID:  string(d.ConnID),
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		p.log.Error("presence encode failed", "kind", kind, "device_id", d.DeviceID, "err", err)
		return
	}
	if err := p.conn.Publish(p.Subject(kind), data); err != nil {
		p.log.Warn("presence publish failed", "kind", kind, "device_id", d.DeviceID, "err", err)
	}
}
