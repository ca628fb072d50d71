// Package router delivers directed signaling messages to the connection that
// currently backs the addressed device, and publishes directory snapshots.
package router

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

// EventActiveDevices carries a registry snapshot to clients.
const EventActiveDevices = "active-devices"

// Kind identifies a relayed message. Its value is also the outbound event name.
type Kind string

const (
	KindFileRequest  Kind = "file-request"
	KindFileAccepted Kind = "file-accepted"
	KindICECandidate Kind = "ice-candidate"
)

// Inbound events that are relayed to another device.
const (
	EventSendFileRequest = "send-file-request"
	EventFileAccepted    = "file-accepted"
	EventICECandidate    = "ice-candidate"
)

// KindForEvent maps an inbound event name to the relay kind it triggers.
func KindForEvent(event string) (Kind, bool) {
	switch event {
	case EventSendFileRequest:
		return KindFileRequest, true
	case EventFileAccepted:
		return KindFileAccepted, true
	case EventICECandidate:
		return KindICECandidate, true
	default:
		return "", false
	}
}

// forward builds the outbound body for k from an inbound object.
func (k Kind) forward(in object) (object, bool) {
	switch k {
	case KindFileRequest:
		return in.without(addressField), true
	case KindFileAccepted:
		return in.only("answer"), true
	case KindICECandidate:
		return in.only("candidate"), true
	default:
		return nil, false
	}
}

// Transport sends named events to live connections.
type Transport interface {
	// Emit sends to a single connection. Unknown connections are ignored.
	Emit(conn registry.ConnID, event string, payload any)
	// Broadcast sends to every connection the transport currently knows.
	Broadcast(event string, payload any)
}

// Outcome reports what DeliverDirected did. It is for logging and metrics; the
// sender is never told.
type Outcome int

const (
	Delivered Outcome = iota
	// DroppedMalformed means the payload was not an object, had no usable
	// toDeviceId, or the kind is not relayable.
	DroppedMalformed
	// DroppedUnresolved means no device is registered under toDeviceId.
	DroppedUnresolved
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DroppedMalformed:
		return "dropped_malformed"
	case DroppedUnresolved:
		return "dropped_unresolved"
	default:
		return "unknown"
	}
}

type Router struct {
	registry  *registry.Registry
	transport Transport
}

func New(reg *registry.Registry, transport Transport) *Router {
	return &Router{registry: reg, transport: transport}
}

// Directed is a relay message that has been parsed, addressed and reduced to
// the fields it forwards. Only resolving the recipient remains.
type Directed struct {
	kind Kind
	to   string
	body object
}

// To returns the addressed device id.
func (d Directed) To() string { return d.to }

// PrepareDirected does the registry-independent half of a relay: it parses
// payload, reads toDeviceId and strips the body for kind. It reports false
// when the message can never be delivered. It touches no shared state, so
// callers may run it outside any lock that orders registry access.
func PrepareDirected(kind Kind, payload json.RawMessage) (Directed, bool) {
	in, err := parseObject(payload)
	if err != nil {
		return Directed{}, false
	}
	to, ok := in.addressee()
	if !ok {
		return Directed{}, false
	}
	out, ok := kind.forward(in)
	if !ok {
		return Directed{}, false
	}
	return Directed{kind: kind, to: to, body: out}, true
}

// Deliver resolves msg's recipient and sends it. Delivery is best-effort:
// unresolved recipients are dropped silently.
func (r *Router) Deliver(msg Directed) Outcome {
	dev, ok := r.registry.Lookup(msg.to)
	if !ok {
		return DroppedUnresolved
	}
	r.transport.Emit(dev.ConnID, string(msg.kind), msg.body)
	return Delivered
}

// DeliverDirected relays payload to the device named by its toDeviceId field.
func (r *Router) DeliverDirected(kind Kind, payload json.RawMessage) Outcome {
	msg, ok := PrepareDirected(kind, payload)
	if !ok {
		return DroppedMalformed
	}
	return r.Deliver(msg)
}

// ReplyWithSnapshot sends the current directory to one connection.
func (r *Router) ReplyWithSnapshot(conn registry.ConnID) {
	r.transport.Emit(conn, EventActiveDevices, r.registry.Snapshot())
}

// BroadcastSnapshot sends the current directory to every connection.
func (r *Router) BroadcastSnapshot() {
	r.transport.Broadcast(EventActiveDevices, r.registry.Snapshot())
}
