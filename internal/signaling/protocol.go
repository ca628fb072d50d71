package signaling

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

// Inbound event names handled here. Relayed events are named in package
// router.
const (
	EventRegisterDevice = "register-device"
	EventGetDevices     = "get-devices"
)

// EventConnected is sent once, right after the upgrade, with the
// connection's own id.
const EventConnected = "connected"

var (
	errMissingEvent = errors.New("signaling: missing event name")
	errNotObject    = errors.New("signaling: data is not a JSON object")
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type connectedEvent struct {
	SocketID string `json:"socketId"`
}

// registerDeviceRequest keeps both fields raw; any JSON value is accepted and
// turned into a string by registry.IdentityFromJSON.
type registerDeviceRequest struct {
	DeviceID json.RawMessage `json:"deviceId"`
	Username json.RawMessage `json:"username"`
}

func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errMissingEvent
	}
	return env, nil
}

// encodeEnvelope leaves HTML characters unescaped so relayed values reach the
// recipient byte for byte.
func encodeEnvelope(event string, data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outboundEnvelope{Event: event, Data: data}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeRegistration reads a register-device payload. Missing or null fields
// become empty strings; only a payload that is not an object is rejected.
func decodeRegistration(data json.RawMessage) (deviceID, username string, err error) {
	var req registerDeviceRequest
	if err := decodeObject(data, &req); err != nil {
		return "", "", err
	}
	deviceID, _ = registry.IdentityFromJSON(req.DeviceID)
	username, _ = registry.IdentityFromJSON(req.Username)
	return deviceID, username, nil
}

// decodeObject unmarshals data into v, rejecting anything but a JSON object.
// Missing fields keep their zero value.
func decodeObject(data json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(trimmed, v)
}
