// Package registry tracks which devices are currently reachable and which
// signaling connection each one is bound to.
package registry

import "sync"

// ConnID is the opaque handle the transport assigns to a live connection.
type ConnID string

// Device is one registered endpoint.
type Device struct {
	ConnID   ConnID `json:"socketId"`
	Username string `json:"username"`
	DeviceID string `json:"deviceId"`
}

// Registry maps device ids to devices, preserving first-registration order.
//
// Registering an id that is already present replaces the entry in place, so the
// device keeps its original position in snapshots.
type Registry struct {
	mu      sync.Mutex
	order   []string
	devices map[string]Device
}

func New() *Registry {
	return &Registry{
		devices: make(map[string]Device),
	}
}

// Register binds deviceID to conn, replacing any existing entry for deviceID.
func (r *Registry) Register(deviceID, username string, conn ConnID) Device {
	d := Device{ConnID: conn, Username: username, DeviceID: deviceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[deviceID]; !ok {
		r.order = append(r.order, deviceID)
	}
	r.devices[deviceID] = d
	return d
}

// RemoveByConnection deletes every device bound to conn and returns them in
// registry order.
func (r *Registry) RemoveByConnection(conn ConnID) []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Device
	kept := r.order[:0]
	for _, id := range r.order {
		d := r.devices[id]
		if d.ConnID == conn {
			removed = append(removed, d)
			delete(r.devices, id)
			continue
		}
		kept = append(kept, id)
	}
	// Clear the tail so removed ids are not retained by the backing array.
	for i := len(kept); i < len(r.order); i++ {
		r.order[i] = ""
	}
	r.order = kept
	return removed
}

// Lookup returns the device currently registered under deviceID.
func (r *Registry) Lookup(deviceID string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	return d, ok
}

// Snapshot returns a copy of all devices in registry order. The result is never
// nil.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
