// Package signaling is the WebSocket transport of the relay.
//
// Each connection gets an opaque id (sent back in a "connected" event) and
// exchanges JSON envelopes of the form {"event": name, "data": payload}.
// Inbound events are applied one at a time to the device registry; outbound
// events are queued per connection and written by a dedicated goroutine.
package signaling
