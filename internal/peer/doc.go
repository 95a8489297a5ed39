// Package peer owns the controlled-process side of the socket.
//
// Ownership boundary:
// - accepting host connections and the hello handshake
// - acknowledging every inbound event frame
// - dispatching triggers to handlers and emitting one completion per trigger
//
// The host bridge never imports this package; tests and cmd/peerctl do.
package peer
