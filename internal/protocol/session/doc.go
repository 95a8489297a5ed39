// Package session owns host<->peer session transport helpers.
//
// Ownership boundary:
// - handshake control messages (hello / hello.ack)
// - event and emit.ack frame codecs
// - reconnect backoff and the emit ack outbox
package session
