// Package transport owns the host side of the peer websocket.
//
// Ownership boundary:
// - dialing, handshake and the reconnect loop
// - named event emit (acknowledged) and replace-not-stack listeners
// - lifecycle callbacks
//
// Correlation of triggers with completion events lives in bridge.
package transport
