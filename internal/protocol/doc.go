// Package protocol owns the host<->peer wire contract.
//
// Ownership boundary:
// - frame/header primitives (frame)
// - tlv payload primitives (tlv)
// - message type and required-field tables (schema)
// - event, ack and handshake codecs plus reconnect policy (session)
//
// One websocket binary message carries exactly one frame.
package protocol
