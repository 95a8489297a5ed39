// Package bridge owns host-side request/response correlation over the
// single peer socket.
//
// Ownership boundary:
//   - the lazily constructed connection handle
//   - serialized emit/on/off against the socket
//   - the waiter registry (one live waiter per call key, one armed
//     listener per completion event)
//   - Call / CallContext, the trigger-then-await operation
//
// Lock order: the registry mutex and the send lock are never held together.
package bridge
