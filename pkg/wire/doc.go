// Package wire defines the CBOR wire format of the mytimer protocol.
//
// Messages are CBOR (RFC 8949) maps with integer keys, carried in
// length-prefixed frames over a local stream socket.
//
// # Message Types
//
// There are four message types:
//   - Request: client to service (Write, Read, Subscribe, Unsubscribe)
//   - Response: service to client, one per request
//   - Notification: service to subscribed clients (timer fired, timers cancelled)
//   - Control: either direction (ping, pong, close)
//
// Requests carry a non-zero message ID that the response echoes.
// Notifications use message ID 0. Control messages are recognized by
// key 0, which no other message type uses.
//
// # Payloads
//
// Request and response payloads are kept as raw CBOR until the receiver
// knows which payload type to expect. Use NewRequest and NewResponse to
// build messages and DecodePayload to read them.
package wire
