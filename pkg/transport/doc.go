// Package transport moves framed CBOR messages between mytimerd and its
// clients.
//
// The service listens on a unix socket by default, or on TCP for remote
// clients found through discovery. Each message is one frame: a 4-byte
// big-endian length and the payload. Control messages (ping, pong, close)
// share the stream with requests and are answered here, below the
// service.
//
// Connections accepted on a unix socket carry the peer's process ID when
// the kernel reports it (SO_PEERCRED on Linux). Elsewhere the service
// relies on the owner a client declares.
//
// A client waiting for a timer may sit idle for hours. Heartbeat pings at
// a fixed interval and declares the connection dead after too many
// unanswered pings.
package transport
