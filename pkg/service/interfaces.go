package service

import (
	"context"

	"github.com/mytimer/mytimer-go/pkg/buffer"
	"github.com/mytimer/mytimer-go/pkg/notify"
	"github.com/mytimer/mytimer-go/pkg/registry"
	"github.com/mytimer/mytimer-go/pkg/transport"
)

// CommandBuffer defines the control buffer operations used by
// ProtocolHandler. It is satisfied by *buffer.Buffer.
type CommandBuffer interface {
	Submit(p []byte) error
	Current() []byte
}

// Compile-time check: *buffer.Buffer implements CommandBuffer.
var _ CommandBuffer = (*buffer.Buffer)(nil)

// TimerStore defines the registry operations used by ProtocolHandler. It
// is satisfied by *registry.Registry.
type TimerStore interface {
	Register(message string, seconds uint32, owner registry.Owner) (registry.Outcome, error)
	SetCapacity(n uint32) registry.Outcome
	CancelAll() int
	Snapshot() registry.Report
	Count() int
	Capacity() int
}

// Compile-time check: *registry.Registry implements TimerStore.
var _ TimerStore = (*registry.Registry)(nil)

// WaiterSet defines the notification channel operations used by sessions.
// It is satisfied by *notify.Channel.
type WaiterSet interface {
	Register(ownerID int) (*notify.Waiter, error)
	Unregister(w *notify.Waiter)
	Count() int
}

// Compile-time check: *notify.Channel implements WaiterSet.
var _ WaiterSet = (*notify.Channel)(nil)

// Peer is the client end of a session.
// It is satisfied by *transport.ServerConn.
type Peer interface {
	ConnID() string
	PeerPID() (int, bool)
	Context() context.Context
	Send(data []byte) error
}

// Compile-time check: *transport.ServerConn implements Peer.
var _ Peer = (*transport.ServerConn)(nil)
