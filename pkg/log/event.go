package log

import (
	"time"

	"github.com/mytimer/mytimer-go/pkg/wire"
)

// Event is one protocol log record. Exactly one payload pointer is set,
// matching Category (FrameEvent for transport-layer messages).
//
// Field keys are integers and must never be renumbered: old log files
// are read with the same struct.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is empty for registry events not tied to a connection.
	ConnectionID string    `cbor:"2,keyasint,omitempty"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`

	// OwnerID is the client process ID, once known.
	OwnerID int `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
	Timer       *TimerEvent       `cbor:"15,keyasint,omitempty"`
}

// FrameEvent is a raw frame as seen by the framer.
type FrameEvent struct {
	// Size includes the length prefix.
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded wire message. Which optional fields are set
// depends on Type.
type MessageEvent struct {
	Type MessageType `cbor:"1,keyasint"`

	// MessageID is zero for notifications.
	MessageID uint32 `cbor:"2,keyasint"`

	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`
	// Command is the command line of a write request.
	Command string `cbor:"4,keyasint,omitempty"`

	Status  *wire.Status       `cbor:"5,keyasint,omitempty"`
	Outcome *wire.WriteOutcome `cbor:"6,keyasint,omitempty"`

	EventKind    *wire.EventKind `cbor:"7,keyasint,omitempty"`
	TimerMessage string          `cbor:"8,keyasint,omitempty"`

	// ProcessingTime is set on responses: request receipt to response send.
	ProcessingTime *time.Duration `cbor:"9,keyasint,omitempty"`
}

// StateChangeEvent records a connection, subscription or service moving
// between states.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// ControlMsgEvent records a ping, pong or close.
type ControlMsgEvent struct {
	Type     ControlMsgType `cbor:"1,keyasint"`
	Sequence uint32         `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData records a failure. Layer may differ from the enclosing
// event's layer when one layer reports another's error.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	// Context names the operation that failed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// TimerEvent records a registry change. LiveTimers and Capacity are the
// values after the action.
type TimerEvent struct {
	Action  TimerAction `cbor:"1,keyasint"`
	Message string      `cbor:"2,keyasint,omitempty"`
	// Seconds is the requested duration of created and updated timers,
	// or the requested capacity for TimerCapacity.
	Seconds    uint32 `cbor:"3,keyasint,omitempty"`
	LiveTimers int    `cbor:"4,keyasint"`
	Capacity   int    `cbor:"5,keyasint,omitempty"`
}
