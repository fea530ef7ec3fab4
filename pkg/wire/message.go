package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys for message encoding.
const (
	KeyControlType = 0 // Present only in control messages
	KeyMessageID   = 1
	KeyOpOrStatus  = 2 // Operation (request), Status (response) or EventKind (notification)
	KeyPayload     = 3
)

// MessageID 0 is reserved to indicate a notification message.
const NotificationMessageID uint32 = 0

// ErrNoPayload is returned by DecodePayload when the message has none.
var ErrNoPayload = errors.New("message has no payload")

// Request represents a request message from client to service.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32, non-zero
//	  2: operation,    // uint8: 1=Write, 2=Read, 3=Subscribe, 4=Unsubscribe
//	  3: payload       // operation-specific data
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// NewRequest builds a request, encoding payload if it is not nil.
func NewRequest(id uint32, op Operation, payload any) (*Request, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Request{MessageID: id, Operation: op, Payload: raw}, nil
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.MessageID == NotificationMessageID {
		return fmt.Errorf("messageId 0 is reserved for notifications")
	}
	if !r.Operation.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Operation)
	}
	return nil
}

// DecodePayload decodes the request payload into v.
func (r *Request) DecodePayload(v any) error {
	return decodePayload(r.Payload, v)
}

// Response represents a response message from service to client.
//
// CBOR encoding:
//
//	{
//	  1: messageId,    // uint32: matches request
//	  2: status,       // uint8: 0=success, or error code
//	  3: payload       // operation-specific data, or ErrorPayload
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// NewResponse builds a response, encoding payload if it is not nil.
func NewResponse(id uint32, status Status, payload any) (*Response, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Response{MessageID: id, Status: status, Payload: raw}, nil
}

// NewErrorResponse builds a failed response carrying a message.
func NewErrorResponse(id uint32, status Status, msg string) *Response {
	raw, _ := encodePayload(&ErrorPayload{Message: msg})
	return &Response{MessageID: id, Status: status, Payload: raw}
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// DecodePayload decodes the response payload into v.
func (r *Response) DecodePayload(v any) error {
	return decodePayload(r.Payload, v)
}

// Err returns a *StatusError for a failed response, or nil.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	var ep ErrorPayload
	_ = r.DecodePayload(&ep)
	return &StatusError{Status: r.Status, Message: ep.Message}
}

// EventKind identifies what a notification reports.
type EventKind uint8

const (
	// EventFired reports that a timer reached its deadline.
	EventFired EventKind = 1

	// EventCancelled reports that a timer owned by the receiver was torn
	// down by cancel-all.
	EventCancelled EventKind = 2
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventFired:
		return "FIRED"
	case EventCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Notification represents a timer event pushed to a subscribed client.
//
// CBOR encoding:
//
//	{
//	  1: 0,            // messageId 0 = notification
//	  2: eventKind,    // uint8: 1=Fired, 2=Cancelled
//	  3: message,      // string: the timer's message
//	  4: timestamp     // unix milliseconds
//	}
type Notification struct {
	Kind      EventKind
	Message   string
	Timestamp int64
}

// WritePayload is the payload of a Write request.
//
// CBOR encoding:
//
//	{
//	  1: command,     // bytes: raw command line
//	  2: ownerName,   // string: client command name
//	  3: ownerId      // int: client process ID
//	}
type WritePayload struct {
	Command   []byte `cbor:"1,keyasint"`
	OwnerName string `cbor:"2,keyasint,omitempty"`
	OwnerID   int    `cbor:"3,keyasint,omitempty"`
}

// WriteOutcome reports what a Write command did.
type WriteOutcome uint8

const (
	// WriteCreated means a new timer was registered.
	WriteCreated WriteOutcome = 1

	// WriteUpdated means a live timer's deadline was replaced.
	WriteUpdated WriteOutcome = 2

	// WriteApplied means the capacity was changed.
	WriteApplied WriteOutcome = 3

	// WriteCancelled means every live timer was cancelled.
	WriteCancelled WriteOutcome = 4

	// WriteIgnored means the command was not recognized.
	WriteIgnored WriteOutcome = 5
)

// String returns the outcome name.
func (o WriteOutcome) String() string {
	switch o {
	case WriteCreated:
		return "CREATED"
	case WriteUpdated:
		return "UPDATED"
	case WriteApplied:
		return "APPLIED"
	case WriteCancelled:
		return "CANCELLED"
	case WriteIgnored:
		return "IGNORED"
	default:
		return "UNKNOWN"
	}
}

// WriteResult is the payload of a successful Write response.
//
// CBOR encoding:
//
//	{
//	  1: outcome,     // uint8
//	  2: count,       // uint32: timers cancelled, or new capacity
//	  3: liveTimers   // uint32: live timers after the command
//	}
type WriteResult struct {
	Outcome    WriteOutcome `cbor:"1,keyasint"`
	Count      uint32       `cbor:"2,keyasint,omitempty"`
	LiveTimers uint32       `cbor:"3,keyasint,omitempty"`
}

// TimerRecord describes one live timer in a ReadResult.
type TimerRecord struct {
	Message   string `cbor:"1,keyasint"`
	OwnerID   int    `cbor:"2,keyasint,omitempty"`
	OwnerName string `cbor:"3,keyasint,omitempty"`
	Seconds   uint64 `cbor:"4,keyasint"`
}

// ReadResult is the payload of a successful Read response.
//
// CBOR encoding:
//
//	{
//	  1: text,        // string: rendered report
//	  2: elapsedMs,   // uint64: time since service start
//	  3: timers,      // array of TimerRecord, insertion order
//	  4: capacity     // uint32
//	}
type ReadResult struct {
	Text      string        `cbor:"1,keyasint"`
	ElapsedMs uint64        `cbor:"2,keyasint"`
	Timers    []TimerRecord `cbor:"3,keyasint"`
	Capacity  uint32        `cbor:"4,keyasint,omitempty"`
}

// SubscribePayload is the optional payload of a Subscribe request. The
// service prefers the kernel-reported peer PID when it has one.
type SubscribePayload struct {
	OwnerID int `cbor:"1,keyasint,omitempty"`
}

// SubscribeResult is the payload of a successful Subscribe response.
type SubscribeResult struct {
	WaiterID uint64 `cbor:"1,keyasint"`
}

// ErrorPayload represents additional error information in a response.
//
// CBOR encoding:
//
//	{
//	  1: message  // string: human-readable error message
//	}
type ErrorPayload struct {
	Message string `cbor:"1,keyasint,omitempty"`
}

// ControlMessage represents a transport-level control message.
// These are separate from the request/response/notification model.
type ControlMessage struct {
	Type     ControlMessageType `cbor:"0,keyasint"`
	Sequence uint32             `cbor:"2,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}

func encodePayload(payload any) (cbor.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrNoPayload
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
