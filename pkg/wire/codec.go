package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Messages use canonical key order so that the same value always
// encodes to the same bytes. Decoding tolerates indefinite lengths and
// repeated keys (last wins) from non-Go clients.
var (
	encMode = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode())
	decMode = mustMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode())
)

func mustMode[M any](mode M, err error) M {
	if err != nil {
		panic("wire: cbor mode: " + err.Error())
	}
	return mode
}

// Marshal encodes v with the message encoding options.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// decode unmarshals data into a new T, naming what in the error.
func decode[T any](data []byte, what string) (*T, error) {
	v := new(T)
	if err := Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return v, nil
}

// EncodeRequest validates and encodes a request.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes and validates a request.
func DecodeRequest(data []byte) (*Request, error) {
	req, err := decode[Request](data, "request")
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func EncodeResponse(resp *Response) ([]byte, error) {
	return Marshal(resp)
}

func DecodeResponse(data []byte) (*Response, error) {
	return decode[Response](data, "response")
}

// notificationWire is the encoded form of a Notification.
type notificationWire struct {
	MessageID uint32    `cbor:"1,keyasint"`
	Kind      EventKind `cbor:"2,keyasint"`
	Message   string    `cbor:"3,keyasint"`
	Timestamp int64     `cbor:"4,keyasint,omitempty"`
}

// EncodeNotification encodes notif under the reserved message ID 0.
func EncodeNotification(notif *Notification) ([]byte, error) {
	return Marshal(notificationWire{
		MessageID: NotificationMessageID,
		Kind:      notif.Kind,
		Message:   notif.Message,
		Timestamp: notif.Timestamp,
	})
}

// DecodeNotification rejects data whose message ID is not 0.
func DecodeNotification(data []byte) (*Notification, error) {
	w, err := decode[notificationWire](data, "notification")
	if err != nil {
		return nil, err
	}
	if w.MessageID != NotificationMessageID {
		return nil, fmt.Errorf("not a notification message: messageId=%d", w.MessageID)
	}
	return &Notification{
		Kind:      w.Kind,
		Message:   w.Message,
		Timestamp: w.Timestamp,
	}, nil
}

func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	return Marshal(msg)
}

func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	return decode[ControlMessage](data, "control message")
}

// MessageType represents the type of a decoded message.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota

	// MessageTypeExchange is a request or a response. Requests only
	// flow to the service and responses only to the client.
	MessageTypeExchange

	MessageTypeNotification
	MessageTypeControl
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeExchange:
		return "exchange"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeControl:
		return "control"
	default:
		return "unknown"
	}
}

// PeekMessageType classifies a frame by its leading keys: key 0 marks a
// control message, message ID 0 a notification, anything else a request
// or response.
func PeekMessageType(data []byte) (MessageType, error) {
	var peek struct {
		ControlType *uint8  `cbor:"0,keyasint"`
		MessageID   *uint32 `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("peek message: %w", err)
	}

	switch {
	case peek.ControlType != nil:
		return MessageTypeControl, nil
	case peek.MessageID == nil:
		return MessageTypeUnknown, nil
	case *peek.MessageID == NotificationMessageID:
		return MessageTypeNotification, nil
	default:
		return MessageTypeExchange, nil
	}
}
