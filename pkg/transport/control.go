package transport

import (
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// DecodeControlMessage decodes a frame if it holds a control message.
// It returns false for any other message type.
func DecodeControlMessage(data []byte) (*wire.ControlMessage, bool) {
	msgType, err := wire.PeekMessageType(data)
	if err != nil || msgType != wire.MessageTypeControl {
		return nil, false
	}
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		return nil, false
	}
	return msg, true
}

var controlLogTypes = map[wire.ControlMessageType]log.ControlMsgType{
	wire.ControlPing:  log.ControlMsgPing,
	wire.ControlPong:  log.ControlMsgPong,
	wire.ControlClose: log.ControlMsgClose,
}

// logControl records a control message event.
func logControl(logger log.Logger, connID string, role log.Role, msg *wire.ControlMessage, direction log.Direction) {
	if logger == nil {
		return
	}

	t, ok := controlLogTypes[msg.Type]
	if !ok {
		return
	}

	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    role,
		ControlMsg:   &log.ControlMsgEvent{Type: t, Sequence: msg.Sequence},
	})
}

// logConnState records a connection state change.
func logConnState(logger log.Logger, connID string, role log.Role, remote, oldState, newState, reason string) {
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    role,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
