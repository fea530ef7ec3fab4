package log

// Each enum below is a small integer on disk and an upper-case name in
// views and command-line filters. Values outside a table print UNKNOWN.

func enumName[E ~uint8](names []string, v E) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

func parseEnum[E ~uint8](names []string, s string) (E, bool) {
	for i, name := range names {
		if name == s {
			return E(i), true
		}
	}
	return 0, false
}

// Direction is the flow of a message relative to the logging endpoint.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

var directionNames = []string{"IN", "OUT"}

func (d Direction) String() string { return enumName(directionNames, d) }

// Layer is the part of the stack that captured an event.
type Layer uint8

const (
	// LayerTransport sees raw frames and control messages.
	LayerTransport Layer = iota
	// LayerWire sees decoded requests, responses and notifications.
	LayerWire
	// LayerService dispatches requests and tracks subscriptions.
	LayerService
	// LayerRegistry owns the timers.
	LayerRegistry
)

var layerNames = []string{"TRANSPORT", "WIRE", "SERVICE", "REGISTRY"}

func (l Layer) String() string { return enumName(layerNames, l) }

// ParseLayer returns the layer named s, as printed by Layer.String.
func ParseLayer(s string) (Layer, bool) { return parseEnum[Layer](layerNames, s) }

// Category says which payload an event carries.
type Category uint8

const (
	CategoryMessage Category = iota // Message
	CategoryControl                 // ControlMsg
	CategoryState                   // StateChange
	CategoryError                   // Error
	CategoryTimer                   // Timer
)

var categoryNames = []string{"MESSAGE", "CONTROL", "STATE", "ERROR", "TIMER"}

func (c Category) String() string { return enumName(categoryNames, c) }

// ParseCategory returns the category named s, as printed by Category.String.
func ParseCategory(s string) (Category, bool) { return parseEnum[Category](categoryNames, s) }

// Role is the side of the connection that logged the event.
type Role uint8

const (
	RoleService Role = iota
	RoleClient
)

var roleNames = []string{"SERVICE", "CLIENT"}

func (r Role) String() string { return enumName(roleNames, r) }

// MessageType is the kind of a decoded wire message.
type MessageType uint8

const (
	MessageTypeRequest MessageType = iota
	MessageTypeResponse
	MessageTypeNotification
)

var messageTypeNames = []string{"REQUEST", "RESPONSE", "NOTIFICATION"}

func (m MessageType) String() string { return enumName(messageTypeNames, m) }

// StateEntity is the thing whose state changed.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	// StateEntitySubscription tracks a client joining or leaving the
	// notification channel.
	StateEntitySubscription
	StateEntityService
)

var stateEntityNames = []string{"CONNECTION", "SUBSCRIPTION", "SERVICE"}

func (s StateEntity) String() string { return enumName(stateEntityNames, s) }

// ControlMsgType is a transport keepalive or close message.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

var controlMsgNames = []string{"PING", "PONG", "CLOSE"}

func (c ControlMsgType) String() string { return enumName(controlMsgNames, c) }

// TimerAction is what the registry did with a timer.
type TimerAction uint8

const (
	TimerCreated TimerAction = iota
	// TimerUpdated means a live timer got a new deadline.
	TimerUpdated
	// TimerRefused means the registry was full.
	TimerRefused
	TimerFired
	// TimerCancelled means cancel-all tore the timer down.
	TimerCancelled
	// TimerCapacity records a capacity change request, accepted or not.
	TimerCapacity
)

var timerActionNames = []string{"CREATED", "UPDATED", "REFUSED", "FIRED", "CANCELLED", "CAPACITY"}

func (a TimerAction) String() string { return enumName(timerActionNames, a) }
