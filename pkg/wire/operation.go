package wire

// Operation represents a mytimer protocol operation.
type Operation uint8

const (
	// OpWrite submits a command line to the control buffer.
	OpWrite Operation = 1

	// OpRead returns the registry report.
	OpRead Operation = 2

	// OpSubscribe registers the connection for timer notifications.
	OpSubscribe Operation = 3

	// OpUnsubscribe removes the connection's notification registration.
	OpUnsubscribe Operation = 4
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpWrite:
		return "Write"
	case OpRead:
		return "Read"
	case OpSubscribe:
		return "Subscribe"
	case OpUnsubscribe:
		return "Unsubscribe"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a valid mytimer operation.
func (o Operation) IsValid() bool {
	return o >= OpWrite && o <= OpUnsubscribe
}
