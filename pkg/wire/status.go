package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusTooLarge indicates the command exceeds the control buffer.
	StatusTooLarge Status = 1

	// StatusCapacityExceeded indicates a new timer was refused because the
	// registry is full.
	StatusCapacityExceeded Status = 2

	// StatusCapacityShrinkRejected indicates a capacity below the number
	// of live timers was requested.
	StatusCapacityShrinkRejected Status = 3

	// StatusInvalidRequest indicates a malformed request or payload.
	StatusInvalidRequest Status = 4

	// StatusUnavailable indicates the service is shutting down.
	StatusUnavailable Status = 5

	// StatusResourceExhausted indicates too many subscribers.
	StatusResourceExhausted Status = 6
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusTooLarge:
		return "TOO_LARGE"
	case StatusCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case StatusCapacityShrinkRejected:
		return "CAPACITY_SHRINK_REJECTED"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// StatusError is the error form of a non-success response.
type StatusError struct {
	Status  Status
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Message
}
