package registry

import (
	"errors"
	"time"

	"github.com/mytimer/mytimer-go/pkg/expiry"
	"github.com/mytimer/mytimer-go/pkg/notify"
)

// Registry errors.
var (
	ErrCapacityExceeded          = errors.New("timer capacity exceeded")
	ErrCapacityShrinkRejected    = errors.New("capacity below live timer count")
	ErrHandleLookupInconsistency = errors.New("fired timer not found")
	ErrEmptyMessage              = errors.New("empty message")
	ErrClosed                    = errors.New("registry closed")
)

// Registry defaults.
const (
	// DefaultCapacity is the capacity limit at start.
	DefaultCapacity = 1

	// ServiceName appears in the report header.
	ServiceName = "mytimer"
)

// Outcome is the result of a registry command.
type Outcome uint8

const (
	// OutcomeCreated means a new timer was registered.
	OutcomeCreated Outcome = iota + 1

	// OutcomeUpdated means an existing timer's deadline was replaced.
	OutcomeUpdated

	// OutcomeCapacityExceeded means registration was refused.
	OutcomeCapacityExceeded

	// OutcomeApplied means the capacity was changed.
	OutcomeApplied

	// OutcomeRejected means the capacity change was refused.
	OutcomeRejected
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "CREATED"
	case OutcomeUpdated:
		return "UPDATED"
	case OutcomeCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case OutcomeApplied:
		return "APPLIED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Err returns the sentinel error for a refused outcome, or nil.
func (o Outcome) Err() error {
	switch o {
	case OutcomeCapacityExceeded:
		return ErrCapacityExceeded
	case OutcomeRejected:
		return ErrCapacityShrinkRejected
	default:
		return nil
	}
}

// Owner identifies the client that registered a timer.
type Owner struct {
	// ID is the client's process ID.
	ID int

	// Name is the client's command name.
	Name string
}

// Scheduler arms and cancels wake-ups. Implemented by *expiry.Engine.
type Scheduler interface {
	Arm(d time.Duration) (expiry.Handle, error)
	Cancel(h expiry.Handle) bool
}

// Notifier delivers timer events to waiting clients.
// Implemented by *notify.Channel.
type Notifier interface {
	Publish(ev notify.Event) int
	NotifyOwner(ownerID int, ev notify.Event) int
}

// Compile-time interface satisfaction checks.
var (
	_ Scheduler = (*expiry.Engine)(nil)
	_ Notifier  = (*notify.Channel)(nil)
)
