// Package registry implements the timer registry: the authoritative,
// capacity-gated collection of live timers.
//
// # Identity
//
// A timer is identified by its message. Registering a message that is
// already live replaces that timer's deadline instead of adding a second
// entry, and does not count against capacity.
//
// # Capacity
//
// The registry starts with a capacity of one. The capacity can be raised at
// any time but never lowered below the number of live timers; such a request
// is rejected and changes nothing. The capacity check and the insertion of a
// new timer happen in one critical section.
//
// # Firing
//
// Each live timer is armed in a Scheduler. When the scheduler reports a
// firing, Fire looks the timer up by handle, removes it and publishes an
// event through the Notifier. Publishing happens after removal, so a woken
// client that re-reads the snapshot no longer sees the timer.
//
// # Snapshots
//
// Snapshot returns a point-in-time Report under the shared lock. The Report
// renders to the text format of the legacy /proc/mytimer interface and
// ParseReport reads it back.
package registry
