// Package expiry implements the expiration engine that schedules a wake-up
// for every armed timer and reports each firing exactly once.
//
// # Handles
//
// Arm returns an opaque Handle. The owner of the timer keeps the handle and
// uses it to cancel the timer, and the engine passes it back to the OnFire
// callback when the deadline elapses. Handles are never reused, so a stale
// handle can never match a newer timer.
//
// # Firing Context
//
// Callbacks run on their own goroutine (time.AfterFunc). The engine never
// holds its lock while calling out, so a callback may take locks that are
// also held around calls to Arm and Cancel.
//
// # Cancellation Race
//
// Cancel returns true when the callback for the handle will not be invoked.
// It returns false when the firing has already been claimed; the callback
// is then either running or about to run, and the caller must expect it.
//
// # Shutdown
//
// Stop cancels every pending timer and blocks until every callback that had
// already started has returned. After Stop, Arm fails with ErrStopped.
package expiry
