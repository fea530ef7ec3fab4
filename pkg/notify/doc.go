// Package notify implements the one-event publish/subscribe channel that
// wakes waiting clients when a timer fires.
//
// # Waiters
//
// A client connection that wants to be told about firings registers a
// Waiter. Each Waiter has a small event queue read through C and a Done
// channel that is closed when the waiter is unregistered or the channel is
// closed.
//
// # Delivery
//
// Publish delivers one event to every currently registered waiter, in no
// particular order. Delivery never blocks: if a waiter's queue is full the
// event is dropped for that waiter, which still has an undelivered wake-up
// pending. A waiter registered concurrently with a Publish may or may not
// see that event, so clients re-check timer state after every wake-up.
//
// NotifyOwner delivers an event only to the waiters of one owner and is used
// to tell clients that their timer was torn down.
//
// # Lifecycle
//
// Unregister is idempotent and may race with Close. Waiters do not survive
// connection loss.
package notify
