// Package buffer implements the shared control buffer that stages command
// text written by clients before it is parsed and dispatched.
//
// # Access Discipline
//
// The buffer is guarded by a reader/writer lock. Submit takes the exclusive
// mode while copying a command in; Current takes the shared mode while the
// dispatcher reads it back out. Several readers may hold the buffer at once,
// but a write excludes every reader and every other writer.
//
// # Overflow
//
// Writes are appended at the current offset. A write that would run past the
// end of the buffer resets it (offset back to zero, contents cleared) before
// being accepted. A write larger than the whole buffer is rejected with
// ErrTooLarge and also resets the buffer.
//
// # Last Write Wins
//
// Only one outstanding command is represented at a time. If two clients
// submit close together, the dispatcher of the first may read the second
// command. There is no queue.
package buffer
