// Package log records what crosses the wire between mytimerd and its
// clients, and what the registry does with timers as a result.
//
// It is not the operational log. Daemons and tools keep using slog for
// that; a Logger here receives typed Events that can be written to a file
// and examined later with mytimer-log:
//
//	fl, err := log.NewFileLogger("/var/log/mytimerd.mlog")
//	...
//	cfg.ProtocolLogger = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
//
// Each layer fills in a different payload. The transport records frames
// and ping/pong/close control messages, the wire layer records decoded
// requests, responses and notifications, the service records connection,
// subscription and lifecycle state, and the registry records every timer
// it creates, updates, refuses, fires or cancels.
//
// A log file is a bare concatenation of CBOR-encoded events. Reader
// streams them back, optionally through a Filter.
package log
