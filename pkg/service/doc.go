// Package service runs the timer service.
//
// A Service owns one service context: the control buffer, the timer
// registry, the expiration engine and the notification channel. Start
// builds the context and begins accepting clients on a unix socket or TCP;
// Stop tears it down in order:
//
//  1. stop accepting and close client connections
//  2. stop the engine, waiting for firings already running
//  3. release every live timer without notifying owners
//  4. close the notification channel
//
// Example usage:
//
//	svc := service.New(service.DefaultConfig())
//	if err := svc.Start(ctx); err != nil {
//		return err
//	}
//	defer svc.Stop()
//
// # Requests
//
// Each client connection gets a Session. ProtocolHandler executes its
// requests:
//   - Write stages the command in the control buffer, parses the buffer's
//     content and applies it to the registry
//   - Read returns the snapshot report
//   - Subscribe registers a waiter; fired and cancelled events are pushed
//     to the client as notifications until Unsubscribe or disconnect
//
// The owner of a timer is the kernel-reported peer PID on unix sockets and
// the declared PID otherwise.
package service
