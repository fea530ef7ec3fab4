package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mytimer/mytimer-go/pkg/client"
	"github.com/mytimer/mytimer-go/pkg/wire"
)

// unsubscribeTimeout bounds the opt-out sent after an interrupted wait.
const unsubscribeTimeout = time.Second

func list(ctx context.Context, c *client.Client, w io.Writer) error {
	pairs, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "%s %d\n", p.Message, p.Seconds)
	}
	return nil
}

func setCapacity(ctx context.Context, c *client.Client, n uint32) error {
	err := c.SetCapacity(ctx, n)
	if client.IsStatus(err, wire.StatusCapacityShrinkRejected) {
		return fmt.Errorf("cannot lower the limit to %d while more timers are live", n)
	}
	return err
}

// registerAndWait registers message and, when a new timer was created,
// blocks until it fires. The client subscribes first so a short timer
// cannot fire unnoticed.
func registerAndWait(ctx context.Context, c *client.Client, seconds uint32, message string, w io.Writer) error {
	if _, err := c.Subscribe(ctx); err != nil {
		return err
	}

	outcome, err := c.Register(ctx, seconds, message)
	switch {
	case client.IsStatus(err, wire.StatusCapacityExceeded):
		fmt.Fprintln(w, "Cannot add another timer!")
		return nil
	case err != nil:
		return err
	case outcome == wire.WriteUpdated:
		fmt.Fprintf(w, "The timer %s was updated!\n", message)
		return nil
	}

	kind, err := c.WaitFired(ctx, message)
	if err != nil {
		if ctx.Err() != nil {
			unsubscribe(c)
		}
		return err
	}
	if kind == wire.EventCancelled {
		fmt.Fprintf(w, "The timer %s was cancelled!\n", message)
		return nil
	}
	fmt.Fprintln(w, message)
	return nil
}

func unsubscribe(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	_ = c.Unsubscribe(ctx)
}
