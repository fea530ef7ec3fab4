// Package commands implements the mytimer-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
)

// ViewFilter is the subset of log.Filter exposed by the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Timer     string
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Timer:     f.Timer,
	}
}

// detail collects the indented lines printed under an event header.
type detail []string

func (d *detail) add(key, format string, args ...any) {
	*d = append(*d, key+": "+fmt.Sprintf(format, args...))
}

func (d *detail) line(format string, args ...any) {
	*d = append(*d, fmt.Sprintf(format, args...))
}

// formatEvent prints a header line followed by the payload details and a
// blank line:
//
//	2026-01-28T10:15:32.123456Z [conn:abc12345] IN  WIRE REQUEST
//	  MessageID: 7
func formatEvent(w io.Writer, event log.Event) {
	conn := shortConn(event.ConnectionID)
	if conn == "" {
		conn = "-"
	}
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	var d detail
	if event.OwnerID != 0 {
		d.add("Owner", "%d", event.OwnerID)
	}
	label := "Unknown"
	switch {
	case event.Frame != nil:
		label = "Frame"
		frameDetail(&d, event.Frame)
	case event.Message != nil:
		label = event.Message.Type.String()
		messageDetail(&d, event.Message)
	case event.StateChange != nil:
		label = "State"
		stateDetail(&d, event.StateChange)
	case event.ControlMsg != nil:
		label = event.ControlMsg.Type.String()
		if seq := event.ControlMsg.Sequence; seq != 0 {
			d.add("Sequence", "%d", seq)
		}
	case event.Timer != nil:
		label = event.Timer.Action.String()
		timerDetail(&d, event.Timer)
	case event.Error != nil:
		label = "Error"
		errorDetail(&d, event.Error)
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"), conn, event.Direction, layer, label)
	for _, l := range d {
		fmt.Fprintf(w, "  %s\n", l)
	}
	fmt.Fprintln(w)
}

// shortConn keeps the first eight characters of a connection UUID.
func shortConn(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func frameDetail(d *detail, f *log.FrameEvent) {
	d.add("Size", "%d bytes", f.Size)
	if len(f.Data) == 0 {
		return
	}
	data := hex.EncodeToString(f.Data)
	if f.Truncated {
		data += " (truncated)"
	}
	d.add("Data", "%s", data)
}

func messageDetail(d *detail, m *log.MessageEvent) {
	if m.Type != log.MessageTypeNotification {
		d.add("MessageID", "%d", m.MessageID)
	}
	if m.Operation != nil {
		d.add("Operation", "%s", m.Operation)
	}
	if m.Command != "" {
		d.add("Command", "%q", m.Command)
	}
	if m.Status != nil {
		d.add("Status", "%s (%d)", m.Status, *m.Status)
	}
	if m.Outcome != nil {
		d.add("Outcome", "%s", m.Outcome)
	}
	if m.ProcessingTime != nil {
		d.add("Duration", "%s", formatDuration(*m.ProcessingTime))
	}
	if m.EventKind != nil {
		d.add("Event", "%s", m.EventKind)
	}
	if m.TimerMessage != "" {
		d.add("Timer", "%q", m.TimerMessage)
	}
}

func stateDetail(d *detail, sc *log.StateChangeEvent) {
	d.add("Entity", "%s", sc.Entity)
	d.line("%s -> %s", sc.OldState, sc.NewState)
	if sc.Reason != "" {
		d.add("Reason", "%s", sc.Reason)
	}
}

func timerDetail(d *detail, te *log.TimerEvent) {
	if te.Message != "" {
		if te.Seconds != 0 {
			d.add("Timer", "%q <%d s>", te.Message, te.Seconds)
		} else {
			d.add("Timer", "%q", te.Message)
		}
	}
	if te.Capacity != 0 {
		d.add("Live", "%d/%d", te.LiveTimers, te.Capacity)
	} else {
		d.add("Live", "%d", te.LiveTimers)
	}
}

func errorDetail(d *detail, e *log.ErrorEventData) {
	d.add("Layer", "%s", e.Layer)
	d.add("Message", "%s", e.Message)
	if e.Code != nil {
		d.add("Code", "%d", *e.Code)
	}
	if e.Context != "" {
		d.add("Context", "%s", e.Context)
	}
}

// formatDuration prints d with three decimals in the largest unit below it.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	l, ok := log.ParseLayer(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, service, or registry)", s)
	}
	return l, nil
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(strings.ToUpper(s))
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, error, or timer)", s)
	}
	return c, nil
}

// RunView prints every event of the log file at path that matches filter.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	return eachEvent(path, filter.logFilter(), func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}

// eachEvent calls fn for every event in the file at path that matches
// filter, stopping at the first error.
func eachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read log: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
