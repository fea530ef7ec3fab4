package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
)

// Stats summarizes a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	TimerActions      map[log.TimerAction]int
	Connections       map[string]*ConnectionStats
	// PeakTimers is the highest live timer count the registry reported.
	PeakTimers int
	Errors     int
	TimeRange  struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats summarizes one connection.
type ConnectionStats struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	Events        int
	OwnerID       int
	Requests      int
	Notifications int
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     map[log.Layer]int{},
		EventsByCategory:  map[log.Category]int{},
		EventsByDirection: map[log.Direction]int{},
		TimerActions:      map[log.TimerAction]int{},
		Connections:       map[string]*ConnectionStats{},
	}
}

func (s *Stats) add(event log.Event) {
	ts := event.Timestamp
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	if s.TimeRange.Start.IsZero() || ts.Before(s.TimeRange.Start) {
		s.TimeRange.Start = ts
	}
	if ts.After(s.TimeRange.End) {
		s.TimeRange.End = ts
	}

	switch {
	case event.Timer != nil:
		s.TimerActions[event.Timer.Action]++
		s.PeakTimers = max(s.PeakTimers, event.Timer.LiveTimers)
	case event.Error != nil:
		s.Errors++
	}

	if event.ConnectionID == "" {
		return
	}
	c := s.Connections[event.ConnectionID]
	if c == nil {
		c = &ConnectionStats{FirstSeen: ts, LastSeen: ts}
		s.Connections[event.ConnectionID] = c
	}
	c.Events++
	c.LastSeen = later(c.LastSeen, ts)
	if c.OwnerID == 0 {
		c.OwnerID = event.OwnerID
	}
	if m := event.Message; m != nil && event.Layer == log.LayerWire {
		switch m.Type {
		case log.MessageTypeRequest:
			c.Requests++
		case log.MessageTypeNotification:
			c.Notifications++
		}
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// RunStats reads the whole log file at path and prints a summary to w.
func RunStats(path string, w io.Writer) error {
	stats := newStats()
	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

// printCounts prints one "  NAME:  n" line per key with a non-zero count,
// in the order given.
func printCounts[K interface {
	comparable
	fmt.Stringer
}](w io.Writer, counts map[K]int, keys ...K) {
	for _, k := range keys {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k.String()+":", n)
		}
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprint(w, "=== mytimer Protocol Log Statistics ===\n\n")

	if stats.TotalEvents > 0 {
		start, end := stats.TimeRange.Start, stats.TimeRange.End
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", end.Sub(start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", stats.TotalEvents)

	fmt.Fprintln(w, "Events by Layer:")
	printCounts(w, stats.EventsByLayer, log.LayerTransport, log.LayerWire, log.LayerService, log.LayerRegistry)
	fmt.Fprintln(w, "\nEvents by Category:")
	printCounts(w, stats.EventsByCategory,
		log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError, log.CategoryTimer)
	fmt.Fprintln(w, "\nEvents by Direction:")
	printCounts(w, stats.EventsByDirection, log.DirectionIn, log.DirectionOut)
	fmt.Fprintln(w)

	if len(stats.TimerActions) > 0 {
		fmt.Fprintln(w, "Timers:")
		printCounts(w, stats.TimerActions,
			log.TimerCreated, log.TimerUpdated, log.TimerRefused, log.TimerFired, log.TimerCancelled, log.TimerCapacity)
		fmt.Fprintf(w, "  %-12s %d\n\n", "PEAK:", stats.PeakTimers)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	ids := make([]string, 0, len(stats.Connections))
	for id := range stats.Connections {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	if len(ids) > 0 {
		fmt.Fprintln(w)
	}
	for _, id := range ids {
		c := stats.Connections[id]
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n",
			shortConn(id), c.Events, c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))
		if c.OwnerID != 0 {
			fmt.Fprintf(w, "%11sOwner: %d\n", "", c.OwnerID)
		}
		if c.Requests > 0 || c.Notifications > 0 {
			fmt.Fprintf(w, "%11sRequests: %d, notifications: %d\n", "", c.Requests, c.Notifications)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
}
