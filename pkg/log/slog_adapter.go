package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter mirrors protocol events into an operational log at debug
// level. Events are dropped cheaply when debug is disabled.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelDebug, "protocol", Attrs(event)...)
}

// attrList skips empty values so that each line carries only what the
// event actually has.
type attrList []slog.Attr

func (l *attrList) str(key, v string) {
	if v != "" {
		*l = append(*l, slog.String(key, v))
	}
}

func (l *attrList) int(key string, v int) {
	if v != 0 {
		*l = append(*l, slog.Int(key, v))
	}
}

func ptrStr[T fmt.Stringer](l *attrList, key string, v *T) {
	if v != nil {
		l.str(key, (*v).String())
	}
}

// Attrs flattens event into slog attributes.
func Attrs(event Event) []slog.Attr {
	l := attrList{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	l.str("conn_id", event.ConnectionID)
	l.int("owner", event.OwnerID)

	if f := event.Frame; f != nil {
		l = append(l, slog.Int("frame_size", f.Size), slog.Bool("truncated", f.Truncated))
	}
	if m := event.Message; m != nil {
		l = append(l, slog.String("msg_type", m.Type.String()), slog.Uint64("msg_id", uint64(m.MessageID)))
		ptrStr(&l, "operation", m.Operation)
		l.str("command", m.Command)
		ptrStr(&l, "status", m.Status)
		ptrStr(&l, "outcome", m.Outcome)
		ptrStr(&l, "event", m.EventKind)
		l.str("timer", m.TimerMessage)
		if m.ProcessingTime != nil {
			l = append(l, slog.Duration("processing_time", *m.ProcessingTime))
		}
	}
	if s := event.StateChange; s != nil {
		l.str("entity", s.Entity.String())
		l.str("old_state", s.OldState)
		l.str("new_state", s.NewState)
		l.str("reason", s.Reason)
	}
	if c := event.ControlMsg; c != nil {
		l.str("ctrl_type", c.Type.String())
		l.int("seq", int(c.Sequence))
	}
	if e := event.Error; e != nil {
		l.str("error_layer", e.Layer.String())
		l.str("error_msg", e.Message)
		l.str("error_context", e.Context)
		if e.Code != nil {
			l = append(l, slog.Int("error_code", *e.Code))
		}
	}
	if t := event.Timer; t != nil {
		l.str("action", t.Action.String())
		l.str("timer", t.Message)
		l.int("seconds", int(t.Seconds))
		l = append(l, slog.Int("live", t.LiveTimers))
		l.int("capacity", t.Capacity)
	}
	return l
}
