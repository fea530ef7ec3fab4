package log

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Logger receives protocol log events. Log is called from connection
// goroutines and must not block. A nil Logger disables protocol logging.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// Discard drops every event.
var Discard Logger = LoggerFunc(func(Event) {})

// Log files are a plain sequence of CBOR items, one per event. Timestamps
// are written as RFC 3339 strings with nanoseconds so that log files sort
// and diff the same way on every host.
var (
	eventEnc = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	eventDec = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	mode, err := opts.EncMode()
	if err != nil {
		panic("log: event encoder: " + err.Error())
	}
	return mode
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	mode, err := opts.DecMode()
	if err != nil {
		panic("log: event decoder: " + err.Error())
	}
	return mode
}

// EncodeEvent returns the CBOR encoding of a single event.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// DecodeEvent parses one CBOR-encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	err := eventDec.Unmarshal(data, &event)
	if err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns a stream encoder writing events to w.
func NewEncoder(w io.Writer) *cbor.Encoder { return eventEnc.NewEncoder(w) }

// NewDecoder returns a stream decoder reading events from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return eventDec.NewDecoder(r) }

// MultiLogger fans each event out to several loggers in order.
type MultiLogger []Logger

// NewMultiLogger returns a MultiLogger over the non-nil loggers.
func NewMultiLogger(loggers ...Logger) MultiLogger {
	var m MultiLogger
	for _, l := range loggers {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

// Log passes event to every logger.
func (m MultiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}

// Len reports how many loggers receive events.
func (m MultiLogger) Len() int { return len(m) }
