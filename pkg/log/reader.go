package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything; set fields must
// all match.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	OwnerID int

	// Timer keeps registry events and notifications about this timer
	// message.
	Timer string
}

// Matches reports whether event passes the filter.
func (f *Filter) Matches(event Event) bool {
	switch {
	case f.ConnectionID != "" && f.ConnectionID != event.ConnectionID,
		f.OwnerID != 0 && f.OwnerID != event.OwnerID,
		f.Direction != nil && *f.Direction != event.Direction,
		f.Layer != nil && *f.Layer != event.Layer,
		f.Category != nil && *f.Category != event.Category:
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return f.Timer == "" || f.Timer == timerOf(event)
}

func timerOf(event Event) string {
	if event.Timer != nil {
		return event.Timer.Message
	}
	if event.Message != nil {
		return event.Message.TimerMessage
	}
	return ""
}

// Reader iterates over the events of a log stream without loading it.
type Reader struct {
	dec    *cbor.Decoder
	filter Filter
	file   *os.File
}

// NewReader opens the log file at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the log file at path and yields only events
// matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewStreamReader(f, filter)
	r.file = f
	return r, nil
}

// NewStreamReader reads events from r. Closing the Reader leaves r open.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{dec: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF at the end of the
// stream. A truncated final event is an error other than io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		err := r.dec.Decode(&event)
		switch {
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case err != nil:
			return Event{}, err
		case r.filter.Matches(event):
			return event, nil
		}
	}
}

// Close closes the file opened by NewReader or NewFilteredReader.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
