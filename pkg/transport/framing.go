package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
)

// Every message travels as a 4-byte big-endian length followed by that
// many bytes of CBOR. Zero-length frames are invalid.
const (
	LengthPrefixSize      = 4
	DefaultMaxMessageSize = 64 * 1024

	// MaxLogFrameDataSize caps the bytes of a frame copied into the
	// protocol log.
	MaxLogFrameDataSize = 4 * 1024
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrMessageEmpty    = errors.New("message is empty")
	ErrFrameTruncated  = errors.New("frame truncated")
)

// FrameSize returns the bytes on the wire for a payload of n bytes.
func FrameSize(n int) int { return LengthPrefixSize + n }

func checkSize(n, limit uint32) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > limit:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, limit)
	}
	return nil
}

func orDefault(maxSize uint32) uint32 {
	if maxSize == 0 {
		return DefaultMaxMessageSize
	}
	return maxSize
}

// frameLog copies frames into a protocol logger. The zero value logs
// nothing.
type frameLog struct {
	logger log.Logger
	connID string
	role   log.Role
}

func (fl *frameLog) record(payload []byte, direction log.Direction) {
	if fl.logger == nil {
		return
	}
	ev := &log.FrameEvent{Size: FrameSize(len(payload)), Data: payload}
	if len(payload) > MaxLogFrameDataSize {
		ev.Data, ev.Truncated = payload[:MaxLogFrameDataSize], true
	}
	fl.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: fl.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    fl.role,
		Frame:        ev,
	})
}

// FrameWriter writes frames. It is safe for concurrent use; frames from
// different goroutines never interleave.
type FrameWriter struct {
	mu  sync.Mutex
	w   io.Writer
	max uint32
	log frameLog
}

// NewFrameWriter returns a writer accepting payloads up to maxSize bytes,
// or DefaultMaxMessageSize when maxSize is zero.
func NewFrameWriter(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{w: w, max: orDefault(maxSize)}
}

// WriteFrame writes payload with its length prefix in a single Write.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if err := checkSize(uint32(len(payload)), fw.max); err != nil {
		return err
	}
	frame := binary.BigEndian.AppendUint32(make([]byte, 0, FrameSize(len(payload))), uint32(len(payload)))
	frame = append(frame, payload...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fw.log.record(payload, log.DirectionOut)
	return nil
}

// FrameReader reads frames. It is not safe for concurrent use.
type FrameReader struct {
	r      io.Reader
	max    uint32
	prefix [LengthPrefixSize]byte
	log    frameLog
}

// NewFrameReader returns a reader rejecting payloads over maxSize bytes,
// or DefaultMaxMessageSize when maxSize is zero.
func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{r: r, max: orDefault(maxSize)}
}

// ReadFrame returns the next payload. A clean end of stream between
// frames is io.EOF; a stream ending inside a frame is ErrFrameTruncated.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if err := fr.fill(fr.prefix[:], true); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(fr.prefix[:])
	if err := checkSize(n, fr.max); err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if err := fr.fill(payload, false); err != nil {
		return nil, err
	}
	fr.log.record(payload, log.DirectionIn)
	return payload, nil
}

func (fr *FrameReader) fill(p []byte, atBoundary bool) error {
	_, err := io.ReadFull(fr.r, p)
	switch {
	case err == nil:
		return nil
	case err == io.EOF && atBoundary:
		return io.EOF
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return ErrFrameTruncated
	default:
		return fmt.Errorf("read frame: %w", err)
	}
}

// Framer reads and writes frames on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer returns a Framer over rw.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{NewFrameReader(rw, maxSize), NewFrameWriter(rw, maxSize)}
}

// SetLogger records frames in both directions to logger under connID.
// A nil logger stops recording.
func (f *Framer) SetLogger(logger log.Logger, connID string, role log.Role) {
	fl := frameLog{logger: logger, connID: connID, role: role}
	f.FrameReader.log, f.FrameWriter.log = fl, fl
}
