package log

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a log file. Writes are buffered; call
// Flush or Close to make them visible to readers.
type FileLogger struct {
	path string

	mu  sync.Mutex
	f   *os.File // nil once closed
	w   *bufio.Writer
	enc *cbor.Encoder
}

// NewFileLogger opens path for appending, creating it and its parent
// directories as needed.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &FileLogger{path: path, f: f, w: w, enc: NewEncoder(w)}, nil
}

// Path returns the file the logger writes to.
func (l *FileLogger) Path() string { return l.path }

// Log appends event. Encoding errors are dropped; a broken protocol log
// never fails a request.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.enc.Encode(event)
	}
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.w.Flush()
}

// Close flushes and closes the file. Later calls to Log are ignored and
// later calls to Close return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	flushErr := l.w.Flush()
	if err := f.Close(); err != nil {
		return err
	}
	return flushErr
}
