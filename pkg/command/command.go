// Package command parses the text commands written to the control buffer.
//
// Three commands exist:
//
//	-s <seconds> <message>   register a timer, or update the one with this message
//	-m <count>               set the maximum number of live timers
//	-r                       cancel every live timer
//
// Anything else parses as KindUnknown and is ignored by the service.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the maximum length of a timer message in bytes.
// Longer messages are truncated when parsed.
const MaxMessageLen = 128

// Command errors.
var (
	ErrEmptyMessage        = errors.New("empty message")
	ErrMessageNewline      = errors.New("message contains a line break")
	ErrMessageTooLong      = errors.New("message too long")
	ErrMessageLeadingSpace = errors.New("message starts with whitespace")
	ErrMessageEncoding     = errors.New("message is not valid UTF-8 text")
)

// Kind identifies the command.
type Kind uint8

const (
	// KindUnknown is any text that is not a recognized command.
	KindUnknown Kind = iota

	// KindRegister registers or updates a timer.
	KindRegister

	// KindSetCapacity changes the maximum number of live timers.
	KindSetCapacity

	// KindCancelAll cancels every live timer.
	KindCancelAll
)

// String returns the command kind name.
func (k Kind) String() string {
	switch k {
	case KindRegister:
		return "REGISTER"
	case KindSetCapacity:
		return "SET_CAPACITY"
	case KindCancelAll:
		return "CANCEL_ALL"
	default:
		return "UNKNOWN"
	}
}

// Command is a parsed control command.
type Command struct {
	Kind Kind

	// Seconds until the timer fires (KindRegister).
	Seconds uint32

	// Message identifying the timer (KindRegister).
	Message string

	// Count is the new capacity (KindSetCapacity).
	Count uint32
}

// Register returns a register command.
func Register(seconds uint32, message string) Command {
	return Command{Kind: KindRegister, Seconds: seconds, Message: message}
}

// SetCapacity returns a set capacity command.
func SetCapacity(count uint32) Command {
	return Command{Kind: KindSetCapacity, Count: count}
}

// CancelAll returns a cancel-all command.
func CancelAll() Command {
	return Command{Kind: KindCancelAll}
}

// String renders the command in its text form.
func (c Command) String() string {
	switch c.Kind {
	case KindRegister:
		return fmt.Sprintf("-s %d %s", c.Seconds, c.Message)
	case KindSetCapacity:
		return fmt.Sprintf("-m %d", c.Count)
	case KindCancelAll:
		return "-r"
	default:
		return ""
	}
}

// Bytes renders the command for submission to the control buffer.
func (c Command) Bytes() []byte {
	return []byte(c.String())
}

// ValidateMessage checks that a message can be registered unchanged:
// Parse(Register(n, msg).Bytes()).Message == msg for every msg it accepts.
func ValidateMessage(msg string) error {
	switch {
	case msg == "":
		return ErrEmptyMessage
	case strings.ContainsAny(msg, "\r\n"):
		return ErrMessageNewline
	case !utf8.ValidString(msg) || strings.ContainsRune(msg, 0):
		return ErrMessageEncoding
	case trimSpaceLeft(msg) != msg:
		return ErrMessageLeadingSpace
	case len(msg) > MaxMessageLen:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(msg), MaxMessageLen)
	}
	return nil
}

// Normalize reduces s to the form the service stores: the text before the
// first line break, invalid UTF-8 replaced by U+FFFD, truncated to
// MaxMessageLen bytes.
func Normalize(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return Truncate(strings.ToValidUTF8(s, string(utf8.RuneError)), MaxMessageLen)
}

// Parse parses command text. Text up to the first NUL byte is considered.
// Unrecognized or malformed text yields a command of KindUnknown.
func Parse(p []byte) Command {
	s := string(p)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	if rest, ok := strings.CutPrefix(s, "-s"); ok {
		if cmd, ok := parseRegister(rest); ok {
			return cmd
		}
	}
	if rest, ok := strings.CutPrefix(s, "-m"); ok {
		if n, _, ok := parseUint(rest); ok {
			return SetCapacity(n)
		}
	}
	if strings.HasPrefix(s, "-r") {
		return CancelAll()
	}
	return Command{Kind: KindUnknown}
}

// parseRegister parses "<seconds> <message>" following the -s flag.
func parseRegister(s string) (Command, bool) {
	seconds, rest, ok := parseUint(s)
	if !ok {
		return Command{}, false
	}

	rest = Normalize(trimSpaceLeft(rest))
	if rest == "" {
		return Command{}, false
	}
	return Register(seconds, rest), true
}

// parseUint skips leading whitespace and reads a decimal uint32.
// It returns the value and the unparsed remainder.
func parseUint(s string) (uint32, string, bool) {
	s = trimSpaceLeft(s)
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, s, false
	}
	v, err := strconv.ParseUint(s[:n], 10, 32)
	if err != nil {
		return 0, s, false
	}
	return uint32(v), s[n:], true
}

func trimSpaceLeft(s string) string {
	return strings.TrimLeft(s, " \t\r\n\v\f")
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
