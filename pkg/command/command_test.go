package command

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	long := strings.Repeat("a", MaxMessageLen+20)

	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"register", "-s 5 brew coffee", Register(5, "brew coffee")},
		{"register trailing NUL", "-s 3 stretch\x00", Register(3, "stretch")},
		{"register stops at newline", "-s 3 one\ntwo", Register(3, "one")},
		{"register stops at carriage return", "-s 3 one\r\n", Register(3, "one")},
		{"register replaces invalid UTF-8", "-s 50 caf\xe9", Register(50, "caf\uFFFD")},
		{"register line break only", "-s 3 \r", Command{}},
		{"register extra spaces", "-s   7    tea", Register(7, "tea")},
		{"register no space after flag", "-s9 x", Register(9, "x")},
		{"register zero seconds", "-s 0 now", Register(0, "now")},
		{"register keeps inner spaces", "-s 1 a  b", Register(1, "a  b")},
		{"register truncates", "-s 1 " + long, Register(1, long[:MaxMessageLen])},
		{"register missing message", "-s 5", Command{}},
		{"register missing message trailing space", "-s 5   ", Command{}},
		{"register bad seconds", "-s x msg", Command{}},
		{"register overflow seconds", "-s 99999999999 msg", Command{}},
		{"set capacity", "-m 3", SetCapacity(3)},
		{"set capacity trailing text", "-m 3 junk", SetCapacity(3)},
		{"set capacity zero", "-m 0", SetCapacity(0)},
		{"set capacity missing", "-m", Command{}},
		{"cancel all", "-r", CancelAll()},
		{"cancel all prefix", "-rfoo", CancelAll()},
		{"empty", "", Command{}},
		{"unknown", "-x 1", Command{}},
		{"leading space is unknown", " -r", Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse([]byte(tt.in))
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTruncatesOnRuneBoundary(t *testing.T) {
	// 127 ASCII bytes followed by a two-byte rune straddling the limit
	msg := strings.Repeat("a", MaxMessageLen-1) + "é"
	got := Parse([]byte("-s 1 " + msg))

	if got.Kind != KindRegister {
		t.Fatalf("Kind = %v, want REGISTER", got.Kind)
	}
	if got.Message != strings.Repeat("a", MaxMessageLen-1) {
		t.Errorf("Message length = %d, want %d", len(got.Message), MaxMessageLen-1)
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Register(5, "brew coffee"), "-s 5 brew coffee"},
		{SetCapacity(2), "-m 2"},
		{CancelAll(), "-r"},
		{Command{}, ""},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if tt.cmd.Kind != KindUnknown {
			if back := Parse(tt.cmd.Bytes()); back != tt.cmd {
				t.Errorf("Parse(String()) = %+v, want %+v", back, tt.cmd)
			}
		}
	}
}

func TestKindString(t *testing.T) {
	if KindRegister.String() != "REGISTER" {
		t.Errorf("KindRegister.String() = %q", KindRegister.String())
	}
	if Kind(99).String() != "UNKNOWN" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want error
	}{
		{"plain", "ok", nil},
		{"inner and trailing spaces", "a  b ", nil},
		{"non-ASCII", "café ☕", nil},
		{"angle brackets", "looks like <5 s>", nil},
		{"max length", strings.Repeat("x", MaxMessageLen), nil},
		{"empty", "", ErrEmptyMessage},
		{"newline", "a\nb", ErrMessageNewline},
		{"carriage return", "a\rb", ErrMessageNewline},
		{"leading space", " tea", ErrMessageLeadingSpace},
		{"leading tab", "\ttea", ErrMessageLeadingSpace},
		{"invalid UTF-8", "caf\xe9", ErrMessageEncoding},
		{"NUL", "a\x00b", ErrMessageEncoding},
		{"too long", strings.Repeat("x", MaxMessageLen+1), ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateMessage(%q) = %v, want %v", tt.msg, err, tt.want)
			}
			if err != nil {
				return
			}
			got := Parse(Register(5, tt.msg).Bytes())
			if got.Kind != KindRegister || got.Message != tt.msg {
				t.Errorf("Parse(Register(5, %q)) = %+v, want the message unchanged", tt.msg, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tea", "tea"},
		{"tea\r\nmore", "tea"},
		{"caf\xe9", "caf\uFFFD"},
		{"\xff\xfe", "\uFFFD"},
		{strings.Repeat("a", MaxMessageLen+1), strings.Repeat("a", MaxMessageLen)},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if err := ValidateMessage(got); err != nil {
			t.Errorf("ValidateMessage(Normalize(%q)) = %v", tt.in, err)
		}
	}
}
