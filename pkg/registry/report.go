package registry

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimerInfo describes one live timer in a Report.
type TimerInfo struct {
	Message   string
	OwnerID   int
	OwnerName string
	Seconds   uint64
	Remaining time.Duration
}

// Report is a point-in-time view of the registry.
type Report struct {
	Name    string
	Elapsed time.Duration
	Timers  []TimerInfo
}

// Report line prefixes.
const (
	prefixName    = "[MODULE NAME]: "
	prefixElapsed = "[TIME SINCE MODULE WAS LOADED]: "
	headerTimers  = "Timer:"
	prefixPID     = "[PID]: "
	prefixCommand = "[COMMAND NAME]: "
	prefixTimer   = "[TIMER]: "
)

// timerLine matches the tail of a [TIMER] line. The greedy message group
// makes the match anchor on the last "<N s>".
var timerLine = regexp.MustCompile(`^(.*)<(\d+) s>$`)

// WriteTo renders the report in text form.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	name := r.Name
	if name == "" {
		name = ServiceName
	}
	fmt.Fprintf(&b, "%s%s\n", prefixName, name)
	fmt.Fprintf(&b, "%s%d ms\n", prefixElapsed, r.Elapsed.Milliseconds())
	for _, t := range r.Timers {
		b.WriteString(headerTimers + "\n")
		fmt.Fprintf(&b, "\t%s%d\n", prefixPID, t.OwnerID)
		fmt.Fprintf(&b, "\t%s%s\n", prefixCommand, t.OwnerName)
		fmt.Fprintf(&b, "\t%s%s<%d s>\n", prefixTimer, t.Message, t.Seconds)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// String returns the report in text form.
func (r Report) String() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return b.String()
}

// Pairs returns the (message, seconds) pair of each timer.
func (r Report) Pairs() []Pair {
	pairs := make([]Pair, 0, len(r.Timers))
	for _, t := range r.Timers {
		pairs = append(pairs, Pair{Message: t.Message, Seconds: t.Seconds})
	}
	return pairs
}

// Contains reports whether a timer with message is listed.
func (r Report) Contains(message string) bool {
	for _, t := range r.Timers {
		if t.Message == message {
			return true
		}
	}
	return false
}

// Pair is a timer's message and its remaining seconds.
type Pair struct {
	Message string
	Seconds uint64
}

// ParseReport reads a report in text form. Lines it does not recognize
// are skipped. Remaining is left zero in the parsed timers.
func ParseReport(text string) (Report, error) {
	var (
		report  Report
		pending TimerInfo
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimLeft(sc.Text(), " \t")
		switch {
		case strings.HasPrefix(line, prefixName):
			report.Name = strings.TrimPrefix(line, prefixName)

		case strings.HasPrefix(line, prefixElapsed):
			v := strings.TrimSuffix(strings.TrimPrefix(line, prefixElapsed), " ms")
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Report{}, fmt.Errorf("parse elapsed %q: %w", v, err)
			}
			report.Elapsed = time.Duration(ms) * time.Millisecond

		case strings.HasPrefix(line, prefixPID):
			v := strings.TrimPrefix(line, prefixPID)
			id, err := strconv.Atoi(v)
			if err != nil {
				return Report{}, fmt.Errorf("parse pid %q: %w", v, err)
			}
			pending.OwnerID = id

		case strings.HasPrefix(line, prefixCommand):
			pending.OwnerName = strings.TrimPrefix(line, prefixCommand)

		case strings.HasPrefix(line, prefixTimer):
			m := timerLine.FindStringSubmatch(strings.TrimPrefix(line, prefixTimer))
			if m == nil {
				continue
			}
			secs, err := strconv.ParseUint(m[2], 10, 64)
			if err != nil {
				return Report{}, fmt.Errorf("parse seconds %q: %w", m[2], err)
			}
			pending.Message = m[1]
			pending.Seconds = secs
			report.Timers = append(report.Timers, pending)
			pending = TimerInfo{}
		}
	}
	if err := sc.Err(); err != nil {
		return Report{}, err
	}
	return report, nil
}
