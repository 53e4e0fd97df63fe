package abstractions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateOnlyLayout = "2006-01-02"
	timeOnlyLayout = "15:04:05"
)

// ErrInvalidISODuration is returned for strings that are not ISO 8601 durations.
var ErrInvalidISODuration = errors.New("invalid ISO 8601 duration")

// DateOnly is a calendar date without a time of day.
type DateOnly struct {
	time time.Time
}

// NewDateOnly truncates t to its date.
func NewDateOnly(t time.Time) DateOnly {
	return DateOnly{time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDateOnly parses a YYYY-MM-DD date.
func ParseDateOnly(s string) (DateOnly, error) {
	t, err := time.Parse(dateOnlyLayout, s)
	if err != nil {
		return DateOnly{}, fmt.Errorf("parse date: %w", err)
	}
	return DateOnly{time: t}, nil
}

// Time returns the date at midnight UTC.
func (d DateOnly) Time() time.Time { return d.time }

func (d DateOnly) String() string { return d.time.Format(dateOnlyLayout) }

// TimeOnly is a time of day without a date.
type TimeOnly struct {
	time time.Time
}

// NewTimeOnly keeps the clock part of t.
func NewTimeOnly(t time.Time) TimeOnly {
	return TimeOnly{time: time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

// ParseTimeOnly parses hh:mm:ss with optional fractional seconds.
func ParseTimeOnly(s string) (TimeOnly, error) {
	t, err := time.Parse(timeOnlyLayout, s)
	if err != nil {
		return TimeOnly{}, fmt.Errorf("parse time: %w", err)
	}
	return NewTimeOnly(t), nil
}

// Time returns the time of day on 0000-01-01 UTC.
func (t TimeOnly) Time() time.Time { return t.time }

func (t TimeOnly) String() string {
	if t.time.Nanosecond() == 0 {
		return t.time.Format(timeOnlyLayout)
	}
	return t.time.Format(timeOnlyLayout + ".999999999")
}

// ISODuration is an ISO 8601 duration such as P1DT2H30M.
type ISODuration struct {
	Negative     bool
	Years        int
	Months       int
	Weeks        int
	Days         int
	Hours        int
	Minutes      int
	Seconds      int
	Milliseconds int
}

var isoDurationPattern = regexp.MustCompile(
	`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:[.,](\d{1,3})\d*)?S)?)?$`,
)

// ParseISODuration parses s.
func ParseISODuration(s string) (ISODuration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "-P" || strings.HasSuffix(s, "T") {
		return ISODuration{}, fmt.Errorf("%w: %q", ErrInvalidISODuration, s)
	}

	var parts [8]int
	for i, v := range m[2:] {
		if v == "" {
			continue
		}
		if i == 7 {
			v += strings.Repeat("0", 3-len(v))
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return ISODuration{}, fmt.Errorf("%w: %q: %w", ErrInvalidISODuration, s, err)
		}
		parts[i] = n
	}

	return ISODuration{
		Negative:     m[1] == "-",
		Years:        parts[0],
		Months:       parts[1],
		Weeks:        parts[2],
		Days:         parts[3],
		Hours:        parts[4],
		Minutes:      parts[5],
		Seconds:      parts[6],
		Milliseconds: parts[7],
	}, nil
}

// Duration approximates d as a time.Duration, counting a year as 365 days and
// a month as 30 days.
func (d ISODuration) Duration() time.Duration {
	days := d.Years*365 + d.Months*30 + d.Weeks*7 + d.Days
	total := time.Duration(days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second +
		time.Duration(d.Milliseconds)*time.Millisecond
	if d.Negative {
		return -total
	}
	return total
}

func (d ISODuration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	writePart := func(n int, unit byte) {
		if n != 0 {
			b.WriteString(strconv.Itoa(n))
			b.WriteByte(unit)
		}
	}
	writePart(d.Years, 'Y')
	writePart(d.Months, 'M')
	writePart(d.Weeks, 'W')
	writePart(d.Days, 'D')
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 || d.Milliseconds != 0 {
		b.WriteByte('T')
		writePart(d.Hours, 'H')
		writePart(d.Minutes, 'M')
		if d.Milliseconds != 0 {
			frac := strings.TrimRight(fmt.Sprintf("%03d", d.Milliseconds), "0")
			fmt.Fprintf(&b, "%d.%sS", d.Seconds, frac)
		} else {
			writePart(d.Seconds, 'S')
		}
	}
	if b.Len() == 1 || (d.Negative && b.Len() == 2) {
		b.WriteString("T0S")
	}
	return b.String()
}
