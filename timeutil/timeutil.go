package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Operational days roll over at 04:00 local time: a train departing
// 23:50 and arriving 00:40 belongs to the day it started.
const serviceDateCutoffHour = 4

// ParseISO8601 parses an RFC 3339 timestamp, preserving the supplied
// UTC offset. Empty input yields nil without error.
func ParseISO8601(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return &t, nil
}

// ISO8601 formats a timestamp as RFC 3339. Round-trips with
// ParseISO8601 for any instant produced inside the system. Nil yields
// the empty string.
func ISO8601(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ParseISODelay converts an ISO 8601 duration (e.g. "PT2M30S") to
// whole minutes, rounding seconds half-up. Empty or unparseable input
// yields 0, as do negative durations.
func ParseISODelay(s string) int {
	d, err := parseISODuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return int((d + 30*time.Second) / time.Minute)
}

// parseISODuration handles the PnDTnHnMnS subset of ISO 8601
// durations. Weeks, months and years do not occur in delay fields.
func parseISODuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := 0
	haveNum := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			haveNum = true
		case c == 'T':
			if inTime || haveNum {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			inTime = true
		default:
			if !haveNum {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			switch {
			case c == 'D' && !inTime:
				total += time.Duration(num) * 24 * time.Hour
			case c == 'H' && inTime:
				total += time.Duration(num) * time.Hour
			case c == 'M' && inTime:
				total += time.Duration(num) * time.Minute
			case c == 'S' && inTime:
				total += time.Duration(num) * time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			num = 0
			haveNum = false
		}
	}
	if haveNum {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	if neg {
		total = -total
	}
	return total, nil
}

// CombineLocal adds a day offset to the local midnight of date in the
// given timezone. The offset may exceed 24h, rolling the date forward.
// Civil times that do not exist (DST spring-forward) are normalized by
// time.Date: the result is shifted past the gap by its width, not
// clamped to the gap's edge, so a nominal 02:30 inside a one-hour gap
// lands on 03:30.
func CombineLocal(date time.Time, offset time.Duration, loc *time.Location) time.Time {
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		0, 0, int(offset/time.Second), 0,
		loc,
	)
}

// ServiceDate returns the operational day for an instant: before 04:00
// local wall-clock time the previous calendar day, otherwise the
// current one. The result is midnight in the instant's location.
func ServiceDate(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if t.Hour() < serviceDateCutoffHour {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// Date formats a date as YYYY-MM-DD.
func Date(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
