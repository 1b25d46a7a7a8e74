// Package eventtime normalizes the timestamp text found in raw events and
// payloads into UTC instants.
package eventtime

import (
	"errors"
	"math"
	"strings"
	"time"
)

// ErrInvalidDate is returned for text that is not a valid, representable instant.
var ErrInvalidDate = errors.New("invalid date")

// layouts are tried in order. Layouts without a zone are read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Representable instants are those with a UnixNano value.
var (
	minTime = time.Unix(0, math.MinInt64).UTC()
	maxTime = time.Unix(0, math.MaxInt64).UTC()
)

// Parse normalizes raw to a UTC instant at microsecond precision, the
// precision TIMESTAMPTZ stores. "2026-01-01T25:00:00Z" and other out-of-range
// field values fail with ErrInvalidDate.
func Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC().Truncate(time.Microsecond)
		if !InRange(t) {
			return time.Time{}, ErrInvalidDate
		}
		return t, nil
	}
	return time.Time{}, ErrInvalidDate
}

// ParseDate parses a calendar date (YYYY-MM-DD), as used in file names and
// date-typed payload fields.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// InRange reports whether t can be represented as nanoseconds since the epoch.
func InRange(t time.Time) bool {
	return !t.Before(minTime) && !t.After(maxTime)
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
