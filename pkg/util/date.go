package util

import (
	"strconv"
	"time"
)

// ParseTime accepts RFC3339, RFC3339Nano, or unix seconds. Returns (t, true)
// when any form parsed.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses like ParseTime and falls back to def when the input
// is empty or unparseable.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// AlignRange truncates both ends of a time range to bucket boundaries of the
// given width, so queries cover whole buckets. A non-positive width returns
// the range unchanged.
func AlignRange(from, to time.Time, width time.Duration) (time.Time, time.Time) {
	if width <= 0 {
		return from, to
	}
	return from.Truncate(width), to.Truncate(width)
}
