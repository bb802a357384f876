package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	unix := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()

	cases := []struct {
		name string
		in   string
		ok   bool
		want time.Time
	}{
		{"rfc3339", "2026-03-01T12:00:00Z", true, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"rfc3339nano", "2026-03-01T12:00:00.5Z", true, time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC)},
		{"unix seconds", strconv.FormatInt(unix, 10), true, time.Unix(unix, 0)},
		{"empty", "", false, time.Time{}},
		{"garbage", "yesterday", false, time.Time{}},
		{"negative unix", "-5", false, time.Time{}},
	}
	for _, tc := range cases {
		got, ok := ParseTime(tc.in)
		if ok != tc.ok {
			t.Errorf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("empty input must return default, got %v", got)
	}
	if got := ParseTimeDefault("not-a-time", def); !got.Equal(def) {
		t.Fatalf("bad input must return default, got %v", got)
	}
	want := def.Add(time.Hour)
	if got := ParseTimeDefault(want.Format(time.RFC3339), def); !got.Equal(want) {
		t.Fatalf("valid input must win over default, got %v", got)
	}
}

func TestAlignRange(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 37, 0, time.UTC)
	to := time.Date(2026, 3, 1, 12, 7, 12, 0, time.UTC)

	gotFrom, gotTo := AlignRange(from, to, time.Minute)
	if gotFrom.Second() != 0 || gotTo.Second() != 0 {
		t.Fatalf("1m alignment left seconds: %v .. %v", gotFrom, gotTo)
	}
	if gotFrom.After(gotTo) {
		t.Fatalf("alignment must preserve ordering: %v > %v", gotFrom, gotTo)
	}

	gotFrom, gotTo = AlignRange(from, to, 5*time.Minute)
	if gotFrom.Minute() != 0 || gotTo.Minute() != 5 {
		t.Fatalf("5m alignment wrong: %v .. %v", gotFrom, gotTo)
	}

	gotFrom, gotTo = AlignRange(from, to, 0)
	if !gotFrom.Equal(from) || !gotTo.Equal(to) {
		t.Fatalf("zero width must be a no-op")
	}
}
