package transcript

import (
	"math"
	"testing"
)

func TestParseTimecode(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"01:02:03.456", 3723.456, false},
		{"00:00.000", 0, false},
		{"02:30.500", 150.5, false},
		{"00:01:00,250", 60.25, false}, // SRT comma fraction
		{"10:00", 600, false},
		{"garbage", 0, true},
		{"", 0, true},
		{"1:2:3:4", 0, true},
	}
	for _, c := range cases {
		got, err := ParseTimecode(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseTimecode(%q): expected error, got %v", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimecode(%q) failed: %v", c.in, err)
			continue
		}
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ParseTimecode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestClockRoundTrip(t *testing.T) {
	sec, err := ParseTimecode("01:02:03.456")
	if err != nil {
		t.Fatalf("ParseTimecode failed: %v", err)
	}
	if sec != 3723.456 {
		t.Fatalf("Expected 3723.456, got %v", sec)
	}
	if got := FormatClock(sec); got != "01:02:03" {
		t.Errorf("FormatClock(%v) = %q, want 01:02:03", sec, got)
	}
}

func TestFormatClockEdges(t *testing.T) {
	if got := FormatClock(-5); got != "00:00:00" {
		t.Errorf("FormatClock(-5) = %q", got)
	}
	if got := FormatClock(3599.999); got != "00:59:59" {
		t.Errorf("FormatClock(3599.999) = %q", got)
	}
}

func TestFormatTimecode(t *testing.T) {
	if got := FormatTimecode(8.08); got != "00:08.080" {
		t.Errorf("FormatTimecode(8.08) = %q", got)
	}
	if got := FormatTimecode(3723.456); got != "01:02:03.456" {
		t.Errorf("FormatTimecode(3723.456) = %q", got)
	}
}
