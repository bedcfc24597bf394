package transcript

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimecode converts a subtitle time code to seconds. Accepted forms
// are mm:ss.mmm and hh:mm:ss.mmm, with either '.' or ',' as the fraction
// separator (whisper emits '.', stock SRT uses ',').
func ParseTimecode(ts string) (float64, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, fmt.Errorf("empty time code")
	}
	parts := strings.Split(ts, ":")
	switch len(parts) {
	case 2:
		mm, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, fmt.Errorf("bad minutes in %q: %w", ts, err)
		}
		ss, err := parseSecondsField(parts[1])
		if err != nil {
			return 0, fmt.Errorf("bad seconds in %q: %w", ts, err)
		}
		return float64(mm)*60 + ss, nil
	case 3:
		hh, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, fmt.Errorf("bad hours in %q: %w", ts, err)
		}
		mm, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, fmt.Errorf("bad minutes in %q: %w", ts, err)
		}
		ss, err := parseSecondsField(parts[2])
		if err != nil {
			return 0, fmt.Errorf("bad seconds in %q: %w", ts, err)
		}
		return float64(hh)*3600 + float64(mm)*60 + ss, nil
	default:
		return 0, fmt.Errorf("unrecognized time code %q", ts)
	}
}

func parseSecondsField(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	return strconv.ParseFloat(s, 64)
}

// FormatClock renders seconds as zero-padded HH:MM:SS for display.
// Milliseconds are dropped here; callers keep the numeric seconds for
// precise seeking.
func FormatClock(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(math.Floor(sec))
	hh := total / 3600
	mm := (total % 3600) / 60
	ss := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
}

// FormatTimecode renders seconds back into subtitle form with
// millisecond precision, hh:mm:ss.mmm only when an hour is reached.
func FormatTimecode(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	total := int(math.Floor(sec))
	ms := int(math.Round((sec - math.Floor(sec)) * 1000))
	if ms == 1000 {
		total++
		ms = 0
	}
	hh := total / 3600
	mm := (total % 3600) / 60
	ss := total % 60
	if hh > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", hh, mm, ss, ms)
	}
	return fmt.Sprintf("%02d:%02d.%03d", mm, ss, ms)
}
