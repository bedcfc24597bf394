package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFprobe reads media durations via the ffprobe binary.
type FFprobe struct {
	Binary  string
	Timeout time.Duration
}

// NewFFprobe creates a prober using the ffprobe found on PATH.
func NewFFprobe() *FFprobe {
	return &FFprobe{Binary: "ffprobe", Timeout: 15 * time.Second}
}

// Duration returns the container duration of path in seconds.
func (p *FFprobe) Duration(path string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: unparsable duration %q", path, strings.TrimSpace(string(out)))
	}
	return val, nil
}
