package transcript

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"talkgrader/pkg/models"
)

// DurationProber reports a media file's duration in seconds. The ffprobe
// implementation lives in pkg/probe; tests inject fakes.
type DurationProber interface {
	Duration(path string) (float64, error)
}

// Reconstructor merges per-chunk subtitle artifacts into one absolute
// timeline. Each artifact's time codes are relative to its own chunk; the
// reconstructor accumulates an offset across artifacts, preferring the
// probed duration of the matching media chunk and falling back to the
// maximum end time seen when probing fails.
type Reconstructor struct {
	ChunksDir string
	Prober    DurationProber
}

var (
	artifactPattern   = regexp.MustCompile(`(?i)\.(srt|vtt|txt)$`)
	chunkNamePattern  = regexp.MustCompile(`(?i)chunk[_-]?(\d+)`)
	trailingIndex     = regexp.MustCompile(`\s*\d+\s*$`)
	bracketedTimeline = regexp.MustCompile(`\[(\d{2}:\d{2}\.\d{3}|\d{2}:\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{2}:\d{2}\.\d{3}|\d{2}:\d{2}:\d{2}\.\d{3})\]\s*([^\n\[]+)`)
	inlineTimeline    = regexp.MustCompile(`(\d{2}:\d{2}\.\d{3})\s*-->\s*(\d{2}:\d{2}\.\d{3})\s*([^\n]+)`)
)

var chunkExtensions = []string{".mp4", ".mp3", ".m4a", ".wav"}

// Reconstruct builds the ordered, deduplicated transcript for the
// subtitle artifacts found in dir.
func (r *Reconstructor) Reconstruct(dir string) ([]models.TranscriptSegment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list transcript artifacts: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !artifactPattern.MatchString(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	// chunk_2 must come before chunk_10
	sort.Slice(files, func(i, j int) bool { return naturalLess(files[i], files[j]) })

	var segments []models.TranscriptSegment
	cumulativeOffset := 0.0
	maxEnd := 0.0

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue // best-effort: one unreadable artifact must not kill the read path
		}
		fileOffset := cumulativeOffset
		for _, seg := range parseBlocks(string(data), fileOffset) {
			if seg.EndSec > maxEnd {
				maxEnd = seg.EndSec
			}
			segments = append(segments, seg)
		}

		if d, ok := r.chunkDuration(name); ok {
			cumulativeOffset += d
		} else if maxEnd > cumulativeOffset {
			cumulativeOffset = maxEnd
		}
	}

	segments = Deduplicate(segments)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].StartSec < segments[j].StartSec })
	return segments, nil
}

// FromStdout synthesizes segments from inline time-range patterns in
// captured pipeline stdout. Used only when no subtitle artifacts exist.
// Time codes are taken as-is, without cross-chunk offset correction.
func FromStdout(stdout string) []models.TranscriptSegment {
	var segments []models.TranscriptSegment
	for _, m := range bracketedTimeline.FindAllStringSubmatch(stdout, -1) {
		if seg, ok := makeSegment(m[1], m[2], strings.TrimSpace(m[3]), 0); ok {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		for _, m := range inlineTimeline.FindAllStringSubmatch(stdout, -1) {
			if seg, ok := makeSegment(m[1], m[2], strings.TrimSpace(m[3]), 0); ok {
				segments = append(segments, seg)
			}
		}
	}
	segments = Deduplicate(segments)
	sort.SliceStable(segments, func(i, j int) bool { return segments[i].StartSec < segments[j].StartSec })
	return segments
}

// Deduplicate drops segments whose millisecond-rounded times and first
// 200 characters of text match an earlier segment.
func Deduplicate(segments []models.TranscriptSegment) []models.TranscriptSegment {
	seen := make(map[string]bool, len(segments))
	out := segments[:0]
	for _, s := range segments {
		text := s.Text
		if len(text) > 200 {
			text = text[:200]
		}
		key := fmt.Sprintf("%d_%d_%s", int64(math.Round(s.StartSec*1000)), int64(math.Round(s.EndSec*1000)), text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// parseBlocks splits one subtitle artifact into blank-line separated
// blocks and extracts a segment from each. Blocks without a time-range
// separator are skipped.
func parseBlocks(content string, offset float64) []models.TranscriptSegment {
	var segments []models.TranscriptSegment
	for _, block := range regexp.MustCompile(`\r?\n\r?\n`).Split(content, -1) {
		lines := nonBlankLines(block)
		if len(lines) == 0 {
			continue
		}
		tsIdx := -1
		for i, l := range lines {
			if strings.Contains(l, "-->") {
				tsIdx = i
				break
			}
		}
		if tsIdx == -1 {
			continue
		}
		rawStart, rawEnd, ok := strings.Cut(lines[tsIdx], "-->")
		if !ok {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[tsIdx+1:], " "))
		// whisper occasionally leaves the next block's index glued to the text
		text = trailingIndex.ReplaceAllString(text, "")
		if seg, ok := makeSegment(rawStart, rawEnd, text, offset); ok {
			segments = append(segments, seg)
		}
	}
	return segments
}

func makeSegment(rawStart, rawEnd, text string, offset float64) (models.TranscriptSegment, bool) {
	start, err := ParseTimecode(rawStart)
	if err != nil {
		return models.TranscriptSegment{}, false
	}
	end, err := ParseTimecode(rawEnd)
	if err != nil {
		return models.TranscriptSegment{}, false
	}
	abs := models.TranscriptSegment{
		StartSec: start + offset,
		EndSec:   end + offset,
		Text:     text,
	}
	abs.Start = FormatClock(abs.StartSec)
	abs.End = FormatClock(abs.EndSec)
	return abs, true
}

// chunkDuration probes the media chunk matching a transcript artifact's
// embedded index, trying the usual container extensions.
func (r *Reconstructor) chunkDuration(artifactName string) (float64, bool) {
	if r.ChunksDir == "" || r.Prober == nil {
		return 0, false
	}
	m := chunkNamePattern.FindStringSubmatch(artifactName)
	if m == nil {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	for _, ext := range chunkExtensions {
		candidate := filepath.Join(r.ChunksDir, fmt.Sprintf("chunk_%03d%s", idx, ext))
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		d, err := r.Prober.Duration(candidate)
		if err != nil || d <= 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

func nonBlankLines(block string) []string {
	var lines []string
	for _, l := range strings.Split(block, "\n") {
		l = strings.TrimSpace(strings.TrimSuffix(l, "\r"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// naturalLess compares two names digit-run aware, so chunk_2 sorts
// before chunk_10.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := leadingInt(a)
			nb, rb := leadingInt(b)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func leadingInt(s string) (int64, string) {
	i := 0
	var n int64
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int64(s[i]-'0')
		i++
	}
	return n, s[i:]
}
