package progress

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/models"
)

// MetaUpdater is the slice of the metadata store the inferencer needs:
// a serialized read-modify-write against one job's record.
type MetaUpdater interface {
	Update(jobID string, fn func(record map[string]interface{})) (*models.Job, error)
}

// Matcher recognizes one kind of pipeline output phrase and applies the
// corresponding record mutation. The pipeline stages are external tools
// emitting human-readable logs, so matching is best-effort; keeping each
// pattern behind this interface lets the phrases change without touching
// orchestration.
type Matcher interface {
	Apply(text string, record map[string]interface{}) bool
}

// Inferencer converts raw pipeline output into job state updates.
type Inferencer struct {
	store    MetaUpdater
	matchers []Matcher
	log      *logging.Logger
}

// New creates an inferencer with the default phrase matchers.
// chunksDir is enumerated to learn the chunk count once splitting ends.
func New(store MetaUpdater, chunksDir string, log *logging.Logger) *Inferencer {
	return &Inferencer{
		store:    store,
		matchers: DefaultMatchers(chunksDir),
		log:      log,
	}
}

// NewWithMatchers creates an inferencer with a custom rule set.
func NewWithMatchers(store MetaUpdater, matchers []Matcher, log *logging.Logger) *Inferencer {
	return &Inferencer{store: store, matchers: matchers, log: log}
}

// Observe runs every matcher over one chunk of pipeline output. All
// mutations for the chunk happen inside a single serialized update, so
// concurrent thumbnail-field merges are never clobbered.
func (inf *Inferencer) Observe(jobID, text string) {
	_, err := inf.store.Update(jobID, func(record map[string]interface{}) {
		for _, m := range inf.matchers {
			m.Apply(text, record)
		}
	})
	if err != nil {
		inf.log.Warn("progress update failed", map[string]interface{}{"job": jobID, "error": err.Error()})
	}
}

// Finalize records the terminal state after the pipeline subprocess
// exits. Exit 0 means done at 100%; nonzero keeps whatever partial
// progress was inferred before the failure.
func (inf *Inferencer) Finalize(jobID string, exitCode int, stdout, stderr string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := inf.store.Update(jobID, func(record map[string]interface{}) {
		target := models.JobStatusFailed
		if exitCode == 0 {
			target = models.JobStatusDone
		}
		if !inf.transition(jobID, record, target) {
			return
		}
		record["finishedAt"] = now
		record["exitCode"] = exitCode
		record["stdout"] = stdout
		record["stderr"] = stderr
		if exitCode == 0 {
			record["progress"] = 100
			record["progressMessage"] = "finished"
			return
		}
		if getString(record, "progressMessage") == "" {
			record["progressMessage"] = "failed"
		}
	})
	if err != nil {
		inf.log.Error("failed to finalize job", map[string]interface{}{"job": jobID, "error": err.Error()})
	}
}

// LaunchFailure records that the pipeline subprocess never started.
func (inf *Inferencer) LaunchFailure(jobID string, launchErr error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := inf.store.Update(jobID, func(record map[string]interface{}) {
		if !inf.transition(jobID, record, models.JobStatusError) {
			return
		}
		record["error"] = launchErr.Error()
		record["finishedAt"] = now
	})
	if err != nil {
		inf.log.Error("failed to record launch failure", map[string]interface{}{"job": jobID, "error": err.Error()})
	}
}

// transition applies a status change if the state machine allows it.
// A record already in a terminal state stays untouched, so a late
// Finalize cannot clobber an earlier one.
func (inf *Inferencer) transition(jobID string, record map[string]interface{}, to models.JobStatus) bool {
	from := models.JobStatus(getString(record, "status"))
	if err := models.ValidateTransition(from, to); err != nil {
		inf.log.Warn("ignoring status transition", map[string]interface{}{"job": jobID, "error": err.Error()})
		return false
	}
	record["status"] = string(to)
	return true
}

// DefaultMatchers returns the phrase rules for the stock pipeline, in
// evaluation order: split, per-chunk transcription, evaluation marker.
func DefaultMatchers(chunksDir string) []Matcher {
	return []Matcher{
		&SplitMatcher{
			Pattern:   regexp.MustCompile(`(?i)(split completed successfully|archivo dividido exitosamente)`),
			ChunksDir: chunksDir,
		},
		&TranscribeMatcher{
			Pattern: regexp.MustCompile(`(?i)transcri(?:ption completed for|pci[oó]n completada para)\s+(chunk_\d+\.(?:mp4|mp3|m4a|wav))`),
		},
		&EvaluateMatcher{
			Pattern: regexp.MustCompile(`(?i)(evaluating transcripts|evaluando transcripciones)`),
		},
	}
}

var chunkFilePattern = regexp.MustCompile(`(?i)chunk_\d+\.(mp4|mp3|m4a|wav)$`)

// SplitMatcher reacts to the splitter's success phrase: it counts the
// produced chunk files and raises progress to at least 10%.
type SplitMatcher struct {
	Pattern   *regexp.Regexp
	ChunksDir string
}

func (m *SplitMatcher) Apply(text string, record map[string]interface{}) bool {
	if !m.Pattern.MatchString(text) {
		return false
	}
	entries, err := os.ReadDir(m.ChunksDir)
	if err != nil {
		return true // phrase seen, directory not enumerable yet
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && chunkFilePattern.MatchString(e.Name()) {
			count++
		}
	}
	record["totalChunks"] = count
	record["progress"] = maxInt(getInt(record, "progress"), 10)
	record["progressMessage"] = "split completed"
	return true
}

// TranscribeMatcher counts "completed for <chunk>" lines and converts
// the ratio into a progress percentage. Without a known total the
// estimate ramps in 10% steps and saturates at 90%.
type TranscribeMatcher struct {
	Pattern *regexp.Regexp
}

func (m *TranscribeMatcher) Apply(text string, record map[string]interface{}) bool {
	matches := m.Pattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return false
	}
	done := getInt(record, "transcribedChunks") + len(matches)
	record["transcribedChunks"] = done

	total := getInt(record, "totalChunks")
	if total > 0 {
		pct := int(math.Round(2 + 88*float64(done)/float64(total)))
		record["progress"] = maxInt(getInt(record, "progress"), pct)
		record["progressMessage"] = fmt.Sprintf("transcribed %d/%d chunks", done, total)
	} else {
		record["progress"] = maxInt(getInt(record, "progress"), minInt(done*10+10, 90))
		record["progressMessage"] = fmt.Sprintf("transcribed %d/? chunks", done)
	}
	return true
}

// EvaluateMatcher raises progress to 92% once the evaluation stage
// announces itself.
type EvaluateMatcher struct {
	Pattern *regexp.Regexp
}

func (m *EvaluateMatcher) Apply(text string, record map[string]interface{}) bool {
	if !m.Pattern.MatchString(text) {
		return false
	}
	record["progress"] = maxInt(getInt(record, "progress"), 92)
	record["progressMessage"] = "evaluating"
	return true
}

// JSON numbers decode as float64; counters written by earlier updates
// may still be int.
func getInt(record map[string]interface{}, key string) int {
	switch v := record[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func getString(record map[string]interface{}, key string) string {
	s, _ := record[key].(string)
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
