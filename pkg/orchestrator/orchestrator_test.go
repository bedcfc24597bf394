package orchestrator

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/models"
	"talkgrader/pkg/progress"
	"talkgrader/pkg/store"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []string
	done   chan Result
	errs   chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan Result, 1), errs: make(chan error, 1)}
}

func (s *recordingSink) Frame(stream, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, stream+":"+text)
}

func (s *recordingSink) Done(result Result) { s.done <- result }
func (s *recordingSink) Error(err error)    { s.errs <- err }

func (s *recordingSink) allFrames() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.frames, "")
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (c *countingRecorder) RecordPipelineRun(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
}

func (c *countingRecorder) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.outcomes...)
}

func newTestOrchestrator(t *testing.T, pipeline []string) (*Orchestrator, *metastore.Store, *store.MemoryStore) {
	t.Helper()
	meta, err := metastore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create metastore: %v", err)
	}
	db := store.NewMemoryStore()
	log := logging.NewLogger(logging.ERROR, false)
	inf := progress.New(meta, t.TempDir(), log)
	return New(meta, db, inf, pipeline, log), meta, db
}

func spoolFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write spool file: %v", err)
	}
	return path
}

func submitRequest(t *testing.T) SubmitRequest {
	t.Helper()
	return SubmitRequest{
		AudioPath:        spoolFile(t, "upload-audio", "fake media"),
		AudioName:        "talk.mp4",
		PresentationPath: spoolFile(t, "upload-pres", "fake slides"),
		PresentationName: "slides.pdf",
		WorkspaceID:      "ws-1",
	}
}

func TestNewJobIDFormat(t *testing.T) {
	id := NewJobID()
	if !regexp.MustCompile(`^\d{13}-[0-9a-z]{6}$`).MatchString(id) {
		t.Errorf("Unexpected job ID format: %q", id)
	}
	if id == NewJobID() {
		t.Error("Two IDs collided")
	}
}

func TestSubmitSuccessfulPipeline(t *testing.T) {
	o, meta, db := newTestOrchestrator(t, []string{"sh", "-c", `echo "Split completed successfully"; echo "Evaluating transcripts"; exit 0`, "pipeline"})
	recorder := &countingRecorder{}
	o.Metrics = recorder
	sink := newRecordingSink()

	jobID, err := o.Submit(submitRequest(t), sink)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var result Result
	select {
	case result = <-sink.done:
	case <-time.After(10 * time.Second):
		t.Fatal("Pipeline did not finish")
	}
	o.Wait()

	if result.Code != 0 {
		t.Errorf("Expected exit 0, got %d (stderr %q)", result.Code, result.Stderr)
	}
	if !strings.Contains(result.Stdout, "Split completed successfully") {
		t.Errorf("Stdout not captured: %q", result.Stdout)
	}
	if !strings.Contains(sink.allFrames(), "stdout:") {
		t.Errorf("No stdout frames delivered: %q", sink.allFrames())
	}

	job, err := meta.Read(jobID)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if job.Status != models.JobStatusDone || job.Progress != 100 || job.ProgressMessage != "finished" {
		t.Errorf("Bad terminal state: status=%s progress=%d msg=%q", job.Status, job.Progress, job.ProgressMessage)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("Exit code not recorded: %v", job.ExitCode)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("Timestamps missing")
	}

	// uploads moved into the job dir
	if _, err := os.Stat(filepath.Join(meta.JobDir(jobID), "talk.mp4")); err != nil {
		t.Errorf("Audio not moved into job dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(meta.JobDir(jobID), "slides.pdf")); err != nil {
		t.Errorf("Presentation not moved into job dir: %v", err)
	}

	// mirror row exists, status followed the job, dbId written back
	v, err := db.GetVideoByJobID(jobID)
	if err != nil {
		t.Fatalf("Mirror row missing: %v", err)
	}
	if v.Status != "done" {
		t.Errorf("Mirror status not updated: %q", v.Status)
	}
	if job.DBID != v.ID {
		t.Errorf("dbId not written back: meta=%d db=%d", job.DBID, v.ID)
	}

	if got := recorder.recorded(); len(got) != 1 || got[0] != "done" {
		t.Errorf("Expected one recorded done run, got %v", got)
	}
}

func TestSubmitFailedPipelineKeepsPartialProgress(t *testing.T) {
	o, meta, _ := newTestOrchestrator(t, []string{"sh", "-c", `echo "1. Splitting media..."; echo "boom" >&2; exit 3`, "pipeline"})
	sink := newRecordingSink()

	jobID, err := o.Submit(submitRequest(t), sink)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	result := <-sink.done
	o.Wait()

	if result.Code != 3 {
		t.Errorf("Expected exit 3, got %d", result.Code)
	}
	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("Stderr not captured: %q", result.Stderr)
	}

	job, _ := meta.Read(jobID)
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected failed, got %s", job.Status)
	}
	if job.Progress == 100 {
		t.Error("Failed job must not report 100%")
	}
	if !strings.Contains(job.Stderr, "boom") {
		t.Errorf("Stderr not persisted: %q", job.Stderr)
	}
}

func TestSubmitLaunchFailure(t *testing.T) {
	o, meta, _ := newTestOrchestrator(t, []string{"/nonexistent/pipeline-binary"})
	sink := newRecordingSink()

	jobID, err := o.Submit(submitRequest(t), sink)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-sink.errs:
	case <-time.After(10 * time.Second):
		t.Fatal("Launch failure not reported")
	}
	o.Wait()

	job, _ := meta.Read(jobID)
	if job.Status != models.JobStatusError {
		t.Errorf("Expected error status, got %s", job.Status)
	}
	if job.Error == "" {
		t.Error("Launch error text missing")
	}
}

func TestThumbnailFailureDoesNotTouchJobStatus(t *testing.T) {
	meta, err := metastore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Create(&models.Job{JobID: "j1", Status: models.JobStatusDone, Progress: 100, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	task := NewThumbnailTask(meta, logging.NewLogger(logging.ERROR, false))
	task.Binary = "/nonexistent/ffmpeg"
	task.Generate("j1", "/nonexistent/media.mp4", filepath.Join(t.TempDir(), "thumb.jpg"))

	job, err := meta.Read("j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusDone || job.Progress != 100 {
		t.Errorf("Thumbnail failure disturbed job state: %+v", job)
	}
	if job.ThumbnailExists {
		t.Error("thumbnailExists should be false")
	}
	if job.ThumbnailError == "" {
		t.Error("thumbnailError should be recorded")
	}
}

func TestThumbnailSuccessMergesOnlyThumbnailFields(t *testing.T) {
	meta, err := metastore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Create(&models.Job{JobID: "j1", Status: models.JobStatusRunning, Progress: 42, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	// Emulate a successful run: touch the output file up front and
	// point Binary at a command that exits 0 regardless of arguments.
	thumb := filepath.Join(t.TempDir(), "thumb.jpg")
	if err := os.WriteFile(thumb, []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}
	task := NewThumbnailTask(meta, logging.NewLogger(logging.ERROR, false))
	task.Binary = "true"
	task.Generate("j1", "media.mp4", thumb)

	job, err := meta.Read("j1")
	if err != nil {
		t.Fatal(err)
	}
	if !job.ThumbnailExists || job.ThumbnailCreatedAt == nil {
		t.Errorf("Thumbnail fields not set: %+v", job)
	}
	if job.Status != models.JobStatusRunning || job.Progress != 42 {
		t.Errorf("Unrelated fields disturbed: %+v", job)
	}
}
