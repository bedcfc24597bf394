package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/models"
)

func newTestInferencer(t *testing.T, totalChunksOnDisk int) (*Inferencer, *metastore.Store, string) {
	t.Helper()
	meta, err := metastore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create metastore: %v", err)
	}
	chunks := t.TempDir()
	for i := 0; i < totalChunksOnDisk; i++ {
		name := filepath.Join(chunks, fmt.Sprintf("chunk_%03d.mp4", i))
		if err := os.WriteFile(name, nil, 0o644); err != nil {
			t.Fatalf("Failed to touch chunk: %v", err)
		}
	}
	log := logging.NewLogger(logging.ERROR, false)
	return New(meta, chunks, log), meta, chunks
}

func seedJob(t *testing.T, meta *metastore.Store, id string) {
	t.Helper()
	if err := meta.Create(&models.Job{
		JobID:     id,
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Failed to seed job: %v", err)
	}
}

func TestSplitPhraseSetsTotalChunks(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 4)
	seedJob(t, meta, "j1")

	inf.Observe("j1", "1. Splitting media...\nSplit completed successfully\n")

	job, err := meta.Read("j1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if job.TotalChunks == nil || *job.TotalChunks != 4 {
		t.Fatalf("Expected totalChunks=4, got %v", job.TotalChunks)
	}
	if job.Progress < 10 {
		t.Errorf("Expected progress >= 10, got %d", job.Progress)
	}
	if job.ProgressMessage != "split completed" {
		t.Errorf("Bad message: %q", job.ProgressMessage)
	}
}

func TestTranscriptionProgressWithKnownTotal(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 4)
	seedJob(t, meta, "j1")

	inf.Observe("j1", "Split completed successfully\n")
	inf.Observe("j1", "Transcription completed for chunk_000.mp4\n")

	job, _ := meta.Read("j1")
	if job.TranscribedChunks != 1 {
		t.Fatalf("Expected 1 transcribed chunk, got %d", job.TranscribedChunks)
	}
	// round(2 + 88 * 1/4) = 24
	if job.Progress != 24 {
		t.Errorf("Expected progress 24, got %d", job.Progress)
	}
	if job.ProgressMessage != "transcribed 1/4 chunks" {
		t.Errorf("Bad message: %q", job.ProgressMessage)
	}

	inf.Observe("j1", "Transcription completed for chunk_001.mp4\nTranscription completed for chunk_002.mp4\n")
	job, _ = meta.Read("j1")
	if job.TranscribedChunks != 3 {
		t.Errorf("Expected 3 transcribed chunks, got %d", job.TranscribedChunks)
	}
	// round(2 + 88 * 3/4) = 68
	if job.Progress != 68 {
		t.Errorf("Expected progress 68, got %d", job.Progress)
	}
}

func TestTranscriptionProgressWithoutTotal(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 0)
	seedJob(t, meta, "j1")

	for i := 0; i < 12; i++ {
		inf.Observe("j1", fmt.Sprintf("Transcription completed for chunk_%03d.mp3\n", i))
	}
	job, _ := meta.Read("j1")
	if job.Progress != 90 {
		t.Errorf("Expected progress capped at 90, got %d", job.Progress)
	}
	if job.ProgressMessage != "transcribed 12/? chunks" {
		t.Errorf("Bad message: %q", job.ProgressMessage)
	}
}

func TestEvaluatingMarker(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 0)
	seedJob(t, meta, "j1")

	inf.Observe("j1", "3. Evaluating transcripts and presentation...\n")
	job, _ := meta.Read("j1")
	if job.Progress != 92 {
		t.Errorf("Expected progress 92, got %d", job.Progress)
	}
	if job.ProgressMessage != "evaluating" {
		t.Errorf("Bad message: %q", job.ProgressMessage)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 2)
	seedJob(t, meta, "j1")

	last := 0
	observe := func(text string) {
		t.Helper()
		inf.Observe("j1", text)
		job, err := meta.Read("j1")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if job.Progress < last {
			t.Fatalf("Progress decreased: %d -> %d after %q", last, job.Progress, text)
		}
		last = job.Progress
	}

	observe("Split completed successfully\n")
	observe("Transcription completed for chunk_000.mp4\n")
	observe("Evaluating transcripts\n")
	observe("Transcription completed for chunk_001.mp4\n") // late line must not drop below 92
	inf.Finalize("j1", 0, "", "")
	job, _ := meta.Read("j1")
	if job.Progress != 100 {
		t.Errorf("Expected 100 after success, got %d", job.Progress)
	}
}

func TestFinalizeFailureKeepsPartialProgress(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 4)
	seedJob(t, meta, "j1")

	inf.Observe("j1", "Split completed successfully\n")
	inf.Observe("j1", "Transcription completed for chunk_000.mp4\n")
	inf.Finalize("j1", 1, "partial stdout", "boom")

	job, err := meta.Read("j1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected status failed, got %s", job.Status)
	}
	if job.TranscribedChunks != 1 {
		t.Errorf("Expected transcribedChunks=1, got %d", job.TranscribedChunks)
	}
	if job.TotalChunks == nil || *job.TotalChunks != 4 {
		t.Errorf("Expected totalChunks=4, got %v", job.TotalChunks)
	}
	if job.Progress != 24 {
		t.Errorf("Expected partial progress 24 preserved, got %d", job.Progress)
	}
	// A more specific message was already set; "failed" must not replace it.
	if job.ProgressMessage != "transcribed 1/4 chunks" {
		t.Errorf("Message was overwritten: %q", job.ProgressMessage)
	}
	if job.ExitCode == nil || *job.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %v", job.ExitCode)
	}
	if job.Stderr != "boom" {
		t.Errorf("Expected stderr captured, got %q", job.Stderr)
	}
}

func TestFinalizeIgnoresTerminalJob(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 0)
	seedJob(t, meta, "j1")

	inf.Finalize("j1", 0, "first run", "")
	inf.Finalize("j1", 1, "late duplicate", "boom")

	job, err := meta.Read("j1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if job.Status != models.JobStatusDone {
		t.Errorf("Expected status done preserved, got %s", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("Expected progress 100 preserved, got %d", job.Progress)
	}
	if job.Stdout != "first run" {
		t.Errorf("Expected first stdout preserved, got %q", job.Stdout)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("Expected exit code 0 preserved, got %v", job.ExitCode)
	}
}

func TestLaunchFailureIgnoresTerminalJob(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 0)
	seedJob(t, meta, "j1")

	inf.Finalize("j1", 1, "", "boom")
	inf.LaunchFailure("j1", fmt.Errorf("exec: not found"))

	job, _ := meta.Read("j1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected status failed preserved, got %s", job.Status)
	}
	if job.Error != "" {
		t.Errorf("Expected no error text on a failed job, got %q", job.Error)
	}
}

func TestLaunchFailure(t *testing.T) {
	inf, meta, _ := newTestInferencer(t, 0)
	seedJob(t, meta, "j1")

	inf.LaunchFailure("j1", fmt.Errorf("exec: not found"))
	job, _ := meta.Read("j1")
	if job.Status != models.JobStatusError {
		t.Errorf("Expected status error, got %s", job.Status)
	}
	if job.Error != "exec: not found" {
		t.Errorf("Expected error text recorded, got %q", job.Error)
	}
}
