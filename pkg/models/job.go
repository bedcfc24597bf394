package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a processing job
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"  // Job created, pipeline not yet started
	JobStatusRunning JobStatus = "running" // Pipeline subprocess is executing
	JobStatusDone    JobStatus = "done"    // Pipeline exited with code 0
	JobStatusFailed  JobStatus = "failed"  // Pipeline exited nonzero
	JobStatusError   JobStatus = "error"   // Pipeline subprocess could not be started
)

// Job is the durable per-job record persisted as metadata.json.
// It is the single source of truth for job state; the relational store
// only mirrors a subset of it.
type Job struct {
	JobID             string     `json:"jobId"`
	WorkspaceID       string     `json:"workspaceId,omitempty"`
	DBID              int64      `json:"dbId,omitempty"`
	Title             string     `json:"title,omitempty"`
	Audio             string     `json:"audio"`
	Presentation      string     `json:"presentation"`
	Status            JobStatus  `json:"status"`
	Progress          int        `json:"progress"`
	ProgressMessage   string     `json:"progressMessage,omitempty"`
	TotalChunks       *int       `json:"totalChunks"`
	TranscribedChunks int        `json:"transcribedChunks"`
	CreatedAt         time.Time  `json:"createdAt"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	ExitCode          *int       `json:"exitCode,omitempty"`
	Stdout            string     `json:"stdout,omitempty"`
	Stderr            string     `json:"stderr,omitempty"`
	Error             string     `json:"error,omitempty"`

	// Thumbnail fields are owned by the background thumbnail task and may
	// still change after the pipeline reaches a terminal state.
	ThumbnailExists    bool       `json:"thumbnailExists"`
	ThumbnailCreatedAt *time.Time `json:"thumbnailCreatedAt,omitempty"`
	ThumbnailError     string     `json:"thumbnailError,omitempty"`
}

// Chunk is one time-sliced piece of the source media produced by the
// splitting stage. Duration is nil when ffprobe could not read the file.
type Chunk struct {
	Index    int      `json:"index"`
	FilePath string   `json:"file_path"`
	Duration *float64 `json:"duration_seconds"`
}

// TranscriptSegment is one caption unit on the absolute timeline of the
// full recording. Start/End carry the display form, StartSec/EndSec the
// numeric seconds used for seeking.
type TranscriptSegment struct {
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Text     string  `json:"text"`
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
}
