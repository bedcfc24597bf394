package models

import (
	"encoding/json"
	"time"
)

// Workspace groups recorded talks and the rubrics they are graded against
type Workspace struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Rubric is a named set of weighted scoring criteria
type Rubric struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RubricCriterion is one scored dimension of a rubric
type RubricCriterion struct {
	ID          int64   `json:"id"`
	RubricID    string  `json:"rubric_id"`
	Idx         int     `json:"idx"`
	Key         string  `json:"key,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight"`
	MaxScore    int     `json:"max_score"`
}

// Video is the relational mirror of a job, kept eventually consistent
// with the metadata file. The metadata file always wins.
type Video struct {
	ID               int64     `json:"id"`
	JobExternalID    string    `json:"job_external_id"`
	WorkspaceID      string    `json:"workspace_id,omitempty"`
	RubricID         string    `json:"rubric_id,omitempty"`
	Title            string    `json:"title,omitempty"`
	OriginalPath     string    `json:"original_path,omitempty"`
	PresentationPath string    `json:"presentation_path,omitempty"`
	ThumbnailPath    string    `json:"thumbnail_path,omitempty"`
	Status           string    `json:"status,omitempty"`
	DurationSeconds  *float64  `json:"duration_seconds,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Evaluation is a rubric-scored assessment produced by the model.
// Scores holds per-criterion values 1-7; Notes packs per-criterion
// comments and the overall summary (or the raw model text when the
// response could not be parsed).
type Evaluation struct {
	ID         int64           `json:"id"`
	VideoID    int64           `json:"video_id"`
	RubricID   string          `json:"rubric_id,omitempty"`
	Scores     json.RawMessage `json:"scores"`
	TotalScore *float64        `json:"total_score,omitempty"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
