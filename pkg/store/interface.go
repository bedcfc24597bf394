package store

import (
	"errors"
	"time"

	"talkgrader/pkg/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store is the relational cache behind the workspace/rubric/evaluation
// endpoints. It mirrors job state from the metadata files and is never
// authoritative over them: every caller on the upload path treats write
// failures as soft errors.
type Store interface {
	// Workspace operations
	CreateWorkspace(ws *models.Workspace) error
	GetWorkspace(id string) (*models.Workspace, error)
	ListWorkspaces() ([]*models.Workspace, error)

	// Rubric operations
	CreateRubric(rubric *models.Rubric) error
	CreateRubricCriteria(rubricID string, criteria []models.RubricCriterion) ([]models.RubricCriterion, error)
	GetRubricCriteria(rubricID string) ([]models.RubricCriterion, error)
	ListRubrics(workspaceID string) ([]*models.Rubric, error)

	// Video (job mirror) operations
	CreateVideo(video *models.Video) (int64, error)
	GetVideoByJobID(jobExternalID string) (*models.Video, error)
	ListVideosByWorkspace(workspaceID string) ([]*models.Video, error)
	UpdateVideoStatus(jobExternalID, status string) error

	// Evaluation operations
	InsertEvaluation(eval *models.Evaluation) (int64, error)
	ListEvaluationsByVideo(videoID int64) ([]*models.Evaluation, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // Connection string (postgres)
	Path string // Database file path (sqlite)

	// PostgreSQL pool tuning
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "talkgrader.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
