package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"talkgrader/pkg/models"
)

// PostgresStore backs multi-instance deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects using the DSN from config and applies the
// configured pool limits.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := config.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := config.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		owner TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rubrics (
		id TEXT PRIMARY KEY,
		workspace_id TEXT,
		name TEXT NOT NULL,
		description TEXT,
		config JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rubric_criteria (
		id BIGSERIAL PRIMARY KEY,
		rubric_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		key TEXT,
		title TEXT NOT NULL,
		description TEXT,
		weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS videos (
		id BIGSERIAL PRIMARY KEY,
		job_external_id TEXT UNIQUE,
		workspace_id TEXT,
		rubric_id TEXT,
		title TEXT,
		original_path TEXT,
		presentation_path TEXT,
		thumbnail_path TEXT,
		status TEXT,
		duration_seconds DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL,
		rubric_id TEXT,
		scores JSONB NOT NULL,
		total_score DOUBLE PRECISION,
		notes JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_workspace ON videos(workspace_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_evaluations_video ON evaluations(video_id);
	CREATE INDEX IF NOT EXISTS idx_rubrics_workspace ON rubrics(workspace_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) CreateWorkspace(ws *models.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	metadata := string(ws.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO workspaces (id, name, description, owner, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ws.ID, ws.Name, ws.Description, ws.Owner, metadata, ws.CreatedAt)
	return err
}

func (s *PostgresStore) GetWorkspace(id string) (*models.Workspace, error) {
	var ws models.Workspace
	var metadata sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, COALESCE(description,''), COALESCE(owner,''), metadata::text, created_at
		FROM workspaces WHERE id = $1
	`, id).Scan(&ws.ID, &ws.Name, &ws.Description, &ws.Owner, &metadata, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		ws.Metadata = []byte(metadata.String)
	}
	return &ws, nil
}

func (s *PostgresStore) ListWorkspaces() ([]*models.Workspace, error) {
	rows, err := s.db.Query(`
		SELECT id, name, COALESCE(description,''), COALESCE(owner,''), metadata::text, created_at
		FROM workspaces ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workspace
	for rows.Next() {
		var ws models.Workspace
		var metadata sql.NullString
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.Owner, &metadata, &ws.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			ws.Metadata = []byte(metadata.String)
		}
		out = append(out, &ws)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRubric(rubric *models.Rubric) error {
	if rubric.CreatedAt.IsZero() {
		rubric.CreatedAt = time.Now().UTC()
	}
	config := string(rubric.Config)
	if config == "" {
		config = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO rubrics (id, workspace_id, name, description, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rubric.ID, rubric.WorkspaceID, rubric.Name, rubric.Description, config, rubric.CreatedAt)
	return err
}

func (s *PostgresStore) CreateRubricCriteria(rubricID string, criteria []models.RubricCriterion) ([]models.RubricCriterion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	inserted := make([]models.RubricCriterion, 0, len(criteria))
	for _, c := range criteria {
		err := tx.QueryRow(`
			INSERT INTO rubric_criteria (rubric_id, idx, key, title, description, weight, max_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, rubricID, c.Idx, c.Key, c.Title, c.Description, c.Weight, c.MaxScore).Scan(&c.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		c.RubricID = rubricID
		inserted = append(inserted, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *PostgresStore) GetRubricCriteria(rubricID string) ([]models.RubricCriterion, error) {
	rows, err := s.db.Query(`
		SELECT id, rubric_id, idx, key, title, COALESCE(description,''), weight, max_score
		FROM rubric_criteria WHERE rubric_id = $1 ORDER BY idx
	`, rubricID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RubricCriterion
	for rows.Next() {
		var c models.RubricCriterion
		if err := rows.Scan(&c.ID, &c.RubricID, &c.Idx, &c.Key, &c.Title, &c.Description, &c.Weight, &c.MaxScore); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRubrics(workspaceID string) ([]*models.Rubric, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(workspace_id,''), name, COALESCE(description,''), config::text, created_at
		FROM rubrics WHERE workspace_id = $1 ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Rubric
	for rows.Next() {
		var r models.Rubric
		var config sql.NullString
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Name, &r.Description, &config, &r.CreatedAt); err != nil {
			return nil, err
		}
		if config.Valid {
			r.Config = []byte(config.String)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateVideo(video *models.Video) (int64, error) {
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(`
		INSERT INTO videos (job_external_id, workspace_id, rubric_id, title, original_path,
			presentation_path, thumbnail_path, status, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, video.JobExternalID, video.WorkspaceID, video.RubricID, video.Title, video.OriginalPath,
		video.PresentationPath, video.ThumbnailPath, video.Status, video.DurationSeconds, video.CreatedAt).Scan(&video.ID)
	if err != nil {
		return 0, err
	}
	return video.ID, nil
}

func (s *PostgresStore) GetVideoByJobID(jobExternalID string) (*models.Video, error) {
	var v models.Video
	err := s.db.QueryRow(`
		SELECT id, job_external_id, COALESCE(workspace_id,''), COALESCE(rubric_id,''),
			COALESCE(title,''), COALESCE(original_path,''), COALESCE(presentation_path,''),
			COALESCE(thumbnail_path,''), COALESCE(status,''), duration_seconds, created_at
		FROM videos WHERE job_external_id = $1 LIMIT 1
	`, jobExternalID).Scan(&v.ID, &v.JobExternalID, &v.WorkspaceID, &v.RubricID, &v.Title,
		&v.OriginalPath, &v.PresentationPath, &v.ThumbnailPath, &v.Status, &v.DurationSeconds, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) ListVideosByWorkspace(workspaceID string) ([]*models.Video, error) {
	rows, err := s.db.Query(`
		SELECT id, job_external_id, COALESCE(workspace_id,''), COALESCE(rubric_id,''),
			COALESCE(title,''), COALESCE(original_path,''), COALESCE(presentation_path,''),
			COALESCE(thumbnail_path,''), COALESCE(status,''), duration_seconds, created_at
		FROM videos WHERE workspace_id = $1 ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.JobExternalID, &v.WorkspaceID, &v.RubricID, &v.Title,
			&v.OriginalPath, &v.PresentationPath, &v.ThumbnailPath, &v.Status, &v.DurationSeconds, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateVideoStatus(jobExternalID, status string) error {
	res, err := s.db.Exec(`UPDATE videos SET status = $1 WHERE job_external_id = $2`, status, jobExternalID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertEvaluation(eval *models.Evaluation) (int64, error) {
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	scores := string(eval.Scores)
	if scores == "" {
		scores = "{}"
	}
	var notes interface{}
	if len(eval.Notes) > 0 {
		notes = string(eval.Notes)
	}
	err := s.db.QueryRow(`
		INSERT INTO evaluations (video_id, rubric_id, scores, total_score, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, eval.VideoID, eval.RubricID, scores, eval.TotalScore, notes, eval.CreatedAt).Scan(&eval.ID)
	if err != nil {
		return 0, err
	}
	return eval.ID, nil
}

func (s *PostgresStore) ListEvaluationsByVideo(videoID int64) ([]*models.Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT id, video_id, COALESCE(rubric_id,''), scores::text, total_score, notes::text, created_at
		FROM evaluations WHERE video_id = $1 ORDER BY id DESC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		var scores, notes sql.NullString
		if err := rows.Scan(&e.ID, &e.VideoID, &e.RubricID, &scores, &e.TotalScore, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if scores.Valid {
			e.Scores = []byte(scores.String)
		}
		if notes.Valid {
			e.Notes = []byte(notes.String)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}
