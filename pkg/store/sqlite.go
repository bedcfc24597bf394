package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"talkgrader/pkg/models"
)

// SQLiteStore is the default single-machine store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL plus a generous busy timeout: the HTTP handlers and the
	// evaluation writer hit the database from separate goroutines.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under concurrent merges
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		owner TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rubrics (
		id TEXT PRIMARY KEY,
		workspace_id TEXT,
		name TEXT NOT NULL,
		description TEXT,
		config TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rubric_criteria (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rubric_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		key TEXT,
		title TEXT NOT NULL,
		description TEXT,
		weight REAL NOT NULL DEFAULT 0,
		max_score INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_external_id TEXT UNIQUE,
		workspace_id TEXT,
		rubric_id TEXT,
		title TEXT,
		original_path TEXT,
		presentation_path TEXT,
		thumbnail_path TEXT,
		status TEXT,
		duration_seconds REAL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER NOT NULL,
		rubric_id TEXT,
		scores TEXT NOT NULL,
		total_score REAL,
		notes TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_videos_workspace ON videos(workspace_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_evaluations_video ON evaluations(video_id);
	CREATE INDEX IF NOT EXISTS idx_rubrics_workspace ON rubrics(workspace_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateWorkspace inserts a workspace row
func (s *SQLiteStore) CreateWorkspace(ws *models.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO workspaces (id, name, description, owner, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ws.ID, ws.Name, ws.Description, ws.Owner, string(ws.Metadata), ws.CreatedAt)
	return err
}

// GetWorkspace retrieves a workspace by ID
func (s *SQLiteStore) GetWorkspace(id string) (*models.Workspace, error) {
	var ws models.Workspace
	var metadata sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, COALESCE(description,''), COALESCE(owner,''), metadata, created_at
		FROM workspaces WHERE id = ?
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

// ListWorkspaces returns all workspaces, newest first
func (s *SQLiteStore) ListWorkspaces() ([]*models.Workspace, error) {
	rows, err := s.db.Query(`
		SELECT id, name, COALESCE(description,''), COALESCE(owner,''), metadata, created_at
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

// CreateRubric inserts a rubric row
func (s *SQLiteStore) CreateRubric(rubric *models.Rubric) error {
	if rubric.CreatedAt.IsZero() {
		rubric.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO rubrics (id, workspace_id, name, description, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rubric.ID, rubric.WorkspaceID, rubric.Name, rubric.Description, string(rubric.Config), rubric.CreatedAt)
	return err
}

// CreateRubricCriteria bulk-inserts criteria rows in one transaction
func (s *SQLiteStore) CreateRubricCriteria(rubricID string, criteria []models.RubricCriterion) ([]models.RubricCriterion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	inserted := make([]models.RubricCriterion, 0, len(criteria))
	for _, c := range criteria {
		res, err := tx.Exec(`
			INSERT INTO rubric_criteria (rubric_id, idx, key, title, description, weight, max_score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rubricID, c.Idx, c.Key, c.Title, c.Description, c.Weight, c.MaxScore)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		id, _ := res.LastInsertId()
		c.ID = id
		c.RubricID = rubricID
		inserted = append(inserted, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetRubricCriteria returns a rubric's criteria in definition order
func (s *SQLiteStore) GetRubricCriteria(rubricID string) ([]models.RubricCriterion, error) {
	rows, err := s.db.Query(`
		SELECT id, rubric_id, idx, key, title, COALESCE(description,''), weight, max_score
		FROM rubric_criteria WHERE rubric_id = ? ORDER BY idx
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

// ListRubrics returns the rubrics of a workspace
func (s *SQLiteStore) ListRubrics(workspaceID string) ([]*models.Rubric, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(workspace_id,''), name, COALESCE(description,''), config, created_at
		FROM rubrics WHERE workspace_id = ? ORDER BY created_at DESC
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

// CreateVideo inserts the relational mirror of a job
func (s *SQLiteStore) CreateVideo(video *models.Video) (int64, error) {
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO videos (job_external_id, workspace_id, rubric_id, title, original_path,
			presentation_path, thumbnail_path, status, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, video.JobExternalID, video.WorkspaceID, video.RubricID, video.Title, video.OriginalPath,
		video.PresentationPath, video.ThumbnailPath, video.Status, video.DurationSeconds, video.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	video.ID = id
	return id, nil
}

// GetVideoByJobID looks up the mirror row by the job's external ID
func (s *SQLiteStore) GetVideoByJobID(jobExternalID string) (*models.Video, error) {
	var v models.Video
	err := s.db.QueryRow(`
		SELECT id, job_external_id, COALESCE(workspace_id,''), COALESCE(rubric_id,''),
			COALESCE(title,''), COALESCE(original_path,''), COALESCE(presentation_path,''),
			COALESCE(thumbnail_path,''), COALESCE(status,''), duration_seconds, created_at
		FROM videos WHERE job_external_id = ? LIMIT 1
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

// ListVideosByWorkspace returns the mirror rows of a workspace, newest first
func (s *SQLiteStore) ListVideosByWorkspace(workspaceID string) ([]*models.Video, error) {
	rows, err := s.db.Query(`
		SELECT id, job_external_id, COALESCE(workspace_id,''), COALESCE(rubric_id,''),
			COALESCE(title,''), COALESCE(original_path,''), COALESCE(presentation_path,''),
			COALESCE(thumbnail_path,''), COALESCE(status,''), duration_seconds, created_at
		FROM videos WHERE workspace_id = ? ORDER BY created_at DESC
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

// UpdateVideoStatus mirrors a job status change
func (s *SQLiteStore) UpdateVideoStatus(jobExternalID, status string) error {
	res, err := s.db.Exec(`UPDATE videos SET status = ? WHERE job_external_id = ?`, status, jobExternalID)
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

// InsertEvaluation stores one model evaluation
func (s *SQLiteStore) InsertEvaluation(eval *models.Evaluation) (int64, error) {
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	scores := string(eval.Scores)
	if scores == "" {
		scores = "{}"
	}
	res, err := s.db.Exec(`
		INSERT INTO evaluations (video_id, rubric_id, scores, total_score, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, eval.VideoID, eval.RubricID, scores, eval.TotalScore, string(eval.Notes), eval.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	eval.ID = id
	return id, nil
}

// ListEvaluationsByVideo returns a video's evaluations, newest first
func (s *SQLiteStore) ListEvaluationsByVideo(videoID int64) ([]*models.Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT id, video_id, COALESCE(rubric_id,''), scores, total_score, notes, created_at
		FROM evaluations WHERE video_id = ? ORDER BY id DESC
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

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
