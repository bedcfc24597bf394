package store

import (
	"sort"
	"sync"
	"time"

	"talkgrader/pkg/models"
)

// MemoryStore keeps everything in maps. Used by tests and by
// deployments that run without a relational mirror.
type MemoryStore struct {
	mu          sync.RWMutex
	workspaces  map[string]*models.Workspace
	rubrics     map[string]*models.Rubric
	criteria    map[string][]models.RubricCriterion
	videos      map[int64]*models.Video
	evaluations map[int64]*models.Evaluation
	nextVideo   int64
	nextEval    int64
	nextCrit    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:  make(map[string]*models.Workspace),
		rubrics:     make(map[string]*models.Rubric),
		criteria:    make(map[string][]models.RubricCriterion),
		videos:      make(map[int64]*models.Video),
		evaluations: make(map[int64]*models.Evaluation),
	}
}

func (s *MemoryStore) CreateWorkspace(ws *models.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkspace(id string) (*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *MemoryStore) ListWorkspaces() ([]*models.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		cp := *ws
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateRubric(rubric *models.Rubric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rubric.CreatedAt.IsZero() {
		rubric.CreatedAt = time.Now().UTC()
	}
	cp := *rubric
	s.rubrics[rubric.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateRubricCriteria(rubricID string, criteria []models.RubricCriterion) ([]models.RubricCriterion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]models.RubricCriterion, 0, len(criteria))
	for _, c := range criteria {
		s.nextCrit++
		c.ID = s.nextCrit
		c.RubricID = rubricID
		inserted = append(inserted, c)
	}
	s.criteria[rubricID] = append(s.criteria[rubricID], inserted...)
	return inserted, nil
}

func (s *MemoryStore) GetRubricCriteria(rubricID string) ([]models.RubricCriterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RubricCriterion, len(s.criteria[rubricID]))
	copy(out, s.criteria[rubricID])
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

func (s *MemoryStore) ListRubrics(workspaceID string) ([]*models.Rubric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rubric
	for _, r := range s.rubrics {
		if r.WorkspaceID == workspaceID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateVideo(video *models.Video) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now().UTC()
	}
	s.nextVideo++
	video.ID = s.nextVideo
	cp := *video
	s.videos[video.ID] = &cp
	return video.ID, nil
}

func (s *MemoryStore) GetVideoByJobID(jobExternalID string) (*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.videos {
		if v.JobExternalID == jobExternalID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListVideosByWorkspace(workspaceID string) ([]*models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Video
	for _, v := range s.videos {
		if v.WorkspaceID == workspaceID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateVideoStatus(jobExternalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if v.JobExternalID == jobExternalID {
			v.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) InsertEvaluation(eval *models.Evaluation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	s.nextEval++
	eval.ID = s.nextEval
	cp := *eval
	s.evaluations[eval.ID] = &cp
	return eval.ID, nil
}

func (s *MemoryStore) ListEvaluationsByVideo(videoID int64) ([]*models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Evaluation
	for _, e := range s.evaluations {
		if e.VideoID == videoID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) HealthCheck() error { return nil }
