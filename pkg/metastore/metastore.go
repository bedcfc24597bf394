package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"talkgrader/pkg/models"
)

var (
	// ErrNotFound is returned when no metadata record exists for a job.
	ErrNotFound = errors.New("job metadata not found")
	// ErrCorruptState is returned when a record exists but cannot be
	// parsed. Callers must surface it; the store never resets a corrupt
	// record on its own.
	ErrCorruptState = errors.New("corrupt job metadata")
)

// Store persists one metadata.json per job under a root directory.
//
// Two independent writers touch the same record: the orchestrator (stage
// transitions) and the thumbnail task (thumbnail fields). Every write goes
// through a per-job mutex held across the whole read-modify-write cycle,
// so interleaved merges on disjoint key sets never lose each other's
// fields.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}
	return &Store{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the jobs root directory.
func (s *Store) Root() string {
	return s.root
}

// JobDir returns the directory holding a job's files.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.root, jobID, "metadata.json")
}

func (s *Store) lockFor(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Create writes the initial record for a job, creating its directory.
func (s *Store) Create(job *models.Job) error {
	l := s.lockFor(job.JobID)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(s.JobDir(job.JobID), 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return err
	}
	return s.write(job.JobID, record)
}

// Read returns a typed snapshot of a job's record.
func (s *Store) Read(jobID string) (*models.Job, error) {
	l := s.lockFor(jobID)
	l.Lock()
	defer l.Unlock()

	record, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	return toJob(record)
}

// Merge applies a field-level partial update: only the keys present in
// fields are modified, everything else survives untouched.
func (s *Store) Merge(jobID string, fields map[string]interface{}) (*models.Job, error) {
	return s.Update(jobID, func(record map[string]interface{}) {
		for k, v := range fields {
			record[k] = v
		}
	})
}

// Update runs fn against the current record under the job lock and
// persists the result. Use it when the new value depends on the current
// one (counters, progress floors).
func (s *Store) Update(jobID string, fn func(record map[string]interface{})) (*models.Job, error) {
	l := s.lockFor(jobID)
	l.Lock()
	defer l.Unlock()

	record, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	fn(record)
	if err := s.write(jobID, record); err != nil {
		return nil, err
	}
	return toJob(record)
}

// List returns the IDs of all jobs with a readable metadata record,
// newest directory first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.path(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// load reads the raw record. Caller must hold the job lock.
func (s *Store) load(jobID string) (map[string]interface{}, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}
	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, jobID, err)
	}
	return record, nil
}

// write persists the record atomically (tmp file + rename) so a crash
// mid-write never leaves a truncated record behind. Caller must hold the
// job lock.
func (s *Store) write(jobID string, record map[string]interface{}) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(jobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func toJob(record map[string]interface{}) (*models.Job, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
