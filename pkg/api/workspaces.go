package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"talkgrader/pkg/models"
	"talkgrader/pkg/store"
)

type createWorkspaceRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Owner       string          `json:"owner"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ws := &models.Workspace{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Metadata:    req.Metadata,
	}
	if err := h.db.CreateWorkspace(ws); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.db.GetWorkspace(mux.Vars(r)["id"])
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListWorkspaces()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*models.Workspace{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createRubricRequest struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Config      json.RawMessage          `json:"config"`
	Criteria    []models.RubricCriterion `json:"criteria"`
}

func (h *Handler) CreateRubric(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	var req createRubricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := h.db.GetWorkspace(workspaceID); err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	rubric := &models.Rubric{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	}
	if err := h.db.CreateRubric(rubric); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var criteria []models.RubricCriterion
	if len(req.Criteria) > 0 {
		inserted, err := h.db.CreateRubricCriteria(rubric.ID, req.Criteria)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		criteria = inserted
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rubric":   rubric,
		"criteria": criteria,
	})
}

func (h *Handler) ListRubrics(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListRubrics(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*models.Rubric{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListWorkspacePairs lists a workspace's jobs, overlaying each mirror
// row with its metadata file. metadataSource records which side won:
// the file when readable, the bare row when the file is gone, and an
// explicit marker when the file exists but cannot be parsed.
func (h *Handler) ListWorkspacePairs(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]

	rows, err := h.db.ListVideosByWorkspace(workspaceID)
	if err != nil {
		h.log.Warn("pairs listing fell back to empty set", map[string]interface{}{"workspace": workspaceID, "error": err.Error()})
		rows = nil
	}

	pairs := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		jobID := row.JobExternalID
		item := map[string]interface{}{
			"jobId":       jobID,
			"dbId":        row.ID,
			"workspaceId": row.WorkspaceID,
			"title":       row.Title,
			"status":      row.Status,
			"createdAt":   row.CreatedAt,
			"metadata":    nil,
			"urls":        jobURLs(r, jobID),
		}

		job, err := h.meta.Read(jobID)
		switch {
		case err == nil:
			item["metadata"] = jobToMap(job)
			item["metadataSource"] = "file"
			item["status"] = string(job.Status)
			if job.Title != "" {
				item["title"] = job.Title
			}
			if job.WorkspaceID != "" {
				item["workspaceId"] = job.WorkspaceID
			}
			item["createdAt"] = job.CreatedAt
		case isCorrupt(err):
			item["metadataSource"] = "invalid_file"
		default:
			item["metadataSource"] = "db"
		}
		pairs = append(pairs, item)
	}
	writeJSON(w, http.StatusOK, pairs)
}
