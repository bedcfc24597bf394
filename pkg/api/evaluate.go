package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"talkgrader/pkg/evaluate"
)

// EvaluateJob runs the rubric evaluation for a job on demand, outside
// the pipeline. The request may name a stored rubric; without one the
// stock criteria apply.
func (h *Handler) EvaluateJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.evaluator == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation API not configured")
		return
	}

	job, err := h.meta.Read(id)
	if err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}

	var req struct {
		RubricID string `json:"rubricId"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // body is optional
	}

	dir := h.transcriptDir(id)
	if dir == "" {
		writeError(w, http.StatusConflict, "no transcripts available for this job")
		return
	}

	criteria := evaluate.DefaultCriteria
	if req.RubricID != "" && h.db != nil {
		if stored, err := h.db.GetRubricCriteria(req.RubricID); err == nil && len(stored) > 0 {
			criteria = stored
		} else {
			h.log.Warn("rubric criteria lookup failed, using defaults", map[string]interface{}{
				"job": id, "rubric": req.RubricID,
			})
		}
	}

	slideText := h.extractor.Text(job.Presentation)

	res, err := h.evaluator.EvaluateTranscripts(r.Context(), dir, slideText, criteria)
	if h.metricsExporter != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		h.metricsExporter.RecordEvaluationCall(outcome)
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.evaluator.Persist(id, job.DBID, req.RubricID, res)

	payload := map[string]interface{}{
		"jobId":      id,
		"scores":     res.Scores,
		"totalScore": res.TotalScore,
		"notes":      res.Notes,
	}
	if res.Raw != "" {
		payload["raw"] = res.Raw
	}
	writeJSON(w, http.StatusOK, payload)
}
