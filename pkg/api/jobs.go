package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"talkgrader/pkg/models"
	"talkgrader/pkg/store"
	"talkgrader/pkg/transcript"
)

// GetJob returns a job's metadata record overlaid with the mirror
// row's identifiers. The metadata file is the source of truth; the
// database only fills in fields the file does not carry.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.meta.Read(id)
	if err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}

	merged := jobToMap(job)
	if h.db != nil {
		if row, dbErr := h.db.GetVideoByJobID(id); dbErr == nil {
			if job.WorkspaceID == "" && row.WorkspaceID != "" {
				merged["workspaceId"] = row.WorkspaceID
			}
			if job.Title == "" && row.Title != "" {
				merged["title"] = row.Title
			}
			if job.DBID == 0 {
				merged["dbId"] = row.ID
			}
		}
	}
	merged["urls"] = jobURLs(r, id)
	merged["metadataSource"] = "file"
	writeJSON(w, http.StatusOK, merged)
}

// GetJobDetailed returns media URLs plus the reconstructed transcript
// segments on the absolute recording timeline. Subtitle artifacts are
// preferred; captured stdout is the fallback for jobs that produced
// none.
func (h *Handler) GetJobDetailed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.meta.Read(id)
	if err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}

	segments := []models.TranscriptSegment{}
	dir := h.transcriptDir(id)
	if dir != "" {
		segs, err := h.recon.Reconstruct(dir)
		if err != nil {
			h.log.Warn("transcript reconstruction failed", map[string]interface{}{"job": id, "error": err.Error()})
		} else {
			segments = segs
		}
	} else if job.Stdout != "" {
		segments = transcript.FromStdout(job.Stdout)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":    id,
		"urls":     jobURLs(r, id),
		"segments": segments,
	})
}

// transcriptDir picks the job-local transcripts folder when it exists,
// else the shared one, else nothing.
func (h *Handler) transcriptDir(jobID string) string {
	jobLocal := filepath.Join(h.meta.JobDir(jobID), "transcripts")
	if fi, err := os.Stat(jobLocal); err == nil && fi.IsDir() {
		return jobLocal
	}
	if h.transcriptsDir != "" {
		if fi, err := os.Stat(h.transcriptsDir); err == nil && fi.IsDir() {
			return h.transcriptsDir
		}
	}
	return ""
}

// GetJobFile serves the job's media. http.ServeContent handles Range
// requests, so seeking in the player works.
func (h *Handler) GetJobFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.meta.Read(id)
	if err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}
	f, err := os.Open(job.Audio)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", mediaMimeType(job.Audio))
	http.ServeContent(w, r, filepath.Base(job.Audio), fi.ModTime(), f)
}

// GetJobPresentation serves the slide deck, inline for PDFs and as a
// download for everything else.
func (h *Handler) GetJobPresentation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.meta.Read(id)
	if err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}
	if _, err := os.Stat(job.Presentation); err != nil {
		writeError(w, http.StatusNotFound, "presentation not found")
		return
	}
	filename := filepath.Base(job.Presentation)
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		w.Header().Set("Content-Disposition", `inline; filename="`+filename+`"`)
	} else {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	http.ServeFile(w, r, job.Presentation)
}

// GetJobThumbnail serves the poster frame if the background task has
// produced one.
func (h *Handler) GetJobThumbnail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.meta.Read(id); err != nil {
		status, msg := metaStatus(err)
		writeError(w, status, msg)
		return
	}
	thumbPath := filepath.Join(h.meta.JobDir(id), "thumbnail.jpg")
	if _, err := os.Stat(thumbPath); err != nil {
		writeError(w, http.StatusNotFound, "thumbnail not found")
		return
	}
	http.ServeFile(w, r, thumbPath)
}

// ListJobEvaluations returns the stored model evaluations for a job.
func (h *Handler) ListJobEvaluations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.db == nil {
		writeJSON(w, http.StatusOK, []*models.Evaluation{})
		return
	}
	row, err := h.db.GetVideoByJobID(id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	evals, err := h.db.ListEvaluationsByVideo(row.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evals == nil {
		evals = []*models.Evaluation{}
	}
	writeJSON(w, http.StatusOK, evals)
}

func mediaMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// jobToMap round-trips the typed job through JSON so the response
// carries exactly the metadata field names.
func jobToMap(job *models.Job) map[string]interface{} {
	raw, err := json.Marshal(job)
	if err != nil {
		return map[string]interface{}{"jobId": job.JobID}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"jobId": job.JobID}
	}
	return m
}
