package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"talkgrader/pkg/evaluate"
	"talkgrader/pkg/extract"
	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/metrics"
	"talkgrader/pkg/orchestrator"
	"talkgrader/pkg/store"
	"talkgrader/pkg/transcript"
)

// Handler serves the talk-grading API: uploads, job state, media,
// transcripts, and the workspace/rubric CRUD around them.
type Handler struct {
	meta  *metastore.Store
	db    store.Store
	orch  *orchestrator.Orchestrator
	recon *transcript.Reconstructor
	log   *logging.Logger

	metricsExporter *metrics.Exporter

	evaluator *evaluate.Evaluator
	extractor *extract.Extractor

	// Fallback transcript artifact directory for jobs that predate
	// per-job transcript folders.
	transcriptsDir string
}

func NewHandler(meta *metastore.Store, db store.Store, orch *orchestrator.Orchestrator, recon *transcript.Reconstructor, transcriptsDir string, log *logging.Logger) *Handler {
	return &Handler{
		meta:           meta,
		db:             db,
		orch:           orch,
		recon:          recon,
		extractor:      extract.New(log),
		transcriptsDir: transcriptsDir,
		log:            log,
	}
}

// SetMetricsExporter attaches the /metrics endpoint.
func (h *Handler) SetMetricsExporter(e *metrics.Exporter) {
	h.metricsExporter = e
}

// SetEvaluator enables the re-evaluation endpoint.
func (h *Handler) SetEvaluator(e *evaluate.Evaluator) {
	h.evaluator = e
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/automate", h.Automate).Methods("POST")

	// Job routes (register specific routes before parameterized ones)
	r.HandleFunc("/jobs/{id}/detailed", h.GetJobDetailed).Methods("GET")
	r.HandleFunc("/jobs/{id}/file", h.GetJobFile).Methods("GET")
	r.HandleFunc("/jobs/{id}/presentation", h.GetJobPresentation).Methods("GET")
	r.HandleFunc("/jobs/{id}/thumbnail", h.GetJobThumbnail).Methods("GET")
	r.HandleFunc("/jobs/{id}/evaluations", h.ListJobEvaluations).Methods("GET")
	r.HandleFunc("/jobs/{id}/evaluate", h.EvaluateJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")

	// Workspace routes
	r.HandleFunc("/workspaces", h.CreateWorkspace).Methods("POST")
	r.HandleFunc("/workspaces", h.ListWorkspaces).Methods("GET")
	r.HandleFunc("/workspaces/{id}/pairs", h.ListWorkspacePairs).Methods("GET")
	r.HandleFunc("/workspaces/{id}/rubrics", h.CreateRubric).Methods("POST")
	r.HandleFunc("/workspaces/{id}/rubrics", h.ListRubrics).Methods("GET")
	r.HandleFunc("/workspaces/{id}", h.GetWorkspace).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.metricsExporter != nil {
		r.Handle("/metrics", h.metricsExporter).Methods("GET")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// jobURLs builds the media links clients use to play a job back.
func jobURLs(r *http.Request, jobID string) map[string]string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s/jobs/%s", scheme, r.Host, jobID)
	return map[string]string{
		"file":         base + "/file",
		"presentation": base + "/presentation",
		"thumbnail":    base + "/thumbnail",
	}
}

func isCorrupt(err error) bool {
	return errors.Is(err, metastore.ErrCorruptState)
}

// metaStatus maps a metadata read error to the HTTP layer's view.
func metaStatus(err error) (int, string) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, metastore.ErrCorruptState):
		return http.StatusInternalServerError, "invalid job metadata"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
