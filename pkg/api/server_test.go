package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"talkgrader/pkg/evaluate"
	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/models"
	"talkgrader/pkg/orchestrator"
	"talkgrader/pkg/progress"
	"talkgrader/pkg/store"
	"talkgrader/pkg/transcript"
)

type testEnv struct {
	server  *httptest.Server
	meta    *metastore.Store
	db      *store.MemoryStore
	handler *Handler
}

func newTestEnv(t *testing.T, pipelineScript string) *testEnv {
	t.Helper()
	meta, err := metastore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create metastore: %v", err)
	}
	db := store.NewMemoryStore()
	log := logging.NewLogger(logging.ERROR, false)
	chunksDir := t.TempDir()
	inf := progress.New(meta, chunksDir, log)
	orch := orchestrator.New(meta, db, inf, []string{"sh", "-c", pipelineScript, "pipeline"}, log)
	recon := &transcript.Reconstructor{ChunksDir: chunksDir}

	h := NewHandler(meta, db, orch, recon, "", log)
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(orch.Wait)
	return &testEnv{server: srv, meta: meta, db: db, handler: h}
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, filename := range files {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(fw, "content of %s", filename)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAutomateRejectsMissingFiles(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	body, contentType := multipartUpload(t, nil, map[string]string{"audio": "talk.mp4"})
	resp, err := http.Post(env.server.URL+"/automate", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestAutomateBlockingSuccess(t *testing.T) {
	env := newTestEnv(t, `echo "Split completed successfully"; exit 0`)

	body, contentType := multipartUpload(t,
		map[string]string{"workspaceId": "ws-1", "title": "Demo Day"},
		map[string]string{"audio": "talk.mp4", "presentation": "slides.pdf"})
	resp, err := http.Post(env.server.URL+"/automate", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result orchestrator.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if result.JobID == "" || result.Code != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if !strings.Contains(result.Stdout, "Split completed successfully") {
		t.Errorf("Stdout missing: %q", result.Stdout)
	}

	job, err := env.meta.Read(result.JobID)
	if err != nil {
		t.Fatalf("Job record missing: %v", err)
	}
	if job.Status != models.JobStatusDone || job.WorkspaceID != "ws-1" || job.Title != "Demo Day" {
		t.Errorf("Bad job record: %+v", job)
	}
}

func TestAutomateBlockingFailureReturns500(t *testing.T) {
	env := newTestEnv(t, `echo "going down" >&2; exit 2`)

	body, contentType := multipartUpload(t, nil, map[string]string{"audio": "talk.mp4", "presentation": "slides.pdf"})
	resp, err := http.Post(env.server.URL+"/automate", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	var result orchestrator.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Code != 2 || !strings.Contains(result.Stderr, "going down") {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestAutomateStreaming(t *testing.T) {
	env := newTestEnv(t, `echo "stage one"; echo "stage two"; exit 0`)

	body, contentType := multipartUpload(t, nil, map[string]string{"audio": "talk.mp4", "presentation": "slides.pdf"})
	resp, err := http.Post(env.server.URL+"/automate?stream=true", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected SSE content type, got %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	events := string(raw)
	if !strings.Contains(events, "data: stage one") {
		t.Errorf("Output frames missing: %q", events)
	}
	if !strings.Contains(events, "event: done") {
		t.Errorf("Terminal done event missing: %q", events)
	}
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	resp, err := http.Get(env.server.URL + "/jobs/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestGetJobReturnsOverlayAndURLs(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	seedJob(t, env, "j1", models.JobStatusDone)
	resp, err := http.Get(env.server.URL + "/jobs/j1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["metadataSource"] != "file" {
		t.Errorf("Expected metadataSource=file, got %v", got["metadataSource"])
	}
	urls, ok := got["urls"].(map[string]interface{})
	if !ok || !strings.HasSuffix(urls["file"].(string), "/jobs/j1/file") {
		t.Errorf("Bad urls: %v", got["urls"])
	}
}

func TestGetJobCorruptMetadata(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	seedJob(t, env, "j1", models.JobStatusDone)
	metaPath := filepath.Join(env.meta.JobDir("j1"), "metadata.json")
	if err := os.WriteFile(metaPath, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/jobs/j1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 for corrupt metadata, got %d", resp.StatusCode)
	}
}

func TestGetJobDetailedFromArtifacts(t *testing.T) {
	env := newTestEnv(t, "exit 0")
	seedJob(t, env, "j1", models.JobStatusDone)

	transcripts := filepath.Join(env.meta.JobDir("j1"), "transcripts")
	if err := os.MkdirAll(transcripts, 0o755); err != nil {
		t.Fatal(err)
	}
	srt := "1\n00:00:00,000 --> 00:00:02,000\nHello\n\n2\n00:00:02,500 --> 00:00:04,000\nWorld\n"
	if err := os.WriteFile(filepath.Join(transcripts, "chunk_000.srt"), []byte(srt), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/jobs/j1/detailed")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got struct {
		JobID    string                     `json:"jobId"`
		Segments []models.TranscriptSegment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.JobID != "j1" || len(got.Segments) != 2 {
		t.Fatalf("Unexpected detail: %+v", got)
	}
	if got.Segments[0].Text != "Hello" || got.Segments[1].StartSec != 2.5 {
		t.Errorf("Bad segments: %+v", got.Segments)
	}
}

func TestGetJobDetailedStdoutFallback(t *testing.T) {
	env := newTestEnv(t, "exit 0")
	seedJob(t, env, "j1", models.JobStatusDone)
	if _, err := env.meta.Merge("j1", map[string]interface{}{
		"stdout": "[00:00.000 --> 00:02.000] Hola a todos\n",
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/jobs/j1/detailed")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got struct {
		Segments []models.TranscriptSegment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Segments) != 1 || got.Segments[0].Text != "Hola a todos" {
		t.Errorf("Stdout fallback failed: %+v", got.Segments)
	}
}

func TestGetJobFileSupportsRange(t *testing.T) {
	env := newTestEnv(t, "exit 0")
	seedJob(t, env, "j1", models.JobStatusDone)

	media := filepath.Join(env.meta.JobDir("j1"), "talk.mp4")
	if err := os.WriteFile(media, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.meta.Merge("j1", map[string]interface{}{"audio": media}); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest("GET", env.server.URL+"/jobs/j1/file", nil)
	req.Header.Set("Range", "bytes=2-5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("Expected 206, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "2345" {
		t.Errorf("Bad range body: %q", data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Bad content type: %q", ct)
	}
}

func TestWorkspaceAndRubricCRUD(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	resp, err := http.Post(env.server.URL+"/workspaces", "application/json",
		strings.NewReader(`{"name":"Demo Week","owner":"ta@example.com"}`))
	if err != nil {
		t.Fatal(err)
	}
	var ws models.Workspace
	if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || ws.ID == "" {
		t.Fatalf("Workspace create failed: %d %+v", resp.StatusCode, ws)
	}

	resp, err = http.Post(env.server.URL+"/workspaces/"+ws.ID+"/rubrics", "application/json",
		strings.NewReader(`{"name":"default","criteria":[{"idx":0,"key":"clarity_coherence","title":"Clarity","weight":25,"max_score":7}]}`))
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		Rubric   models.Rubric            `json:"rubric"`
		Criteria []models.RubricCriterion `json:"criteria"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || len(created.Criteria) != 1 || created.Criteria[0].ID == 0 {
		t.Fatalf("Rubric create failed: %d %+v", resp.StatusCode, created)
	}

	resp, err = http.Get(env.server.URL + "/workspaces/" + ws.ID + "/rubrics")
	if err != nil {
		t.Fatal(err)
	}
	var rubrics []models.Rubric
	if err := json.NewDecoder(resp.Body).Decode(&rubrics); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(rubrics) != 1 || rubrics[0].Name != "default" {
		t.Errorf("Rubric listing wrong: %+v", rubrics)
	}
}

func TestListWorkspacePairsOverlay(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	// one job with a valid metadata file, one with the file gone
	seedJob(t, env, "j1", models.JobStatusDone)
	if _, err := env.db.CreateVideo(&models.Video{JobExternalID: "j1", WorkspaceID: "ws-1", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.db.CreateVideo(&models.Video{JobExternalID: "gone", WorkspaceID: "ws-1", Status: "done"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.server.URL + "/workspaces/ws-1/pairs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var pairs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d", len(pairs))
	}
	sources := map[string]string{}
	statuses := map[string]string{}
	for _, p := range pairs {
		sources[p["jobId"].(string)] = p["metadataSource"].(string)
		statuses[p["jobId"].(string)] = p["status"].(string)
	}
	if sources["j1"] != "file" || sources["gone"] != "db" {
		t.Errorf("Bad metadataSource tagging: %v", sources)
	}
	// the metadata file wins over the stale DB status
	if statuses["j1"] != "done" {
		t.Errorf("File status did not override DB row: %v", statuses)
	}
}

func TestEvaluateJobNotConfigured(t *testing.T) {
	env := newTestEnv(t, "exit 0")
	seedJob(t, env, "j1", models.JobStatusDone)

	resp, err := http.Post(env.server.URL+"/jobs/j1/evaluate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without an evaluator, got %d", resp.StatusCode)
	}
}

func TestEvaluateJobRunsAndPersists(t *testing.T) {
	env := newTestEnv(t, "exit 0")
	seedJob(t, env, "j1", models.JobStatusDone)

	transcripts := filepath.Join(env.meta.JobDir("j1"), "transcripts")
	if err := os.MkdirAll(transcripts, 0o755); err != nil {
		t.Fatal(err)
	}
	srt := "1\n00:00:00,000 --> 00:00:02,000\nWelcome to the demo\n"
	if err := os.WriteFile(filepath.Join(transcripts, "chunk_000.srt"), []byte(srt), 0o644); err != nil {
		t.Fatal(err)
	}
	videoID, err := env.db.CreateVideo(&models.Video{JobExternalID: "j1", Status: "done"})
	if err != nil {
		t.Fatal(err)
	}

	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			t.Errorf("Bad model request: %v", err)
		}
		if !strings.Contains(req.Messages[0].Content, "Welcome to the demo") {
			t.Errorf("Prompt missing transcript text")
		}
		reply := `{"scores":{"clarity_coherence":6},"total_score":6.0,"comments":{"clarity_coherence":"clear"},"summary":"solid talk"}`
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
	defer model.Close()

	env.handler.SetEvaluator(&evaluate.Evaluator{
		APIURL:     model.URL,
		HTTPClient: model.Client(),
		DB:         env.db,
		Log:        logging.NewLogger(logging.ERROR, false),
	})

	resp, err := http.Post(env.server.URL+"/jobs/j1/evaluate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	var got struct {
		JobID      string             `json:"jobId"`
		Scores     map[string]float64 `json:"scores"`
		TotalScore *float64           `json:"totalScore"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.JobID != "j1" || got.Scores["clarity_coherence"] != 6 {
		t.Errorf("Unexpected payload: %+v", got)
	}
	if got.TotalScore == nil || *got.TotalScore != 6.0 {
		t.Errorf("Bad total score: %v", got.TotalScore)
	}

	evals, err := env.db.ListEvaluationsByVideo(videoID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 {
		t.Fatalf("Expected 1 stored evaluation, got %d", len(evals))
	}
	if evals[0].TotalScore == nil || *evals[0].TotalScore != 6.0 {
		t.Errorf("Stored evaluation wrong: %+v", evals[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "exit 0")

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload["status"] != "ok" || payload["database"] != "ok" {
		t.Errorf("Unexpected health payload: %v", payload)
	}
}

func seedJob(t *testing.T, env *testEnv, id string, status models.JobStatus) {
	t.Helper()
	if err := env.meta.Create(&models.Job{JobID: id, Status: status}); err != nil {
		t.Fatalf("Failed to seed job: %v", err)
	}
}
