package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"talkgrader/pkg/orchestrator"
)

const maxUploadBytes = 2 << 30 // 2 GiB

// Automate accepts an audio/presentation pair, registers a job and
// runs the pipeline. With ?stream=true the response is an SSE stream
// of pipeline output ending in a done or error event; otherwise the
// request blocks until the pipeline exits and returns the result.
func (h *Handler) Automate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	audio, audioHeader, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio and presentation files are required")
		return
	}
	defer audio.Close()
	presentation, presentationHeader, err := r.FormFile("presentation")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio and presentation files are required")
		return
	}
	defer presentation.Close()

	audioPath, err := spool(audio, "upload-audio-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	presentationPath, err := spool(presentation, "upload-presentation-*")
	if err != nil {
		os.Remove(audioPath)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	req := orchestrator.SubmitRequest{
		AudioPath:        audioPath,
		AudioName:        safeFilename(audioHeader.Filename, "audio"),
		PresentationPath: presentationPath,
		PresentationName: safeFilename(presentationHeader.Filename, "presentation"),
		WorkspaceID:      r.FormValue("workspaceId"),
		Title:            r.FormValue("title"),
	}

	if r.URL.Query().Get("stream") == "true" {
		h.automateStream(w, r, req)
		return
	}
	h.automateBlocking(w, req)
}

func (h *Handler) automateBlocking(w http.ResponseWriter, req orchestrator.SubmitRequest) {
	sink := newWaitSink()
	jobID, err := h.orch.Submit(req, sink)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("job submitted", map[string]interface{}{"job": jobID})

	select {
	case result := <-sink.done:
		if result.Code == 0 {
			writeJSON(w, http.StatusOK, result)
		} else {
			writeJSON(w, http.StatusInternalServerError, result)
		}
	case err := <-sink.errs:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) automateStream(w http.ResponseWriter, r *http.Request, req orchestrator.SubmitRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := &sseSink{w: w, flusher: flusher, closed: make(chan struct{})}
	jobID, err := h.orch.Submit(req, sink)
	if err != nil {
		sink.Error(err)
		return
	}
	h.log.Info("job submitted (streaming)", map[string]interface{}{"job": jobID})

	select {
	case <-sink.closed:
	case <-r.Context().Done():
		// client went away; the pipeline keeps running, state lives in
		// the metadata record
	}
}

// waitSink discards frames and hands the terminal outcome to the
// blocking handler.
type waitSink struct {
	done chan orchestrator.Result
	errs chan error
}

func newWaitSink() *waitSink {
	return &waitSink{done: make(chan orchestrator.Result, 1), errs: make(chan error, 1)}
}

func (s *waitSink) Frame(stream, text string)       {}
func (s *waitSink) Done(result orchestrator.Result) { s.done <- result }
func (s *waitSink) Error(err error)                 { s.errs <- err }

// sseSink writes pipeline output as server-sent events.
type sseSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  chan struct{}
}

func (s *sseSink) Frame(stream, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// continuation lines stay inside the same event
	fmt.Fprintf(s.w, "data: %s\n\n", strings.ReplaceAll(text, "\n", "\ndata: "))
	s.flusher.Flush()
}

func (s *sseSink) Done(result orchestrator.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, _ := json.Marshal(result)
	fmt.Fprintf(s.w, "event: done\ndata: %s\n\n", payload)
	s.flusher.Flush()
	close(s.closed)
}

func (s *sseSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, _ := json.Marshal(map[string]string{"message": err.Error()})
	fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", payload)
	s.flusher.Flush()
	close(s.closed)
}

// spool copies one multipart part to a temp file so the orchestrator
// can move it into the job directory.
func spool(part multipart.File, pattern string) (string, error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to spool upload: %w", err)
	}
	if _, err := io.Copy(tmp, io.LimitReader(part, maxUploadBytes)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func safeFilename(name, fallback string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}
