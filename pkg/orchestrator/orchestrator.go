package orchestrator

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/models"
	"talkgrader/pkg/progress"
	"talkgrader/pkg/store"
)

// Sink receives the pipeline's output as it happens. The HTTP layer
// plugs in an SSE writer for ?stream=true requests and a passthrough
// sink otherwise.
type Sink interface {
	Frame(stream, text string)
	Done(result Result)
	Error(err error)
}

// RunRecorder counts finished pipelines by outcome; the metrics
// exporter implements it.
type RunRecorder interface {
	RecordPipelineRun(outcome string)
}

// Result is the terminal outcome of one pipeline run.
type Result struct {
	JobID  string `json:"jobId"`
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// SubmitRequest carries one upload pair into the orchestrator. The
// paths point at the multipart spool files; Submit moves them into the
// job directory.
type SubmitRequest struct {
	AudioPath        string
	AudioName        string
	PresentationPath string
	PresentationName string
	WorkspaceID      string
	Title            string
}

// Orchestrator owns the job lifecycle: ID allocation, metadata
// creation, the background thumbnail task, and supervision of the
// processing pipeline subprocess.
type Orchestrator struct {
	Meta       *metastore.Store
	DB         store.Store
	Inferencer *progress.Inferencer
	Thumbnails *ThumbnailTask
	Log        *logging.Logger
	Metrics    RunRecorder

	// Pipeline is the subprocess command; the job's audio and
	// presentation paths are appended as the last two arguments.
	Pipeline []string

	wg sync.WaitGroup
}

func New(meta *metastore.Store, db store.Store, inf *progress.Inferencer, pipeline []string, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		Meta:       meta,
		DB:         db,
		Inferencer: inf,
		Thumbnails: NewThumbnailTask(meta, log),
		Log:        log,
		Pipeline:   pipeline,
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewJobID allocates a time-prefixed ID: unix milliseconds plus six
// random base36 characters. Sorting IDs lexicographically approximates
// creation order.
func NewJobID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// Submit registers a new job and starts its pipeline in the
// background. It returns as soon as the job is running; progress is
// observed through the metadata record and the sink.
func (o *Orchestrator) Submit(req SubmitRequest, sink Sink) (string, error) {
	jobID := NewJobID()
	jobDir := o.Meta.JobDir(jobID)

	now := time.Now().UTC()
	job := &models.Job{
		JobID:        jobID,
		WorkspaceID:  req.WorkspaceID,
		Title:        req.Title,
		Audio:        filepath.Join(jobDir, req.AudioName),
		Presentation: filepath.Join(jobDir, req.PresentationName),
		Status:       models.JobStatusQueued,
		CreatedAt:    now,
	}
	if err := o.Meta.Create(job); err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	if err := moveFile(req.AudioPath, job.Audio); err != nil {
		return "", fmt.Errorf("failed to store audio upload: %w", err)
	}
	if err := moveFile(req.PresentationPath, job.Presentation); err != nil {
		return "", fmt.Errorf("failed to store presentation upload: %w", err)
	}

	// Mirror the job into the relational store. The metadata file is
	// authoritative, so a dead database only costs us the mirror row.
	o.mirrorVideo(job, jobDir)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Thumbnails.Generate(jobID, job.Audio, filepath.Join(jobDir, "thumbnail.jpg"))
	}()

	started := time.Now().UTC().Format(time.RFC3339)
	if _, err := o.Meta.Merge(jobID, map[string]interface{}{
		"status":            string(models.JobStatusRunning),
		"startedAt":         started,
		"progress":          0,
		"progressMessage":   "started",
		"totalChunks":       nil,
		"transcribedChunks": 0,
	}); err != nil {
		return "", fmt.Errorf("failed to mark job running: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(jobID, job.Audio, job.Presentation, sink)
	}()
	return jobID, nil
}

// Wait blocks until all background pipelines and tasks have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) mirrorVideo(job *models.Job, jobDir string) {
	if o.DB == nil {
		return
	}
	title := job.Title
	if title == "" {
		title = filepath.Base(job.Audio)
	}
	id, err := o.DB.CreateVideo(&models.Video{
		JobExternalID:    job.JobID,
		WorkspaceID:      job.WorkspaceID,
		Title:            title,
		OriginalPath:     job.Audio,
		PresentationPath: job.Presentation,
		ThumbnailPath:    filepath.Join(jobDir, "thumbnail.jpg"),
		Status:           string(job.Status),
	})
	if err != nil {
		o.Log.Warn("video mirror insert failed", map[string]interface{}{"job": job.JobID, "error": err.Error()})
		return
	}
	if _, err := o.Meta.Merge(job.JobID, map[string]interface{}{"dbId": id}); err != nil {
		o.Log.Warn("dbId write-back failed", map[string]interface{}{"job": job.JobID, "error": err.Error()})
	}
}

// run supervises one pipeline subprocess to completion. The pipeline
// is fail-fast: any stage error surfaces as a nonzero exit, there are
// no retries.
func (o *Orchestrator) run(jobID, audioPath, presentationPath string, sink Sink) {
	args := append(append([]string{}, o.Pipeline[1:]...), audioPath, presentationPath, jobID)
	cmd := exec.Command(o.Pipeline[0], args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		o.launchFailed(jobID, err, sink)
		return
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		o.launchFailed(jobID, err, sink)
		return
	}
	if err := cmd.Start(); err != nil {
		o.launchFailed(jobID, err, sink)
		return
	}
	o.Log.Info("pipeline started", map[string]interface{}{"job": jobID, "pid": cmd.Process.Pid})

	var stdout, stderr strings.Builder
	var readers sync.WaitGroup
	readers.Add(2)

	go func() {
		defer readers.Done()
		o.consume(stdoutPipe, func(text string) {
			stdout.WriteString(text)
			o.Inferencer.Observe(jobID, text)
			sink.Frame("stdout", text)
		})
	}()
	go func() {
		defer readers.Done()
		o.consume(stderrPipe, func(text string) {
			stderr.WriteString(text)
			sink.Frame("stderr", text)
		})
	}()
	readers.Wait()

	code := 0
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	o.Inferencer.Finalize(jobID, code, stdout.String(), stderr.String())
	o.mirrorStatus(jobID)
	if o.Metrics != nil {
		outcome := "failed"
		if code == 0 {
			outcome = "done"
		}
		o.Metrics.RecordPipelineRun(outcome)
	}
	o.Log.Info("pipeline finished", map[string]interface{}{"job": jobID, "exitCode": code})

	sink.Done(Result{JobID: jobID, Code: code, Stdout: stdout.String(), Stderr: stderr.String()})
}

func (o *Orchestrator) launchFailed(jobID string, err error, sink Sink) {
	o.Log.Error("pipeline launch failed", map[string]interface{}{"job": jobID, "error": err.Error()})
	o.Inferencer.LaunchFailure(jobID, err)
	o.mirrorStatus(jobID)
	if o.Metrics != nil {
		o.Metrics.RecordPipelineRun("error")
	}
	sink.Error(err)
}

func (o *Orchestrator) mirrorStatus(jobID string) {
	if o.DB == nil {
		return
	}
	job, err := o.Meta.Read(jobID)
	if err != nil {
		return
	}
	if err := o.DB.UpdateVideoStatus(jobID, string(job.Status)); err != nil && err != store.ErrNotFound {
		o.Log.Warn("video mirror status update failed", map[string]interface{}{"job": jobID, "error": err.Error()})
	}
}

// consume forwards reads in the chunks the pipe delivers them, so
// streaming clients see output with the subprocess's own cadence.
func (o *Orchestrator) consume(r io.Reader, fn func(text string)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fn(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// moveFile renames src into place, falling back to copy+remove when
// the upload spool lives on a different filesystem.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
