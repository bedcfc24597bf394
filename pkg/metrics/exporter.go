package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"talkgrader/pkg/metastore"
	"talkgrader/pkg/models"
)

// Exporter serves Prometheus metrics derived from the job metadata
// records plus whatever landed in the default registry.
type Exporter struct {
	meta      *metastore.Store
	startTime time.Time

	mu            sync.RWMutex
	pipelineRuns  map[string]int64 // outcome -> count
	evaluationAPI map[string]int64 // result -> count
}

func NewExporter(meta *metastore.Store) *Exporter {
	return &Exporter{
		meta:          meta,
		startTime:     time.Now(),
		pipelineRuns:  make(map[string]int64),
		evaluationAPI: make(map[string]int64),
	}
}

// RecordPipelineRun counts a finished pipeline by outcome.
func (e *Exporter) RecordPipelineRun(outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipelineRuns[outcome]++
}

// RecordEvaluationCall counts a model API call by result.
func (e *Exporter) RecordEvaluationCall(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluationAPI[result]++
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	jobsByStatus := map[string]int{
		string(models.JobStatusQueued):  0,
		string(models.JobStatusRunning): 0,
		string(models.JobStatusDone):    0,
		string(models.JobStatusFailed):  0,
		string(models.JobStatusError):   0,
	}
	active := 0
	ids, err := e.meta.List()
	if err == nil {
		for _, id := range ids {
			job, err := e.meta.Read(id)
			if err != nil {
				continue
			}
			jobsByStatus[string(job.Status)]++
			if job.Status == models.JobStatusRunning {
				active++
			}
		}
	}

	fmt.Fprintf(w, "# HELP talkgrader_jobs_total Total number of jobs by status\n")
	fmt.Fprintf(w, "# TYPE talkgrader_jobs_total gauge\n")
	for _, status := range []string{"queued", "running", "done", "failed", "error"} {
		fmt.Fprintf(w, "talkgrader_jobs_total{status=\"%s\"} %d\n", status, jobsByStatus[status])
	}

	fmt.Fprintf(w, "\n# HELP talkgrader_active_jobs Number of currently running pipelines\n")
	fmt.Fprintf(w, "# TYPE talkgrader_active_jobs gauge\n")
	fmt.Fprintf(w, "talkgrader_active_jobs %d\n", active)

	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP talkgrader_pipeline_runs_total Finished pipeline runs by outcome\n")
	fmt.Fprintf(w, "# TYPE talkgrader_pipeline_runs_total counter\n")
	for _, outcome := range []string{"done", "failed", "error"} {
		fmt.Fprintf(w, "talkgrader_pipeline_runs_total{outcome=\"%s\"} %d\n", outcome, e.pipelineRuns[outcome])
	}

	fmt.Fprintf(w, "\n# HELP talkgrader_evaluation_calls_total Model API calls by result\n")
	fmt.Fprintf(w, "# TYPE talkgrader_evaluation_calls_total counter\n")
	for _, result := range []string{"ok", "error"} {
		fmt.Fprintf(w, "talkgrader_evaluation_calls_total{result=\"%s\"} %d\n", result, e.evaluationAPI[result])
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP talkgrader_uptime_seconds Server uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE talkgrader_uptime_seconds gauge\n")
	fmt.Fprintf(w, "talkgrader_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	fmt.Fprintf(w, "\n")

	// Append whatever the default registry collected (Go runtime and
	// process collectors included).
	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}
