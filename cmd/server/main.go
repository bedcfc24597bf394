package main

import (
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"talkgrader/pkg/api"
	"talkgrader/pkg/evaluate"
	"talkgrader/pkg/logging"
	"talkgrader/pkg/metastore"
	"talkgrader/pkg/metrics"
	"talkgrader/pkg/orchestrator"
	"talkgrader/pkg/probe"
	"talkgrader/pkg/progress"
	"talkgrader/pkg/shutdown"
	"talkgrader/pkg/store"
	"talkgrader/pkg/transcript"
)

func main() {
	port := flag.String("port", "8080", "HTTP listen port")
	jobsDir := flag.String("jobs-dir", "jobs", "Directory holding per-job folders and metadata")
	chunksDir := flag.String("chunks-dir", "chunks", "Directory the pipeline writes media chunks to")
	transcriptsDir := flag.String("transcripts-dir", "transcripts", "Fallback directory for transcript artifacts")
	dbType := flag.String("db-type", "sqlite", "Relational store: sqlite, postgres or memory")
	dbDSN := flag.String("db-dsn", "", "PostgreSQL connection string (when db-type=postgres)")
	dbPath := flag.String("db-path", "talkgrader.db", "SQLite database path (when db-type=sqlite)")
	pipelineCmd := flag.String("pipeline", "", "Pipeline command, space separated (audio, presentation and job ID are appended)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit logs as JSON")
	flag.Parse()

	log := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON)

	if *pipelineCmd == "" {
		log.Error("pipeline command is required, e.g. --pipeline 'node automate.js'")
		os.Exit(1)
	}
	pipeline := strings.Fields(*pipelineCmd)

	meta, err := metastore.New(*jobsDir)
	if err != nil {
		log.Error("failed to open jobs directory", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	db, err := store.NewStore(store.Config{Type: *dbType, DSN: *dbDSN, Path: *dbPath})
	if err != nil {
		log.Error("failed to open relational store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	inf := progress.New(meta, *chunksDir, log)
	orch := orchestrator.New(meta, db, inf, pipeline, log)
	recon := &transcript.Reconstructor{
		ChunksDir: *chunksDir,
		Prober:    probe.NewFFprobe(),
	}

	exporter := metrics.NewExporter(meta)
	orch.Metrics = exporter

	handler := api.NewHandler(meta, db, orch, recon, *transcriptsDir, log)
	handler.SetMetricsExporter(exporter)
	handler.SetEvaluator(evaluate.NewFromEnv(db, log))

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + *port,
		Handler: router,
		// no WriteTimeout: /automate holds the response open for the
		// whole pipeline run
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	mgr := shutdown.New(60*time.Second, log)
	mgr.Register(shutdown.CloseResource(db, "relational store"))
	mgr.Register(shutdown.WaitForPipelines(orch.Wait))
	mgr.Register(shutdown.StopHTTPServer(srv, "api"))

	go func() {
		log.Info("server listening", map[string]interface{}{"port": *port, "jobsDir": *jobsDir})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	mgr.Wait()
}
