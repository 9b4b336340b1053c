package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/pdf2ofx/internal/api/handlers"
	"github.com/dvloznov/pdf2ofx/internal/api/middleware"
	"github.com/dvloznov/pdf2ofx/internal/canon"
	"github.com/dvloznov/pdf2ofx/internal/config"
	"github.com/dvloznov/pdf2ofx/internal/gcs"
	infraBQ "github.com/dvloznov/pdf2ofx/internal/infra/bigquery"
	"github.com/dvloznov/pdf2ofx/internal/jobs"
	"github.com/dvloznov/pdf2ofx/internal/jobs/inmemory"
	"github.com/dvloznov/pdf2ofx/internal/logger"
	"github.com/dvloznov/pdf2ofx/internal/ofx"
	"github.com/dvloznov/pdf2ofx/internal/pipeline"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	// Optional BigQuery run bookkeeping
	var sink *infraBQ.Sink
	if cfg.BQProject != "" {
		var err error
		sink, err = infraBQ.NewSink(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery sink")
		}
		defer sink.Close()
	} else {
		log.Warn().Msg("No BigQuery project configured - run bookkeeping is disabled")
	}

	var store pipeline.Storage = gcs.NewStore()
	defaults := canon.AccountDefaults{
		AccountID:   cfg.DefaultAccountID,
		BankID:      cfg.DefaultBankID,
		AccountType: cfg.DefaultAccountType,
		Currency:    cfg.DefaultCurrency,
	}

	// Job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 4, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, j jobs.Job) error {
		job, ok := j.(*jobs.ConvertStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", j)
		}

		log.Info().
			Str("job_id", job.JobID).
			Str("source_uri", job.SourceURI).
			Msg("Processing conversion job")

		// Pre-generated ID used only for failure rows; a successful run
		// reports the pipeline's own run ID.
		startedAt := time.Now()
		runID := uuid.New().String()

		data, err := store.Fetch(ctx, job.SourceURI)
		if err != nil {
			recordFailure(ctx, sink, log, runID, job.SourceURI, err, startedAt)
			return fmt.Errorf("fetch %s: %w", job.SourceURI, err)
		}
		raw, err := pipeline.DecodePayload(data)
		if err != nil {
			recordFailure(ctx, sink, log, runID, job.SourceURI, err, startedAt)
			return fmt.Errorf("decode %s: %w", job.SourceURI, err)
		}

		result, err := pipeline.Run(ctx, raw, pipeline.Options{
			Defaults: defaults,
			Format:   ofx.Format(strings.ToUpper(job.Format)),
			PDFName:  gcs.ObjectName(job.SourceURI),
		})
		if err != nil {
			recordFailure(ctx, sink, log, runID, job.SourceURI, err, startedAt)
			return err
		}
		job.RunID = result.RunID

		if err := store.Upload(ctx, job.OutputURI, result.Document); err != nil {
			recordFailure(ctx, sink, log, runID, job.SourceURI, err, startedAt)
			return fmt.Errorf("upload %s: %w", job.OutputURI, err)
		}

		if sink != nil {
			runRow := infraBQ.NewRunRow(result.RunID, job.SourceURI, job.JobID, result.Sanity, startedAt)
			if err := sink.InsertRun(ctx, runRow); err != nil {
				log.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to record run")
			}
			sanityRow, err := infraBQ.NewSanityRow(result.RunID, result.Sanity)
			if err == nil {
				if err := sink.InsertSanity(ctx, sanityRow); err != nil {
					log.Error().Err(err).Str("run_id", result.RunID).Msg("Failed to record sanity result")
				}
			}
		}

		log.Info().
			Str("job_id", job.JobID).
			Str("run_id", result.RunID).
			Str("output_uri", job.OutputURI).
			Int("kept", result.Sanity.KeptCount).
			Msg("Conversion job completed")

		return nil
	}

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Handlers
	convertHandler := handlers.NewConvertHandler(defaults, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue, log)

	// Router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/convert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			convertHandler.Convert(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			jobsHandler.EnqueueConvert(w, r)
		case http.MethodGet:
			jobsHandler.ListJobs(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if sink == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Run bookkeeping is disabled")
			return
		}
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}
		runs, err := sink.ListRecentRuns(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list runs")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"runs":  runs,
			"count": len(runs),
		})
	})

	mux.HandleFunc("/api/health", handlers.HealthHandler)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}

// recordFailure writes a FAILED run row when the sink is configured.
func recordFailure(ctx context.Context, sink *infraBQ.Sink, log zerolog.Logger, runID, sourceURI string, runErr error, startedAt time.Time) {
	if sink == nil {
		return
	}
	row := infraBQ.NewFailedRunRow(runID, sourceURI, runErr, startedAt)
	if err := sink.InsertRun(ctx, row); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to record failed run")
	}
}
