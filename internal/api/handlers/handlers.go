package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/api/middleware"
	"github.com/dvloznov/pdf2ofx/internal/canon"
	"github.com/dvloznov/pdf2ofx/internal/jobs"
	"github.com/dvloznov/pdf2ofx/internal/ofx"
	"github.com/dvloznov/pdf2ofx/internal/pipeline"
	"github.com/dvloznov/pdf2ofx/internal/statement"
	"github.com/dvloznov/pdf2ofx/internal/validate"
)

// maxPayloadBytes bounds the request body for synchronous conversions.
const maxPayloadBytes = 16 << 20

// ConvertHandler runs the conversion pipeline synchronously for one
// extraction payload posted in the request body.
type ConvertHandler struct {
	defaults canon.AccountDefaults
	log      zerolog.Logger
}

// NewConvertHandler creates a new convert handler. The defaults fill in
// account fields the request leaves empty.
func NewConvertHandler(defaults canon.AccountDefaults, log zerolog.Logger) *ConvertHandler {
	return &ConvertHandler{defaults: defaults, log: log}
}

// convertRequest is the body of POST /api/convert.
type convertRequest struct {
	Payload     json.RawMessage `json:"payload"`
	Format      string          `json:"format,omitempty"`
	PDFName     string          `json:"pdf_name,omitempty"`
	AccountID   string          `json:"account_id,omitempty"`
	BankID      string          `json:"bank_id,omitempty"`
	AccountType string          `json:"account_type,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	StartBal    string          `json:"starting_balance,omitempty"`
	EndBal      string          `json:"ending_balance,omitempty"`
}

// convertResponse is the body of a successful conversion.
type convertResponse struct {
	RunID     string                 `json:"run_id"`
	Statement *statement.Statement   `json:"statement"`
	Issues    []statement.Issue      `json:"issues"`
	Sanity    statement.SanityResult `json:"sanity"`
	OFX       string                 `json:"ofx"`
}

// Convert handles POST /api/convert
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req convertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "payload is required")
		return
	}

	raw, err := pipeline.DecodePayload(req.Payload)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "payload is not a JSON object")
		return
	}

	defaults := h.defaults
	if req.AccountID != "" {
		defaults.AccountID = req.AccountID
	}
	if req.BankID != "" {
		defaults.BankID = req.BankID
	}
	if req.AccountType != "" {
		defaults.AccountType = req.AccountType
	}
	if req.Currency != "" {
		defaults.Currency = req.Currency
	}

	opts := pipeline.Options{
		Defaults: defaults,
		Format:   ofx.Format(req.Format),
		PDFName:  req.PDFName,
	}
	if req.StartBal != "" {
		d, err := decimal.NewFromString(req.StartBal)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid starting_balance")
			return
		}
		opts.StartingBal = &d
	}
	if req.EndBal != "" {
		d, err := decimal.NewFromString(req.EndBal)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid ending_balance")
			return
		}
		opts.EndingBal = &d
	}

	result, err := pipeline.Run(ctx, raw, opts)
	if err != nil {
		h.log.Error().Err(err).Str("pdf", req.PDFName).Msg("Conversion failed")
		middleware.WriteError(w, statusForPipelineError(err), err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, convertResponse{
		RunID:     result.RunID,
		Statement: result.Statement,
		Issues:    result.Issues,
		Sanity:    result.Sanity,
		OFX:       string(result.Document),
	})
}

// statusForPipelineError maps pipeline failures to HTTP status codes.
// Schema and contract failures are the client's problem; the rest are ours.
func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, canon.ErrUnsupportedSchema),
		errors.Is(err, canon.ErrUnrecognizedSchema):
		return http.StatusUnprocessableEntity
	case errors.Is(err, validate.ErrNoTransactions),
		errors.Is(err, validate.ErrNoneRetained):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// EnqueueConvert handles POST /api/jobs
func (h *JobsHandler) EnqueueConvert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURI string `json:"source_uri"`
		OutputURI string `json:"output_uri"`
		Format    string `json:"format,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SourceURI == "" || req.OutputURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source_uri and output_uri are required")
		return
	}

	ctx := r.Context()

	job := &jobs.ConvertStatementJob{
		SourceURI: req.SourceURI,
		OutputURI: req.OutputURI,
		Format:    req.Format,
	}

	if err := h.publisher.PublishConvertStatement(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue conversion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue conversion job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("source_uri", req.SourceURI).Msg("Conversion job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"source_uri": req.SourceURI,
		"status":     string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		SourceURI: query.Get("source_uri"),
		Status:    jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// HealthHandler handles GET /api/health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
