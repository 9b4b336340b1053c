// Package pipeline runs the canonicalization and reconciliation stages
// over one statement: normalize → assign fitids → validate → reconcile →
// serialize. Every run is independent of every other run, so batches fan
// out with no shared state; within one run the stage order is fixed.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/canon"
	"github.com/dvloznov/pdf2ofx/internal/fitid"
	"github.com/dvloznov/pdf2ofx/internal/logger"
	"github.com/dvloznov/pdf2ofx/internal/ofx"
	"github.com/dvloznov/pdf2ofx/internal/sanity"
	"github.com/dvloznov/pdf2ofx/internal/statement"
	"github.com/dvloznov/pdf2ofx/internal/validate"
)

// Options configures one pipeline run. Balance overrides, when set, take
// precedence over balances mined from the raw payload.
type Options struct {
	Defaults      canon.AccountDefaults
	Format        ofx.Format
	StartingBal   *decimal.Decimal
	EndingBal     *decimal.Decimal
	PDFName       string
	LowConfidence bool
}

// Result carries everything a run produced.
type Result struct {
	RunID          string
	Statement      *statement.Statement
	Issues         []statement.Issue
	Sanity         statement.SanityResult
	Document       []byte
	ExtractedCount int
}

// DecodePayload parses a raw vendor payload. Numbers are kept as
// json.Number so monetary values reach the decimal parser without a
// float64 round trip.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("DecodePayload: %w", err)
	}
	return raw, nil
}

// RunDocument extracts a raw payload from statement document bytes and
// processes the result end to end.
func RunDocument(ctx context.Context, ex Extractor, docBytes []byte, opts Options) (*Result, error) {
	raw, err := ex.Extract(ctx, docBytes)
	if err != nil {
		return nil, stageErr(StageExtract, "could not extract document", err)
	}
	return Run(ctx, raw, opts)
}

// Run processes one raw vendor payload end to end.
func Run(ctx context.Context, raw map[string]any, opts Options) (*Result, error) {
	st, err := canon.Canonicalize(raw, opts.Defaults)
	if err != nil {
		return nil, stageErr(StageNormalize, "could not canonicalize extraction payload", err)
	}
	return RunStatement(ctx, st, raw, opts)
}

// RunStatement processes a statement that is already canonical, either
// fresh from Run or loaded from storage on the recovery path. Fitids are
// (re)assigned unconditionally: assignment is idempotent on unchanged
// content, and operator edits require it.
func RunStatement(ctx context.Context, st *statement.Statement, raw map[string]any, opts Options) (*Result, error) {
	log := logger.FromContext(ctx)
	runID := uuid.New().String()
	extracted := len(st.Transactions)

	fitid.Assign(st.Account.AccountID, st.Transactions)

	st, issues, err := validate.Statement(st)
	if err != nil {
		return nil, stageErr(StageValidate, "statement failed contract validation", err)
	}

	res := sanity.Compute(st, sanity.Input{
		PDFName:        opts.PDFName,
		ExtractedCount: extracted,
		Raw:            raw,
		Issues:         issues,
		StartingBal:    opts.StartingBal,
		EndingBal:      opts.EndingBal,
		LowConfidence:  opts.LowConfidence,
	})

	format := opts.Format
	if format == "" {
		format = ofx.OFX2
	}
	doc, err := ofx.Emit(st, format)
	if err != nil {
		return nil, stageErr(StageEmit, "could not serialize statement", err)
	}

	log.Info().
		Str("run_id", runID).
		Str("pdf", opts.PDFName).
		Int("extracted", extracted).
		Int("kept", res.KeptCount).
		Str("recon_status", string(res.ReconStatus)).
		Int("quality_score", res.QualityScore).
		Msg("statement processed")

	return &Result{
		RunID:          runID,
		Statement:      st,
		Issues:         issues,
		Sanity:         res,
		Document:       doc,
		ExtractedCount: extracted,
	}, nil
}
