// Package bigquery persists pipeline run bookkeeping: one row per
// processed statement plus one row per sanity snapshot.
package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/statement"
)

// RunRow is one pipeline invocation over one statement.
type RunRow struct {
	RunID      string `bigquery:"run_id"`      // REQUIRED
	SourceURI  string `bigquery:"source_uri"`  // NULLABLE
	PDFName    string `bigquery:"pdf_name"`    // NULLABLE
	DocumentID string `bigquery:"document_id"` // NULLABLE

	PeriodStart bigquery.NullDate `bigquery:"period_start"` // NULLABLE
	PeriodEnd   bigquery.NullDate `bigquery:"period_end"`   // NULLABLE

	ExtractedCount int64 `bigquery:"extracted_count"`
	KeptCount      int64 `bigquery:"kept_count"`
	DroppedCount   int64 `bigquery:"dropped_count"`

	Status       string `bigquery:"status"` // SUCCEEDED | FAILED
	ErrorMessage string `bigquery:"error_message"`

	StartedTS  time.Time              `bigquery:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"`
}

// SanityRow is the reconciliation snapshot of one run. Monetary values are
// stored as decimal strings so BigQuery never sees a float64 round trip.
type SanityRow struct {
	RunID   string `bigquery:"run_id"` // REQUIRED
	PDFName string `bigquery:"pdf_name"`

	TotalCredits string `bigquery:"total_credits"`
	TotalDebits  string `bigquery:"total_debits"`
	NetMovement  string `bigquery:"net_movement"`

	StartingBalance bigquery.NullString `bigquery:"starting_balance"`
	EndingBalance   bigquery.NullString `bigquery:"ending_balance"`
	ReconciledEnd   bigquery.NullString `bigquery:"reconciled_end"`
	Delta           bigquery.NullString `bigquery:"delta"`

	ReconStatus  string   `bigquery:"reconciliation_status"`
	QualityScore int64    `bigquery:"quality_score"`
	QualityLabel string   `bigquery:"quality_label"`
	Deductions   string   `bigquery:"deductions"` // JSON array of {reason, points}
	Warnings     []string `bigquery:"warnings"`

	InsertedTS time.Time `bigquery:"inserted_ts"`
}

// NewRunRow maps a finished run onto its bookkeeping row.
func NewRunRow(runID, sourceURI, documentID string, res statement.SanityResult, startedAt time.Time) RunRow {
	return RunRow{
		RunID:          runID,
		SourceURI:      sourceURI,
		PDFName:        res.PDFName,
		DocumentID:     documentID,
		PeriodStart:    nullDate(res.PeriodStart),
		PeriodEnd:      nullDate(res.PeriodEnd),
		ExtractedCount: int64(res.ExtractedCount),
		KeptCount:      int64(res.KeptCount),
		DroppedCount:   int64(res.DroppedCount),
		Status:         "SUCCEEDED",
		StartedTS:      startedAt,
		FinishedTS:     bigquery.NullTimestamp{Timestamp: time.Now().UTC(), Valid: true},
	}
}

// NewFailedRunRow records a run that died with a stage error.
func NewFailedRunRow(runID, sourceURI string, runErr error, startedAt time.Time) RunRow {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return RunRow{
		RunID:        runID,
		SourceURI:    sourceURI,
		Status:       "FAILED",
		ErrorMessage: msg,
		StartedTS:    startedAt,
		FinishedTS:   bigquery.NullTimestamp{Timestamp: time.Now().UTC(), Valid: true},
	}
}

// NewSanityRow maps a SanityResult onto its row.
func NewSanityRow(runID string, res statement.SanityResult) (SanityRow, error) {
	deductions, err := json.Marshal(res.Deductions)
	if err != nil {
		return SanityRow{}, fmt.Errorf("NewSanityRow: marshal deductions: %w", err)
	}
	return SanityRow{
		RunID:           runID,
		PDFName:         res.PDFName,
		TotalCredits:    res.TotalCredits.String(),
		TotalDebits:     res.TotalDebits.String(),
		NetMovement:     res.NetMovement.String(),
		StartingBalance: nullDecimal(res.StartingBal),
		EndingBalance:   nullDecimal(res.EndingBal),
		ReconciledEnd:   nullDecimal(res.ReconciledEnd),
		Delta:           nullDecimal(res.Delta),
		ReconStatus:     string(res.ReconStatus),
		QualityScore:    int64(res.QualityScore),
		QualityLabel:    string(res.QualityLabel),
		Deductions:      string(deductions),
		Warnings:        res.Warnings,
		InsertedTS:      time.Now().UTC(),
	}, nil
}

func nullDate(iso string) bigquery.NullDate {
	if iso == "" {
		return bigquery.NullDate{}
	}
	d, err := civil.ParseDate(iso)
	if err != nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: d, Valid: true}
}

func nullDecimal(d *decimal.Decimal) bigquery.NullString {
	if d == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: d.String(), Valid: true}
}
