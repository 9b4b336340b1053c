// Package sanity cross-checks a validated statement against the source
// document's own reported balances and scores how trustworthy the result
// is. Everything here is a pure function: no input is mutated and nothing
// fails. An unreconcilable statement simply reports a low score.
package sanity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/parse"
	"github.com/dvloznov/pdf2ofx/internal/statement"
)

// Reconciliation thresholds on |reconciled_end - reported_end|.
var (
	okTolerance      = decimal.RequireFromString("0.01")
	warningTolerance = decimal.RequireFromString("1.00")
)

// Alias families for best-effort balance mining from the raw payload,
// covering both vendor schema naming conventions. Tried in order; the
// first parseable value wins.
var (
	startBalanceKeys = []string{
		"Starting Balance", "starting_balance",
		"Start Balance", "start_balance",
		"Balance Start", "balance_start",
		"Opening Balance", "opening_balance",
	}
	endBalanceKeys = []string{
		"Ending Balance", "ending_balance",
		"End Balance", "end_balance",
		"Balance End", "balance_end",
		"Closing Balance", "closing_balance",
	}
)

// Quality score deduction table, applied in this fixed order.
const (
	penaltyReconError     = 60
	penaltyBalanceMissing = 25
	penaltyHighDropRatio  = 15
	penaltyPerWarning     = 10
	penaltyWarningCap     = 30
	penaltyLowConfidence  = 15

	dropRatioThreshold = 0.10
)

// Input carries everything Compute needs besides the statement itself.
// Operator-supplied balance overrides take precedence over anything mined
// from the raw payload.
type Input struct {
	PDFName        string
	ExtractedCount int
	Raw            map[string]any
	Issues         []statement.Issue
	StartingBal    *decimal.Decimal
	EndingBal      *decimal.Decimal
	LowConfidence  bool
}

// ExtractBalances mines starting/ending balances from a raw vendor
// payload. Either value may be nil when no alias produced a usable
// decimal.
func ExtractBalances(raw map[string]any) (start, end *decimal.Decimal) {
	if len(raw) == 0 {
		return nil, nil
	}
	pred := prediction(raw)
	if pred == nil {
		return nil, nil
	}
	return decimalField(pred, startBalanceKeys), decimalField(pred, endBalanceKeys)
}

// Reconcile computes reconciled_end = start + net movement and grades the
// delta against the reported ending balance. Unknown balances make the
// check SKIPPED, not an error.
func Reconcile(start, end *decimal.Decimal, netMovement decimal.Decimal) (reconciledEnd, delta *decimal.Decimal, status statement.ReconStatus) {
	if start == nil || end == nil {
		return nil, nil, statement.ReconSkipped
	}
	re := start.Add(netMovement)
	d := re.Sub(*end)
	switch {
	case d.Abs().LessThanOrEqual(okTolerance):
		status = statement.ReconOK
	case d.Abs().LessThanOrEqual(warningTolerance):
		status = statement.ReconWarning
	default:
		status = statement.ReconError
	}
	return &re, &d, status
}

// Score applies the deduction table and returns the 0-100 score, its
// label, and the (reason, points) audit trail.
func Score(status statement.ReconStatus, balancesMissing bool, dropRatio float64, warningCount int, lowConfidence bool) (int, statement.QualityLabel, []statement.Deduction) {
	score := 100
	var deductions []statement.Deduction
	apply := func(reason string, points int) {
		score -= points
		deductions = append(deductions, statement.Deduction{Reason: reason, Points: points})
	}

	if status == statement.ReconError {
		apply("reconciliation mismatch", penaltyReconError)
	}
	if balancesMissing {
		apply("balances missing", penaltyBalanceMissing)
	}
	if dropRatio > dropRatioThreshold {
		apply("high transaction drop ratio", penaltyHighDropRatio)
	}
	if warningCount > 0 {
		points := warningCount * penaltyPerWarning
		if points > penaltyWarningCap {
			points = penaltyWarningCap
		}
		apply("validation warnings", points)
	}
	if lowConfidence {
		apply("low extraction confidence", penaltyLowConfidence)
	}
	if score < 0 {
		score = 0
	}

	label := statement.QualityPoor
	switch {
	case score >= 80:
		label = statement.QualityGood
	case score >= 50:
		label = statement.QualityDegraded
	}
	return score, label, deductions
}

// Compute builds the full sanity snapshot for one validated statement.
// It does not mutate st.
func Compute(st *statement.Statement, in Input) statement.SanityResult {
	kept := len(st.Transactions)
	dropped := in.ExtractedCount - kept

	totalCredits := decimal.Zero
	totalDebits := decimal.Zero
	for _, tx := range st.Transactions {
		if tx.Amount == nil {
			continue
		}
		if tx.Amount.Sign() >= 0 {
			totalCredits = totalCredits.Add(*tx.Amount)
		} else {
			totalDebits = totalDebits.Add(*tx.Amount)
		}
	}
	netMovement := totalCredits.Add(totalDebits)

	start, end := in.StartingBal, in.EndingBal
	if start == nil || end == nil {
		rawStart, rawEnd := ExtractBalances(in.Raw)
		if start == nil {
			start = rawStart
		}
		if end == nil {
			end = rawEnd
		}
	}

	reconciledEnd, delta, status := Reconcile(start, end, netMovement)

	balancesMissing := start == nil || end == nil
	dropRatio := 0.0
	if in.ExtractedCount > 0 {
		dropRatio = float64(dropped) / float64(in.ExtractedCount)
	}

	warningCount := 0
	for _, issue := range in.Issues {
		if issue.Severity == statement.SeverityWarning {
			warningCount++
		}
	}

	score, label, deductions := Score(status, balancesMissing, dropRatio, warningCount, in.LowConfidence)

	var warnings []string
	if balancesMissing {
		warnings = append(warnings, "Balance data not available - reconciliation skipped")
	}
	if dropRatio > dropRatioThreshold {
		warnings = append(warnings, fmt.Sprintf("High drop rate: %d/%d transactions dropped", dropped, in.ExtractedCount))
	}

	return statement.SanityResult{
		PDFName:        in.PDFName,
		PeriodStart:    st.Period.StartDate,
		PeriodEnd:      st.Period.EndDate,
		ExtractedCount: in.ExtractedCount,
		KeptCount:      kept,
		DroppedCount:   dropped,
		TotalCredits:   totalCredits,
		TotalDebits:    totalDebits,
		NetMovement:    netMovement,
		StartingBal:    start,
		EndingBal:      end,
		ReconciledEnd:  reconciledEnd,
		Delta:          delta,
		ReconStatus:    status,
		QualityScore:   score,
		Deductions:     deductions,
		QualityLabel:   label,
		Warnings:       warnings,
	}
}

// prediction navigates the raw payload wrappers the same way the
// canonicalizer does, but defensively: a malformed payload yields nil
// instead of an error, since balance mining is best effort.
func prediction(raw map[string]any) map[string]any {
	if doc, ok := raw["document"].(map[string]any); ok {
		if inf, ok := doc["inference"].(map[string]any); ok {
			if pred, ok := inf["prediction"].(map[string]any); ok && len(pred) > 0 {
				return pred
			}
		}
	}
	if inf, ok := raw["inference"].(map[string]any); ok {
		if pred, ok := inf["prediction"].(map[string]any); ok && len(pred) > 0 {
			return pred
		}
		if res, ok := inf["result"].(map[string]any); ok {
			if fields, ok := res["fields"].(map[string]any); ok && len(fields) > 0 {
				return fields
			}
		}
	}
	return raw
}

func decimalField(pred map[string]any, keys []string) *decimal.Decimal {
	for _, key := range keys {
		v, ok := pred[key]
		if !ok || v == nil {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			if inner, ok := m["value"]; ok {
				v = inner
			}
		}
		if d := parse.Decimal(v); d != nil {
			return d
		}
	}
	return nil
}
