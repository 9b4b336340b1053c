// Package statement defines the canonical in-memory representation of a
// bank statement after vendor-schema normalization, plus the diagnostic
// types (Issue, SanityResult) produced by validation and reconciliation.
package statement

import (
	"github.com/shopspring/decimal"
)

// SchemaVersion tags the canonical statement shape. Bump only on breaking
// changes to the JSON layout below.
const SchemaVersion = "1.0"

// PostedAtSource records which of the three candidate source dates supplied
// a transaction's posted_at value.
type PostedAtSource string

const (
	SourceOperation PostedAtSource = "operation"
	SourcePosting   PostedAtSource = "posting"
	SourceValue     PostedAtSource = "value"
	SourceNone      PostedAtSource = ""
)

// TrnType is the OFX transaction type derived from the sign of the amount.
type TrnType string

const (
	TrnCredit TrnType = "CREDIT"
	TrnDebit  TrnType = "DEBIT"
)

// Source identifies where a statement came from.
type Source struct {
	Origin     string `json:"origin"`
	DocumentID string `json:"document_id,omitempty"`
}

// Account holds the account-level fields of a statement. AccountID may be
// an operator-supplied default; BankID and Currency are only format-checked
// at serialization time.
type Account struct {
	AccountID   string `json:"account_id"`
	BankID      string `json:"bank_id"`
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

// Period is the statement's reporting window. Dates are ISO-8601 strings
// (inclusive bounds); the validator parses, normalizes, or derives them.
type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Transaction is one canonical statement line. PostedAt stays a string
// until validation so that hand-edited recovery files with malformed dates
// are caught there rather than at decode time. Amount is nil when the
// vendor payload carried no usable value.
type Transaction struct {
	FITID          string           `json:"fitid"`
	PostedAt       string           `json:"posted_at"`
	PostedAtSource PostedAtSource   `json:"posted_at_source,omitempty"`
	Amount         *decimal.Decimal `json:"amount"`
	Debit          *decimal.Decimal `json:"debit,omitempty"`
	Credit         *decimal.Decimal `json:"credit,omitempty"`
	Name           string           `json:"name"`
	Memo           string           `json:"memo,omitempty"`
	TrnType        TrnType          `json:"trntype,omitempty"`
	Page           *int             `json:"page,omitempty"`
}

// Statement is the aggregate root produced by the canonicalizer. The
// fitid generator assigns ids in place; the validator filters Transactions
// and normalizes Period; reconciliation and serialization read it only.
type Statement struct {
	SchemaVersion string        `json:"schema_version"`
	Source        Source        `json:"source"`
	Account       Account       `json:"account"`
	Period        Period        `json:"period"`
	Transactions  []Transaction `json:"transactions"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Issue is one aggregated validation finding. Issues with the same
// (Severity, Reason) pair are merged; Count may exceed len(FITIDs) for
// findings not tied to a specific transaction.
type Issue struct {
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
	FITIDs   []string `json:"fitids,omitempty"`
	Count    int      `json:"count"`
}

// ReconStatus is the outcome of the balance cross-check.
type ReconStatus string

const (
	ReconOK      ReconStatus = "OK"
	ReconWarning ReconStatus = "WARNING"
	ReconError   ReconStatus = "ERROR"
	ReconSkipped ReconStatus = "SKIPPED"
)

// QualityLabel buckets the quality score.
type QualityLabel string

const (
	QualityGood     QualityLabel = "GOOD"
	QualityDegraded QualityLabel = "DEGRADED"
	QualityPoor     QualityLabel = "POOR"
)

// Deduction is one (reason, points) entry of the quality score table.
type Deduction struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// SanityResult is the read-only reconciliation snapshot for one statement.
type SanityResult struct {
	PDFName        string           `json:"pdf_name"`
	PeriodStart    string           `json:"period_start,omitempty"`
	PeriodEnd      string           `json:"period_end,omitempty"`
	ExtractedCount int              `json:"extracted_count"`
	KeptCount      int              `json:"kept_count"`
	DroppedCount   int              `json:"dropped_count"`
	TotalCredits   decimal.Decimal  `json:"total_credits"`
	TotalDebits    decimal.Decimal  `json:"total_debits"`
	NetMovement    decimal.Decimal  `json:"net_movement"`
	StartingBal    *decimal.Decimal `json:"starting_balance,omitempty"`
	EndingBal      *decimal.Decimal `json:"ending_balance,omitempty"`
	ReconciledEnd  *decimal.Decimal `json:"reconciled_end,omitempty"`
	Delta          *decimal.Decimal `json:"delta,omitempty"`
	ReconStatus    ReconStatus      `json:"reconciliation_status"`
	QualityScore   int              `json:"quality_score"`
	Deductions     []Deduction      `json:"deductions,omitempty"`
	QualityLabel   QualityLabel     `json:"quality_label"`
	Warnings       []string         `json:"warnings,omitempty"`

	// Skipped marks statements whose sanity pass never ran. Set by the
	// caller, never by reconciliation itself.
	Skipped bool `json:"skipped"`
}
