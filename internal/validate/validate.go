// Package validate enforces the structural contract on a canonical
// statement: transactions that cannot be repaired are dropped with an
// ERROR issue, recoverable anomalies are flagged as WARNINGs, and missing
// period bounds are derived from the retained transactions.
package validate

import (
	"errors"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/parse"
	"github.com/dvloznov/pdf2ofx/internal/statement"
)

// Fatal conditions: the statement as a whole is unusable.
var (
	ErrNoTransactions = errors.New("transactions must be a non-empty array")
	ErrNoneRetained   = errors.New("no transactions retained after validation")
)

var centTolerance = decimal.RequireFromString("0.01")

// issueKey merges findings sharing a (severity, reason) pair.
type issueKey struct {
	severity statement.Severity
	reason   string
}

type recorder struct {
	order []issueKey
	byKey map[issueKey]*statement.Issue
}

func newRecorder() *recorder {
	return &recorder{byKey: make(map[issueKey]*statement.Issue)}
}

func (r *recorder) add(severity statement.Severity, reason, fitid string, count int) {
	key := issueKey{severity, reason}
	issue, ok := r.byKey[key]
	if !ok {
		issue = &statement.Issue{Severity: severity, Reason: reason}
		r.byKey[key] = issue
		r.order = append(r.order, key)
	}
	if fitid != "" {
		issue.FITIDs = append(issue.FITIDs, fitid)
	}
	issue.Count += count
}

func (r *recorder) list() []statement.Issue {
	out := make([]statement.Issue, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.byKey[key])
	}
	return out
}

// Statement validates st in place: invalid transactions are removed, dates
// and amounts are canonicalized, trntype is derived where absent, and the
// period is normalized or derived. The returned issue list aggregates all
// findings. A statement with no input transactions, or none surviving, is
// a fatal error rather than an issue.
func Statement(st *statement.Statement) (*statement.Statement, []statement.Issue, error) {
	if len(st.Transactions) == 0 {
		return nil, nil, ErrNoTransactions
	}

	rec := newRecorder()
	seen := make(map[string]bool, len(st.Transactions))
	var dates []civil.Date
	retained := st.Transactions[:0]

	for i := range st.Transactions {
		tx := st.Transactions[i]

		if tx.PostedAt == "" {
			rec.add(statement.SeverityError, "transaction missing posted_at", tx.FITID, 1)
			continue
		}
		if tx.Amount == nil {
			rec.add(statement.SeverityError, "transaction missing amount", tx.FITID, 1)
			continue
		}
		if tx.FITID == "" {
			rec.add(statement.SeverityError, "transaction missing fitid", "", 1)
			continue
		}
		if seen[tx.FITID] {
			rec.add(statement.SeverityError, "transaction fitid is not unique", tx.FITID, 1)
			continue
		}
		seen[tx.FITID] = true

		posted := parse.DateString(tx.PostedAt)
		if !parse.DateSet(posted) {
			rec.add(statement.SeverityError, "transaction has invalid posted_at", tx.FITID, 1)
			continue
		}
		dates = append(dates, posted)
		tx.PostedAt = posted.String()

		checkRawSides(&tx, rec)

		if tx.TrnType == "" {
			if tx.Amount.Sign() >= 0 {
				tx.TrnType = statement.TrnCredit
			} else {
				tx.TrnType = statement.TrnDebit
			}
		}

		if tx.Page != nil && *tx.Page < 1 {
			rec.add(statement.SeverityWarning, "transaction page invalid; key removed", tx.FITID, 1)
			tx.Page = nil
		}

		retained = append(retained, tx)
	}

	if len(retained) == 0 {
		return nil, rec.list(), ErrNoneRetained
	}
	st.Transactions = retained

	normalizePeriod(st, dates, rec)

	return st, rec.list(), nil
}

// checkRawSides cross-checks the signed amount against the raw
// debit/credit columns. These are soft checks only; the signed amount
// stays authoritative and the transaction is never dropped here.
func checkRawSides(tx *statement.Transaction, rec *recorder) {
	debitSet := tx.Debit != nil && !tx.Debit.IsZero()
	creditSet := tx.Credit != nil && !tx.Credit.IsZero()

	if debitSet && creditSet {
		rec.add(statement.SeverityWarning, "transaction has both debit and credit amounts", tx.FITID, 1)
	}
	if debitSet {
		expected := tx.Debit.Abs().Neg()
		if tx.Amount.Sub(expected).Abs().GreaterThan(centTolerance) {
			rec.add(statement.SeverityWarning, "signed amount does not match debit amount", tx.FITID, 1)
		}
	}
	if creditSet {
		expected := tx.Credit.Abs()
		if tx.Amount.Sub(expected).Abs().GreaterThan(centTolerance) {
			rec.add(statement.SeverityWarning, "signed amount does not match credit amount", tx.FITID, 1)
		}
	}
}

// normalizePeriod canonicalizes the period bounds, deriving them from the
// retained transactions when missing or unparseable, and flags retained
// transactions dated outside a valid period.
func normalizePeriod(st *statement.Statement, dates []civil.Date, rec *recorder) {
	start := parse.DateString(st.Period.StartDate)
	end := parse.DateString(st.Period.EndDate)

	switch {
	case st.Period.StartDate == "" || st.Period.EndDate == "":
		derivePeriod(st, dates)
		rec.add(statement.SeverityWarning, "period missing; derived from transaction dates", "", 0)
	case !parse.DateSet(start) || !parse.DateSet(end):
		derivePeriod(st, dates)
		rec.add(statement.SeverityWarning, "period invalid; derived from transaction dates", "", 0)
	default:
		for i, d := range dates {
			if d.Before(start) || d.After(end) {
				rec.add(statement.SeverityWarning, "transaction outside statement period", st.Transactions[i].FITID, 1)
			}
		}
		st.Period.StartDate = start.String()
		st.Period.EndDate = end.String()
	}
}

func derivePeriod(st *statement.Statement, dates []civil.Date) {
	min, max := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}
	st.Period.StartDate = min.String()
	st.Period.EndDate = max.String()
}
