package validate

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/statement"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func validTx(fitid, posted, amount string) statement.Transaction {
	return statement.Transaction{
		FITID:    fitid,
		PostedAt: posted,
		Amount:   dec(amount),
		Name:     "TX " + fitid,
	}
}

func baseStatement(txs ...statement.Transaction) *statement.Statement {
	return &statement.Statement{
		SchemaVersion: statement.SchemaVersion,
		Account:       statement.Account{AccountID: "ACC1", AccountType: "CHECKING"},
		Period:        statement.Period{StartDate: "2024-01-01", EndDate: "2024-01-31"},
		Transactions:  txs,
	}
}

func findIssue(issues []statement.Issue, reason string) *statement.Issue {
	for i := range issues {
		if issues[i].Reason == reason {
			return &issues[i]
		}
	}
	return nil
}

func TestStatement_DropsUnrepairableTransactions(t *testing.T) {
	tests := []struct {
		name   string
		tx     statement.Transaction
		reason string
	}{
		{
			name:   "missing posted_at",
			tx:     statement.Transaction{FITID: "f1", Amount: dec("-5")},
			reason: "transaction missing posted_at",
		},
		{
			name:   "missing amount",
			tx:     statement.Transaction{FITID: "f1", PostedAt: "2024-01-10"},
			reason: "transaction missing amount",
		},
		{
			name:   "missing fitid",
			tx:     statement.Transaction{PostedAt: "2024-01-10", Amount: dec("-5")},
			reason: "transaction missing fitid",
		},
		{
			name:   "invalid posted_at",
			tx:     statement.Transaction{FITID: "f1", PostedAt: "2024-13-45", Amount: dec("-5")},
			reason: "transaction has invalid posted_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := baseStatement(tt.tx, validTx("keep", "2024-01-15", "10"))

			out, issues, err := Statement(st)
			if err != nil {
				t.Fatalf("Statement() error = %v", err)
			}
			if len(out.Transactions) != 1 || out.Transactions[0].FITID != "keep" {
				t.Errorf("retained = %v, want only keep", out.Transactions)
			}

			issue := findIssue(issues, tt.reason)
			if issue == nil {
				t.Fatalf("no issue with reason %q in %v", tt.reason, issues)
			}
			if issue.Severity != statement.SeverityError {
				t.Errorf("severity = %s, want ERROR", issue.Severity)
			}
			if issue.Count != 1 {
				t.Errorf("count = %d, want 1", issue.Count)
			}
		})
	}
}

func TestStatement_DuplicateFitidKeepsFirst(t *testing.T) {
	st := baseStatement(
		validTx("dup", "2024-01-10", "-5"),
		validTx("dup", "2024-01-11", "-6"),
	)

	out, issues, err := Statement(st)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	if len(out.Transactions) != 1 {
		t.Fatalf("retained %d transactions, want 1", len(out.Transactions))
	}
	if out.Transactions[0].PostedAt != "2024-01-10" {
		t.Errorf("kept transaction posted %s, want first occurrence", out.Transactions[0].PostedAt)
	}
	if findIssue(issues, "transaction fitid is not unique") == nil {
		t.Error("expected duplicate fitid issue")
	}
}

func TestStatement_FatalConditions(t *testing.T) {
	_, _, err := Statement(baseStatement())
	if !errors.Is(err, ErrNoTransactions) {
		t.Errorf("empty statement error = %v, want ErrNoTransactions", err)
	}

	st := baseStatement(statement.Transaction{FITID: "f1", PostedAt: "", Amount: dec("-5")})
	_, issues, err := Statement(st)
	if !errors.Is(err, ErrNoneRetained) {
		t.Errorf("all-dropped error = %v, want ErrNoneRetained", err)
	}
	if len(issues) == 0 {
		t.Error("expected issues describing the dropped transactions")
	}
}

func TestStatement_RawSideWarnings(t *testing.T) {
	both := validTx("both", "2024-01-10", "-5")
	both.Debit = dec("5")
	both.Credit = dec("5")

	mismatch := validTx("mm", "2024-01-11", "-5")
	mismatch.Debit = dec("7")

	within := validTx("ok", "2024-01-12", "-5")
	within.Debit = dec("5.005")

	st := baseStatement(both, mismatch, within)

	out, issues, err := Statement(st)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	if len(out.Transactions) != 3 {
		t.Errorf("retained %d transactions, want 3; raw side checks never drop", len(out.Transactions))
	}

	if issue := findIssue(issues, "transaction has both debit and credit amounts"); issue == nil {
		t.Error("expected both-sides warning")
	} else if issue.Severity != statement.SeverityWarning {
		t.Errorf("both-sides severity = %s, want WARNING", issue.Severity)
	}

	issue := findIssue(issues, "signed amount does not match debit amount")
	if issue == nil {
		t.Fatal("expected debit mismatch warning")
	}
	for _, f := range issue.FITIDs {
		if f == "ok" {
			t.Error("mismatch within cent tolerance was flagged")
		}
	}
}

func TestStatement_TrnTypeDerived(t *testing.T) {
	st := baseStatement(
		validTx("pos", "2024-01-10", "10"),
		validTx("neg", "2024-01-11", "-10"),
		validTx("zero", "2024-01-12", "0"),
	)
	st.Transactions[1].TrnType = statement.TrnCredit // preset survives

	out, _, err := Statement(st)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}

	want := map[string]statement.TrnType{
		"pos":  statement.TrnCredit,
		"neg":  statement.TrnCredit,
		"zero": statement.TrnCredit,
	}
	for _, tx := range out.Transactions {
		if tx.TrnType != want[tx.FITID] {
			t.Errorf("%s trntype = %s, want %s", tx.FITID, tx.TrnType, want[tx.FITID])
		}
	}
}

func TestStatement_PageStripped(t *testing.T) {
	bad := validTx("bad", "2024-01-10", "-5")
	zero := 0
	bad.Page = &zero

	good := validTx("good", "2024-01-11", "-5")
	one := 1
	good.Page = &one

	st := baseStatement(bad, good)

	out, issues, err := Statement(st)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	if out.Transactions[0].Page != nil {
		t.Error("invalid page was not removed")
	}
	if out.Transactions[1].Page == nil || *out.Transactions[1].Page != 1 {
		t.Error("valid page was lost")
	}
	if findIssue(issues, "transaction page invalid; key removed") == nil {
		t.Error("expected page warning")
	}
}

func TestStatement_PeriodHandling(t *testing.T) {
	t.Run("missing period derived", func(t *testing.T) {
		st := baseStatement(
			validTx("a", "2024-01-05", "-5"),
			validTx("b", "2024-01-20", "10"),
		)
		st.Period = statement.Period{}

		out, issues, err := Statement(st)
		if err != nil {
			t.Fatalf("Statement() error = %v", err)
		}
		if out.Period.StartDate != "2024-01-05" || out.Period.EndDate != "2024-01-20" {
			t.Errorf("derived period = %s..%s, want 2024-01-05..2024-01-20",
				out.Period.StartDate, out.Period.EndDate)
		}
		issue := findIssue(issues, "period missing; derived from transaction dates")
		if issue == nil {
			t.Fatal("expected derivation warning")
		}
		if issue.Count != 0 {
			t.Errorf("derivation warning count = %d, want 0", issue.Count)
		}
	})

	t.Run("invalid period derived", func(t *testing.T) {
		st := baseStatement(validTx("a", "2024-01-05", "-5"))
		st.Period = statement.Period{StartDate: "garbage", EndDate: "2024-01-31"}

		out, issues, err := Statement(st)
		if err != nil {
			t.Fatalf("Statement() error = %v", err)
		}
		if out.Period.StartDate != "2024-01-05" || out.Period.EndDate != "2024-01-05" {
			t.Errorf("derived period = %s..%s", out.Period.StartDate, out.Period.EndDate)
		}
		if findIssue(issues, "period invalid; derived from transaction dates") == nil {
			t.Error("expected invalid-period warning")
		}
	})

	t.Run("out of period flagged but kept", func(t *testing.T) {
		st := baseStatement(
			validTx("in", "2024-01-15", "-5"),
			validTx("out", "2024-03-01", "-5"),
		)

		out, issues, err := Statement(st)
		if err != nil {
			t.Fatalf("Statement() error = %v", err)
		}
		if len(out.Transactions) != 2 {
			t.Errorf("retained %d, want 2", len(out.Transactions))
		}
		issue := findIssue(issues, "transaction outside statement period")
		if issue == nil {
			t.Fatal("expected out-of-period warning")
		}
		if len(issue.FITIDs) != 1 || issue.FITIDs[0] != "out" {
			t.Errorf("flagged fitids = %v, want [out]", issue.FITIDs)
		}
	})

	t.Run("non iso period normalized", func(t *testing.T) {
		st := baseStatement(validTx("a", "2024-01-15", "-5"))
		st.Period = statement.Period{StartDate: "01/01/2024", EndDate: "31/01/2024"}

		out, _, err := Statement(st)
		if err != nil {
			t.Fatalf("Statement() error = %v", err)
		}
		if out.Period.StartDate != "2024-01-01" || out.Period.EndDate != "2024-01-31" {
			t.Errorf("period = %s..%s, want ISO form", out.Period.StartDate, out.Period.EndDate)
		}
	})
}

func TestStatement_NonISODateNormalized(t *testing.T) {
	st := baseStatement(validTx("a", "15/01/2024", "-5"))

	out, _, err := Statement(st)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	if out.Transactions[0].PostedAt != "2024-01-15" {
		t.Errorf("posted_at = %s, want 2024-01-15", out.Transactions[0].PostedAt)
	}
}
