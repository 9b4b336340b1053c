package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/canon"
	"github.com/dvloznov/pdf2ofx/internal/ofx"
	"github.com/dvloznov/pdf2ofx/internal/statement"
	"github.com/dvloznov/pdf2ofx/internal/validate"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

const januaryPayload = `{
	"inference": {
		"result": {
			"fields": {
				"account_number": {"value": "ACC-42"},
				"bank_name": {"value": "Example Bank"},
				"currency": {"value": "EUR"},
				"start_date": {"value": "2024-01-01"},
				"end_date": {"value": "2024-01-31"},
				"starting_balance": {"value": "100000"},
				"ending_balance": {"value": "436000"},
				"transactions": {
					"items": [
						{
							"fields": {
								"operation_date": {"value": "2024-01-05"},
								"amount": {"value": "-80000"},
								"description": {"value": "RENT"}
							}
						},
						{
							"fields": {
								"operation_date": {"value": "2024-01-20"},
								"amount": {"value": "416000"},
								"description": {"value": "SALARY"}
							}
						}
					]
				}
			}
		}
	}
}`

func TestRun_EndToEnd(t *testing.T) {
	raw, err := DecodePayload([]byte(januaryPayload))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}

	result, err := Run(context.Background(), raw, Options{
		Defaults: canon.AccountDefaults{AccountType: "CHECKING"},
		PDFName:  "jan.pdf",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.RunID == "" {
		t.Error("no run id assigned")
	}
	if result.ExtractedCount != 2 || result.Sanity.KeptCount != 2 {
		t.Errorf("counts = %d extracted / %d kept, want 2/2",
			result.ExtractedCount, result.Sanity.KeptCount)
	}

	if !result.Sanity.NetMovement.Equal(decimal.RequireFromString("336000")) {
		t.Errorf("net movement = %s, want 336000", result.Sanity.NetMovement)
	}
	if result.Sanity.ReconStatus != statement.ReconOK {
		t.Errorf("recon status = %s, want OK", result.Sanity.ReconStatus)
	}
	if result.Sanity.Delta == nil || !result.Sanity.Delta.IsZero() {
		t.Errorf("delta = %v, want 0", result.Sanity.Delta)
	}
	if result.Sanity.QualityScore != 100 || result.Sanity.QualityLabel != statement.QualityGood {
		t.Errorf("quality = %d %s, want 100 GOOD",
			result.Sanity.QualityScore, result.Sanity.QualityLabel)
	}

	seen := map[string]bool{}
	for _, tx := range result.Statement.Transactions {
		if len(tx.FITID) != 20 {
			t.Errorf("fitid %q has length %d, want 20", tx.FITID, len(tx.FITID))
		}
		if seen[tx.FITID] {
			t.Errorf("duplicate fitid %q", tx.FITID)
		}
		seen[tx.FITID] = true
	}

	doc := string(result.Document)
	if !strings.Contains(doc, "<CURDEF>EUR") {
		t.Error("document missing CURDEF")
	}
	for _, tx := range result.Statement.Transactions {
		if !strings.Contains(doc, "<FITID>"+tx.FITID) {
			t.Errorf("document missing fitid %s", tx.FITID)
		}
	}
}

func TestRun_Deterministic(t *testing.T) {
	run := func() []string {
		raw, _ := DecodePayload([]byte(januaryPayload))
		result, err := Run(context.Background(), raw, Options{
			Defaults: canon.AccountDefaults{AccountType: "CHECKING"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		var ids []string
		for _, tx := range result.Statement.Transactions {
			ids = append(ids, tx.FITID)
		}
		return ids
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("fitid %d differs across runs: %q vs %q", i, first[i], second[i])
		}
	}
}

// mockExtractor returns a fixed payload or error.
type mockExtractor struct {
	payload map[string]any
	err     error
}

func (m *mockExtractor) Extract(ctx context.Context, docBytes []byte) (map[string]any, error) {
	return m.payload, m.err
}

func TestRunDocument(t *testing.T) {
	t.Run("extraction feeds the pipeline", func(t *testing.T) {
		raw, _ := DecodePayload([]byte(januaryPayload))
		ex := &mockExtractor{payload: raw}

		result, err := RunDocument(context.Background(), ex, []byte("%PDF"), Options{
			Defaults: canon.AccountDefaults{AccountType: "CHECKING"},
		})
		if err != nil {
			t.Fatalf("RunDocument() error = %v", err)
		}
		if result.Sanity.KeptCount != 2 {
			t.Errorf("kept = %d, want 2", result.Sanity.KeptCount)
		}
	})

	t.Run("extraction failure surfaces as extract stage", func(t *testing.T) {
		ex := &mockExtractor{err: errors.New("model unavailable")}

		_, err := RunDocument(context.Background(), ex, []byte("%PDF"), Options{})

		var se *StageError
		if !errors.As(err, &se) {
			t.Fatalf("error %v is not a StageError", err)
		}
		if se.Stage != StageExtract {
			t.Errorf("stage = %s, want EXTRACT", se.Stage)
		}
	})
}

func TestRun_StageErrors(t *testing.T) {
	t.Run("unrecognized schema fails in normalize", func(t *testing.T) {
		_, err := Run(context.Background(), map[string]any{"nope": 1}, Options{})

		var se *StageError
		if !errors.As(err, &se) {
			t.Fatalf("error %v is not a StageError", err)
		}
		if se.Stage != StageNormalize {
			t.Errorf("stage = %s, want NORMALIZE", se.Stage)
		}
		if !errors.Is(err, canon.ErrUnrecognizedSchema) {
			t.Error("cause not preserved through StageError")
		}
	})

	t.Run("empty statement fails in validate", func(t *testing.T) {
		raw := map[string]any{"transactions": []any{}}
		_, err := Run(context.Background(), raw, Options{})

		var se *StageError
		if !errors.As(err, &se) {
			t.Fatalf("error %v is not a StageError", err)
		}
		if se.Stage != StageValidate {
			t.Errorf("stage = %s, want VALIDATE", se.Stage)
		}
		if !errors.Is(err, validate.ErrNoTransactions) {
			t.Error("cause not preserved through StageError")
		}
	})

	t.Run("missing account fails in emit", func(t *testing.T) {
		st := &statement.Statement{
			Period: statement.Period{StartDate: "2024-01-01", EndDate: "2024-01-31"},
			Transactions: []statement.Transaction{
				{PostedAt: "2024-01-05", Amount: dec("-5"), Name: "X"},
			},
		}
		_, err := RunStatement(context.Background(), st, nil, Options{})

		var se *StageError
		if !errors.As(err, &se) {
			t.Fatalf("error %v is not a StageError", err)
		}
		if se.Stage != StageEmit {
			t.Errorf("stage = %s, want EMIT", se.Stage)
		}
	})
}

func TestRunStatement_RecoveryPathReassignsFitids(t *testing.T) {
	st := &statement.Statement{
		SchemaVersion: statement.SchemaVersion,
		Account:       statement.Account{AccountID: "ACC-42", AccountType: "CHECKING"},
		Period:        statement.Period{StartDate: "2024-01-01", EndDate: "2024-01-31"},
		Transactions: []statement.Transaction{
			// Hand-edited statement: stale fitid from before the edit
			{FITID: "stale", PostedAt: "2024-01-05", Amount: dec("-5"), Name: "EDITED"},
		},
	}

	result, err := RunStatement(context.Background(), st, nil, Options{Format: ofx.OFX1})
	if err != nil {
		t.Fatalf("RunStatement() error = %v", err)
	}

	tx := result.Statement.Transactions[0]
	if tx.FITID == "stale" {
		t.Error("fitid was not reassigned on the recovery path")
	}
	if result.Sanity.ReconStatus != statement.ReconSkipped {
		t.Errorf("recon status = %s, want SKIPPED with no balances", result.Sanity.ReconStatus)
	}
	if !strings.HasPrefix(string(result.Document), "OFXHEADER:100") {
		t.Error("requested OFX1 output not honored")
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("keeps numeric precision", func(t *testing.T) {
		raw, err := DecodePayload([]byte(`{"amount": 0.30000000000000004}`))
		if err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		n, ok := raw["amount"].(interface{ String() string })
		if !ok {
			t.Fatalf("amount decoded as %T, want json.Number", raw["amount"])
		}
		if n.String() != "0.30000000000000004" {
			t.Errorf("amount = %s, precision lost", n.String())
		}
	})

	t.Run("rejects non-object payloads", func(t *testing.T) {
		if _, err := DecodePayload([]byte(`[1,2,3]`)); err == nil {
			t.Error("array payload accepted")
		}
		if _, err := DecodePayload([]byte(`{broken`)); err == nil {
			t.Error("malformed payload accepted")
		}
	})
}
