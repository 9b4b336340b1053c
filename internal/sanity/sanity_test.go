package sanity

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/pdf2ofx/internal/statement"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name       string
		start, end string // "" means nil
		net        string
		wantStatus statement.ReconStatus
		wantDelta  string
	}{
		{
			name: "exact match", start: "100000", end: "436000", net: "336000",
			wantStatus: statement.ReconOK, wantDelta: "0",
		},
		{
			name: "within cent tolerance", start: "100", end: "436.01", net: "336",
			wantStatus: statement.ReconOK, wantDelta: "-0.01",
		},
		{
			name: "within unit tolerance", start: "100", end: "436.02", net: "336",
			wantStatus: statement.ReconWarning, wantDelta: "-0.02",
		},
		{
			name: "at unit boundary", start: "100", end: "435", net: "336",
			wantStatus: statement.ReconWarning, wantDelta: "1",
		},
		{
			name: "beyond unit tolerance", start: "100", end: "434.99", net: "336",
			wantStatus: statement.ReconError, wantDelta: "1.01",
		},
		{
			name: "missing start skips", start: "", end: "436", net: "336",
			wantStatus: statement.ReconSkipped,
		},
		{
			name: "missing end skips", start: "100", end: "", net: "336",
			wantStatus: statement.ReconSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var start, end *decimal.Decimal
			if tt.start != "" {
				start = dec(tt.start)
			}
			if tt.end != "" {
				end = dec(tt.end)
			}

			reconciled, delta, status := Reconcile(start, end, decimal.RequireFromString(tt.net))
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if tt.wantStatus == statement.ReconSkipped {
				if reconciled != nil || delta != nil {
					t.Error("skipped reconciliation should carry no values")
				}
				return
			}
			if !delta.Equal(decimal.RequireFromString(tt.wantDelta)) {
				t.Errorf("delta = %s, want %s", delta, tt.wantDelta)
			}
		})
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name            string
		status          statement.ReconStatus
		balancesMissing bool
		dropRatio       float64
		warnings        int
		lowConfidence   bool
		wantScore       int
		wantLabel       statement.QualityLabel
	}{
		{
			name:   "clean run",
			status: statement.ReconOK, wantScore: 100, wantLabel: statement.QualityGood,
		},
		{
			name:   "recon error alone",
			status: statement.ReconError, wantScore: 40, wantLabel: statement.QualityPoor,
		},
		{
			name:   "balances missing alone",
			status: statement.ReconSkipped, balancesMissing: true,
			wantScore: 75, wantLabel: statement.QualityDegraded,
		},
		{
			name:   "warnings capped",
			status: statement.ReconOK, warnings: 5,
			wantScore: 70, wantLabel: statement.QualityDegraded,
		},
		{
			name:   "two warnings",
			status: statement.ReconOK, warnings: 2,
			wantScore: 80, wantLabel: statement.QualityGood,
		},
		{
			name:   "drop ratio over threshold",
			status: statement.ReconOK, dropRatio: 0.25,
			wantScore: 85, wantLabel: statement.QualityGood,
		},
		{
			name:   "drop ratio at threshold not penalized",
			status: statement.ReconOK, dropRatio: 0.10,
			wantScore: 100, wantLabel: statement.QualityGood,
		},
		{
			name:   "low confidence",
			status: statement.ReconOK, lowConfidence: true,
			wantScore: 85, wantLabel: statement.QualityGood,
		},
		{
			name:   "everything wrong floors at zero",
			status: statement.ReconError, balancesMissing: true,
			dropRatio: 0.5, warnings: 10, lowConfidence: true,
			wantScore: 0, wantLabel: statement.QualityPoor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, label, deductions := Score(tt.status, tt.balancesMissing, tt.dropRatio, tt.warnings, tt.lowConfidence)
			if score != tt.wantScore {
				t.Errorf("score = %d, want %d", score, tt.wantScore)
			}
			if label != tt.wantLabel {
				t.Errorf("label = %s, want %s", label, tt.wantLabel)
			}

			sum := 0
			for _, d := range deductions {
				sum += d.Points
			}
			if floor := 100 - sum; floor >= 0 && floor != score {
				t.Errorf("deductions sum to %d but score is %d", sum, score)
			}
		})
	}
}

func TestExtractBalances(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]any
		wantStart string
		wantEnd   string
	}{
		{
			name: "title case keys under document wrapper",
			raw: map[string]any{
				"document": map[string]any{
					"inference": map[string]any{
						"prediction": map[string]any{
							"Starting Balance": map[string]any{"value": "100000"},
							"Ending Balance":   map[string]any{"value": "436000"},
						},
					},
				},
			},
			wantStart: "100000", wantEnd: "436000",
		},
		{
			name: "snake case keys under result fields",
			raw: map[string]any{
				"inference": map[string]any{
					"result": map[string]any{
						"fields": map[string]any{
							"starting_balance": "12.50",
							"closing_balance":  "-3.25",
						},
					},
				},
			},
			wantStart: "12.50", wantEnd: "-3.25",
		},
		{
			name: "alias priority first parseable wins",
			raw: map[string]any{
				"Starting Balance": "not a number",
				"start_balance":    "7",
			},
			wantStart: "7", wantEnd: "",
		},
		{
			name: "empty payload",
			raw:  map[string]any{},
		},
		{
			name: "nil payload",
			raw:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := ExtractBalances(tt.raw)
			checkDec(t, "start", start, tt.wantStart)
			checkDec(t, "end", end, tt.wantEnd)
		})
	}
}

func checkDec(t *testing.T, name string, got *decimal.Decimal, want string) {
	t.Helper()
	if want == "" {
		if got != nil {
			t.Errorf("%s = %s, want nil", name, got)
		}
		return
	}
	if got == nil {
		t.Fatalf("%s = nil, want %s", name, want)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestCompute(t *testing.T) {
	st := &statement.Statement{
		Period: statement.Period{StartDate: "2024-01-01", EndDate: "2024-01-31"},
		Transactions: []statement.Transaction{
			{FITID: "a", PostedAt: "2024-01-05", Amount: dec("-80000")},
			{FITID: "b", PostedAt: "2024-01-20", Amount: dec("416000")},
		},
	}

	res := Compute(st, Input{
		PDFName:        "jan.pdf",
		ExtractedCount: 2,
		StartingBal:    dec("100000"),
		EndingBal:      dec("436000"),
	})

	if !res.TotalCredits.Equal(decimal.RequireFromString("416000")) {
		t.Errorf("credits = %s, want 416000", res.TotalCredits)
	}
	if !res.TotalDebits.Equal(decimal.RequireFromString("-80000")) {
		t.Errorf("debits = %s, want -80000", res.TotalDebits)
	}
	if !res.NetMovement.Equal(decimal.RequireFromString("336000")) {
		t.Errorf("net = %s, want 336000", res.NetMovement)
	}
	if res.ReconStatus != statement.ReconOK {
		t.Errorf("recon status = %s, want OK", res.ReconStatus)
	}
	if res.Delta == nil || !res.Delta.IsZero() {
		t.Errorf("delta = %v, want 0", res.Delta)
	}
	if res.QualityScore != 100 || res.QualityLabel != statement.QualityGood {
		t.Errorf("quality = %d %s, want 100 GOOD", res.QualityScore, res.QualityLabel)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
}

func TestCompute_OverridesPrecedeMinedBalances(t *testing.T) {
	st := &statement.Statement{
		Transactions: []statement.Transaction{
			{FITID: "a", PostedAt: "2024-01-05", Amount: dec("10")},
		},
	}
	raw := map[string]any{
		"Starting Balance": "999",
		"Ending Balance":   "999",
	}

	res := Compute(st, Input{
		ExtractedCount: 1,
		Raw:            raw,
		StartingBal:    dec("0"),
		EndingBal:      dec("10"),
	})

	if !res.StartingBal.IsZero() {
		t.Errorf("starting balance = %s, want override 0", res.StartingBal)
	}
	if res.ReconStatus != statement.ReconOK {
		t.Errorf("recon status = %s, want OK", res.ReconStatus)
	}
}

func TestCompute_MissingBalancesAndDropRate(t *testing.T) {
	st := &statement.Statement{
		Transactions: []statement.Transaction{
			{FITID: "a", PostedAt: "2024-01-05", Amount: dec("10")},
		},
	}

	res := Compute(st, Input{ExtractedCount: 4})

	if res.ReconStatus != statement.ReconSkipped {
		t.Errorf("recon status = %s, want SKIPPED", res.ReconStatus)
	}
	// SKIPPED reconciliation is not the same as a skipped statement;
	// only callers that never ran the sanity pass set that flag.
	if res.Skipped {
		t.Error("skipped = true, want false for a computed result")
	}
	if res.DroppedCount != 3 {
		t.Errorf("dropped = %d, want 3", res.DroppedCount)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v, want balance and drop-rate warnings", res.Warnings)
	}
	// 100 - 25 (balances) - 15 (drop ratio) = 60
	if res.QualityScore != 60 || res.QualityLabel != statement.QualityDegraded {
		t.Errorf("quality = %d %s, want 60 DEGRADED", res.QualityScore, res.QualityLabel)
	}
}
