// Package canon maps heterogeneous vendor extraction payloads into the
// fixed canonical statement shape. Schema variants are tried as an ordered
// (match, normalize) chain; the first matching variant wins.
package canon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/pdf2ofx/internal/parse"
	"github.com/dvloznov/pdf2ofx/internal/statement"
)

// Sentinel errors. ErrUnsupportedSchema identifies the vendor's default
// bank-statement model, which is recognized but deliberately not mapped.
var (
	ErrUnsupportedSchema  = errors.New("vendor default bank statement schema is not implemented")
	ErrUnrecognizedSchema = errors.New("unrecognized extraction schema")
)

// AccountDefaults are operator-supplied fallbacks for account fields the
// vendor payload does not provide.
type AccountDefaults struct {
	AccountID   string
	BankID      string
	AccountType string
	Currency    string
}

// txFields names the per-schema transaction keys. Date priority is fixed:
// operation, then posting, then value.
type txFields struct {
	opDate, postDate, valDate string
	amount, debit, credit     string
	description, notes        string
}

// variant is one entry of the schema priority chain.
type variant struct {
	name      string
	match     func(pred map[string]any) bool
	normalize func(pred map[string]any, defaults AccountDefaults) (*statement.Statement, error)
}

var variants = []variant{
	{
		name:      "custom-a",
		match:     func(p map[string]any) bool { return hasAny(p, "Transactions", "Bank Name", "Start Date") },
		normalize: normalizeTitleCase,
	},
	{
		name:      "custom-a-v2",
		match:     func(p map[string]any) bool { return hasAny(p, "transactions", "bank_name", "start_date") },
		normalize: normalizeSnakeCase,
	},
}

// Canonicalize detects the vendor schema of raw and maps it into a
// canonical statement. Transactions carry empty fitids and no validation
// has happened yet. Failure to identify the schema, or a transaction list
// that is structurally not a sequence, is fatal for this statement.
func Canonicalize(raw map[string]any, defaults AccountDefaults) (*statement.Statement, error) {
	pred := extractPrediction(raw)

	for _, v := range variants {
		if v.match(pred) {
			st, err := v.normalize(pred, defaults)
			if err != nil {
				return nil, fmt.Errorf("Canonicalize: schema %s: %w", v.name, err)
			}
			return st, nil
		}
	}

	if hasAny(pred, "account_number", "list_of_transactions") {
		return nil, fmt.Errorf("Canonicalize: %w", ErrUnsupportedSchema)
	}
	return nil, fmt.Errorf("Canonicalize: %w", ErrUnrecognizedSchema)
}

// extractPrediction navigates the vendor response wrappers to the
// prediction mapping: document.inference.prediction, then
// inference.prediction, then inference.result.fields. With no wrapper the
// payload itself is the prediction.
func extractPrediction(raw map[string]any) map[string]any {
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

// extractValue unwraps the vendor's {"value": ...} / {"values": ...}
// field envelopes.
func extractValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
		if inner, ok := m["values"]; ok {
			return inner
		}
	}
	return v
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func fieldValue(pred map[string]any, name string) any {
	return extractValue(pred[name])
}

// firstString returns the first non-empty string among the named fields.
func firstString(pred map[string]any, names ...string) string {
	for _, n := range names {
		if s, ok := fieldValue(pred, n).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func normalizeTitleCase(pred map[string]any, defaults AccountDefaults) (*statement.Statement, error) {
	rawTxs := fieldValue(pred, "Transactions")
	items, err := asItemList(rawTxs, "Transactions")
	if err != nil {
		return nil, err
	}

	names := txFields{
		opDate: "Operation Date", postDate: "Posting Date", valDate: "Value Date",
		amount: "Amount Signed", debit: "Debit Amount", credit: "Credit Amount",
		description: "Description", notes: "Row Confidence Notes",
	}
	txs := make([]statement.Transaction, 0, len(items))
	for _, item := range items {
		txs = append(txs, mapTransaction(item, names))
	}

	account := statement.Account{
		AccountID:   stringOr(firstString(pred, "Account Number", "Account ID", "Account Id"), defaults.AccountID),
		BankID:      stringOr(firstString(pred, "Bank ID", "Bank Id", "Bank Name"), defaults.BankID),
		AccountType: upperOr(firstString(pred, "Account Type", "Account type"), defaults.AccountType),
		Currency:    stringOr(firstString(pred, "Currency"), defaults.Currency),
	}

	return assemble(pred, account, periodOf(pred, "Start Date", "End Date"), txs), nil
}

func normalizeSnakeCase(pred map[string]any, defaults AccountDefaults) (*statement.Statement, error) {
	rawTxs := pred["transactions"]
	// V2 wraps the list as transactions.items.
	if m, ok := rawTxs.(map[string]any); ok {
		rawTxs = m["items"]
	}
	items, err := asItemList(rawTxs, "transactions.items")
	if err != nil {
		return nil, err
	}

	names := txFields{
		opDate: "operation_date", postDate: "posting_date", valDate: "value_date",
		amount: "amount", debit: "debit_amount", credit: "credit_amount",
		description: "description", notes: "row_confidence_notes",
	}
	txs := make([]statement.Transaction, 0, len(items))
	for _, item := range items {
		// V2 items may nest their fields one level down.
		fields := item
		if f, ok := item["fields"].(map[string]any); ok {
			fields = f
		}
		tx := mapTransaction(fields, names)
		// Item-level hints compete with the nested field hints; the
		// smallest page wins.
		if page := minPageHint(item); page != nil {
			if tx.Page == nil || *page < *tx.Page {
				tx.Page = page
			}
		}
		txs = append(txs, tx)
	}

	account := statement.Account{
		AccountID:   stringOr(firstString(pred, "account_number", "account_id"), defaults.AccountID),
		BankID:      stringOr(firstString(pred, "bank_id", "bank_name"), defaults.BankID),
		AccountType: upperOr(firstString(pred, "account_type"), defaults.AccountType),
		Currency:    stringOr(firstString(pred, "currency"), defaults.Currency),
	}

	return assemble(pred, account, periodOf(pred, "start_date", "end_date"), txs), nil
}

// asItemList coerces the raw transaction list into item mappings. A nil
// list is an empty statement; any other non-sequence shape is fatal.
func asItemList(raw any, key string) ([]map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s field is not a list (got %T)", key, raw)
	}
	items := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			items = append(items, m)
		} else {
			items = append(items, map[string]any{})
		}
	}
	return items, nil
}

// mapTransaction maps one vendor transaction item to canonical fields.
func mapTransaction(fields map[string]any, names txFields) statement.Transaction {
	opDate := parse.Date(extractValue(fields[names.opDate]))
	postDate := parse.Date(extractValue(fields[names.postDate]))
	valDate := parse.Date(extractValue(fields[names.valDate]))

	var postedAt string
	var source statement.PostedAtSource
	switch {
	case parse.DateSet(opDate):
		postedAt, source = opDate.String(), statement.SourceOperation
	case parse.DateSet(postDate):
		postedAt, source = postDate.String(), statement.SourcePosting
	case parse.DateSet(valDate):
		postedAt, source = valDate.String(), statement.SourceValue
	}

	amount := parse.Decimal(extractValue(fields[names.amount]))
	debit := parse.Decimal(extractValue(fields[names.debit]))
	credit := parse.Decimal(extractValue(fields[names.credit]))
	if amount == nil {
		if debit != nil && !debit.IsZero() {
			neg := debit.Abs().Neg()
			amount = &neg
		} else if credit != nil && !credit.IsZero() {
			abs := credit.Abs()
			amount = &abs
		}
	}

	name := "UNKNOWN"
	if s, ok := extractValue(fields[names.description]).(string); ok && s != "" {
		name = s
	}
	memo := ""
	if s, ok := extractValue(fields[names.notes]).(string); ok && s != "" {
		memo = s
	}

	tx := statement.Transaction{
		PostedAt:       postedAt,
		PostedAtSource: source,
		Amount:         amount,
		Debit:          debit,
		Credit:         credit,
		Name:           name,
		Memo:           memo,
	}
	tx.Page = minPageHint(fields)
	return tx
}

func assemble(pred map[string]any, account statement.Account, period statement.Period, txs []statement.Transaction) *statement.Statement {
	docID, _ := pred["document_id"].(string)
	return &statement.Statement{
		SchemaVersion: statement.SchemaVersion,
		Source:        statement.Source{Origin: "mindee", DocumentID: docID},
		Account:       account,
		Period:        period,
		Transactions:  txs,
	}
}

func periodOf(pred map[string]any, startKey, endKey string) statement.Period {
	var p statement.Period
	if d := parse.Date(fieldValue(pred, startKey)); parse.DateSet(d) {
		p.StartDate = d.String()
	}
	if d := parse.Date(fieldValue(pred, endKey)); parse.DateSet(d) {
		p.EndDate = d.String()
	}
	return p
}

func upperOr(s, fallback string) string {
	if s == "" {
		s = fallback
	}
	return strings.ToUpper(s)
}
