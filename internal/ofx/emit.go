// Package ofx renders a validated statement as an OFX document, in either
// the OFX 2 (XML, self-closing tags) or OFX 1 (SGML, open leaf tags)
// dialect. Field-length and character-set constraints of the format are
// enforced here and nowhere earlier.
package ofx

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/pdf2ofx/internal/parse"
	"github.com/dvloznov/pdf2ofx/internal/statement"
)

// Format selects the output dialect.
type Format string

const (
	OFX2 Format = "OFX2" // XML, version 200
	OFX1 Format = "OFX1" // SGML, version 102
)

const (
	nameMax   = 32
	memoMax   = 254
	bankIDMax = 9

	// ISO-4217 sentinel for "no currency".
	unknownCurrency = "XXX"
)

// currencyAliases maps spelled-out currency names seen in extraction
// output to their ISO-4217 codes.
var currencyAliases = map[string]string{
	"EURO":    "EUR",
	"DOLLAR":  "USD",
	"DOLLARS": "USD",
	"POUND":   "GBP",
	"POUNDS":  "GBP",
}

var ofx1Header = strings.Join([]string{
	"OFXHEADER:100",
	"DATA:OFXSGML",
	"VERSION:102",
	"SECURITY:NONE",
	"ENCODING:USASCII",
	"CHARSET:1252",
	"COMPRESSION:NONE",
	"OLDFILEUID:NONE",
	"NEWFILEUID:NONE",
	"", "",
}, "\r\n")

const ofx2Header = `<?xml version="1.0" encoding="utf-8" standalone="no"?>` + "\r\n" +
	`<?OFX OFXHEADER="200" VERSION="200" SECURITY="NONE" OLDFILEUID="NONE" NEWFILEUID="NONE"?>` + "\r\n"

var valueEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Emit serializes st. Required account fields (account id, account type)
// and a parseable period are serialization failures when absent; the
// validator guarantees them on its own output, but the recovery path can
// hand Emit arbitrary statements.
func Emit(st *statement.Statement, format Format) ([]byte, error) {
	if format != OFX1 && format != OFX2 {
		return nil, fmt.Errorf("Emit: unknown format %q", format)
	}
	if st.Account.AccountID == "" {
		return nil, fmt.Errorf("Emit: account_id is required")
	}
	acctType := strings.ToUpper(st.Account.AccountType)
	if acctType == "" {
		return nil, fmt.Errorf("Emit: account_type is required")
	}
	start := parse.DateString(st.Period.StartDate)
	end := parse.DateString(st.Period.EndDate)
	if !parse.DateSet(start) || !parse.DateSet(end) {
		return nil, fmt.Errorf("Emit: statement period is missing or invalid")
	}

	w := newTagWriter(format == OFX2)

	w.open("OFX")

	w.open("SIGNONMSGSRSV1")
	w.open("SONRS")
	writeStatus(w)
	w.leaf("DTSERVER", ofxTimestamp(time.Now().UTC()))
	w.leaf("LANGUAGE", "ENG")
	w.close("SONRS")
	w.close("SIGNONMSGSRSV1")

	w.open("BANKMSGSRSV1")
	w.open("STMTTRNRS")
	w.leaf("TRNUID", "1")
	writeStatus(w)

	w.open("STMTRS")
	w.leaf("CURDEF", resolveCurrency(st.Account.Currency))

	w.open("BANKACCTFROM")
	w.leaf("BANKID", truncate(st.Account.BankID, bankIDMax))
	w.leaf("ACCTID", st.Account.AccountID)
	w.leaf("ACCTTYPE", acctType)
	w.close("BANKACCTFROM")

	w.open("BANKTRANLIST")
	w.leaf("DTSTART", ofxDate(start.String()))
	w.leaf("DTEND", ofxDate(end.String()))
	for i := range st.Transactions {
		if err := writeTransaction(w, &st.Transactions[i]); err != nil {
			return nil, fmt.Errorf("Emit: transaction %d: %w", i, err)
		}
	}
	w.close("BANKTRANLIST")

	// This pipeline does not track a running ledger balance; the aggregate
	// is mandatory, so emit a zero balance as of the period end.
	w.open("LEDGERBAL")
	w.leaf("BALAMT", "0")
	w.leaf("DTASOF", ofxDate(end.String()))
	w.close("LEDGERBAL")

	w.close("STMTRS")
	w.close("STMTTRNRS")
	w.close("BANKMSGSRSV1")

	w.close("OFX")

	header := ofx1Header
	if format == OFX2 {
		header = ofx2Header
	}
	return append([]byte(header), w.bytes()...), nil
}

func writeTransaction(w *tagWriter, tx *statement.Transaction) error {
	if tx.FITID == "" {
		return fmt.Errorf("missing fitid")
	}
	if tx.Amount == nil {
		return fmt.Errorf("missing amount")
	}
	posted := parse.DateString(tx.PostedAt)
	if !parse.DateSet(posted) {
		return fmt.Errorf("invalid posted_at %q", tx.PostedAt)
	}

	name, memo := splitNameMemo(tx.Name, tx.Memo)

	w.open("STMTTRN")
	w.leaf("TRNTYPE", string(tx.TrnType))
	w.leaf("DTPOSTED", ofxDate(posted.String()))
	w.leaf("TRNAMT", tx.Amount.String())
	w.leaf("FITID", tx.FITID)
	if name != "" {
		w.leaf("NAME", name)
	}
	if memo != "" {
		w.leaf("MEMO", memo)
	}
	w.close("STMTTRN")
	return nil
}

func writeStatus(w *tagWriter) {
	w.open("STATUS")
	w.leaf("CODE", "0")
	w.leaf("SEVERITY", "INFO")
	w.close("STATUS")
}

// splitNameMemo enforces the 32-character NAME limit. An overlong name is
// truncated at the last interior word boundary past character 10 and the
// full original text is relocated into MEMO ahead of any existing memo.
// Limits count characters, not bytes, so accented names are never cut
// mid-rune.
func splitNameMemo(name, memo string) (string, string) {
	runes := []rune(name)
	if len(runes) <= nameMax {
		return name, truncate(memo, memoMax)
	}
	truncated := runes[:nameMax]
	for i := len(truncated) - 1; i > 10; i-- {
		if truncated[i] == ' ' {
			truncated = truncated[:i]
			break
		}
	}
	fullMemo := name
	if memo != "" {
		fullMemo = name + " | " + memo
	}
	return string(truncated), truncate(fullMemo, memoMax)
}

func resolveCurrency(raw string) string {
	cur := strings.ToUpper(strings.TrimSpace(raw))
	if mapped, ok := currencyAliases[cur]; ok {
		return mapped
	}
	if cur == "" {
		return unknownCurrency
	}
	return cur
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

// ofxDate renders an ISO date as an OFX date-time at midnight UTC.
func ofxDate(iso string) string {
	return strings.ReplaceAll(iso, "-", "") + "000000"
}

func ofxTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// tagWriter emits indented OFX aggregates. Aggregates are always closed;
// leaf elements are closed only in the XML dialect, matching OFX 1 SGML
// conventions.
type tagWriter struct {
	buf        bytes.Buffer
	closeLeafs bool
	depth      int
}

func newTagWriter(closeLeafs bool) *tagWriter {
	return &tagWriter{closeLeafs: closeLeafs}
}

func (w *tagWriter) indent() {
	for i := 0; i < w.depth; i++ {
		w.buf.WriteString("  ")
	}
}

func (w *tagWriter) open(tag string) {
	w.indent()
	w.buf.WriteString("<" + tag + ">\r\n")
	w.depth++
}

func (w *tagWriter) close(tag string) {
	w.depth--
	w.indent()
	w.buf.WriteString("</" + tag + ">\r\n")
}

func (w *tagWriter) leaf(tag, value string) {
	w.indent()
	w.buf.WriteString("<" + tag + ">" + valueEscaper.Replace(value))
	if w.closeLeafs {
		w.buf.WriteString("</" + tag + ">")
	}
	w.buf.WriteString("\r\n")
}

func (w *tagWriter) bytes() []byte {
	return w.buf.Bytes()
}
