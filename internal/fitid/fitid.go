// Package fitid derives deterministic, collision-resistant transaction
// identifiers from statement content. Re-running assignment on unchanged
// input reproduces identical ids; exact duplicate transactions are
// disambiguated by a per-statement sequence counter.
package fitid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/pdf2ofx/internal/statement"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapsePunct squeezes runs of the same punctuation rune down to one.
// Runs of distinct punctuation ("-.") are left alone.
func collapsePunct(s string) string {
	const punct = ".,;:!-_/"
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		if r == prev && strings.ContainsRune(punct, r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// NormalizeLabel joins name and memo, collapses whitespace and repeated
// punctuation runs, and upper-cases the result. Empty input becomes
// "UNKNOWN".
func NormalizeLabel(name, memo string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{name, memo} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	joined := strings.TrimSpace(strings.Join(parts, " "))
	if joined == "" {
		return "UNKNOWN"
	}
	joined = whitespaceRun.ReplaceAllString(joined, " ")
	joined = collapsePunct(joined)
	return strings.ToUpper(joined)
}

// Compute hashes the pipe-joined identity token and keeps the first 20 hex
// characters. The sequence component makes repeated (date, amount, label)
// triples distinct within one statement.
func Compute(accountID, postedAt, amount, label string, seq int) string {
	token := fmt.Sprintf("%s|%s|%s|%s|%d", accountID, postedAt, amount, label, seq)
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])[:20]
}

// Assign sets the fitid of every transaction in place, in statement order.
// The sequence counter is local to this call; it must be re-run whenever
// the account id or any transaction content changes.
func Assign(accountID string, txs []statement.Transaction) {
	seen := make(map[string]int, len(txs))
	for i := range txs {
		tx := &txs[i]
		label := NormalizeLabel(tx.Name, tx.Memo)
		amount := ""
		if tx.Amount != nil {
			amount = tx.Amount.String()
		}
		key := tx.PostedAt + "|" + amount + "|" + label
		seq := seen[key]
		seen[key] = seq + 1
		tx.FITID = Compute(accountID, tx.PostedAt, amount, label, seq)
	}
}
