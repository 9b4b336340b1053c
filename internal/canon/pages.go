package canon

import "encoding/json"

// minPageHint scans the location hints attached to a transaction item (or
// one of its field envelopes) and returns the earliest page the data
// appears on, converted from the vendor's 0-based index to 1-based. It
// returns nil when no hint exists at all; this is best-effort provenance
// metadata, not a business invariant.
func minPageHint(item map[string]any) *int {
	min, found := scanPageHints(item, 0)
	for _, v := range item {
		if m, ok := v.(map[string]any); ok {
			if p, ok2 := scanPageHints(m, 0); ok2 && (!found || p < min) {
				min, found = p, true
			}
		}
	}
	if !found {
		return nil
	}
	page := min + 1
	return &page
}

// scanPageHints reads the 0-based page index from a single mapping's
// "locations" list or bare "page"/"page_id" keys.
func scanPageHints(m map[string]any, depth int) (int, bool) {
	min, found := 0, false

	take := func(v any) {
		if p, ok := asPageIndex(v); ok && (!found || p < min) {
			min, found = p, true
		}
	}

	if locs, ok := m["locations"].([]any); ok {
		for _, loc := range locs {
			if lm, ok := loc.(map[string]any); ok {
				take(lm["page"])
				take(lm["page_id"])
			}
		}
	}
	take(m["page_id"])
	if depth == 0 {
		// A bare "page" key at item level is vendor output too, but only
		// when it is numeric; canonical statements use 1-based ints and
		// are never fed back through here.
		take(m["page"])
	}
	return min, found
}

func asPageIndex(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 0 {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil && i >= 0 {
			return int(i), true
		}
	case int:
		if n >= 0 {
			return n, true
		}
	}
	return 0, false
}
