// Package extract sends statement PDFs to Gemini and returns the raw
// extraction payload the canonicalizer consumes. This is the only stage
// that talks to the model; everything downstream is deterministic.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is the extraction model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Gemini extracts statement fields with a Gemini vision model.
type Gemini struct {
	Model string
}

// NewGemini creates an extractor for the given model name; empty selects
// DefaultModel.
func NewGemini(model string) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{Model: model}
}

const extractionPrompt = "You are a bank statement field extractor.\n\n" +
	"Task:\n" +
	"- Read ALL transactions and account fields from the attached bank statement PDF.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a single JSON object.\n\n" +
	"The object must have these fields:\n" +
	"- \"account_number\": string or null\n" +
	"- \"bank_name\": string or null\n" +
	"- \"account_type\": string or null (e.g. \"CHECKING\", \"SAVINGS\")\n" +
	"- \"currency\": string or null (ISO 4217, e.g. \"EUR\")\n" +
	"- \"start_date\": string or null, ISO format \"YYYY-MM-DD\"\n" +
	"- \"end_date\": string or null, ISO format \"YYYY-MM-DD\"\n" +
	"- \"starting_balance\": number or null\n" +
	"- \"ending_balance\": number or null\n" +
	"- \"transactions\": {\"items\": [...]}\n\n" +
	"Each item in transactions.items must be {\"fields\": {...}} with:\n" +
	"- \"operation_date\": string or null, \"YYYY-MM-DD\"\n" +
	"- \"posting_date\": string or null, \"YYYY-MM-DD\"\n" +
	"- \"value_date\": string or null, \"YYYY-MM-DD\"\n" +
	"- \"amount\": number or null (negative for money out)\n" +
	"- \"debit_amount\": number or null (absolute value)\n" +
	"- \"credit_amount\": number or null (absolute value)\n" +
	"- \"description\": string\n" +
	"- \"row_confidence_notes\": string or null\n\n" +
	"Rules:\n" +
	"- If the statement has separate debit/credit columns, fill debit_amount/credit_amount and leave amount null.\n" +
	"- Never invent transactions; omit rows you cannot read.\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// Extract sends the PDF to the model and wraps the parsed object in the
// vendor envelope (inference.result.fields) the canonicalizer expects.
func (g *Gemini) Extract(ctx context.Context, docBytes []byte) (map[string]any, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("Extract: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: extractionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     docBytes,
					},
				},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.Model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("Extract: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Extract: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var fields map[string]any
	if err := json.Unmarshal([]byte(clean), &fields); err != nil {
		return nil, fmt.Errorf("Extract: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	return map[string]any{
		"inference": map[string]any{
			"result": map[string]any{
				"fields": fields,
			},
		},
	}, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost object if junk remains around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
