// Package receipt extracts structured expense data from receipt images via
// the Anthropic vision API.
package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultModel        = "claude-3-5-haiku-20241022"
	defaultMaxTokens    = 1024
	defaultHTTPTimeout  = 60 * time.Second

	// fallbackCurrency is assumed when the model cannot tell which currency
	// the receipt uses.
	fallbackCurrency = "PHP"
)

const extractionPrompt = `Analyze this receipt image and extract the following information. Return ONLY a valid JSON object with no additional text or explanation.

{
  "date": "YYYY-MM-DD format, or null if not found",
  "amount": numeric value only (no currency symbol), or null if not found,
  "currency": "PHP" or "USD" or other currency code detected, or "PHP" if unclear,
  "description": "brief description of purchase" or null
}

Important:
- For the amount field, follow this priority:
  1. If a TOTAL or GRAND TOTAL exists, use that value
  2. If multiple totals exist, use the final/grand total
  3. If there is NO total line, you MUST add up ALL individual item amounts and return their SUM
- NEVER return just the first item amount - always calculate the total sum of all amounts
- If multiple dates are found, use the EARLIEST date
- Return ONLY the JSON object, no markdown, no explanation`

// ParseError is a structured extraction failure. Reason distinguishes an
// unreadable model response from a receipt with no detectable amount.
type ParseError struct {
	Reason  string // "parse_error" | "no_amount" | "api_error"
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Parser sends receipt bytes to the vision model and decodes the structured
// guess it returns.
type Parser struct {
	apiKey string
	apiURL string
	model  string
	client *http.Client
	logger *slog.Logger
}

// ParserConfig configures the Parser. APIURL is overridable for tests.
type ParserConfig struct {
	APIKey string
	APIURL string
	Model  string
	Logger *slog.Logger
}

// NewParser creates a receipt Parser.
func NewParser(cfg ParserConfig) *Parser {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.APIURL == "" {
		cfg.APIURL = anthropicAPIURL
	}
	return &Parser{
		apiKey: cfg.APIKey,
		apiURL: cfg.APIURL,
		model:  cfg.Model,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: cfg.Logger,
	}
}

type visionRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	Messages  []visionMsg `json:"messages"`
}

type visionMsg struct {
	Role    string         `json:"role"`
	Content []visionInput  `json:"content"`
}

type visionInput struct {
	Type   string       `json:"type"` // "image" | "text"
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type visionResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// extractedFields is the model's JSON answer. Pointers distinguish "absent"
// from a zero value: a missing amount is terminal-failing, never a silent 0.
type extractedFields struct {
	Date        *string  `json:"date"`
	Amount      *float64 `json:"amount"`
	Currency    *string  `json:"currency"`
	Description *string  `json:"description"`
}

// Parse extracts date/amount/currency/description from a receipt image or
// PDF. An undetectable amount is an error, not a zero default.
func (p *Parser) Parse(ctx context.Context, data []byte, mimeType string) (domain.ReceiptData, error) {
	reqBody := visionRequest{
		Model:     p.model,
		MaxTokens: defaultMaxTokens,
		Messages: []visionMsg{{
			Role: "user",
			Content: []visionInput{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: mimeType,
						Data:      base64.StdEncoding.EncodeToString(data),
					},
				},
				{Type: "text", Text: extractionPrompt},
			},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.ReceiptData{}, fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return domain.ReceiptData{}, fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ReceiptData{}, &ParseError{
			Reason:  "api_error",
			Message: fmt.Sprintf("Failed to analyze receipt: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn("vision API error", "status", resp.StatusCode, "body", string(body))
		return domain.ReceiptData{}, &ParseError{
			Reason:  "api_error",
			Message: fmt.Sprintf("Failed to analyze receipt: HTTP %d", resp.StatusCode),
		}
	}

	var vr visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return domain.ReceiptData{}, &ParseError{
			Reason:  "parse_error",
			Message: "Could not parse receipt data from image",
		}
	}
	if len(vr.Content) == 0 {
		return domain.ReceiptData{}, &ParseError{
			Reason:  "parse_error",
			Message: "Could not parse receipt data from image",
		}
	}

	return decodeExtraction(vr.Content[0].Text, p.logger)
}

// decodeExtraction parses the model's text answer, tolerating markdown code
// fences around the JSON object.
func decodeExtraction(text string, logger *slog.Logger) (domain.ReceiptData, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var fields extractedFields
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		logger.Warn("unparseable vision response", "text", text)
		return domain.ReceiptData{}, &ParseError{
			Reason:  "parse_error",
			Message: "Could not parse receipt data from image",
		}
	}

	if fields.Amount == nil {
		return domain.ReceiptData{}, &ParseError{
			Reason:  "no_amount",
			Message: "Could not find total amount on receipt",
		}
	}

	out := domain.ReceiptData{
		Amount:   decimal.NewFromFloat(*fields.Amount),
		Currency: fallbackCurrency,
	}
	if fields.Date != nil {
		out.Date = *fields.Date
	}
	if fields.Currency != nil && *fields.Currency != "" {
		out.Currency = strings.ToUpper(*fields.Currency)
	}
	if fields.Description != nil {
		out.Description = *fields.Description
	}
	return out, nil
}
