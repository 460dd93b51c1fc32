// Package harvest wraps the Harvest v2 expenses API. Every submission
// outcome is returned as a structured result with a classified failure kind;
// no error from this package crosses into the workflow layer as a raised
// failure.
package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

const defaultBaseURL = "https://api.harvestapp.com/v2"

// Fixed collaborator constants: the unbillable-expenses project and the
// Harvest category identifiers the two reimbursable categories map onto.
const (
	unbillableExpensesProjectID = 45414040
	categoryTransportationID    = 4264709
	categoryOtherID             = 4264710
)

// Client calls the Harvest API on behalf of one request at a time, using the
// caller's credentials per call.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig configures the Client. BaseURL is overridable for tests.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a Harvest API client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL: base,
		http:    sharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

func categoryID(c domain.Category) int {
	if c == domain.CategoryTransportation {
		return categoryTransportationID
	}
	return categoryOtherID
}

// AddExpense posts one expense as a multipart form, attaching the receipt
// file when present. The result classifies any failure; it never returns an
// error value.
func (c *Client) AddExpense(ctx context.Context, creds domain.Credentials, exp domain.ExpenseSubmission) domain.SubmitResult {
	body, contentType, err := buildExpenseForm(exp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.SubmitResult{
				OK:      false,
				Kind:    domain.FailureFileMissing,
				Message: "Receipt file not found.",
			}
		}
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureAPI,
			Message: fmt.Sprintf("Could not build expense request: %v", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/expenses", body)
	if err != nil {
		return domain.SubmitResult{OK: false, Kind: domain.FailureAPI, Message: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	req.Header.Set("Harvest-Account-ID", creds.AccountID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("harvest request failed", "err", err)
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureNetwork,
			Message: "Network error. Please check your connection and try again.",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		return domain.SubmitResult{OK: true, Message: "Expense added successfully"}
	}
	return classifyStatus(resp)
}

func classifyStatus(resp *http.Response) domain.SubmitResult {
	var apiErr struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureUnauthorized,
			Message: "Invalid or expired Harvest credentials. Please run `/configure` to update your credentials.",
		}
	case http.StatusForbidden:
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureForbidden,
			Message: "You do not have permission to add expenses. Please check your Harvest account permissions.",
		}
	case http.StatusUnprocessableEntity:
		msg := apiErr.Message
		if msg == "" {
			msg = "Invalid expense data"
		}
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureValidation,
			Message: "Validation error: " + msg,
		}
	case http.StatusTooManyRequests:
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureRateLimited,
			Message: "Too many requests. Please try again later.",
		}
	default:
		msg := apiErr.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return domain.SubmitResult{
			OK:      false,
			Kind:    domain.FailureAPI,
			Message: fmt.Sprintf("Harvest API error (%d): %s", resp.StatusCode, msg),
		}
	}
}

// buildExpenseForm renders the multipart body. Reading the receipt file can
// fail with fs.ErrNotExist when the file vanished before the call completed.
func buildExpenseForm(exp domain.ExpenseSubmission) (io.Reader, string, error) {
	var receipt []byte
	var receiptName string
	if exp.ReceiptPath != "" {
		data, err := os.ReadFile(exp.ReceiptPath)
		if err != nil {
			return nil, "", fmt.Errorf("read receipt: %w", err)
		}
		receipt = data
		receiptName = filepath.Base(exp.ReceiptPath)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"project_id":          strconv.Itoa(unbillableExpensesProjectID),
		"expense_category_id": strconv.Itoa(categoryID(exp.Category)),
		"spent_date":          exp.SpentDate,
		"units":               "1",
		"total_cost":          exp.Amount.StringFixed(2),
		"notes":               exp.Notes,
		"billable":            "false",
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if receipt != nil {
		part, err := w.CreateFormFile("receipt", receiptName)
		if err != nil {
			return nil, "", fmt.Errorf("create receipt part: %w", err)
		}
		if _, err := part.Write(receipt); err != nil {
			return nil, "", fmt.Errorf("write receipt part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// expensePage mirrors the Harvest list-expenses response shape.
type expensePage struct {
	Expenses []struct {
		TotalCost       float64 `json:"total_cost"`
		SpentDate       string  `json:"spent_date"`
		ExpenseCategory struct {
			ID int `json:"id"`
		} `json:"expense_category"`
	} `json:"expenses"`
	NextPage *int `json:"next_page"`
}

// ListExpenses sums the caller's period-to-date spend per category between
// the two dates (inclusive), filtered to the fixed reimbursement project.
func (c *Client) ListExpenses(ctx context.Context, creds domain.Credentials, from, to time.Time) (domain.CategoryTotals, error) {
	totals := domain.CategoryTotals{
		Transportation: decimal.Zero,
		Wellness:       decimal.Zero,
	}

	page := 1
	for {
		q := url.Values{}
		q.Set("from", from.Format("2006-01-02"))
		q.Set("to", to.Format("2006-01-02"))
		q.Set("project_id", strconv.Itoa(unbillableExpensesProjectID))
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", "100")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/expenses?"+q.Encode(), nil)
		if err != nil {
			return totals, fmt.Errorf("build list request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+creds.APIToken)
		req.Header.Set("Harvest-Account-ID", creds.AccountID)

		resp, err := c.http.Do(req)
		if err != nil {
			return totals, fmt.Errorf("list expenses: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return totals, fmt.Errorf("list expenses: HTTP %d", resp.StatusCode)
		}

		var p expensePage
		err = json.NewDecoder(resp.Body).Decode(&p)
		resp.Body.Close()
		if err != nil {
			return totals, fmt.Errorf("decode expenses: %w", err)
		}

		for _, e := range p.Expenses {
			cost := decimal.NewFromFloat(e.TotalCost)
			switch e.ExpenseCategory.ID {
			case categoryTransportationID:
				totals.Transportation = totals.Transportation.Add(cost)
			case categoryOtherID:
				totals.Wellness = totals.Wellness.Add(cost)
			}
		}

		if p.NextPage == nil {
			return totals, nil
		}
		page = *p.NextPage
	}
}
