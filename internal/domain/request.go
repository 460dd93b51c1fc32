package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which reimbursement workflow a Pending Request follows.
// It is refined once the user makes the with-file/without-file choice and
// fixes the remaining legal transitions.
type Kind string

const (
	KindManualWithFile    Kind = "manual_with_file"
	KindManualWithoutFile Kind = "manual_without_file"
	KindAIAssisted        Kind = "ai_assisted"
)

// State is a workflow state. Terminal states trigger store and resource
// cleanup in the same operation that produces them.
type State string

const (
	StateAwaitingFileChoice   State = "awaiting_file_choice"
	StateAwaitingFile         State = "awaiting_file"
	StateParsingReceipt       State = "parsing_receipt"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSubmitting           State = "submitting"
	StateSubmitted            State = "submitted"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether s ends the workflow.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateFailed || s == StateCancelled
}

// Category is the closed set of reimbursable expense categories.
type Category string

const (
	CategoryTransportation Category = "transportation"
	CategoryWellness       Category = "health_wellness"
)

// ParseCategory validates a raw category value from a form or command.
func ParseCategory(raw string) (Category, error) {
	switch Category(raw) {
	case CategoryTransportation:
		return CategoryTransportation, nil
	case CategoryWellness:
		return CategoryWellness, nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// Display returns the human-readable category name shown in Slack messages.
func (c Category) Display() string {
	if c == CategoryTransportation {
		return "Transportation"
	}
	return "Health and Wellness"
}

// DateToday is the sentinel meaning "resolve to the current date at
// submission time".
const DateToday = "TODAY"

// ExpenseFields holds the user-entered expense data, populated incrementally
// as the workflow advances.
type ExpenseFields struct {
	Date     string // YYYY-MM-DD or DateToday
	Amount   decimal.Decimal
	Category Category
	Notes    string
}

// ReceiptArtifact holds the AI-extracted receipt values alongside the
// normalized ones, plus the transient file backing the eventual submission.
type ReceiptArtifact struct {
	OriginalAmount   decimal.Decimal
	OriginalCurrency string
	NormalizedAmount decimal.Decimal
	ConversionRate   decimal.Decimal
	WasConverted     bool
	TempPath         string
}

// PendingRequest is the unit of correlation: one in-flight reimbursement
// transaction assembled from independently-arriving Slack events.
type PendingRequest struct {
	ID        string
	UserID    string
	ChannelID string
	Kind      Kind
	State     State
	Fields    ExpenseFields
	Receipt   *ReceiptArtifact

	// AnchorTS is the timestamp of the channel message updated in place as
	// the workflow progresses.
	AnchorTS  string
	CreatedAt time.Time
}

// TempPath returns the transient receipt file path, if any.
func (r *PendingRequest) TempPath() string {
	if r.Receipt == nil {
		return ""
	}
	return r.Receipt.TempPath
}
