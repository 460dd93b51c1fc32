package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Button is a user-facing action attached to a message.
type Button struct {
	Label    string
	ActionID string
	Value    string
	Primary  bool
}

// Message is a channel message in mrkdwn form with optional action buttons.
// Block Kit rendering is the transport's concern.
type Message struct {
	Text    string
	Buttons []Button
}

// Messenger posts and mutates channel messages. Implemented by the Slack
// channel; faked in workflow tests.
type Messenger interface {
	PostMessage(ctx context.Context, channelID string, msg Message) (ts string, err error)
	UpdateMessage(ctx context.Context, channelID, ts string, msg Message) error
	DeleteMessage(ctx context.Context, channelID, ts string) error
	PostEphemeral(ctx context.Context, channelID, userID string, msg Message) error
}

// FileMeta describes a shared file as reported by the chat platform.
type FileMeta struct {
	ID       string
	Name     string
	Mimetype string
	// DownloadURL requires the bot token to fetch.
	DownloadURL string
}

// FileFetcher resolves file-shared notifications into file bytes.
type FileFetcher interface {
	FileInfo(ctx context.Context, fileID string) (FileMeta, error)
	Download(ctx context.Context, meta FileMeta) ([]byte, error)
}

// Modals opens the interactive forms. Form layout is owned by the transport;
// the workflow only decides when a form is shown and with what seed data.
type Modals interface {
	OpenExpenseForm(ctx context.Context, triggerID, channelID string) error
	OpenConfirmForm(ctx context.Context, triggerID string, req PendingRequest) error
	OpenConfigureForm(ctx context.Context, triggerID string, current Credentials, hasExisting bool) error
}

// Credentials is a user's decrypted ledger credential pair.
type Credentials struct {
	APIToken  string
	AccountID string
	UpdatedAt time.Time
}

// CredentialStore is the vault surface the workflow consumes. Absence of a
// credential is a normal outcome, not an error.
type CredentialStore interface {
	Get(userID string) (Credentials, bool, error)
	Put(userID, apiToken, accountID string) error
}

// Conversion is the outcome of normalizing an amount to the base currency.
type Conversion struct {
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	From         string
	WasConverted bool
}

// Converter normalizes receipt amounts to the ledger's base currency. It
// always returns a usable conversion; rate-source failures stay inside.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currencyCode string) Conversion
	BaseCurrency() string
}

// ReceiptData is the structured best-effort guess extracted from a receipt
// image by the vision model.
type ReceiptData struct {
	Date        string // YYYY-MM-DD, may be empty
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// ReceiptParser extracts structured expense data from a receipt image or PDF.
type ReceiptParser interface {
	Parse(ctx context.Context, data []byte, mimeType string) (ReceiptData, error)
}

// FailureKind classifies a ledger submission failure.
type FailureKind string

const (
	FailureUnauthorized FailureKind = "unauthorized"
	FailureForbidden    FailureKind = "forbidden"
	FailureValidation   FailureKind = "validation"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureFileMissing  FailureKind = "file_missing"
	FailureAPI          FailureKind = "api"
	FailureNetwork      FailureKind = "network"
)

// SubmitResult is the structured outcome of a ledger call. The adapter never
// lets an error escape into the workflow layer.
type SubmitResult struct {
	OK      bool
	Kind    FailureKind
	Message string
}

// ExpenseSubmission is the payload handed to the ledger adapter. SpentDate is
// already resolved to a concrete YYYY-MM-DD date.
type ExpenseSubmission struct {
	Category    Category
	SpentDate   string
	Amount      decimal.Decimal
	Notes       string
	ReceiptPath string
}

// CategoryTotals is period-to-date spend per category in the base currency.
type CategoryTotals struct {
	Transportation decimal.Decimal
	Wellness       decimal.Decimal
}

// Ledger is the external expense API surface.
type Ledger interface {
	AddExpense(ctx context.Context, creds Credentials, exp ExpenseSubmission) SubmitResult
	ListExpenses(ctx context.Context, creds Credentials, from, to time.Time) (CategoryTotals, error)
}

// SubmissionRecord is one audit-log entry for a ledger submission attempt.
type SubmissionRecord struct {
	RequestID string
	UserID    string
	Category  Category
	Amount    decimal.Decimal
	Outcome   string
	Message   string
	CreatedAt time.Time
}

// SubmissionLog records submission attempts for operational audit. Failures
// are logged, never propagated into the workflow.
type SubmissionLog interface {
	Record(ctx context.Context, rec SubmissionRecord) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
