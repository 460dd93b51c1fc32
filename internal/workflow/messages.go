package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

// Interactive action identifiers shared with the transport layer.
const (
	ActionWithFile    = "reimburse_with_file"
	ActionWithoutFile = "reimburse_without_file"
	ActionReview      = "quick_reimburse_review"
	ActionCancel      = "quick_reimburse_cancel"
)

// Modal block identifiers, used for inline field errors.
const (
	BlockDate     = "date_block"
	BlockAmount   = "amount_block"
	BlockCategory = "category_block"
	BlockNotes    = "notes_block"
	BlockAPIToken = "api_token_block"
	BlockAccount  = "account_id_block"
)

func summaryLines(f domain.ExpenseFields, currencyLabel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "• Date: %s\n• Amount: %s %s\n• Category: %s",
		f.Date, currencyLabel, f.Amount.StringFixed(2), f.Category.Display())
	if f.Notes != "" {
		fmt.Fprintf(&b, "\n• Notes: %s", f.Notes)
	}
	return b.String()
}

func msgNotConfigured() domain.Message {
	return domain.Message{
		Text: "*Harvest credentials not found*\n\nBefore you can submit reimbursements, you need to configure your Harvest API credentials.\n\n" +
			"*How to configure:*\n1. Run `/configure` in any channel\n2. Enter your Harvest API Token and Account ID\n3. Click Save",
	}
}

func msgWaitingForFile(req domain.PendingRequest) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Waiting for receipt file*\n\n<@%s>, please upload your receipt file to complete your reimbursement request.\n\n%s",
			req.UserID, summaryLines(req.Fields, "Php")),
	}
}

func msgQuickPrompt(userID string, category domain.Category, notes string) domain.Message {
	text := fmt.Sprintf("*%s Reimbursement*\n\n<@%s>, please upload your receipt image.\n\nI will automatically extract the date and amount from the receipt.",
		category.Display(), userID)
	if notes != "" {
		text += fmt.Sprintf("\n\n*Notes:* %s", notes)
	}
	text += "\n\n_Supported formats: JPG, PNG, HEIC, PDF_"
	return domain.Message{Text: text}
}

func msgAnalyzing() domain.Message {
	return domain.Message{Text: "*Analyzing Receipt*\n\nReading receipt details with AI..."}
}

func msgProcessing(userID string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Processing Reimbursement*\n\nSubmitting <@%s>'s expense to Harvest...", userID),
	}
}

func msgSubmittingQuick(userID string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Submitting to Harvest...*\n\nProcessing <@%s>'s expense...", userID),
	}
}

func msgInvalidFileType() domain.Message {
	return domain.Message{Text: "Please upload an image file (JPG, PNG, HEIC) or PDF."}
}

func msgAnalyzed(req domain.PendingRequest) domain.Message {
	r := req.Receipt
	dateLine := "Not found"
	if req.Fields.Date != "" && req.Fields.Date != domain.DateToday {
		if t, err := time.Parse("2006-01-02", req.Fields.Date); err == nil {
			dateLine = t.Format("Jan 02, 2006")
		}
	}
	amountLine := "$" + req.Fields.Amount.StringFixed(2)
	if r != nil && r.WasConverted {
		amountLine += fmt.Sprintf(" _(converted from %s %s)_", r.OriginalCurrency, r.OriginalAmount.StringFixed(2))
	}
	text := fmt.Sprintf("*Receipt Analyzed*\n\nPlease review the extracted details:\n\n• Date: %s\n• Amount: %s\n• Category: %s",
		dateLine, amountLine, req.Fields.Category.Display())
	if req.Fields.Notes != "" {
		text += fmt.Sprintf("\n• Notes: %s", req.Fields.Notes)
	}
	return domain.Message{
		Text: text,
		Buttons: []domain.Button{
			{Label: "Review & Submit", ActionID: ActionReview, Value: req.ID, Primary: true},
			{Label: "Cancel", ActionID: ActionCancel, Value: req.ID},
		},
	}
}

func msgParseFailed(userID, reason string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Receipt Analysis Failed*\n\n<@%s>, I couldn't extract data from the receipt.\n\n*Error:* %s\n\nPlease try with a clearer image or use `/reimburse` to enter details manually.",
			userID, reason),
	}
}

func msgCredentialsMissing(userID string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Reimbursement Failed*\n\n<@%s>, your Harvest credentials were not found.\n\nPlease run `/configure` to set up your credentials and try again.", userID),
	}
}

func msgSubmittedManual(req domain.PendingRequest, withReceipt bool) domain.Message {
	text := fmt.Sprintf("*Reimbursement Processed Successfully*\n\n<@%s>'s reimbursement has been submitted to Harvest.\n\n%s",
		req.UserID, summaryLines(req.Fields, "Php"))
	if !withReceipt {
		text += "\n• Receipt: None"
	}
	return domain.Message{Text: text}
}

func msgSubmittedQuick(req domain.PendingRequest) domain.Message {
	dateLine := req.Fields.Date
	if t, err := time.Parse("2006-01-02", req.Fields.Date); err == nil {
		dateLine = t.Format("Jan 02, 2006")
	}
	amountLine := "$" + req.Fields.Amount.StringFixed(2)
	if r := req.Receipt; r != nil && r.WasConverted {
		amountLine += fmt.Sprintf(" _(converted from %s %s @ 1 USD = %s %s)_",
			r.OriginalCurrency, r.OriginalAmount.StringFixed(2), r.ConversionRate.String(), r.OriginalCurrency)
	}
	text := fmt.Sprintf("*Reimbursement Processed Successfully*\n\n<@%s>'s %s expense has been submitted to Harvest.\n\n• Date: %s\n• Amount: %s\n• Category: %s",
		req.UserID, req.Fields.Category.Display(), dateLine, amountLine, req.Fields.Category.Display())
	if req.Fields.Notes != "" {
		text += fmt.Sprintf("\n• Notes: %s", req.Fields.Notes)
	}
	return domain.Message{Text: text}
}

func msgSubmitFailed(userID, reason string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Reimbursement Failed*\n\n<@%s>, your reimbursement could not be processed.\n\n*Error:* %s", userID, reason),
	}
}

func msgCancelled(userID string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Reimbursement Cancelled*\n\n<@%s>, your reimbursement request has been cancelled.", userID),
	}
}

func msgInternalError(userID string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Error Processing Request*\n\n<@%s>, something went wrong while processing your request. Please try again.", userID),
	}
}

func msgStatusReport(header, transportation, wellness string) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("*Reimbursement Status*\n\n%s\n\n%s\n\n%s\n\n_Use `/reimburse-transpo` or `/reimburse-wellness` to submit expenses_",
			header, transportation, wellness),
	}
}
