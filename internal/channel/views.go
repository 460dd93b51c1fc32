package channel

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
	"github.com/henry-yukit-rp/dhuBot/internal/workflow"
)

// Modal callback identifiers.
const (
	callbackReimburseModal = "reimburse_modal"
	callbackFileChoice     = "file_choice_modal"
	callbackConfirmModal   = "quick_reimburse_confirm_modal"
	callbackConfigureModal = "configure_modal"
)

func plainText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// messageBlocks renders a workflow message as Block Kit blocks.
func messageBlocks(msg domain.Message) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn(msg.Text), nil, nil),
	}
	if len(msg.Buttons) > 0 {
		var elements []slack.BlockElement
		for _, b := range msg.Buttons {
			btn := slack.NewButtonBlockElement(b.ActionID, b.Value, plainText(b.Label))
			if b.Primary {
				btn = btn.WithStyle(slack.StylePrimary)
			}
			elements = append(elements, btn)
		}
		blocks = append(blocks, slack.NewActionBlock("workflow_actions", elements...))
	}
	return blocks
}

func categoryOptions() []*slack.OptionBlockObject {
	return []*slack.OptionBlockObject{
		slack.NewOptionBlockObject(string(domain.CategoryTransportation), plainText("Transportation"), nil),
		slack.NewOptionBlockObject(string(domain.CategoryWellness), plainText("Health and Wellness"), nil),
	}
}

// expenseFormView is the initial manual entry form. The originating channel
// rides in private metadata so the follow-up messages land in the right place.
func expenseFormView(channelID string) slack.ModalViewRequest {
	date := slack.NewDatePickerBlockElement("date_input")
	date.Placeholder = plainText("Select a date")

	amount := slack.NewPlainTextInputBlockElement(plainText("Enter amount (e.g., 42.50)"), "amount_input")

	category := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plainText("Select category"), "category_input", categoryOptions()...)

	notes := slack.NewPlainTextInputBlockElement(plainText("Add any notes or description (optional)"), "notes_input")
	notes.Multiline = true
	notesBlock := slack.NewInputBlock(workflow.BlockNotes, plainText("Notes"), nil, notes)
	notesBlock.Optional = true

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      callbackReimburseModal,
		PrivateMetadata: channelID,
		Title:           plainText("Reimbursement Request"),
		Submit:          plainText("Next"),
		Close:           plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock(workflow.BlockDate, plainText("Date"), nil, date),
			slack.NewInputBlock(workflow.BlockAmount, plainText("Total Amount"), nil, amount),
			slack.NewInputBlock(workflow.BlockCategory, plainText("Category"), nil, category),
			notesBlock,
		}},
	}
}

// fileChoiceView follows a validated form: summary plus the with/without-file
// decision, keyed by the request ID in private metadata.
func fileChoiceView(req domain.PendingRequest) slack.ModalViewRequest {
	summary := fmt.Sprintf("*Your Details:*\n• Date: %s\n• Amount: Php %s\n• Category: %s",
		req.Fields.Date, req.Fields.Amount.StringFixed(2), req.Fields.Category.Display())
	if req.Fields.Notes != "" {
		summary += fmt.Sprintf("\n• Notes: %s", req.Fields.Notes)
	}

	withFile := slack.NewButtonBlockElement(workflow.ActionWithFile, req.ID, plainText("With File")).WithStyle(slack.StylePrimary)
	withoutFile := slack.NewButtonBlockElement(workflow.ActionWithoutFile, req.ID, plainText("Without File"))

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      callbackFileChoice,
		PrivateMetadata: req.ID,
		Title:           plainText("Attach Receipt?"),
		Close:           plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn(summary), nil, nil),
			slack.NewDividerBlock(),
			slack.NewSectionBlock(mrkdwn("*Do you have a file to attach?*"), nil, nil),
			slack.NewActionBlock("file_choice_actions", withFile, withoutFile),
		}},
	}
}

// confirmFormView is the editable confirmation for an analyzed receipt.
func confirmFormView(req domain.PendingRequest) slack.ModalViewRequest {
	date := slack.NewDatePickerBlockElement("date_input")
	date.Placeholder = plainText("Select a date")
	if req.Fields.Date != "" && req.Fields.Date != domain.DateToday {
		date.InitialDate = req.Fields.Date
	}

	amount := slack.NewPlainTextInputBlockElement(plainText("Enter amount (e.g., 42.50)"), "amount_input")
	amount.InitialValue = req.Fields.Amount.StringFixed(2)

	conversionNote := "_Original amount in USD_"
	if r := req.Receipt; r != nil && r.WasConverted {
		conversionNote = fmt.Sprintf("_Converted from %s %s @ rate %s_",
			r.OriginalCurrency, r.OriginalAmount.StringFixed(2), r.ConversionRate.String())
	}

	category := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plainText("Select category"), "category_input", categoryOptions()...)
	category.InitialOption = slack.NewOptionBlockObject(string(req.Fields.Category), plainText(req.Fields.Category.Display()), nil)

	notes := slack.NewPlainTextInputBlockElement(plainText("Add any notes (optional)"), "notes_input")
	notes.Multiline = true
	notes.InitialValue = req.Fields.Notes
	notesBlock := slack.NewInputBlock(workflow.BlockNotes, plainText("Notes"), nil, notes)
	notesBlock.Optional = true

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      callbackConfirmModal,
		PrivateMetadata: req.ID,
		Title:           plainText("Confirm Expense"),
		Submit:          plainText("Submit to Harvest"),
		Close:           plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn("*Review and edit the expense details below:*"), nil, nil),
			slack.NewInputBlock(workflow.BlockDate, plainText("Date"), nil, date),
			slack.NewInputBlock(workflow.BlockAmount, plainText("Amount (USD)"), nil, amount),
			slack.NewContextBlock("conversion_context", mrkdwn(conversionNote)),
			slack.NewInputBlock(workflow.BlockCategory, plainText("Category"), nil, category),
			notesBlock,
		}},
	}
}

func configureView(current domain.Credentials, hasExisting bool) slack.ModalViewRequest {
	token := slack.NewPlainTextInputBlockElement(plainText("Enter your Harvest API Token"), "api_token_input")
	account := slack.NewPlainTextInputBlockElement(plainText("Enter your Harvest Account ID"), "account_id_input")
	if hasExisting {
		token.InitialValue = current.APIToken
		account.InitialValue = current.AccountID
	}

	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: callbackConfigureModal,
		Title:      plainText("Harvest Configuration"),
		Submit:     plainText("Save"),
		Close:      plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock(workflow.BlockAPIToken, plainText("Harvest API Token"), nil, token),
			slack.NewInputBlock(workflow.BlockAccount, plainText("Harvest Account ID"), nil, account),
		}},
	}
}

func configSavedView() slack.ModalViewRequest {
	return slack.ModalViewRequest{
		Type:  slack.VTModal,
		Title: plainText("Configuration Saved"),
		Close: plainText("Close"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn("*Your Harvest configuration has been saved.*\n\nYou can run `/configure` again to update your settings."), nil, nil),
		}},
	}
}

func uploadInstructionsView() slack.ModalViewRequest {
	return slack.ModalViewRequest{
		Type:  slack.VTModal,
		Title: plainText("Upload File"),
		Close: plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn("*Please upload your receipt file in the channel.*\n\nI will process your reimbursement once I receive the file."), nil, nil),
		}},
	}
}

func processingView() slack.ModalViewRequest {
	return slack.ModalViewRequest{
		Type:  slack.VTModal,
		Title: plainText("Processing..."),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn("*Processing your reimbursement request...*\n\nPlease wait while we submit to Harvest."), nil, nil),
		}},
	}
}
