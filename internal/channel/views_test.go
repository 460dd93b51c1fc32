package channel

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/slack-go/slack"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
	"github.com/henry-yukit-rp/dhuBot/internal/workflow"
)

func TestFormInputFromState(t *testing.T) {
	state := &slack.ViewState{
		Values: map[string]map[string]slack.BlockAction{
			workflow.BlockDate:     {"date_input": {SelectedDate: "2024-05-01"}},
			workflow.BlockAmount:   {"amount_input": {Value: "42.50"}},
			workflow.BlockCategory: {"category_input": {SelectedOption: slack.OptionBlockObject{Value: "transportation"}}},
			workflow.BlockNotes:    {"notes_input": {Value: "taxi"}},
		},
	}
	in := formInputFromState(state)
	if in.Date != "2024-05-01" || in.Amount != "42.50" || in.Category != "transportation" || in.Notes != "taxi" {
		t.Errorf("input = %+v", in)
	}
}

func TestFormInputFromStateMissingOptionalBlocks(t *testing.T) {
	state := &slack.ViewState{
		Values: map[string]map[string]slack.BlockAction{
			workflow.BlockAmount: {"amount_input": {Value: "10"}},
		},
	}
	in := formInputFromState(state)
	if in.Amount != "10" || in.Notes != "" || in.Date != "" {
		t.Errorf("input = %+v", in)
	}
}

func TestMessageBlocksWithButtons(t *testing.T) {
	msg := domain.Message{
		Text: "*Receipt Analyzed*",
		Buttons: []domain.Button{
			{Label: "Review & Submit", ActionID: workflow.ActionReview, Value: "r1", Primary: true},
			{Label: "Cancel", ActionID: workflow.ActionCancel, Value: "r1"},
		},
	}
	blocks := messageBlocks(msg)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want section + actions", len(blocks))
	}
	actions, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("second block is %T, want *slack.ActionBlock", blocks[1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("buttons = %d, want 2", len(actions.Elements.ElementSet))
	}
	btn, ok := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if !ok {
		t.Fatalf("element is %T", actions.Elements.ElementSet[0])
	}
	if btn.ActionID != workflow.ActionReview || btn.Value != "r1" || btn.Style != slack.StylePrimary {
		t.Errorf("button = %+v", btn)
	}
}

func TestMessageBlocksPlain(t *testing.T) {
	blocks := messageBlocks(domain.Message{Text: "hello"})
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
}

func TestConfirmFormViewSeedsFields(t *testing.T) {
	req := domain.PendingRequest{
		ID: "r1",
		Fields: domain.ExpenseFields{
			Date:     "2024-05-08",
			Amount:   decimal.RequireFromString("26.79"),
			Category: domain.CategoryWellness,
			Notes:    "lunch",
		},
		Receipt: &domain.ReceiptArtifact{
			OriginalAmount:   decimal.NewFromInt(1500),
			OriginalCurrency: "PHP",
			ConversionRate:   decimal.NewFromInt(56),
			WasConverted:     true,
		},
	}
	view := confirmFormView(req)
	if view.CallbackID != callbackConfirmModal || view.PrivateMetadata != "r1" {
		t.Errorf("view identity = %s / %s", view.CallbackID, view.PrivateMetadata)
	}

	var foundConversion bool
	for _, b := range view.Blocks.BlockSet {
		if ctxBlock, ok := b.(*slack.ContextBlock); ok {
			for _, el := range ctxBlock.ContextElements.Elements {
				if txt, ok := el.(*slack.TextBlockObject); ok && strings.Contains(txt.Text, "Converted from PHP 1500.00") {
					foundConversion = true
				}
			}
		}
	}
	if !foundConversion {
		t.Error("conversion context line missing")
	}
}

func TestFileChoiceViewCarriesRequestID(t *testing.T) {
	req := domain.PendingRequest{
		ID: "req-42",
		Fields: domain.ExpenseFields{
			Date:     "2024-05-01",
			Amount:   decimal.RequireFromString("42.50"),
			Category: domain.CategoryTransportation,
		},
	}
	view := fileChoiceView(req)
	if view.PrivateMetadata != "req-42" {
		t.Errorf("private metadata = %q", view.PrivateMetadata)
	}
	actions, ok := view.Blocks.BlockSet[len(view.Blocks.BlockSet)-1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("last block is %T", view.Blocks.BlockSet[len(view.Blocks.BlockSet)-1])
	}
	ids := map[string]bool{}
	for _, el := range actions.Elements.ElementSet {
		if btn, ok := el.(*slack.ButtonBlockElement); ok {
			ids[btn.ActionID] = true
		}
	}
	if !ids[workflow.ActionWithFile] || !ids[workflow.ActionWithoutFile] {
		t.Errorf("action ids = %v", ids)
	}
}
