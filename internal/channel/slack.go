// Package channel is the Slack transport: the Socket Mode event loop that
// dispatches slash commands, modal submissions, block actions, and
// file-shared events into the workflow engine, and the engine's view of
// Slack (messages, files, modals).
package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
	"github.com/henry-yukit-rp/dhuBot/internal/workflow"
)

// Workflow is the engine surface the gateway dispatches into.
type Workflow interface {
	HandleReimburseCommand(ctx context.Context, userID, channelID, triggerID string) error
	HandleFormSubmit(ctx context.Context, userID, channelID string, in workflow.FormInput) (domain.PendingRequest, workflow.FieldErrors, error)
	HandleFileChoice(ctx context.Context, requestID string, withFile bool) error
	HandleQuickCommand(ctx context.Context, userID, channelID string, category domain.Category, notes string) error
	HandleFileShared(ctx context.Context, userID, channelID, fileID string) error
	HandleReviewAction(ctx context.Context, requestID, triggerID string) error
	HandleConfirmSubmit(ctx context.Context, requestID string, in workflow.FormInput) (workflow.FieldErrors, error)
	HandleCancel(ctx context.Context, requestID string) error
	HandleConfigureCommand(ctx context.Context, userID, triggerID string) error
	HandleConfigureSubmit(ctx context.Context, userID, apiToken, accountID string) (workflow.FieldErrors, error)
	HandleStatusCommand(ctx context.Context, userID, channelID string) error
}

// Slack is the Socket Mode gateway. It also implements domain.Messenger,
// domain.FileFetcher, and domain.Modals for the engine.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	engine   Workflow
	logger   *slog.Logger
}

// SlackConfig configures the Slack gateway.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack gateway. The workflow engine is attached via
// SetEngine before Start, breaking the construction cycle between the two.
func NewSlack(cfg SlackConfig) *Slack {
	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		client:   api,
		logger:   cfg.Logger,
	}
}

// SetEngine attaches the workflow engine. Must be called before Start.
func (s *Slack) SetEngine(engine Workflow) { s.engine = engine }

// Start connects via Socket Mode and dispatches events until ctx is done.
func (s *Slack) Start(ctx context.Context) error {
	authResp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	s.socket = socketmode.New(s.client)

	go func() {
		for evt := range s.socket.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				s.socket.Ack(*evt.Request)
				go s.handleEventsAPI(ctx, apiEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				s.socket.Ack(*evt.Request)
				go s.handleSlashCommand(ctx, cmd)

			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				s.handleInteractive(ctx, evt.Request, callback)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					s.socket.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.socket.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.FileSharedEvent:
		s.logger.Info("file shared", "user", ev.UserID, "channel", ev.ChannelID, "file", ev.FileID)
		if err := s.engine.HandleFileShared(ctx, ev.UserID, ev.ChannelID, ev.FileID); err != nil {
			s.logger.Error("file-shared handler failed", "error", err)
		}
	}
}

func (s *Slack) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	s.logger.Info("slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)

	var err error
	switch cmd.Command {
	case "/reimburse":
		err = s.engine.HandleReimburseCommand(ctx, cmd.UserID, cmd.ChannelID, cmd.TriggerID)
	case "/reimburse-transpo":
		err = s.engine.HandleQuickCommand(ctx, cmd.UserID, cmd.ChannelID, domain.CategoryTransportation, strings.TrimSpace(cmd.Text))
	case "/reimburse-wellness":
		err = s.engine.HandleQuickCommand(ctx, cmd.UserID, cmd.ChannelID, domain.CategoryWellness, strings.TrimSpace(cmd.Text))
	case "/reimbursement-status":
		err = s.engine.HandleStatusCommand(ctx, cmd.UserID, cmd.ChannelID)
	case "/configure":
		err = s.engine.HandleConfigureCommand(ctx, cmd.UserID, cmd.TriggerID)
	default:
		return
	}
	if err != nil {
		s.logger.Error("command handler failed", "command", cmd.Command, "error", err)
	}
}

func (s *Slack) handleInteractive(ctx context.Context, req *socketmode.Request, callback slack.InteractionCallback) {
	switch callback.Type {
	case slack.InteractionTypeViewSubmission:
		// View submissions carry their response in the ack payload, so they
		// are handled synchronously.
		s.handleViewSubmission(ctx, req, callback)

	case slack.InteractionTypeBlockActions:
		s.socket.Ack(*req)
		go s.handleBlockActions(ctx, callback)

	default:
		s.socket.Ack(*req)
	}
}

// formInputFromState reads the shared modal field layout out of the view
// state.
func formInputFromState(state *slack.ViewState) workflow.FormInput {
	values := state.Values
	return workflow.FormInput{
		Date:     values[workflow.BlockDate]["date_input"].SelectedDate,
		Amount:   values[workflow.BlockAmount]["amount_input"].Value,
		Category: values[workflow.BlockCategory]["category_input"].SelectedOption.Value,
		Notes:    values[workflow.BlockNotes]["notes_input"].Value,
	}
}

func (s *Slack) handleViewSubmission(ctx context.Context, req *socketmode.Request, callback slack.InteractionCallback) {
	switch callback.View.CallbackID {
	case callbackReimburseModal:
		in := formInputFromState(callback.View.State)
		channelID := callback.View.PrivateMetadata
		pending, fieldErrs, err := s.engine.HandleFormSubmit(ctx, callback.User.ID, channelID, in)
		if err != nil {
			s.logger.Error("form submit failed", "error", err)
			s.socket.Ack(*req, errorsResponse(workflow.FieldErrors{workflow.BlockDate: "An error occurred. Please try again."}))
			return
		}
		if fieldErrs != nil {
			s.socket.Ack(*req, errorsResponse(fieldErrs))
			return
		}
		view := fileChoiceView(pending)
		s.socket.Ack(*req, slack.NewUpdateViewSubmissionResponse(&view))

	case callbackConfirmModal:
		in := formInputFromState(callback.View.State)
		fieldErrs, err := s.engine.HandleConfirmSubmit(ctx, callback.View.PrivateMetadata, in)
		if err != nil {
			s.logger.Error("confirm submit failed", "error", err)
		}
		if fieldErrs != nil {
			s.socket.Ack(*req, errorsResponse(fieldErrs))
			return
		}
		s.socket.Ack(*req)

	case callbackConfigureModal:
		values := callback.View.State.Values
		apiToken := values[workflow.BlockAPIToken]["api_token_input"].Value
		accountID := values[workflow.BlockAccount]["account_id_input"].Value
		fieldErrs, err := s.engine.HandleConfigureSubmit(ctx, callback.User.ID, apiToken, accountID)
		if err != nil {
			s.logger.Error("configure submit failed", "error", err)
		}
		if fieldErrs != nil {
			s.socket.Ack(*req, errorsResponse(fieldErrs))
			return
		}
		view := configSavedView()
		s.socket.Ack(*req, slack.NewUpdateViewSubmissionResponse(&view))

	default:
		s.socket.Ack(*req)
	}
}

func errorsResponse(fieldErrs workflow.FieldErrors) *slack.ViewSubmissionResponse {
	return slack.NewErrorsViewSubmissionResponse(fieldErrs)
}

func (s *Slack) handleBlockActions(ctx context.Context, callback slack.InteractionCallback) {
	for _, action := range callback.ActionCallback.BlockActions {
		var err error
		switch action.ActionID {
		case workflow.ActionWithFile:
			requestID := callback.View.PrivateMetadata
			s.swapView(ctx, callback.View.ID, uploadInstructionsView())
			err = s.engine.HandleFileChoice(ctx, requestID, true)

		case workflow.ActionWithoutFile:
			requestID := callback.View.PrivateMetadata
			s.swapView(ctx, callback.View.ID, processingView())
			err = s.engine.HandleFileChoice(ctx, requestID, false)

		case workflow.ActionReview:
			err = s.engine.HandleReviewAction(ctx, action.Value, callback.TriggerID)

		case workflow.ActionCancel:
			err = s.engine.HandleCancel(ctx, action.Value)

		default:
			continue
		}
		if err != nil {
			s.logger.Error("block action failed", "action", action.ActionID, "error", err)
		}
	}
}

func (s *Slack) swapView(ctx context.Context, viewID string, view slack.ModalViewRequest) {
	if viewID == "" {
		return
	}
	if _, err := s.client.UpdateViewContext(ctx, view, "", "", viewID); err != nil {
		s.logger.Warn("update view", "error", err)
	}
}

// --- domain.Messenger ---

func (s *Slack) PostMessage(ctx context.Context, channelID string, msg domain.Message) (string, error) {
	_, ts, err := s.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(messageBlocks(msg)...),
	)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return ts, nil
}

func (s *Slack) UpdateMessage(ctx context.Context, channelID, ts string, msg domain.Message) error {
	_, _, _, err := s.client.UpdateMessageContext(ctx, channelID, ts,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(messageBlocks(msg)...),
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *Slack) DeleteMessage(ctx context.Context, channelID, ts string) error {
	if _, _, err := s.client.DeleteMessageContext(ctx, channelID, ts); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *Slack) PostEphemeral(ctx context.Context, channelID, userID string, msg domain.Message) error {
	_, err := s.client.PostEphemeralContext(ctx, channelID, userID,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(messageBlocks(msg)...),
	)
	if err != nil {
		return fmt.Errorf("post ephemeral: %w", err)
	}
	return nil
}

// --- domain.FileFetcher ---

func (s *Slack) FileInfo(ctx context.Context, fileID string) (domain.FileMeta, error) {
	file, _, _, err := s.client.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return domain.FileMeta{}, fmt.Errorf("file info: %w", err)
	}
	return domain.FileMeta{
		ID:          file.ID,
		Name:        file.Name,
		Mimetype:    file.Mimetype,
		DownloadURL: file.URLPrivateDownload,
	}, nil
}

func (s *Slack) Download(ctx context.Context, meta domain.FileMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.client.GetFileContext(ctx, meta.DownloadURL, &buf); err != nil {
		return nil, fmt.Errorf("download file %s: %w", meta.ID, err)
	}
	return buf.Bytes(), nil
}

// --- domain.Modals ---

func (s *Slack) OpenExpenseForm(ctx context.Context, triggerID, channelID string) error {
	if _, err := s.client.OpenViewContext(ctx, triggerID, expenseFormView(channelID)); err != nil {
		return fmt.Errorf("open expense form: %w", err)
	}
	return nil
}

func (s *Slack) OpenConfirmForm(ctx context.Context, triggerID string, req domain.PendingRequest) error {
	if _, err := s.client.OpenViewContext(ctx, triggerID, confirmFormView(req)); err != nil {
		return fmt.Errorf("open confirm form: %w", err)
	}
	return nil
}

func (s *Slack) OpenConfigureForm(ctx context.Context, triggerID string, current domain.Credentials, hasExisting bool) error {
	if _, err := s.client.OpenViewContext(ctx, triggerID, configureView(current, hasExisting)); err != nil {
		return fmt.Errorf("open configure form: %w", err)
	}
	return nil
}
