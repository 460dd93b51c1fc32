// Package workflow is the reimbursement state machine. It correlates
// independently-arriving Slack events (slash command, form submit, file
// share, button click) into one logical expense submission, advancing a
// Pending Request through its legal states and guaranteeing cleanup of the
// store entry and any temp file on every terminal path.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
	"github.com/henry-yukit-rp/dhuBot/internal/metrics"
	"github.com/henry-yukit-rp/dhuBot/internal/receipt"
	"github.com/henry-yukit-rp/dhuBot/internal/store"
	"github.com/henry-yukit-rp/dhuBot/internal/usage"
)

// Engine drives the reimbursement workflow. All handlers are safe for
// concurrent dispatch; state transitions are claimed atomically through the
// correlation store so racing events resolve to at most one winner.
type Engine struct {
	store   *store.Store
	msgr    domain.Messenger
	files   domain.FileFetcher
	modals  domain.Modals
	creds   domain.CredentialStore
	parser  domain.ReceiptParser
	conv    domain.Converter
	ledger  domain.Ledger
	history domain.SubmissionLog
	clock   domain.Clock
	tempDir string
	logger  *slog.Logger
}

// Config carries the engine's collaborators. All fields except History and
// TempDir are required.
type Config struct {
	Store       *store.Store
	Messenger   domain.Messenger
	Files       domain.FileFetcher
	Modals      domain.Modals
	Credentials domain.CredentialStore
	Parser      domain.ReceiptParser
	Converter   domain.Converter
	Ledger      domain.Ledger
	History     domain.SubmissionLog
	Clock       domain.Clock
	TempDir     string
	Logger      *slog.Logger
}

// New creates the workflow engine.
func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Engine{
		store:   cfg.Store,
		msgr:    cfg.Messenger,
		files:   cfg.Files,
		modals:  cfg.Modals,
		creds:   cfg.Credentials,
		parser:  cfg.Parser,
		conv:    cfg.Converter,
		ledger:  cfg.Ledger,
		history: cfg.History,
		clock:   cfg.Clock,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger,
	}
}

// FormInput is the raw field set from a submitted modal.
type FormInput struct {
	Date     string
	Amount   string
	Category string
	Notes    string
}

// FieldErrors maps modal block IDs to inline error text. A nil map means the
// input validated.
type FieldErrors map[string]string

var sessionExpired = FieldErrors{BlockDate: "Session expired. Please try again."}

// HandleReimburseCommand opens the manual expense form, after checking the
// user has credentials configured.
func (e *Engine) HandleReimburseCommand(ctx context.Context, userID, channelID, triggerID string) error {
	_, ok, err := e.creds.Get(userID)
	if err != nil {
		return fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return e.msgr.PostEphemeral(ctx, channelID, userID, msgNotConfigured())
	}
	if err := e.modals.OpenExpenseForm(ctx, triggerID, channelID); err != nil {
		return fmt.Errorf("open expense form: %w", err)
	}
	return nil
}

// HandleFormSubmit validates the manual form. Validation failures return
// field errors without creating any state. On success a Pending Request is
// created in the awaiting-file-choice state and returned so the transport can
// present the file choice keyed by its ID.
func (e *Engine) HandleFormSubmit(ctx context.Context, userID, channelID string, in FormInput) (domain.PendingRequest, FieldErrors, error) {
	fields, fieldErrs := e.validateFields(in)
	if fieldErrs != nil {
		return domain.PendingRequest{}, fieldErrs, nil
	}

	req := domain.PendingRequest{
		ID:        store.NewRequestID(),
		UserID:    userID,
		ChannelID: channelID,
		State:     domain.StateAwaitingFileChoice,
		Fields:    fields,
		CreatedAt: e.clock.Now(),
	}
	e.store.Put(req)
	metrics.RequestsStarted.Inc()
	metrics.PendingRequests.Set(int64(e.store.Len()))

	e.logger.Info("reimbursement request created",
		"request", req.ID, "user", userID, "category", fields.Category)
	return req, nil, nil
}

func (e *Engine) validateFields(in FormInput) (domain.ExpenseFields, FieldErrors) {
	errs := FieldErrors{}

	date := strings.TrimSpace(in.Date)
	if date != "" && date != domain.DateToday {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			errs[BlockDate] = "Please select a valid date."
		}
	}
	if date == "" {
		date = domain.DateToday
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amount.IsPositive() {
		errs[BlockAmount] = "Please enter a valid amount."
	}

	category, err := domain.ParseCategory(in.Category)
	if err != nil {
		errs[BlockCategory] = "Please select a category."
	}

	if len(errs) > 0 {
		return domain.ExpenseFields{}, errs
	}
	return domain.ExpenseFields{
		Date:     date,
		Amount:   amount,
		Category: category,
		Notes:    strings.TrimSpace(in.Notes),
	}, nil
}

// HandleFileChoice resolves the with-file/without-file branch of the manual
// flow. A stale request ID is a silent no-op.
func (e *Engine) HandleFileChoice(ctx context.Context, requestID string, withFile bool) error {
	if !withFile {
		req, ok := e.store.Advance(requestID, domain.StateAwaitingFileChoice, domain.StateSubmitting,
			func(r *domain.PendingRequest) {
				r.Kind = domain.KindManualWithoutFile
				if r.Fields.Notes == "" {
					r.Fields.Notes = "Reimbursement submitted via Slack"
				}
			})
		if !ok {
			return nil
		}
		return e.submit(ctx, req, false)
	}

	req, ok := e.store.Advance(requestID, domain.StateAwaitingFileChoice, domain.StateAwaitingFile,
		func(r *domain.PendingRequest) { r.Kind = domain.KindManualWithFile })
	if !ok {
		return nil
	}

	ts, err := e.msgr.PostMessage(ctx, req.ChannelID, msgWaitingForFile(req))
	if err != nil {
		return fmt.Errorf("post waiting message: %w", err)
	}
	e.store.Advance(requestID, domain.StateAwaitingFile, domain.StateAwaitingFile,
		func(r *domain.PendingRequest) { r.AnchorTS = ts })

	e.evictPrevious(ctx, req.UserID, requestID)
	return nil
}

// HandleQuickCommand starts the AI-assisted flow: post the upload prompt and
// reserve the user's waiting-for-file slot.
func (e *Engine) HandleQuickCommand(ctx context.Context, userID, channelID string, category domain.Category, notes string) error {
	_, ok, err := e.creds.Get(userID)
	if err != nil {
		return fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return e.msgr.PostEphemeral(ctx, channelID, userID, msgNotConfigured())
	}

	ts, err := e.msgr.PostMessage(ctx, channelID, msgQuickPrompt(userID, category, notes))
	if err != nil {
		return fmt.Errorf("post upload prompt: %w", err)
	}

	req := domain.PendingRequest{
		ID:        store.NewRequestID(),
		UserID:    userID,
		ChannelID: channelID,
		Kind:      domain.KindAIAssisted,
		State:     domain.StateAwaitingFile,
		Fields: domain.ExpenseFields{
			Date:     domain.DateToday,
			Category: category,
			Notes:    strings.TrimSpace(notes),
		},
		AnchorTS:  ts,
		CreatedAt: e.clock.Now(),
	}
	e.store.Put(req)
	metrics.RequestsStarted.Inc()
	e.evictPrevious(ctx, userID, req.ID)
	metrics.PendingRequests.Set(int64(e.store.Len()))

	e.logger.Info("quick reimbursement started",
		"request", req.ID, "user", userID, "category", category)
	return nil
}

// evictPrevious binds the user's waiting-for-file slot to requestID. A
// previous occupant is evicted with full cleanup: its waiting prompt is
// removed and its temp file released.
func (e *Engine) evictPrevious(ctx context.Context, userID, requestID string) {
	evicted, had := e.store.BindUser(userID, requestID)
	if !had {
		return
	}
	e.removeTemp(evicted.TempPath())
	if evicted.AnchorTS != "" {
		if err := e.msgr.DeleteMessage(ctx, evicted.ChannelID, evicted.AnchorTS); err != nil {
			e.logger.Warn("delete stale waiting message", "error", err)
		}
	}
}

// HandleFileShared correlates a file-shared event with the user's pending
// upload. No pending entry, or a channel mismatch, is a silent no-op.
func (e *Engine) HandleFileShared(ctx context.Context, userID, channelID, fileID string) error {
	pending, ok := e.store.GetByUser(userID)
	if !ok || pending.ChannelID != channelID {
		return nil
	}

	next := domain.StateSubmitting
	if pending.Kind == domain.KindAIAssisted {
		next = domain.StateParsingReceipt
	}
	// Claim the transition; a racing duplicate event loses here.
	req, ok := e.store.Advance(pending.ID, domain.StateAwaitingFile, next, nil)
	if !ok {
		return nil
	}

	if err := e.processFile(ctx, req, fileID); err != nil {
		e.logger.Error("file processing failed", "request", req.ID, "error", err)
		if final, taken := e.finish(ctx, req.ID, domain.StateFailed, err.Error()); taken {
			if derr := e.deliver(ctx, final, msgInternalError(final.UserID)); derr != nil {
				e.logger.Warn("deliver failure notice", "error", derr)
			}
		}
		return err
	}
	return nil
}

func (e *Engine) processFile(ctx context.Context, req domain.PendingRequest, fileID string) error {
	meta, err := e.files.FileInfo(ctx, fileID)
	if err != nil {
		return fmt.Errorf("file info: %w", err)
	}

	if req.Kind == domain.KindAIAssisted && !acceptableReceipt(meta.Mimetype) {
		// Not consumable; put the slot back and tell the user.
		e.store.Advance(req.ID, req.State, domain.StateAwaitingFile, nil)
		e.store.BindUser(req.UserID, req.ID)
		_, perr := e.msgr.PostMessage(ctx, req.ChannelID, msgInvalidFileType())
		return perr
	}

	// Swap the waiting prompt for a processing message.
	if req.AnchorTS != "" {
		if err := e.msgr.DeleteMessage(ctx, req.ChannelID, req.AnchorTS); err != nil {
			e.logger.Warn("delete waiting message", "error", err)
		}
	}
	processing := msgProcessing(req.UserID)
	if req.Kind == domain.KindAIAssisted {
		processing = msgAnalyzing()
	}
	ts, err := e.msgr.PostMessage(ctx, req.ChannelID, processing)
	if err != nil {
		return fmt.Errorf("post processing message: %w", err)
	}
	claimed, ok := e.store.Advance(req.ID, req.State, req.State,
		func(r *domain.PendingRequest) { r.AnchorTS = ts })
	if !ok {
		// Entry removed mid-flight (cancel or eviction). The processing
		// message was never recorded as the anchor, so it is ours to drop.
		if derr := e.msgr.DeleteMessage(ctx, req.ChannelID, ts); derr != nil {
			e.logger.Warn("delete orphaned processing message", "error", derr)
		}
		return nil
	}
	req = claimed

	data, err := e.files.Download(ctx, meta)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	tempPath, err := e.writeTemp(meta.Name, data)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	claimed, ok = e.store.Advance(req.ID, req.State, req.State, func(r *domain.PendingRequest) {
		if r.Receipt == nil {
			r.Receipt = &domain.ReceiptArtifact{}
		}
		r.Receipt.TempPath = tempPath
	})
	if !ok {
		// Entry removed before the file was tracked; no other cleanup
		// path knows about it.
		e.removeTemp(tempPath)
		return nil
	}
	req = claimed

	if req.Kind == domain.KindAIAssisted {
		return e.analyzeReceipt(ctx, req, data, meta.Mimetype)
	}
	return e.submit(ctx, req, true)
}

func acceptableReceipt(mimetype string) bool {
	return strings.HasPrefix(mimetype, "image/") || mimetype == "application/pdf"
}

func (e *Engine) writeTemp(name string, data []byte) (string, error) {
	f, err := os.CreateTemp(e.tempDir, "receipt_*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// analyzeReceipt runs extraction and currency normalization, then re-keys the
// entry from the user slot to a fresh request ID for the confirmation stage.
func (e *Engine) analyzeReceipt(ctx context.Context, req domain.PendingRequest, data []byte, mimetype string) error {
	metrics.ReceiptParses.Inc()
	parsed, err := e.parser.Parse(ctx, data, mimetype)
	if err != nil {
		metrics.ReceiptParseFails.Inc()
		reason := "could not read the receipt"
		var perr *receipt.ParseError
		if errors.As(err, &perr) {
			reason = perr.Message
		}
		e.finish(ctx, req.ID, domain.StateFailed, reason)
		if uerr := e.msgr.UpdateMessage(ctx, req.ChannelID, req.AnchorTS, msgParseFailed(req.UserID, reason)); uerr != nil {
			e.logger.Warn("update parse-failure message", "error", uerr)
		}
		return nil
	}

	conv := e.conv.Convert(ctx, parsed.Amount, parsed.Currency)
	date := parsed.Date
	if date == "" {
		date = domain.DateToday
	}

	req, ok := e.store.Advance(req.ID, domain.StateParsingReceipt, domain.StateAwaitingConfirmation,
		func(r *domain.PendingRequest) {
			r.Fields.Date = date
			r.Fields.Amount = conv.Amount
			r.Receipt.OriginalAmount = parsed.Amount
			r.Receipt.OriginalCurrency = parsed.Currency
			r.Receipt.NormalizedAmount = conv.Amount
			r.Receipt.ConversionRate = conv.Rate
			r.Receipt.WasConverted = conv.WasConverted
		})
	if !ok {
		// Cancelled mid-parse; nothing to present.
		return nil
	}

	newID, ok := e.store.MigrateKey(req.ID)
	if !ok {
		return nil
	}
	req.ID = newID

	if err := e.msgr.UpdateMessage(ctx, req.ChannelID, req.AnchorTS, msgAnalyzed(req)); err != nil {
		return fmt.Errorf("present confirmation: %w", err)
	}
	e.logger.Info("receipt analyzed",
		"request", newID, "user", req.UserID,
		"amount", conv.Amount, "converted", conv.WasConverted)
	return nil
}

// HandleReviewAction opens the editable confirmation form for an analyzed
// receipt. A stale request ID is a silent no-op.
func (e *Engine) HandleReviewAction(ctx context.Context, requestID, triggerID string) error {
	req, ok := e.store.Get(requestID)
	if !ok {
		return nil
	}
	if err := e.modals.OpenConfirmForm(ctx, triggerID, req); err != nil {
		return fmt.Errorf("open confirm form: %w", err)
	}
	return nil
}

// HandleConfirmSubmit finalizes an AI-assisted request from the confirmation
// form. The user may have edited any field, so the amount is validated again
// here. A missing entry yields a session-expired field error and no ledger
// call.
func (e *Engine) HandleConfirmSubmit(ctx context.Context, requestID string, in FormInput) (FieldErrors, error) {
	if _, ok := e.store.Get(requestID); !ok {
		return sessionExpired, nil
	}

	fields, fieldErrs := e.validateFields(in)
	if fieldErrs != nil {
		return fieldErrs, nil
	}

	req, ok := e.store.Advance(requestID, domain.StateAwaitingConfirmation, domain.StateSubmitting,
		func(r *domain.PendingRequest) { r.Fields = fields })
	if !ok {
		return sessionExpired, nil
	}

	if err := e.msgr.UpdateMessage(ctx, req.ChannelID, req.AnchorTS, msgSubmittingQuick(req.UserID)); err != nil {
		e.logger.Warn("update submitting message", "error", err)
	}
	return nil, e.submit(ctx, req, true)
}

// submit is the terminal funnel: credential lookup, ledger call, user-facing
// result, and unconditional cleanup of the store entry and temp file.
func (e *Engine) submit(ctx context.Context, req domain.PendingRequest, withReceipt bool) error {
	creds, ok, err := e.creds.Get(req.UserID)
	if err != nil || !ok {
		if err != nil {
			e.logger.Error("credential lookup failed", "user", req.UserID, "error", err)
		}
		e.finish(ctx, req.ID, domain.StateFailed, "credentials missing")
		return e.deliver(ctx, req, msgCredentialsMissing(req.UserID))
	}

	sub := domain.ExpenseSubmission{
		Category:  req.Fields.Category,
		SpentDate: e.resolveDate(req.Fields.Date),
		Amount:    req.Fields.Amount,
		Notes:     req.Fields.Notes,
	}
	if withReceipt {
		sub.ReceiptPath = req.TempPath()
	}

	result := e.ledger.AddExpense(ctx, creds, sub)

	if result.OK {
		metrics.SubmissionsTotal.Inc()
		e.finish(ctx, req.ID, domain.StateSubmitted, "")
		e.logger.Info("expense submitted",
			"request", req.ID, "user", req.UserID,
			"amount", req.Fields.Amount, "category", req.Fields.Category)
		if req.Kind == domain.KindAIAssisted {
			return e.deliver(ctx, req, msgSubmittedQuick(req))
		}
		return e.deliver(ctx, req, msgSubmittedManual(req, withReceipt))
	}

	metrics.SubmissionFailure(string(result.Kind)).Inc()
	e.finish(ctx, req.ID, domain.StateFailed, result.Message)
	e.logger.Warn("expense submission rejected",
		"request", req.ID, "user", req.UserID, "kind", result.Kind)
	return e.deliver(ctx, req, msgSubmitFailed(req.UserID, result.Message))
}

// deliver updates the anchor message when one exists, otherwise posts fresh.
func (e *Engine) deliver(ctx context.Context, req domain.PendingRequest, msg domain.Message) error {
	if req.AnchorTS != "" {
		if err := e.msgr.UpdateMessage(ctx, req.ChannelID, req.AnchorTS, msg); err != nil {
			return fmt.Errorf("update result message: %w", err)
		}
		return nil
	}
	if _, err := e.msgr.PostMessage(ctx, req.ChannelID, msg); err != nil {
		return fmt.Errorf("post result message: %w", err)
	}
	return nil
}

// HandleCancel terminates a request at any stage without contacting the
// ledger. A stale request ID is a silent no-op.
func (e *Engine) HandleCancel(ctx context.Context, requestID string) error {
	req, ok := e.store.Take(requestID)
	if !ok {
		return nil
	}
	e.removeTemp(req.TempPath())
	metrics.RequestsCancelled.Inc()
	metrics.PendingRequests.Set(int64(e.store.Len()))
	e.record(ctx, req, domain.StateCancelled, "")
	e.logger.Info("reimbursement cancelled", "request", requestID, "user", req.UserID)

	if req.AnchorTS != "" {
		if err := e.msgr.UpdateMessage(ctx, req.ChannelID, req.AnchorTS, msgCancelled(req.UserID)); err != nil {
			return fmt.Errorf("update cancel message: %w", err)
		}
	}
	return nil
}

// finish removes the entry and its temp file, and records the outcome. Safe
// to call for an already-removed entry; the returned copy reflects the entry
// as it stood at removal, anchor included.
func (e *Engine) finish(ctx context.Context, requestID string, outcome domain.State, message string) (domain.PendingRequest, bool) {
	req, ok := e.store.Take(requestID)
	if !ok {
		return domain.PendingRequest{}, false
	}
	e.removeTemp(req.TempPath())
	metrics.PendingRequests.Set(int64(e.store.Len()))
	e.record(ctx, req, outcome, message)
	return req, true
}

func (e *Engine) record(ctx context.Context, req domain.PendingRequest, outcome domain.State, message string) {
	if e.history == nil || !outcome.Terminal() {
		return
	}
	rec := domain.SubmissionRecord{
		RequestID: req.ID,
		UserID:    req.UserID,
		Category:  req.Fields.Category,
		Amount:    req.Fields.Amount,
		Outcome:   string(outcome),
		Message:   message,
		CreatedAt: e.clock.Now(),
	}
	if err := e.history.Record(ctx, rec); err != nil {
		e.logger.Warn("record submission history", "request", req.ID, "error", err)
	}
}

// removeTemp deletes a transient receipt file. Removal is idempotent: a
// missing file is not an error.
func (e *Engine) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("remove temp file", "path", path, "error", err)
	}
}

func (e *Engine) resolveDate(date string) string {
	if date == "" || date == domain.DateToday {
		return e.clock.Now().Format("2006-01-02")
	}
	return date
}

// HandleConfigureCommand opens the credential form seeded with the user's
// current values.
func (e *Engine) HandleConfigureCommand(ctx context.Context, userID, triggerID string) error {
	current, ok, err := e.creds.Get(userID)
	if err != nil {
		e.logger.Error("credential lookup failed", "user", userID, "error", err)
		current, ok = domain.Credentials{}, false
	}
	if err := e.modals.OpenConfigureForm(ctx, triggerID, current, ok); err != nil {
		return fmt.Errorf("open configure form: %w", err)
	}
	return nil
}

// HandleConfigureSubmit persists the submitted credential pair.
func (e *Engine) HandleConfigureSubmit(ctx context.Context, userID string, apiToken, accountID string) (FieldErrors, error) {
	apiToken = strings.TrimSpace(apiToken)
	accountID = strings.TrimSpace(accountID)

	errs := FieldErrors{}
	if apiToken == "" {
		errs[BlockAPIToken] = "Please enter your Harvest API Token."
	}
	if accountID == "" {
		errs[BlockAccount] = "Please enter your Harvest Account ID."
	}
	if len(errs) > 0 {
		return errs, nil
	}

	if err := e.creds.Put(userID, apiToken, accountID); err != nil {
		e.logger.Error("save credentials failed", "user", userID, "error", err)
		return FieldErrors{BlockAPIToken: "An error occurred. Please try again."}, nil
	}
	e.logger.Info("credentials configured", "user", userID)
	return nil, nil
}

// HandleStatusCommand posts the user's period-to-date allowance usage as an
// ephemeral reply.
func (e *Engine) HandleStatusCommand(ctx context.Context, userID, channelID string) error {
	creds, ok, err := e.creds.Get(userID)
	if err != nil {
		return fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return e.msgr.PostEphemeral(ctx, channelID, userID, msgNotConfigured())
	}

	now := e.clock.Now()
	period := usage.CurrentPeriod(now)
	totals, err := e.ledger.ListExpenses(ctx, creds, period.From, period.To)
	if err != nil {
		e.logger.Error("list expenses failed", "user", userID, "error", err)
		return e.msgr.PostEphemeral(ctx, channelID, userID, domain.Message{
			Text: "Error fetching reimbursement status. Please try again.",
		})
	}

	report := usage.BuildReport(period, totals)
	return e.msgr.PostEphemeral(ctx, channelID, userID, msgStatusReport(
		report.Header(now), report.RenderTransportation(), report.RenderWellness()))
}
