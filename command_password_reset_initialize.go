package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// ForgotPasswordAck is the message returned for every forgot password request
const ForgotPasswordAck = "If a user with that email exists, a password reset link was sent"

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(message string)
}

func (p InitializePasswordResetMessage) Type() string { return "identity.password_reset.init" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email,
			validation.Required.Error("Email is required"),
			is.Email.Error("Please provide a valid email"),
		),
	)
}

// Dispatcher runs work that must not delay the response
type Dispatcher func(task func())

// BackgroundDispatch runs task on its own goroutine
func BackgroundDispatch(task func()) { go task() }

// InlineDispatch runs task before returning
func InlineDispatch(task func()) { task() }

// InitializePasswordResetHandler answers the same way whether or not the
// email belongs to an identity. The lookup, token and mail run after the
// acknowledgement so response time does not depend on the email. Failures
// are only logged.
type InitializePasswordResetHandler struct {
	store    CredentialProvider
	tokens   SingleUseTokens
	notifier *AccountNotifier
	activity ActivitySink
	dispatch Dispatcher
	logger   Logger
}

// NewInitializePasswordResetHandler returns a handler that dispatches the
// reset work in the background.
func NewInitializePasswordResetHandler(store CredentialProvider, tokens SingleUseTokens, notifier *AccountNotifier) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		activity: noopActivitySink{},
		dispatch: BackgroundDispatch,
		logger:   defLogger{},
	}
}

// WithDispatcher overrides how the reset work is scheduled after the ack
func (h *InitializePasswordResetHandler) WithDispatcher(dispatch Dispatcher) *InitializePasswordResetHandler {
	if dispatch != nil {
		h.dispatch = dispatch
	}
	return h
}

// WithActivitySink sets where reset requests are recorded
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	if event.OnResponse != nil {
		event.OnResponse(ForgotPasswordAck)
	}

	detached := context.WithoutCancel(ctx)
	h.dispatch(func() {
		ctx, cancel := context.WithTimeout(detached, commandTimeout)
		defer cancel()
		h.request(ctx, event.Email)
	})
	return nil
}

func (h *InitializePasswordResetHandler) request(ctx context.Context, email string) {
	identity, err := h.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			h.logger.Error("password reset lookup for %s: %s", maskEmail(NormalizeEmail(email)), err)
		}
		return
	}

	token, err := h.tokens.Issue(ctx, identity.ID, TokenPasswordReset, h.tokens.DefaultTTL(TokenPasswordReset))
	if err != nil {
		h.logger.Error("issue password reset token for %s: %s", identity.ID, err)
		return
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventPasswordResetRequested,
		IdentityID: identity.ID.String(),
	})

	if h.notifier == nil {
		return
	}

	if err := h.notifier.SendPasswordReset(ctx, identity, token); err != nil {
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType:  ActivityEventMailDispatchFailure,
			IdentityID: identity.ID.String(),
			Metadata:   map[string]any{"kind": string(TokenPasswordReset)},
		})
	}
}
