package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

type FinalizePasswordResetMessage struct {
	Token      string `json:"-"`
	Password   string `json:"password"`
	OnResponse func(resp *SessionResponse)
}

func (e FinalizePasswordResetMessage) Type() string { return "identity.password_reset.finalize" }

func (e FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Password, passwordRules...),
	)
}

// FinalizePasswordResetHandler redeems a reset token, replaces the
// credential and revokes every session issued before the reset.
type FinalizePasswordResetHandler struct {
	tokens   SingleUseTokens
	sessions SessionTokens
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler returns a handler that redeems a reset
// token for a new password and a fresh session.
func NewFinalizePasswordResetHandler(tokens SingleUseTokens, sessions SessionTokens) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		tokens:   tokens,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where completed resets are recorded
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.tokens.Redeem(ctx, event.Token, TokenPasswordReset, RedeemOptions{
		NewPassword: event.Password,
	})
	if err != nil {
		return richOrInternal(err, "password reset failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventPasswordResetSuccess,
		IdentityID: identity.ID.String(),
	})

	token, err := h.sessions.Issue(identity)
	if err != nil {
		return richOrInternal(err, "failed to issue session token")
	}

	if event.OnResponse != nil {
		event.OnResponse(&SessionResponse{Identity: identity, Token: token})
	}
	return nil
}
