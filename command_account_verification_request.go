package auth

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type VerifyEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *SessionResponse)
}

func (e VerifyEmailMessage) Type() string { return "identity.email.verify" }

type VerifyEmailHandler struct {
	tokens   SingleUseTokens
	sessions SessionTokens
	activity ActivitySink
	logger   Logger
}

// NewVerifyEmailHandler returns a handler that consumes verification tokens
// and signs the identity in.
func NewVerifyEmailHandler(tokens SingleUseTokens, sessions SessionTokens) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		tokens:   tokens,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where successful verifications are recorded
func (h *VerifyEmailHandler) WithActivitySink(sink ActivitySink) *VerifyEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.tokens.Redeem(ctx, event.Token, TokenEmailVerification, RedeemOptions{})
	if err != nil {
		return richOrInternal(err, "email verification failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventEmailVerified,
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

// ResendVerificationMessage replaces the outstanding verification token
// of an authenticated identity with a fresh one.
type ResendVerificationMessage struct {
	IdentityID uuid.UUID
}

func (e ResendVerificationMessage) Type() string { return "identity.email.resend" }

type ResendVerificationHandler struct {
	store    CredentialProvider
	tokens   SingleUseTokens
	notifier *AccountNotifier
	activity ActivitySink
	logger   Logger
}

// NewResendVerificationHandler returns a handler that reissues the
// verification token and mails it.
func NewResendVerificationHandler(store CredentialProvider, tokens SingleUseTokens, notifier *AccountNotifier) *ResendVerificationHandler {
	return &ResendVerificationHandler{
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where mail dispatch failures are recorded
func (h *ResendVerificationHandler) WithActivitySink(sink ActivitySink) *ResendVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ResendVerificationHandler) WithLogger(logger Logger) *ResendVerificationHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	if event.IdentityID == uuid.Nil {
		return ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.store.FindByID(ctx, event.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return richOrInternal(err, "failed to load identity")
	}

	if identity.IsVerified {
		return ErrAlreadyVerified
	}

	token, err := h.tokens.Issue(ctx, identity.ID, TokenEmailVerification, h.tokens.DefaultTTL(TokenEmailVerification))
	if err != nil {
		return richOrInternal(err, "failed to issue verification token")
	}

	if h.notifier == nil {
		return nil
	}

	if err := h.notifier.SendVerification(ctx, identity, token); err != nil {
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType:  ActivityEventMailDispatchFailure,
			IdentityID: identity.ID.String(),
			Metadata:   map[string]any{"kind": string(TokenEmailVerification)},
		})
		return err
	}
	return nil
}
