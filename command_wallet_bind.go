package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type BindWalletMessage struct {
	IdentityID    uuid.UUID `json:"-"`
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	Message       string    `json:"message"`
	OnResponse    func(identity *Identity)
}

func (e BindWalletMessage) Type() string { return "identity.wallet.bind" }

func (e BindWalletMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.WalletAddress, validation.Required.Error("Wallet address is required")),
		validation.Field(&e.Signature, validation.Required.Error("Signature is required")),
		validation.Field(&e.Message, validation.Required.Error("Message is required")),
	)
}

type BindWalletHandler struct {
	store            CredentialProvider
	verifier         WalletProofVerifier
	challenges       *WalletChallenges
	requireChallenge bool
	activity         ActivitySink
	logger           Logger
}

// NewBindWalletHandler requires a server issued challenge when challenges is not nil
func NewBindWalletHandler(store CredentialProvider, verifier WalletProofVerifier, challenges *WalletChallenges) *BindWalletHandler {
	return &BindWalletHandler{
		store:            store,
		verifier:         verifier,
		challenges:       challenges,
		requireChallenge: challenges != nil,
		activity:         noopActivitySink{},
		logger:           defLogger{},
	}
}

// WithChallengeRequired toggles acceptance of free-form signed messages
func (h *BindWalletHandler) WithChallengeRequired(required bool) *BindWalletHandler {
	h.requireChallenge = required && h.challenges != nil
	return h
}

// WithActivitySink sets where wallet bindings are recorded
func (h *BindWalletHandler) WithActivitySink(sink ActivitySink) *BindWalletHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *BindWalletHandler) WithLogger(logger Logger) *BindWalletHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *BindWalletHandler) Execute(ctx context.Context, event BindWalletMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during wallet binding",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *BindWalletHandler) execute(ctx context.Context, event BindWalletMessage) error {
	if event.IdentityID == uuid.Nil {
		return ErrNotAuthenticated
	}

	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if h.requireChallenge {
		if err := h.challenges.Redeem(ctx, event.IdentityID.String(), event.Message); err != nil {
			h.rejected(ctx, event, "challenge")
			return richOrInternal(err, "wallet challenge check failed")
		}
	}

	if err := h.verifier.VerifyProof(event.WalletAddress, event.Message, event.Signature); err != nil {
		h.rejected(ctx, event, "signature")
		return ErrInvalidWalletProof
	}

	identity, err := h.store.BindWallet(ctx, event.IdentityID, event.WalletAddress)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return richOrInternal(err, "failed to bind wallet")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventWalletBound,
		IdentityID: identity.ID.String(),
		Metadata:   map[string]any{"wallet_address": event.WalletAddress},
	})

	if event.OnResponse != nil {
		event.OnResponse(identity)
	}
	return nil
}

func (h *BindWalletHandler) rejected(ctx context.Context, event BindWalletMessage, stage string) {
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventWalletProofRejected,
		IdentityID: event.IdentityID.String(),
		Metadata:   map[string]any{"stage": stage},
	})
}

// IssueWalletChallengeHandler hands out the message a wallet must sign
type IssueWalletChallengeHandler struct {
	challenges *WalletChallenges
}

// NewIssueWalletChallengeHandler returns a handler that mints sign-in nonces
func NewIssueWalletChallengeHandler(challenges *WalletChallenges) *IssueWalletChallengeHandler {
	return &IssueWalletChallengeHandler{challenges: challenges}
}

type IssueWalletChallengeMessage struct {
	IdentityID uuid.UUID
	OnResponse func(challenge *WalletChallenge)
}

func (e IssueWalletChallengeMessage) Type() string { return "identity.wallet.challenge" }

func (h *IssueWalletChallengeHandler) Execute(ctx context.Context, event IssueWalletChallengeMessage) error {
	if event.IdentityID == uuid.Nil {
		return ErrNotAuthenticated
	}
	if h.challenges == nil {
		return goerrors.New("wallet challenges are disabled", goerrors.CategoryOperation).
			WithCode(goerrors.CodeNotFound)
	}

	challenge, err := h.challenges.Issue(ctx, event.IdentityID.String())
	if err != nil {
		return richOrInternal(err, "failed to issue wallet challenge")
	}

	if event.OnResponse != nil {
		event.OnResponse(challenge)
	}
	return nil
}
