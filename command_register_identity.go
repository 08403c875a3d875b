package auth

import (
	"context"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const commandTimeout = 10 * time.Second

// maxPasswordBytes is the longest input bcrypt accepts
const maxPasswordBytes = 72

// passwordRules bound the password in characters from below and in bytes
// from above, matching what bcrypt can hash.
var passwordRules = []validation.Rule{
	validation.Required.Error("Password is required"),
	validation.RuneLength(8, 0).Error("Password must be at least 8 characters"),
	validation.Length(0, maxPasswordBytes).Error("Password must be at most 72 bytes"),
}

// SessionResponse is returned by flows that end with a session token
type SessionResponse struct {
	Identity *Identity
	Token    string
}

type RegisterIdentityMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(resp *SessionResponse)
}

func (e RegisterIdentityMessage) Type() string { return "identity.register" }

func (e RegisterIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username,
			validation.Required.Error("Username is required"),
			validation.RuneLength(3, 20).Error("Username must be between 3 and 20 characters"),
			validation.Match(usernamePattern).Error("Username may only contain letters, numbers and underscores"),
		),
		validation.Field(&e.Email,
			validation.Required.Error("Email is required"),
			is.Email.Error("Please provide a valid email"),
		),
		validation.Field(&e.Password, passwordRules...),
	)
}

type RegisterIdentityHandler struct {
	repo     RepositoryManager
	store    CredentialProvider
	tokens   SingleUseTokens
	sessions SessionTokens
	notifier *AccountNotifier
	activity ActivitySink
	logger   Logger
}

// NewRegisterIdentityHandler returns a handler that creates the identity,
// issues its verification token and signs it in.
func NewRegisterIdentityHandler(repo RepositoryManager, store CredentialProvider, tokens SingleUseTokens, sessions SessionTokens, notifier *AccountNotifier) *RegisterIdentityHandler {
	return &RegisterIdentityHandler{
		repo:     repo,
		store:    store,
		tokens:   tokens,
		sessions: sessions,
		notifier: notifier,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where registrations are recorded
func (h *RegisterIdentityHandler) WithActivitySink(sink ActivitySink) *RegisterIdentityHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterIdentityHandler) WithLogger(logger Logger) *RegisterIdentityHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RegisterIdentityHandler) Execute(ctx context.Context, event RegisterIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterIdentityHandler) execute(ctx context.Context, event RegisterIdentityMessage) error {
	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		identity *Identity
		token    string
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		identity, err = h.store.RegisterTx(ctx, tx, event.Username, event.Email, event.Password)
		if err != nil {
			return err
		}

		token, err = h.tokens.IssueTx(ctx, tx, identity.ID, TokenEmailVerification, h.tokens.DefaultTTL(TokenEmailVerification))
		return err
	})
	if err != nil {
		return richOrInternal(err, "identity registration failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventRegistered,
		IdentityID: identity.ID.String(),
	})

	if h.notifier != nil {
		if err := h.notifier.SendVerification(ctx, identity, token); err != nil {
			recordActivity(ctx, h.activity, h.logger, ActivityEvent{
				EventType:  ActivityEventMailDispatchFailure,
				IdentityID: identity.ID.String(),
				Metadata:   map[string]any{"kind": string(TokenEmailVerification)},
			})
			return err
		}
	}

	session, err := h.sessions.Issue(identity)
	if err != nil {
		return richOrInternal(err, "failed to issue session token")
	}

	if event.OnResponse != nil {
		event.OnResponse(&SessionResponse{Identity: identity, Token: session})
	}
	return nil
}

// richOrInternal keeps typed errors and wraps anything else as internal
func richOrInternal(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}
