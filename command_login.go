package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type LoginMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(resp *SessionResponse)
}

func (e LoginMessage) Type() string { return "identity.login" }

func (e LoginMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email,
			validation.Required.Error("Email is required"),
			is.Email.Error("Please provide a valid email"),
		),
		validation.Field(&e.Password, validation.Required.Error("Password is required")),
	)
}

type LoginHandler struct {
	store    CredentialProvider
	sessions SessionTokens
	activity ActivitySink
	logger   Logger
}

// NewLoginHandler returns a handler that checks credentials and issues a session
func NewLoginHandler(store CredentialProvider, sessions SessionTokens) *LoginHandler {
	return &LoginHandler{
		store:    store,
		sessions: sessions,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where login attempts are recorded
func (h *LoginHandler) WithActivitySink(sink ActivitySink) *LoginHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *LoginHandler) WithLogger(logger Logger) *LoginHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *LoginHandler) Execute(ctx context.Context, event LoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LoginHandler) execute(ctx context.Context, event LoginMessage) error {
	if err := event.Validate(); err != nil {
		return NewValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.store.Authenticate(ctx, event.Email, event.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			recordActivity(ctx, h.activity, h.logger, ActivityEvent{
				EventType: ActivityEventLoginFailure,
				Metadata:  map[string]any{"identifier": maskEmail(NormalizeEmail(event.Email))},
			})
		}
		return richOrInternal(err, "login failed")
	}

	token, err := h.sessions.Issue(identity)
	if err != nil {
		return richOrInternal(err, "failed to issue session token")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		IdentityID: identity.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(&SessionResponse{Identity: identity, Token: token})
	}
	return nil
}
