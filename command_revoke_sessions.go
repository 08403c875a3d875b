package auth

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type RevokeSessionsMessage struct {
	IdentityID uuid.UUID
}

func (e RevokeSessionsMessage) Type() string { return "identity.sessions.revoke" }

type RevokeSessionsHandler struct {
	store    CredentialProvider
	activity ActivitySink
	logger   Logger
}

// NewRevokeSessionsHandler returns a handler that bumps the session epoch
func NewRevokeSessionsHandler(store CredentialProvider) *RevokeSessionsHandler {
	return &RevokeSessionsHandler{
		store:    store,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets where revocations are recorded
func (h *RevokeSessionsHandler) WithActivitySink(sink ActivitySink) *RevokeSessionsHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RevokeSessionsHandler) WithLogger(logger Logger) *RevokeSessionsHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *RevokeSessionsHandler) Execute(ctx context.Context, event RevokeSessionsMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during session revocation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RevokeSessionsHandler) execute(ctx context.Context, event RevokeSessionsMessage) error {
	if event.IdentityID == uuid.Nil {
		return ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.store.RevokeSessions(ctx, event.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrIdentityNotFound
		}
		return richOrInternal(err, "failed to revoke sessions")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventSessionsRevoked,
		IdentityID: identity.ID.String(),
		Metadata:   map[string]any{"epoch": identity.SessionEpoch},
	})
	return nil
}
