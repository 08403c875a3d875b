package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Service runs the identity flows as command handlers sharing one set of
// collaborators. Every flow that ends in a session returns the token
// together with the identity it was issued for.
type Service struct {
	repo             RepositoryManager
	store            CredentialProvider
	tokens           SingleUseTokens
	sessions         SessionTokens
	verifier         WalletProofVerifier
	challenges       *WalletChallenges
	requireChallenge bool
	notifier         *AccountNotifier
	activity         ActivitySink
	resetDispatch    Dispatcher
	logger           Logger
}

// NewService wires the default Credential Store and Token Lifecycle
// Manager on top of repo.
func NewService(repo RepositoryManager, sessions SessionTokens, notifier *AccountNotifier) *Service {
	return &Service{
		repo:          repo,
		store:         NewCredentialStore(repo.Identities()),
		tokens:        NewTokenManager(repo.Identities()),
		sessions:      sessions,
		verifier:      NewWalletVerifier(),
		notifier:      notifier,
		activity:      noopActivitySink{},
		resetDispatch: BackgroundDispatch,
		logger:        defLogger{},
	}
}

// WithCredentialStore replaces the default store. A nil store is ignored.
func (s *Service) WithCredentialStore(store CredentialProvider) *Service {
	if store != nil {
		s.store = store
	}
	return s
}

// WithTokens replaces the default Token Lifecycle Manager
func (s *Service) WithTokens(tokens SingleUseTokens) *Service {
	if tokens != nil {
		s.tokens = tokens
	}
	return s
}

// WithWalletVerifier replaces the ed25519 signature verifier
func (s *Service) WithWalletVerifier(verifier WalletProofVerifier) *Service {
	if verifier != nil {
		s.verifier = verifier
	}
	return s
}

// WithChallenges requires bind-wallet messages to embed a nonce issued by
// challenges. Passing nil accepts any signed message.
func (s *Service) WithChallenges(challenges *WalletChallenges) *Service {
	s.challenges = challenges
	s.requireChallenge = challenges != nil
	return s
}

// WithResetDispatcher overrides how forgot password work is scheduled.
// InlineDispatch makes ForgotPassword return after the mail is sent.
func (s *Service) WithResetDispatcher(dispatch Dispatcher) *Service {
	if dispatch != nil {
		s.resetDispatch = dispatch
	}
	return s
}

// WithActivitySink sets where every flow records its activity
func (s *Service) WithActivitySink(sink ActivitySink) *Service {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithLogger overrides the logger shared by the flows.
func (s *Service) WithLogger(logger Logger) *Service {
	s.logger = normalizeLogger(logger)
	return s
}

func (s *Service) Logger() Logger {
	return s.logger
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*SessionResponse, error) {
	var resp *SessionResponse
	err := NewRegisterIdentityHandler(s.repo, s.store, s.tokens, s.sessions, s.notifier).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, RegisterIdentityMessage{
			Username:   username,
			Email:      email,
			Password:   password,
			OnResponse: func(r *SessionResponse) { resp = r },
		})
	return resp, err
}

func (s *Service) Login(ctx context.Context, email, password string) (*SessionResponse, error) {
	var resp *SessionResponse
	err := NewLoginHandler(s.store, s.sessions).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, LoginMessage{
			Email:      email,
			Password:   password,
			OnResponse: func(r *SessionResponse) { resp = r },
		})
	return resp, err
}

func (s *Service) IssueWalletChallenge(ctx context.Context, identityID uuid.UUID) (*WalletChallenge, error) {
	var challenge *WalletChallenge
	err := NewIssueWalletChallengeHandler(s.challenges).Execute(ctx, IssueWalletChallengeMessage{
		IdentityID: identityID,
		OnResponse: func(c *WalletChallenge) { challenge = c },
	})
	return challenge, err
}

func (s *Service) BindWallet(ctx context.Context, identityID uuid.UUID, walletAddress, signature, message string) (*Identity, error) {
	var identity *Identity
	err := NewBindWalletHandler(s.store, s.verifier, s.challenges).
		WithChallengeRequired(s.requireChallenge).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, BindWalletMessage{
			IdentityID:    identityID,
			WalletAddress: walletAddress,
			Signature:     signature,
			Message:       message,
			OnResponse:    func(i *Identity) { identity = i },
		})
	return identity, err
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (*SessionResponse, error) {
	var resp *SessionResponse
	err := NewVerifyEmailHandler(s.tokens, s.sessions).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, VerifyEmailMessage{
			Token:      token,
			OnResponse: func(r *SessionResponse) { resp = r },
		})
	return resp, err
}

func (s *Service) ResendVerification(ctx context.Context, identityID uuid.UUID) error {
	return NewResendVerificationHandler(s.store, s.tokens, s.notifier).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, ResendVerificationMessage{IdentityID: identityID})
}

// ForgotPassword returns the same acknowledgement for known and unknown emails
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	var ack string
	err := NewInitializePasswordResetHandler(s.store, s.tokens, s.notifier).
		WithActivitySink(s.activity).
		WithDispatcher(s.resetDispatch).
		WithLogger(s.logger).
		Execute(ctx, InitializePasswordResetMessage{
			Email:      email,
			OnResponse: func(message string) { ack = message },
		})
	return ack, err
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) (*SessionResponse, error) {
	var resp *SessionResponse
	err := NewFinalizePasswordResetHandler(s.tokens, s.sessions).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, FinalizePasswordResetMessage{
			Token:      token,
			Password:   password,
			OnResponse: func(r *SessionResponse) { resp = r },
		})
	return resp, err
}

func (s *Service) CurrentIdentity(ctx context.Context, identityID uuid.UUID) (*Identity, error) {
	if identityID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}
	return s.store.FindByID(ctx, identityID)
}

func (s *Service) RevokeSessions(ctx context.Context, identityID uuid.UUID) error {
	return NewRevokeSessionsHandler(s.store).
		WithActivitySink(s.activity).
		WithLogger(s.logger).
		Execute(ctx, RevokeSessionsMessage{IdentityID: identityID})
}

// Authorize validates a session token and checks it against the current
// session epoch of its identity.
func (s *Service) Authorize(ctx context.Context, token string) (*SessionClaims, error) {
	claims, err := s.sessions.Validate(token)
	if err != nil {
		return nil, err
	}
	if err := s.CheckEpoch(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// CheckEpoch rejects claims issued before the last session revocation
func (s *Service) CheckEpoch(ctx context.Context, claims *SessionClaims) error {
	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return ErrTokenMalformed
	}

	identity, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrNotAuthenticated
		}
		return richOrInternal(err, "failed to load session identity")
	}

	if claims.SessionEpoch() < identity.SessionEpoch {
		return ErrSessionRevoked
	}
	return nil
}
