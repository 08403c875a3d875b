package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var _ CredentialProvider = (*CredentialStore)(nil)

// CredentialStore owns the identity record and the password credential
type CredentialStore struct {
	repo   Identities
	hasher PasswordAuthenticator
	now    func() time.Time
	logger Logger
}

// NewCredentialStore returns a store backed by repo that hashes with bcrypt
func NewCredentialStore(repo Identities) *CredentialStore {
	return &CredentialStore{
		repo:   repo,
		hasher: BcryptHasher{},
		now:    time.Now,
		logger: defLogger{},
	}
}

// WithPasswordHasher replaces the bcrypt hasher. A nil hasher is ignored.
func (s *CredentialStore) WithPasswordHasher(h PasswordAuthenticator) *CredentialStore {
	if h != nil {
		s.hasher = h
	}
	return s
}

// WithLogger overrides the logger used by the store.
func (s *CredentialStore) WithLogger(logger Logger) *CredentialStore {
	s.logger = normalizeLogger(logger)
	return s
}

// WithClock overrides the time source for activity and password change timestamps
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates an unverified identity. A duplicate email or username
// fails with ErrEmailTaken or ErrUsernameTaken.
func (s *CredentialStore) Register(ctx context.Context, username, email, password string) (*Identity, error) {
	return s.RegisterTx(ctx, nil, username, email, password)
}

// RegisterTx is Register inside tx; a nil tx uses the repository database
func (s *CredentialStore) RegisterTx(ctx context.Context, tx bun.IDB, username, email, password string) (*Identity, error) {
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}

	changedAt := s.now().UTC()
	record := &Identity{
		Username: strings.TrimSpace(username),
		Email:    NormalizeEmail(email),
		Credential: Credential{
			Hash:      hash,
			ChangedAt: &changedAt,
		},
		Role: RoleUser,
	}

	var identity *Identity
	if tx == nil {
		identity, err = s.repo.Register(ctx, record)
	} else {
		identity, err = s.repo.RegisterTx(ctx, tx, record)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("registered identity %s", identity.ID)
	return identity, nil
}

// Authenticate verifies email and password. Unknown emails and wrong
// passwords fail with the same error after the same bcrypt work.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return nil, err
		}
		_ = s.hasher.ComparePasswordAndHash(password, dummyPasswordHash)
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.ComparePasswordAndHash(password, identity.Credential.Hash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			s.logger.Error("compare password hash for %s: %s", identity.ID, err)
		}
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.TouchLastActive(ctx, identity.ID, now); err != nil {
		s.logger.Warn("touch last active for %s: %s", identity.ID, err)
	} else {
		identity.LastActiveAt = &now
	}

	return identity, nil
}

// BindWallet stores a wallet address whose ownership was already proven
func (s *CredentialStore) BindWallet(ctx context.Context, identityID uuid.UUID, walletAddress string) (*Identity, error) {
	identity, err := s.repo.BindWallet(ctx, identityID, strings.TrimSpace(walletAddress))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return identity, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, identityID uuid.UUID) (*Identity, error) {
	identity, err := s.repo.GetByID(ctx, identityID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return identity, nil
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return identity, nil
}

// RevokeSessions bumps the session epoch so older tokens stop validating
func (s *CredentialStore) RevokeSessions(ctx context.Context, identityID uuid.UUID) (*Identity, error) {
	identity, err := s.repo.BumpSessionEpoch(ctx, identityID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return identity, nil
}
