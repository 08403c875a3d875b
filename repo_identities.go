package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// BindWalletSQL only updates a live identity; the partial unique index on
// wallet_address rejects addresses bound elsewhere.
var BindWalletSQL = `UPDATE "identities"
SET
	"wallet_address" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

// BumpSessionEpochSQL invalidates every outstanding session of an identity
var BumpSessionEpochSQL = `UPDATE "identities"
SET
	"session_epoch" = "session_epoch" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

// IssueTokenSQL writes both columns of a token slot, replacing any
// outstanding token of the same kind.
func IssueTokenSQL(kind TokenKind) string {
	col := kind.column()
	return fmt.Sprintf(`UPDATE "identities"
SET
	"%[1]s_token_hash" = ?,
	"%[1]s_expires_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`, col)
}

// RedeemEmailVerificationSQL matches and clears a verification slot in one
// statement and marks the identity verified.
var RedeemEmailVerificationSQL = `UPDATE "identities"
SET
	"email_verification_token_hash" = NULL,
	"email_verification_expires_at" = NULL,
	"is_verified" = TRUE,
	"updated_at" = ?
WHERE
	"email_verification_token_hash" = ?
AND
	"email_verification_expires_at" > ?
RETURNING *;`

// RedeemPasswordResetSQL matches and clears a reset slot in one statement,
// stores the new hash and revokes existing sessions.
var RedeemPasswordResetSQL = `UPDATE "identities"
SET
	"password_reset_token_hash" = NULL,
	"password_reset_expires_at" = NULL,
	"password_hash" = ?,
	"password_changed_at" = ?,
	"session_epoch" = "session_epoch" + 1,
	"updated_at" = ?
WHERE
	"password_reset_token_hash" = ?
AND
	"password_reset_expires_at" > ?
RETURNING *;`

// PurgeExpiredTokenSQL clears slots whose expiry has passed
func PurgeExpiredTokenSQL(kind TokenKind) string {
	col := kind.column()
	return fmt.Sprintf(`UPDATE "identities"
SET
	"%[1]s_token_hash" = NULL,
	"%[1]s_expires_at" = NULL
WHERE
	"%[1]s_expires_at" IS NOT NULL
AND
	"%[1]s_expires_at" <= ?;`, col)
}

type Identities interface {
	repository.Repository[*Identity]

	Register(ctx context.Context, record *Identity) (*Identity, error)
	RegisterTx(ctx context.Context, tx bun.IDB, record *Identity) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)

	BindWallet(ctx context.Context, id uuid.UUID, address string) (*Identity, error)
	BindWalletTx(ctx context.Context, tx bun.IDB, id uuid.UUID, address string) (*Identity, error)
	BumpSessionEpoch(ctx context.Context, id uuid.UUID) (*Identity, error)
	BumpSessionEpochTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error

	IssueToken(ctx context.Context, id uuid.UUID, kind TokenKind, tokenHash string, expiresAt time.Time) (*Identity, error)
	IssueTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, kind TokenKind, tokenHash string, expiresAt time.Time) (*Identity, error)
	RedeemEmailVerification(ctx context.Context, tokenHash string, now time.Time) (*Identity, error)
	RedeemEmailVerificationTx(ctx context.Context, tx bun.IDB, tokenHash string, now time.Time) (*Identity, error)
	RedeemPasswordReset(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*Identity, error)
	RedeemPasswordResetTx(ctx context.Context, tx bun.IDB, tokenHash, passwordHash string, now time.Time) (*Identity, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type identities struct {
	repository.Repository[*Identity]
	db *bun.DB
}

var (
	_ Identities                       = (*identities)(nil)
	_ repository.Repository[*Identity] = (*identities)(nil)
)

// NewIdentitiesRepository returns the bun repository for identities
func NewIdentitiesRepository(db *bun.DB) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &identities{
		Repository: repo,
		db:         db,
	}
}

func (a *identities) Register(ctx context.Context, record *Identity) (*Identity, error) {
	return a.RegisterTx(ctx, a.db, record)
}

// RegisterTx inserts the record in a single statement. Uniqueness of email
// and username is left to the database so concurrent registrations can't
// both succeed.
func (a *identities) RegisterTx(ctx context.Context, tx bun.IDB, record *Identity) (*Identity, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Email = NormalizeEmail(record.Email)
	if !record.Role.IsValid() {
		record.Role = RoleUser
	}

	now := time.Now().UTC()
	record.CreatedAt = &now
	record.UpdatedAt = &now

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, mapUniqueViolation(err, nil)
	}
	return record, nil
}

func (a *identities) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *identities) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	return a.GetByIdentifierTx(ctx, tx, NormalizeEmail(email))
}

func (a *identities) BindWallet(ctx context.Context, id uuid.UUID, address string) (*Identity, error) {
	return a.BindWalletTx(ctx, a.db, id, address)
}

func (a *identities) BindWalletTx(ctx context.Context, tx bun.IDB, id uuid.UUID, address string) (*Identity, error) {
	res, err := a.Repository.RawTx(ctx, tx, BindWalletSQL, address, time.Now().UTC(), id.String())
	if err != nil {
		// wallet_address is the only unique column this statement writes
		return nil, mapUniqueViolation(err, ErrWalletTaken)
	}
	return firstOrNotFound(res, map[string]any{"id": id.String()})
}

func (a *identities) BumpSessionEpoch(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return a.BumpSessionEpochTx(ctx, a.db, id)
}

func (a *identities) BumpSessionEpochTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	res, err := a.Repository.RawTx(ctx, tx, BumpSessionEpochSQL, time.Now().UTC(), id.String())
	if err != nil {
		return nil, err
	}
	return firstOrNotFound(res, map[string]any{"id": id.String()})
}

func (a *identities) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("last_active_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *identities) IssueToken(ctx context.Context, id uuid.UUID, kind TokenKind, tokenHash string, expiresAt time.Time) (*Identity, error) {
	return a.IssueTokenTx(ctx, a.db, id, kind, tokenHash, expiresAt)
}

func (a *identities) IssueTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, kind TokenKind, tokenHash string, expiresAt time.Time) (*Identity, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	res, err := a.Repository.RawTx(ctx, tx, IssueTokenSQL(kind), tokenHash, expiresAt.UTC(), time.Now().UTC(), id.String())
	if err != nil {
		return nil, err
	}
	return firstOrNotFound(res, map[string]any{"id": id.String(), "kind": string(kind)})
}

func (a *identities) RedeemEmailVerification(ctx context.Context, tokenHash string, now time.Time) (*Identity, error) {
	return a.RedeemEmailVerificationTx(ctx, a.db, tokenHash, now)
}

func (a *identities) RedeemEmailVerificationTx(ctx context.Context, tx bun.IDB, tokenHash string, now time.Time) (*Identity, error) {
	now = now.UTC()
	res, err := a.Repository.RawTx(ctx, tx, RedeemEmailVerificationSQL, now, tokenHash, now)
	if err != nil {
		return nil, err
	}
	return firstOrNotFound(res, map[string]any{"kind": string(TokenEmailVerification)})
}

func (a *identities) RedeemPasswordReset(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*Identity, error) {
	return a.RedeemPasswordResetTx(ctx, a.db, tokenHash, passwordHash, now)
}

func (a *identities) RedeemPasswordResetTx(ctx context.Context, tx bun.IDB, tokenHash, passwordHash string, now time.Time) (*Identity, error) {
	now = now.UTC()
	res, err := a.Repository.RawTx(ctx, tx, RedeemPasswordResetSQL, passwordHash, now, now, tokenHash, now)
	if err != nil {
		return nil, err
	}
	return firstOrNotFound(res, map[string]any{"kind": string(TokenPasswordReset)})
}

func (a *identities) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, kind := range TokenKinds() {
		res, err := a.db.ExecContext(ctx, PurgeExpiredTokenSQL(kind), now.UTC())
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

// NormalizeEmail lowercases and trims an email for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func firstOrNotFound(res []*Identity, meta map[string]any) (*Identity, error) {
	if len(res) == 0 || res[0] == nil {
		return nil, repository.NewRecordNotFound().WithMetadata(meta)
	}
	return res[0], nil
}

// mapUniqueViolation turns a unique index failure into the matching
// Conflict error. Postgres reports the constraint name, sqlite reports
// "UNIQUE constraint failed: identities.<column>". The repository may hand
// back its own DUPLICATE_KEY or DATABASE_ERROR wrapper, so the whole chain
// is inspected. fallback is used when the violated column can't be told.
func mapUniqueViolation(err error, fallback error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return err
		}
		return conflictForTarget(strings.ToLower(pgErr.ConstraintName), fallback, err)
	}

	duplicate := repository.IsDuplicatedKey(err)
	target := strings.ToLower(uniqueViolationDetail(err))
	if !duplicate && !strings.Contains(target, "unique") && !strings.Contains(target, "duplicate") {
		return err
	}
	return conflictForTarget(target, fallback, err)
}

func conflictForTarget(target string, fallback, err error) error {
	switch {
	case strings.Contains(target, "email"):
		return ErrEmailTaken
	case strings.Contains(target, "username"):
		return ErrUsernameTaken
	case strings.Contains(target, "wallet_address"):
		return ErrWalletTaken
	case fallback != nil:
		return fallback
	}
	return err
}

// uniqueViolationDetail joins the messages and constraint metadata found
// along the error chain.
func uniqueViolationDetail(err error) string {
	var parts []string
	for e := err; e != nil; {
		parts = append(parts, e.Error())

		var meta map[string]any
		switch rich := e.(type) {
		case *goerrors.RetryableError:
			if rich.BaseError == nil {
				return strings.Join(parts, " ")
			}
			meta = rich.Metadata
		case *goerrors.Error:
			meta = rich.Metadata
		}
		for _, key := range []string{"constraint", "detail", "column"} {
			if v, ok := meta[key].(string); ok {
				parts = append(parts, v)
			}
		}

		e = errors.Unwrap(e)
	}
	return strings.Join(parts, " ")
}
