package auth

import (
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapUniqueViolation(t *testing.T) {
	duplicateKey := goerrors.NewNonRetryable("Duplicate key value violates unique constraint", repository.CategoryDatabaseDuplicate).
		WithCode(goerrors.CodeConflict).
		WithTextCode("DUPLICATE_KEY")
	unrelated := errors.New("disk I/O error")

	tests := []struct {
		name     string
		err      error
		fallback error
		want     error
	}{
		{
			name: "sqlite driver message",
			err:  errors.New("UNIQUE constraint failed: identities.wallet_address"),
			want: ErrWalletTaken,
		},
		{
			name: "repository database error wrapping the driver message",
			err:  repository.MapDatabaseError(errors.New("constraint failed: UNIQUE constraint failed: identities.email (2067)"), "unknown"),
			want: ErrEmailTaken,
		},
		{
			name: "wrapped twice",
			err:  fmt.Errorf("bind: %w", repository.MapDatabaseError(errors.New("UNIQUE constraint failed: identities.username"), "unknown")),
			want: ErrUsernameTaken,
		},
		{
			name:     "duplicate key without column uses fallback",
			err:      duplicateKey,
			fallback: ErrWalletTaken,
			want:     ErrWalletTaken,
		},
		{
			name: "duplicate key without column and no fallback",
			err:  duplicateKey,
			want: duplicateKey,
		},
		{
			name: "postgres unique violation",
			err:  fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "identities_username_key"}),
			want: ErrUsernameTaken,
		},
		{
			name:     "postgres other violation",
			err:      &pgconn.PgError{Code: "23502", ConstraintName: "identities_email_not_null"},
			fallback: ErrWalletTaken,
		},
		{
			name:     "unrelated error",
			err:      unrelated,
			fallback: ErrWalletTaken,
			want:     unrelated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapUniqueViolation(tt.err, tt.fallback)
			if tt.want == nil {
				assert.Same(t, tt.err, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Nil(t, mapUniqueViolation(nil, ErrWalletTaken))
}
