package auth

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeUsernameTaken      = "USERNAME_TAKEN"
	TextCodeWalletTaken        = "WALLET_TAKEN"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeInvalidWalletProof = "INVALID_WALLET_PROOF"
	TextCodeInvalidToken       = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeSessionRevoked     = "SESSION_REVOKED"
	TextCodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	TextCodeMailDispatch       = "MAIL_DISPATCH_FAILED"
	TextCodeAlreadyVerified    = "ALREADY_VERIFIED"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can't be an empty string")

// ErrAlreadyHashed is returned when HashPassword receives a bcrypt digest
var ErrAlreadyHashed = errors.New("password value is already a hash")

// ErrPasswordTooLong is returned for passwords over the 72 byte bcrypt limit
var ErrPasswordTooLong = NewValidationError(validation.Errors{
	"password": errors.New("Password must be at most 72 bytes"),
})

// ErrMismatchedHashAndPassword is the comparison failure returned by bcrypt helpers
var ErrMismatchedHashAndPassword = errors.New("password hash mismatch")

// ErrEmailTaken is returned when a registration collides on email.
var ErrEmailTaken = goerrors.New("Email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeBadRequest)

// ErrUsernameTaken is returned when a registration collides on username.
var ErrUsernameTaken = goerrors.New("Username already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeUsernameTaken).
	WithCode(goerrors.CodeBadRequest)

// ErrWalletTaken is returned when the wallet is bound to another identity.
var ErrWalletTaken = goerrors.New("Wallet already linked to another account", goerrors.CategoryConflict).
	WithTextCode(TextCodeWalletTaken).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials covers both unknown email and wrong password.
var ErrInvalidCredentials = goerrors.New("Invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidWalletProof covers malformed address, malformed signature and bad signature.
var ErrInvalidWalletProof = goerrors.New("invalid wallet proof", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidWalletProof).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidOrExpiredToken is returned when a single-use token can't be redeemed.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrNotAuthenticated is returned when a request carries no usable session.
var ErrNotAuthenticated = goerrors.New("Not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("Session token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("Session token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRevoked is returned when the token epoch is older than the identity epoch.
var ErrSessionRevoked = goerrors.New("Session revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyVerified is returned when resending verification for a verified identity
var ErrAlreadyVerified = goerrors.New("Email already verified", goerrors.CategoryBadInput).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

// NewMailDispatchError wraps a transport failure from the mailer.
func NewMailDispatchError(err error, to string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "unable to dispatch email").
		WithTextCode(TextCodeMailDispatch).
		WithCode(http.StatusServiceUnavailable).
		WithMetadata(map[string]any{
			"to": maskEmail(to),
		})
}

// FieldError describes a single structural violation in a request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationError converts ozzo validation output into a go-errors
// validation error carrying the per field list in its metadata.
func NewValidationError(err error) *goerrors.Error {
	fields := ValidationFields(err)
	return goerrors.New("Validation error", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"fields": fields,
		})
}

// ValidationFields flattens validation.Errors into FieldError entries,
// sorted by field name so the output is stable.
func ValidationFields(err error) []FieldError {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, name := range sortedKeys(verrs) {
		fields = append(fields, FieldError{
			Field:   name,
			Message: verrs[name].Error(),
		})
	}
	return fields
}

// HasTextCode reports whether err is a rich error with the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func sortedKeys(verrs validation.Errors) []string {
	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
