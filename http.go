package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-wallet-auth/middleware/jwtware"
)

// EpochChecker rejects claims minted before the last session revocation
type EpochChecker interface {
	CheckEpoch(ctx context.Context, claims *SessionClaims) error
}

type RouteAuthenticator struct {
	sessions       SessionTokens
	epochs         EpochChecker
	cfg            Config
	cookieDuration time.Duration
	Logger         Logger
	ErrorHandler   func(c router.Context, err error) error
}

// NewHTTPAuthenticator builds the route guard. A nil epochs skips the
// revocation check. The cookie lives as long as the session token.
func NewHTTPAuthenticator(sessions SessionTokens, epochs EpochChecker, cfg Config) *RouteAuthenticator {
	cookieDuration := DefaultSessionTTL
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = cfg.GetTokenExpiration()
	}

	a := &RouteAuthenticator{
		sessions:       sessions,
		epochs:         epochs,
		cfg:            cfg,
		cookieDuration: cookieDuration,
		Logger:         defLogger{},
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

// WithLogger overrides the logger used by the authenticator.
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = normalizeLogger(logger)
	return a
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// ProtectedRoute validates the session token and its epoch. With optional
// set, requests carrying no token reach the handler unauthenticated.
func (a *RouteAuthenticator) ProtectedRoute(optional bool) router.MiddlewareFunc {
	listeners := []jwtware.ValidationListener{}
	if a.epochs != nil {
		listeners = append(listeners, func(ctx router.Context, claims jwtware.AuthClaims) error {
			sc, ok := claims.(*SessionClaims)
			if !ok {
				return ErrNotAuthenticated
			}
			return a.epochs.CheckEpoch(ctx.Context(), sc)
		})
	}

	return jwtware.New(jwtware.Config{
		ErrorHandler:        a.authErrorHandler,
		TokenValidator:      a.tokenValidator(),
		AuthScheme:          a.cfg.GetAuthScheme(),
		ContextKey:          a.cfg.GetContextKey(),
		TokenLookup:         a.cfg.GetTokenLookup(),
		Optional:            optional,
		ValidationListeners: listeners,
		ContextEnricher:     enrichContext,
	})
}

// LogoutRoute clears the session cookie before any token check so stale
// sessions can always log out. Only revoking every session needs a valid token.
func (a *RouteAuthenticator) LogoutRoute() router.MiddlewareFunc {
	protected := a.ProtectedRoute(false)
	return func(next router.HandlerFunc) router.HandlerFunc {
		guarded := protected(next)
		return func(ctx router.Context) error {
			a.cookieDel(ctx)
			if revokeAllRequested(ctx) {
				return guarded(ctx)
			}
			return next(ctx)
		}
	}
}

func revokeAllRequested(ctx router.Context) bool {
	return strings.EqualFold(ctx.Query("all", ""), "true")
}

func (a *RouteAuthenticator) tokenValidator() jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
		claims, err := a.sessions.Validate(raw)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

func (a *RouteAuthenticator) authErrorHandler(c router.Context, err error) error {
	var richErr *goerrors.Error

	switch {
	case goerrors.As(err, &richErr):
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		richErr = ErrNotAuthenticated
	case errors.Is(err, jwtware.ErrInsufficientRole):
		richErr = goerrors.Wrap(err, goerrors.CategoryAuthz, "Insufficient permissions").
			WithCode(goerrors.CodeForbidden)
	case IsTokenExpiredError(err):
		richErr = ErrTokenExpired
	case IsMalformedError(err):
		richErr = ErrTokenMalformed
	default:
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "Invalid authentication token").
			WithCode(goerrors.CodeUnauthorized)
	}

	return a.ErrorHandler(c, richErr)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	return WriteError(c, a.Logger, err)
}

// ErrorStatus resolves the HTTP status for err
func ErrorStatus(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryConflict:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as the JSON error envelope. Errors without a
// category are logged and surfaced with a generic message.
func WriteError(c router.Context, logger Logger, err error) error {
	logger = normalizeLogger(logger)
	status := ErrorStatus(err)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || (status >= http.StatusInternalServerError && richErr.Category == goerrors.CategoryInternal) {
		logger.Error("unexpected server error: %s", err)
		return c.JSON(http.StatusInternalServerError, errorEnvelope(http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected server error occurred", nil))
	}

	logger.Debug(
		"request error %d %s: %s %s",
		status,
		richErr.TextCode,
		richErr.Message,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	var fields []FieldError
	if raw, ok := richErr.Metadata["fields"]; ok {
		fields, _ = raw.([]FieldError)
	}

	return c.JSON(status, errorEnvelope(status, richErr.TextCode, richErr.Message, fields))
}

func errorEnvelope(status int, textCode, message string, fields []FieldError) map[string]any {
	body := map[string]any{
		"code":      status,
		"text_code": textCode,
		"message":   message,
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return map[string]any{
		"status": "error",
		"error":  body,
	}
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string) {
	c.Cookie(&router.Cookie{
		Name:     sessionCookieName,
		Value:    val,
		Expires:  time.Now().Add(a.cookieDuration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

const sessionCookieName = "token"
