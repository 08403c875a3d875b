package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// IdentityService is what the HTTP controller needs from the Service
type IdentityService interface {
	Register(ctx context.Context, username, email, password string) (*SessionResponse, error)
	Login(ctx context.Context, email, password string) (*SessionResponse, error)
	IssueWalletChallenge(ctx context.Context, identityID uuid.UUID) (*WalletChallenge, error)
	BindWallet(ctx context.Context, identityID uuid.UUID, walletAddress, signature, message string) (*Identity, error)
	VerifyEmail(ctx context.Context, token string) (*SessionResponse, error)
	ResendVerification(ctx context.Context, identityID uuid.UUID) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (*SessionResponse, error)
	CurrentIdentity(ctx context.Context, identityID uuid.UUID) (*Identity, error)
	RevokeSessions(ctx context.Context, identityID uuid.UUID) error
}

var _ IdentityService = (*Service)(nil)

func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	protected := controller.Auther.ProtectedRoute(false)

	app.Post(controller.Routes.Register, controller.Register).
		SetName("auth.register")
	app.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login")

	app.Get(controller.Routes.WalletChallenge, controller.WalletChallenge, protected).
		SetName("auth.wallet.challenge")
	app.Post(controller.Routes.ConnectWallet, controller.ConnectWallet, protected).
		SetName("auth.wallet.connect")

	app.Post(controller.Routes.ResendVerification, controller.ResendVerification, protected).
		SetName("auth.verify.resend")
	app.Get(fmt.Sprintf("%s/:token", controller.Routes.Verify), controller.VerifyEmail).
		SetName("auth.verify")

	app.Post(controller.Routes.ForgotPassword, controller.ForgotPassword).
		SetName("auth.password.forgot")
	app.Post(fmt.Sprintf("%s/:token", controller.Routes.ResetPassword), controller.ResetPassword).
		SetName("auth.password.reset")

	app.Get(controller.Routes.Me, controller.Me, protected).
		SetName("auth.me")
	app.Post(controller.Routes.Logout, controller.Logout, controller.Auther.LogoutRoute()).
		SetName("auth.logout")

	return controller
}

type AuthControllerRoutes struct {
	Register           string
	Login              string
	WalletChallenge    string
	ConnectWallet      string
	Verify             string
	ResendVerification string
	ForgotPassword     string
	ResetPassword      string
	Me                 string
	Logout             string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Service      IdentityService
	Routes       *AuthControllerRoutes
	Auther       *RouteAuthenticator
	ContextKey   string
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// NewAuthController applies opts and panics when Service or Auther is missing
func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: "user",
		Routes: &AuthControllerRoutes{
			Register:           "/register",
			Login:              "/login",
			WalletChallenge:    "/wallet/challenge",
			ConnectWallet:      "/connect-wallet",
			Verify:             "/verify",
			ResendVerification: "/verify/resend",
			ForgotPassword:     "/forgot-password",
			ResetPassword:      "/reset-password",
			Me:                 "/me",
			Logout:             "/logout",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing IdentityService in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return WriteError(ctx, c.Logger, err)
		}
	}

	return c
}

// WithLogger overrides the logger used by the controller.
func (a *AuthController) WithLogger(logger Logger) *AuthController {
	a.Logger = normalizeLogger(logger)
	return a
}

type RegisterRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequestBody(err))
	}

	resp, err := a.Service.Register(ctx.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.sessionJSON(ctx, http.StatusCreated, "", resp)
}

type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequestBody(err))
	}

	resp, err := a.Service.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.sessionJSON(ctx, http.StatusOK, "", resp)
}

func (a *AuthController) WalletChallenge(ctx router.Context) error {
	challenge, err := a.Service.IssueWalletChallenge(ctx.Context(), IdentityIDFromRouter(ctx, a.ContextKey))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"challenge": challenge,
		},
	})
}

type ConnectWalletRequest struct {
	WalletAddress string `json:"wallet_address" form:"wallet_address"`
	Signature     string `json:"signature" form:"signature"`
	Message       string `json:"message" form:"message"`
}

func (a *AuthController) ConnectWallet(ctx router.Context) error {
	payload := new(ConnectWalletRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequestBody(err))
	}

	identity, err := a.Service.BindWallet(
		ctx.Context(),
		IdentityIDFromRouter(ctx, a.ContextKey),
		payload.WalletAddress,
		payload.Signature,
		payload.Message,
	)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Wallet connected successfully",
		"data": map[string]any{
			"user": identity.Summary(),
		},
	})
}

func (a *AuthController) VerifyEmail(ctx router.Context) error {
	resp, err := a.Service.VerifyEmail(ctx.Context(), ctx.Param("token"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.sessionJSON(ctx, http.StatusOK, "Email verified successfully", resp)
}

func (a *AuthController) ResendVerification(ctx router.Context) error {
	if err := a.Service.ResendVerification(ctx.Context(), IdentityIDFromRouter(ctx, a.ContextKey)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Verification email sent",
	})
}

type ForgotPasswordRequest struct {
	Email string `json:"email" form:"email"`
}

func (a *AuthController) ForgotPassword(ctx router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequestBody(err))
	}

	message, err := a.Service.ForgotPassword(ctx.Context(), payload.Email)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": message,
	})
}

type ResetPasswordRequest struct {
	Password string `json:"password" form:"password"`
}

func (a *AuthController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badRequestBody(err))
	}

	resp, err := a.Service.ResetPassword(ctx.Context(), ctx.Param("token"), payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.sessionJSON(ctx, http.StatusOK, "Password reset successful", resp)
}

func (a *AuthController) Me(ctx router.Context) error {
	identity, err := a.Service.CurrentIdentity(ctx.Context(), IdentityIDFromRouter(ctx, a.ContextKey))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"user": identity.Profile(),
		},
	})
}

// Logout clears the session cookie. With ?all=true every session of the
// authenticated identity is revoked.
func (a *AuthController) Logout(ctx router.Context) error {
	if revokeAllRequested(ctx) {
		if err := a.Service.RevokeSessions(ctx.Context(), IdentityIDFromRouter(ctx, a.ContextKey)); err != nil {
			return a.ErrorHandler(ctx, err)
		}
	}

	a.Auther.cookieDel(ctx)

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Logged out successfully",
	})
}

func (a *AuthController) sessionJSON(ctx router.Context, status int, message string, resp *SessionResponse) error {
	if resp == nil || resp.Identity == nil {
		return a.ErrorHandler(ctx, richOrInternal(fmt.Errorf("empty session response"), "session response missing"))
	}

	a.Auther.setCookieToken(ctx, resp.Token)

	body := map[string]any{
		"status": "success",
		"token":  resp.Token,
		"data": map[string]any{
			"user": resp.Identity.Summary(),
		},
	}
	if message != "" {
		body["message"] = message
	}

	if a.Debug {
		a.Logger.Debug("session issued: %s", print.MaybePrettyJSON(resp.Identity.Summary()))
	}

	return ctx.JSON(status, body)
}

func badRequestBody(err error) error {
	return NewValidationError(fmt.Errorf("invalid request body: %w", err))
}
