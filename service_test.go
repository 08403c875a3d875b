package auth_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-wallet-auth"
)

func TestServiceRegisterIssuesSessionAndVerificationMail(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.False(t, resp.Identity.IsVerified)
	assert.Equal(t, auth.RoleUser, resp.Identity.Role)

	claims, err := f.sessions.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Identity.ID.String(), claims.Subject())

	require.Equal(t, 1, f.mailer.count())
	assert.Equal(t, "alice@x.io", f.mailer.last().To)
	assert.Contains(t, f.activity.types(), auth.ActivityEventRegistered)
}

func TestServiceRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice_two", "alice@x.io", "password123")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
	assert.Equal(t, 400, auth.ErrorStatus(err))

	_, err = svc.Register(ctx, "alice", "second@x.io", "password123")
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)

	assert.Equal(t, 1, f.mailer.count())
}

func TestServiceRegisterValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	_, err := svc.Register(context.Background(), "a!", "not-an-email", "short")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)

	fields, ok := richErr.Metadata["fields"].([]auth.FieldError)
	require.True(t, ok)

	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.Field)
	}
	assert.ElementsMatch(t, []string{"username", "email", "password"}, names)
}

func TestServiceRegisterValidatesBeforeConflicts(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice2", "alice@example.com", "other")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))
	assert.Equal(t, http.StatusBadRequest, auth.ErrorStatus(err))
	assert.NotErrorIs(t, err, auth.ErrEmailTaken)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, []auth.FieldError{{Field: "password", Message: "Password must be at least 8 characters"}}, richErr.Metadata["fields"])

	_, err = svc.Login(ctx, "alice@example.com", "password123")
	assert.NoError(t, err)
}

func TestServiceRegisterPasswordByteLimit(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	// 40 characters, 80 bytes
	long := strings.Repeat("é", 40)

	_, err := svc.Register(ctx, "bob", "bob@example.com", long)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))
	assert.Equal(t, http.StatusBadRequest, auth.ErrorStatus(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	fields, ok := richErr.Metadata["fields"].([]auth.FieldError)
	require.True(t, ok)
	assert.Equal(t, []auth.FieldError{{Field: "password", Message: "Password must be at most 72 bytes"}}, fields)

	_, err = svc.Register(ctx, "bob", "bob@example.com", strings.Repeat("é", 36))
	assert.NoError(t, err)
}

func TestServiceResetPasswordByteLimit(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	_, err = svc.ForgotPassword(ctx, "alice@x.io")
	require.NoError(t, err)
	token := tokenFromMail(t, f.mailer.last(), "/reset-password")

	_, err = svc.ResetPassword(ctx, token, strings.Repeat("é", 40))
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))
	assert.Equal(t, http.StatusBadRequest, auth.ErrorStatus(err))

	// the token survives a rejected request
	_, err = svc.ResetPassword(ctx, token, "newpassword1")
	assert.NoError(t, err)
}

func TestServiceRegisterMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("broker down")
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeMailDispatch))
	assert.Contains(t, f.activity.types(), auth.ActivityEventMailDispatchFailure)

	// the identity stays registered; verification can be resent later
	_, err = f.store.FindByEmail(ctx, "alice@x.io")
	assert.NoError(t, err)
}

func TestServiceVerifyEmail(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	token := tokenFromMail(t, f.mailer.last(), "/verify-email")

	resp, err := svc.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, resp.Identity.IsVerified)
	assert.NotEmpty(t, resp.Token)

	_, err = svc.VerifyEmail(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)

	err = svc.ResendVerification(ctx, resp.Identity.ID)
	assert.ErrorIs(t, err, auth.ErrAlreadyVerified)
}

func TestServiceResendVerification(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	first := tokenFromMail(t, f.mailer.last(), "/verify-email")

	require.NoError(t, svc.ResendVerification(ctx, resp.Identity.ID))
	require.Equal(t, 2, f.mailer.count())
	second := tokenFromMail(t, f.mailer.last(), "/verify-email")

	_, err = svc.VerifyEmail(ctx, first)
	assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)

	_, err = svc.VerifyEmail(ctx, second)
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ResendVerification(ctx, uuid.Nil), auth.ErrNotAuthenticated)
	assert.ErrorIs(t, svc.ResendVerification(ctx, uuid.New()), auth.ErrIdentityNotFound)
}

func TestServiceLogin(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	resp, err := svc.Login(ctx, "ALICE@x.io", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Identity.Username)
	assert.NotEmpty(t, resp.Token)

	_, wrong := svc.Login(ctx, "alice@x.io", "wrong-password")
	_, unknown := svc.Login(ctx, "bob@x.io", "password123")
	assert.ErrorIs(t, wrong, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, unknown, auth.ErrInvalidCredentials)
	assert.Equal(t, 401, auth.ErrorStatus(wrong))
	assert.Contains(t, f.activity.types(), auth.ActivityEventLoginFailure)
}

func TestServiceForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	oldSession := registered.Token

	unknownAck, err := svc.ForgotPassword(ctx, "nobody@x.io")
	require.NoError(t, err)
	assert.Equal(t, 1, f.mailer.count())

	knownAck, err := svc.ForgotPassword(ctx, "alice@x.io")
	require.NoError(t, err)
	assert.Equal(t, unknownAck, knownAck)
	assert.Equal(t, auth.ForgotPasswordAck, knownAck)
	require.Equal(t, 2, f.mailer.count())

	token := tokenFromMail(t, f.mailer.last(), "/reset-password")

	_, err = svc.ResetPassword(ctx, token, "short")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))

	resp, err := svc.ResetPassword(ctx, token, "newpassword1")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = svc.Authorize(ctx, oldSession)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	_, err = svc.Authorize(ctx, resp.Token)
	assert.NoError(t, err)

	_, err = svc.Login(ctx, "alice@x.io", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "alice@x.io", "newpassword1")
	assert.NoError(t, err)

	_, err = svc.ResetPassword(ctx, token, "newpassword2")
	assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)
}

// gatedMailer holds every send until release is closed
type gatedMailer struct {
	recordingMailer
	release chan struct{}
}

func (m *gatedMailer) Send(ctx context.Context, msg auth.Message) error {
	<-m.release
	return m.recordingMailer.Send(ctx, msg)
}

func TestServiceForgotPasswordAcksBeforeMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@x.io")

	mailer := &gatedMailer{release: make(chan struct{})}
	notifier := auth.NewAccountNotifier(auth.NewMailComposer("", "https://solearn.test"), mailer, nopLogger{})
	svc := auth.NewService(f.repo, f.sessions, notifier).
		WithCredentialStore(f.store).
		WithTokens(f.tokens).
		WithLogger(nopLogger{})

	reqCtx, cancel := context.WithCancel(ctx)
	ack, err := svc.ForgotPassword(reqCtx, "alice@x.io")
	cancel()
	require.NoError(t, err)
	assert.Equal(t, auth.ForgotPasswordAck, ack)
	assert.Equal(t, 0, mailer.count())

	unknownAck, err := svc.ForgotPassword(ctx, "nobody@x.io")
	require.NoError(t, err)
	assert.Equal(t, ack, unknownAck)

	close(mailer.release)
	require.Eventually(t, func() bool { return mailer.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	token := tokenFromMail(t, mailer.last(), "/reset-password")

	_, err = svc.ResetPassword(ctx, token, "newpassword1")
	assert.NoError(t, err)
}

func TestServiceForgotPasswordValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.service().ForgotPassword(context.Background(), "not-an-email")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidation))
}

func TestServiceExpiredResetThenReissue(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	now := time.Now()
	f.tokens.WithClock(func() time.Time { return now })

	_, err = svc.ForgotPassword(ctx, "alice@x.io")
	require.NoError(t, err)
	expired := tokenFromMail(t, f.mailer.last(), "/reset-password")

	now = now.Add(2 * time.Hour)

	_, err = svc.ResetPassword(ctx, expired, "newpassword1")
	assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)

	_, err = svc.ForgotPassword(ctx, "alice@x.io")
	require.NoError(t, err)
	fresh := tokenFromMail(t, f.mailer.last(), "/reset-password")
	require.NotEqual(t, expired, fresh)

	_, err = svc.ResetPassword(ctx, fresh, "newpassword1")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@x.io", "newpassword1")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, "alice@x.io", "password123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestServiceBindWalletWithChallenge(t *testing.T) {
	f := newFixture(t)
	svc := f.service().WithChallenges(auth.NewWalletChallenges(auth.NewMemoryChallengeStore()))
	ctx := context.Background()

	resp, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	id := resp.Identity.ID
	wallet := newWallet(t)

	challenge, err := svc.IssueWalletChallenge(ctx, id)
	require.NoError(t, err)

	// signature over a different message is rejected and the nonce spent
	_, err = svc.BindWallet(ctx, id, wallet.address, wallet.sign("something else", auth.SignatureBase58), challenge.Message)
	assert.ErrorIs(t, err, auth.ErrInvalidWalletProof)
	assert.Contains(t, f.activity.types(), auth.ActivityEventWalletProofRejected)

	challenge, err = svc.IssueWalletChallenge(ctx, id)
	require.NoError(t, err)

	identity, err := svc.BindWallet(ctx, id, wallet.address, wallet.sign(challenge.Message, auth.SignatureBase58), challenge.Message)
	require.NoError(t, err)
	require.NotNil(t, identity.WalletAddress)
	assert.Equal(t, wallet.address, *identity.WalletAddress)

	// replaying the same signed challenge fails
	_, err = svc.BindWallet(ctx, id, wallet.address, wallet.sign(challenge.Message, auth.SignatureBase58), challenge.Message)
	assert.ErrorIs(t, err, auth.ErrInvalidWalletProof)
}

func TestServiceBindWalletFreeMessage(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	alice, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)
	bob, err := svc.Register(ctx, "bob", "bob@x.io", "password123")
	require.NoError(t, err)

	wallet := newWallet(t)
	msg := "I own this wallet"

	_, err = svc.BindWallet(ctx, alice.Identity.ID, wallet.address, wallet.sign(msg, auth.SignatureBase58), msg)
	require.NoError(t, err)

	_, err = svc.BindWallet(ctx, bob.Identity.ID, wallet.address, wallet.sign(msg, auth.SignatureBase58), msg)
	assert.ErrorIs(t, err, auth.ErrWalletTaken)
	assert.Equal(t, http.StatusBadRequest, auth.ErrorStatus(err))

	_, err = svc.BindWallet(ctx, bob.Identity.ID, "garbage", "garbage", msg)
	assert.ErrorIs(t, err, auth.ErrInvalidWalletProof)

	_, err = svc.BindWallet(ctx, uuid.Nil, wallet.address, wallet.sign(msg, auth.SignatureBase58), msg)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	_, err = svc.IssueWalletChallenge(ctx, alice.Identity.ID)
	assert.Equal(t, 404, auth.ErrorStatus(err))
}

func TestServiceRevokeSessions(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	claims, err := svc.Authorize(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, 0, claims.SessionEpoch())

	require.NoError(t, svc.RevokeSessions(ctx, resp.Identity.ID))

	_, err = svc.Authorize(ctx, resp.Token)
	assert.ErrorIs(t, err, auth.ErrSessionRevoked)

	login, err := svc.Login(ctx, "alice@x.io", "password123")
	require.NoError(t, err)
	claims, err = svc.Authorize(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.SessionEpoch())

	assert.ErrorIs(t, svc.RevokeSessions(ctx, uuid.Nil), auth.ErrNotAuthenticated)
}

func TestServiceCurrentIdentity(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	resp, err := svc.Register(ctx, "alice", "alice@x.io", "password123")
	require.NoError(t, err)

	identity, err := svc.CurrentIdentity(ctx, resp.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Profile().Username)

	_, err = svc.CurrentIdentity(ctx, uuid.Nil)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestServiceAuthorizeDeletedIdentity(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	token, err := f.sessions.Issue(&auth.Identity{ID: uuid.New(), Role: auth.RoleUser})
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}
