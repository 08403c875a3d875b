package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-wallet-auth"
)

// fastHasher keeps bcrypt out of the hot path of repository tests
type fastHasher struct{}

func (fastHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", auth.ErrNoEmptyString
	}
	return "plain:" + password, nil
}

func (fastHasher) ComparePasswordAndHash(password, hash string) error {
	if hash != "plain:"+password {
		return auth.ErrMismatchedHashAndPassword
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db, "sqlite", nopLogger{}))
	return db
}

type fixture struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	store    *auth.CredentialStore
	tokens   *auth.TokenManager
	sessions *auth.SessionIssuer
	mailer   *recordingMailer
	notifier *auth.AccountNotifier
	activity *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db)
	mailer := &recordingMailer{}

	return &fixture{
		db:   db,
		repo: repo,
		store: auth.NewCredentialStore(repo.Identities()).
			WithPasswordHasher(fastHasher{}).
			WithLogger(nopLogger{}),
		tokens: auth.NewTokenManager(repo.Identities()).
			WithPasswordHasher(fastHasher{}).
			WithLogger(nopLogger{}),
		sessions: auth.NewSessionIssuer([]byte("fixture-secret"), time.Hour, "solearn", jwt.ClaimStrings{"solearn"}, nopLogger{}),
		mailer:   mailer,
		notifier: auth.NewAccountNotifier(auth.NewMailComposer("", "https://solearn.test"), mailer, nopLogger{}),
		activity: &recordingSink{},
	}
}

func (f *fixture) service() *auth.Service {
	return auth.NewService(f.repo, f.sessions, f.notifier).
		WithCredentialStore(f.store).
		WithTokens(f.tokens).
		WithActivitySink(f.activity).
		WithResetDispatcher(auth.InlineDispatch).
		WithLogger(nopLogger{})
}

func (f *fixture) register(t *testing.T, username, email string) *auth.Identity {
	t.Helper()
	identity, err := f.store.Register(context.Background(), username, email, "password123")
	require.NoError(t, err)
	return identity
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []auth.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last() auth.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return auth.Message{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func tokenFromMail(t *testing.T, msg auth.Message, path string) string {
	t.Helper()
	marker := path + "/"
	idx := strings.Index(msg.Text, marker)
	require.NotEqual(t, -1, idx, "mail body should carry a %s link", path)
	rest := msg.Text[idx+len(marker):]
	if end := strings.IndexAny(rest, " \n\r\t"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
