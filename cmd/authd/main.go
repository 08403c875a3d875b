package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-wallet-auth"
	"github.com/goliatone/go-wallet-auth/activitymap"
)

type App struct {
	cfg     auth.Config
	logger  auth.Logger
	db      *bun.DB
	repo    auth.RepositoryManager
	tokens  *auth.TokenManager
	service *auth.Service
	auther  *auth.RouteAuthenticator
	srv     router.Server[*fiber.App]
	closers []func() error
}

func main() {
	// .env is optional, the environment wins
	_ = godotenv.Load()

	cfg, err := auth.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %s\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	lgr := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	app := &App{
		cfg:    cfg,
		logger: auth.NewSlogLogger(lgr),
	}

	if cfg.Debug {
		redacted := cfg
		redacted.SigningKey = "***"
		redacted.PreviousKeys = nil
		redacted.RedisPassword = "***"
		app.logger.Debug("config: %s", print.MaybePrettyJSON(redacted))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		app.logger.Error("persistence: %s", err)
		os.Exit(1)
	}

	if err := WithService(ctx, app); err != nil {
		app.logger.Error("service: %s", err)
		os.Exit(1)
	}

	WithHTTPServer(app)

	go app.tokens.RunPurger(ctx, cfg.PurgeInterval)

	go func() {
		if err := app.srv.Serve(cfg.ListenAddr); err != nil {
			app.logger.Error("http server: %s", err)
			cancel()
		}
	}()
	app.logger.Info("listening on %s", cfg.ListenAddr)

	select {
	case sig := <-WaitExitSignal():
		app.logger.Info("received %s, shutting down", sig)
	case <-ctx.Done():
	}

	cancel()
	app.Shutdown()
}

func WithPersistence(ctx context.Context, app *App) error {
	var (
		sqldb *sql.DB
		err   error
	)

	switch app.cfg.DatabaseDriver {
	case "postgres":
		sqldb, err = sql.Open("pgx", app.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		app.db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, app.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		sqldb.SetMaxOpenConns(1)
		app.db = bun.NewDB(sqldb, sqlitedialect.New())
	}
	app.closers = append(app.closers, app.db.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping %s: %w", app.cfg.DatabaseDriver, err)
	}

	if err := auth.Migrate(ctx, app.db, app.cfg.DatabaseDriver, app.logger); err != nil {
		return err
	}

	app.repo = auth.NewRepositoryManager(app.db)
	app.repo.MustValidate()
	return nil
}

func WithService(ctx context.Context, app *App) error {
	cfg := app.cfg

	sessions := auth.NewSessionIssuer(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		app.logger,
	).
		WithKeyID(cfg.KeyID).
		WithVerificationKeys(cfg.GetVerificationKeys())

	var mailer auth.Mailer = auth.NewLogMailer(app.logger)
	if cfg.AMQPURL != "" {
		amqpMailer, closer, err := auth.DialAMQPMailer(cfg.AMQPURL, cfg.MailQueue, app.logger)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		app.closers = append(app.closers, closer)
		mailer = amqpMailer
	}

	notifier := auth.NewAccountNotifier(
		auth.NewMailComposer(cfg.MailFrom, cfg.AppURL),
		mailer,
		app.logger,
	)

	app.tokens = auth.NewTokenManager(app.repo.Identities()).
		WithTTL(auth.TokenEmailVerification, cfg.VerificationTTL).
		WithTTL(auth.TokenPasswordReset, cfg.PasswordResetTTL).
		WithLogger(app.logger)

	store := auth.NewCredentialStore(app.repo.Identities()).
		WithLogger(app.logger)

	verifier := auth.NewWalletVerifier().
		WithSignatureEncoding(auth.SignatureEncoding(cfg.SignatureEncoding))

	activity := activitymap.Sink(func(record activitymap.Normalized) error {
		app.logger.Info("activity %s", print.MaybePrettyJSON(record))
		return nil
	})

	app.service = auth.NewService(app.repo, sessions, notifier).
		WithCredentialStore(store).
		WithTokens(app.tokens).
		WithWalletVerifier(verifier).
		WithActivitySink(activity).
		WithLogger(app.logger)

	if cfg.RequireChallenge {
		challengeStore, err := newChallengeStore(ctx, app)
		if err != nil {
			return err
		}
		app.service.WithChallenges(
			auth.NewWalletChallenges(challengeStore).WithTTL(cfg.ChallengeTTL),
		)
	}

	app.auther = auth.NewHTTPAuthenticator(sessions, app.service, cfg).
		WithLogger(app.logger)

	return nil
}

func newChallengeStore(ctx context.Context, app *App) (auth.ChallengeStore, error) {
	if app.cfg.RedisAddr == "" {
		app.logger.Warn("REDIS_ADDR not set, wallet challenges kept in memory")
		return auth.NewMemoryChallengeStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	app.closers = append(app.closers, client.Close)
	return auth.NewRedisChallengeStore(client), nil
}

func WithHTTPServer(app *App) {
	app.srv = router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:  true,
			StrictRouting: false,
			AppName:       "solearn-auth",
		}))
	})

	api := app.srv.Router().Group("/api/auth")

	auth.RegisterAuthRoutes(api, func(ac *auth.AuthController) *auth.AuthController {
		ac.Debug = app.cfg.Debug
		ac.Service = app.service
		ac.Auther = app.auther
		ac.ContextKey = app.cfg.GetContextKey()
		ac.WithLogger(app.logger)
		return ac
	})

	app.srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(router.StatusOK, map[string]string{"status": "ok"})
	})
}

func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("http shutdown: %s", err)
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close: %s", err)
		}
	}
}

func WaitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
