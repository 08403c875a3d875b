package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings, read from the environment by LoadConfig
type Config struct {
	SigningKey        string        `env:"JWT_SECRET"`
	PreviousKeys      []string      `env:"JWT_PREVIOUS_SECRETS" envSeparator:","`
	KeyID             string        `env:"JWT_KEY_ID" envDefault:"primary"`
	TokenExpiration   time.Duration `env:"JWT_EXPIRES_IN" envDefault:"168h"`
	Issuer            string        `env:"JWT_ISSUER" envDefault:"solearn"`
	Audience          []string      `env:"JWT_AUDIENCE" envSeparator:"," envDefault:"solearn"`
	ContextKey        string        `env:"AUTH_CONTEXT_KEY" envDefault:"user"`
	TokenLookup       string        `env:"AUTH_TOKEN_LOOKUP" envDefault:"header:Authorization,cookie:token"`
	AuthScheme        string        `env:"AUTH_SCHEME" envDefault:"Bearer"`
	VerificationTTL   time.Duration `env:"EMAIL_VERIFICATION_TTL" envDefault:"24h"`
	PasswordResetTTL  time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	PurgeInterval     time.Duration `env:"TOKEN_PURGE_INTERVAL" envDefault:"1h"`
	RequireChallenge  bool          `env:"WALLET_REQUIRE_CHALLENGE" envDefault:"true"`
	ChallengeTTL      time.Duration `env:"WALLET_CHALLENGE_TTL" envDefault:"5m"`
	SignatureEncoding string        `env:"WALLET_SIGNATURE_ENCODING" envDefault:"base58"`
	MailFrom          string        `env:"EMAIL_FROM" envDefault:"SoLearn <noreply@solearn.co>"`
	AppURL            string        `env:"APP_URL" envDefault:"http://localhost:3000"`
	AMQPURL           string        `env:"AMQP_URL"`
	MailQueue         string        `env:"MAIL_QUEUE" envDefault:"mail.outbound"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	DatabaseDriver    string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"file:solearn.db?cache=shared"`
	ListenAddr        string        `env:"HTTP_ADDR" envDefault:":5000"`
	Debug             bool          `env:"DEBUG"`
}

// LoadConfig parses the environment into a Config and validates it
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SigningKey) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenExpiration <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}
	switch SignatureEncoding(c.SignatureEncoding) {
	case SignatureBase58, SignatureBase64, SignatureHex:
	default:
		return fmt.Errorf("unsupported WALLET_SIGNATURE_ENCODING %q", c.SignatureEncoding)
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DatabaseDriver)
	}
	return nil
}

func (c Config) GetSigningKey() string {
	return c.SigningKey
}

func (c Config) GetSigningMethod() string {
	return "HS256"
}

func (c Config) GetContextKey() string {
	return c.ContextKey
}

func (c Config) GetTokenExpiration() time.Duration {
	return c.TokenExpiration
}

func (c Config) GetTokenLookup() string {
	return c.TokenLookup
}

func (c Config) GetAuthScheme() string {
	return c.AuthScheme
}

func (c Config) GetIssuer() string {
	return c.Issuer
}

func (c Config) GetAudience() []string {
	return c.Audience
}

// GetVerificationKeys maps key ids to secrets accepted during validation.
// Previous secrets are addressed as "<kid>-1", "<kid>-2" and so on.
func (c Config) GetVerificationKeys() map[string][]byte {
	keys := map[string][]byte{c.KeyID: []byte(c.SigningKey)}
	for i, secret := range c.PreviousKeys {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		keys[fmt.Sprintf("%s-%d", c.KeyID, i+1)] = []byte(secret)
	}
	return keys
}
