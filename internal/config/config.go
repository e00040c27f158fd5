package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// Lock drivers
const (
	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)

const minSecretLength = 32

type Config struct {
	Server    ServerConfig    `env:",prefix=SERVER_"`
	Store     StoreConfig     `env:",prefix=STORE_"`
	Postgres  PostgresConfig  `env:",prefix=POSTGRES_"`
	Mongo     MongoConfig     `env:",prefix=MONGO_"`
	Redis     RedisConfig     `env:",prefix=REDIS_"`
	State     StateConfig     `env:",prefix=STATE_"`
	Tokens    TokenConfig     `env:",prefix=TOKEN_"`
	Providers ProvidersConfig `env:",prefix="`
	Security  SecurityConfig  `env:",prefix="`
	CORS      CORSConfig      `env:",prefix=CORS_"`
	AppURL    string          `env:"APP_URL,default=http://localhost:3000"`
	Env       string          `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=30s"`
}

type StoreConfig struct {
	Driver string `env:"DRIVER,default=postgres"`
}

type PostgresConfig struct {
	Host        string `env:"HOST,default=localhost"`
	Port        string `env:"PORT,default=5432"`
	User        string `env:"USER,default=integrations"`
	Password    string `env:"PASSWORD,default=integrations_password"`
	DBName      string `env:"DB,default=integrations_db"`
	SSLMode     string `env:"SSLMODE,default=disable"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=true"`
}

type MongoConfig struct {
	URI        string `env:"URI,default=mongodb://localhost:27017"`
	Database   string `env:"DATABASE,default=integrations"`
	Collection string `env:"COLLECTION,default=integration_connections"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

// StateConfig controls the signed single-use state parameter of the consent flow
type StateConfig struct {
	Secret string   `env:"SECRET,required"`
	TTL    Duration `env:"TTL,default=10m"`
}

// TokenConfig controls how stored provider tokens are sealed and refreshed
type TokenConfig struct {
	EncryptionKey string   `env:"ENCRYPTION_KEY,required"`
	RefreshSkew   Duration `env:"REFRESH_SKEW,default=5m"`
	LockDriver    string   `env:"LOCK_DRIVER,default=redis"`
	LockTTL       Duration `env:"LOCK_TTL,default=30s"`
}

// ProvidersConfig holds OAuth client credentials for the built-in providers
type ProvidersConfig struct {
	File            string              `env:"PROVIDERS_FILE"`
	RedirectBaseURL string              `env:"OAUTH_REDIRECT_BASE_URL,default=http://localhost:8080"`
	HTTPTimeout     Duration            `env:"PROVIDER_HTTP_TIMEOUT,default=15s"`
	Gmail           ProviderCredentials `env:",prefix=GMAIL_"`
	Square          ProviderCredentials `env:",prefix=SQUARE_"`
	Outlook         ProviderCredentials `env:",prefix=OUTLOOK_"`
	Lightspeed      ProviderCredentials `env:",prefix=LIGHTSPEED_"`
}

type ProviderCredentials struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURI  string   `env:"REDIRECT_URI"`
	Scopes       []string `env:"SCOPES"`
}

type SecurityConfig struct {
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=20"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	ConnectDebug      bool     `env:"CONNECT_DEBUG,default=false"`
	InternalAPIKeys   []string `env:"INTERNAL_API_KEYS"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// RefreshTimeout bounds the work done while holding a refresh lock so that it
// ends before the lease can expire
func (t TokenConfig) RefreshTimeout() time.Duration {
	margin := t.LockTTL.Duration / 10
	if margin < time.Second {
		margin = time.Second
	}
	if t.LockTTL.Duration <= margin {
		return t.LockTTL.Duration
	}
	return t.LockTTL.Duration - margin
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Credentials returns the built-in provider credentials keyed by provider name
func (p ProvidersConfig) Credentials() map[string]ProviderCredentials {
	return map[string]ProviderCredentials{
		"gmail":      p.Gmail,
		"square":     p.Square,
		"outlook":    p.Outlook,
		"lightspeed": p.Lightspeed,
	}
}

// CallbackURL returns the default redirect URI registered for provider
func (p ProvidersConfig) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/auth/%s/callback", strings.TrimRight(p.RedirectBaseURL, "/"), provider)
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if len(c.State.Secret) < minSecretLength {
		return fmt.Errorf("STATE_SECRET must be at least %d characters long", minSecretLength)
	}

	if len(c.Tokens.EncryptionKey) < minSecretLength {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be at least %d characters long", minSecretLength)
	}

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Tokens.LockDriver {
	case LockDriverLocal, LockDriverRedis:
	default:
		return fmt.Errorf("unsupported TOKEN_LOCK_DRIVER %q", c.Tokens.LockDriver)
	}

	if c.State.TTL.Duration <= 0 {
		return fmt.Errorf("STATE_TTL must be positive")
	}

	if c.Tokens.LockTTL.Duration <= 0 {
		return fmt.Errorf("TOKEN_LOCK_TTL must be positive")
	}

	// the refresh section must finish before the lease runs out
	if c.Tokens.LockTTL.Duration <= c.Providers.HTTPTimeout.Duration {
		return fmt.Errorf("TOKEN_LOCK_TTL (%s) must exceed PROVIDER_HTTP_TIMEOUT (%s)",
			c.Tokens.LockTTL.Duration, c.Providers.HTTPTimeout.Duration)
	}

	if c.Tokens.RefreshSkew.Duration < 0 {
		return fmt.Errorf("TOKEN_REFRESH_SKEW must not be negative")
	}

	return nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
