package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the typed view of the process environment.
type Settings struct {
	GoEnv string `env:"GO_ENV"`
	Port  string `env:"PORT" envDefault:"8080"`

	DBDriver          string        `env:"DB_DRIVER" envDefault:"mysql"`
	DBUser            string        `env:"DB_USER"`
	DBPassword        string        `env:"DB_PASSWORD"`
	DBHost            string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort            string        `env:"DB_PORT" envDefault:"3306"`
	DBName            string        `env:"DB_NAME" envDefault:"retail"`
	DBDSN             string        `env:"DB_DSN"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	SkipMigrations    bool          `env:"SKIP_MIGRATIONS"`

	RedisAddress  string        `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	CacheLifespan time.Duration `env:"CACHE_LIFESPAN" envDefault:"1h"`

	PubSubProjectID       string `env:"PUBSUB_PROJECT_ID"`
	PubSubCredentialsJSON string `env:"PUBSUB_CREDENTIALS_JSON"`
	AuditTopic            string `env:"AUDIT_TOPIC" envDefault:"ledger-audit"`

	APISecret          string   `env:"API_SECRET"`
	TokenLifespan      int      `env:"TOKEN_HOUR_LIFESPAN" envDefault:"12"`
	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"error"`

	MaxCartItems     int           `env:"LEDGER_MAX_CART_ITEMS" envDefault:"200"`
	DefaultTaxRateBp int64         `env:"LEDGER_DEFAULT_TAX_RATE_BP" envDefault:"1800"`
	PhoneRegion      string        `env:"LEDGER_PHONE_REGION" envDefault:"DO"`
	TxTimeout        time.Duration `env:"LEDGER_TX_TIMEOUT" envDefault:"15s"`
	TxMaxAttempts    int           `env:"LEDGER_TX_MAX_ATTEMPTS" envDefault:"3"`
	TxRetryBackoff   time.Duration `env:"LEDGER_TX_RETRY_BACKOFF" envDefault:"100ms"`
}

var (
	settings     *Settings
	settingsOnce sync.Once
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// GetSettings parses the environment once. A malformed variable is logged and
// its default kept.
func GetSettings() *Settings {
	settingsOnce.Do(func() {
		s := &Settings{}
		if err := ParseEnv(s); err != nil {
			LogError(logg, "config", "GetSettings", "ParseEnv", nil, err)
			s = defaultSettings()
		}
		settings = s
	})
	return settings
}

// UseSettings replaces the process settings. Tests and tools only.
func UseSettings(s *Settings) {
	settingsOnce.Do(func() {})
	settings = s
}

func defaultSettings() *Settings {
	s := &Settings{}
	_ = env.ParseWithOptions(s, env.Options{Environment: map[string]string{}})
	return s
}
