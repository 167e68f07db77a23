// Package config reads every PAYFLOW_* variable into one struct at start-up.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const EnvPrefix = "PAYFLOW"

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Sweep        SweepConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
}

// Load parses the environment and reports every invalid setting at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.resolveDSN(),
		cfg.Checkout.validate(),
		cfg.Sweep.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PAYFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYFLOW_LOG_WARN_STACK" default:"false"`
}

// IsDev gates conveniences such as migrating on boot.
func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

// DBConfig takes either a DSN or its parts; Load folds the parts into DSN.
type DBConfig struct {
	DSN    string `envconfig:"PAYFLOW_DB_DSN"`
	Driver string `envconfig:"PAYFLOW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"PAYFLOW_DB_HOST"`
	Port     int    `envconfig:"PAYFLOW_DB_PORT" default:"5432"`
	User     string `envconfig:"PAYFLOW_DB_USER"`
	Password string `envconfig:"PAYFLOW_DB_PASSWORD"`
	Name     string `envconfig:"PAYFLOW_DB_NAME"`
	SSLMode  string `envconfig:"PAYFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) resolveDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.Host == "" || db.User == "" || db.Name == "" {
		return errors.New("PAYFLOW_DB_DSN, or PAYFLOW_DB_HOST with PAYFLOW_DB_USER and PAYFLOW_DB_NAME, is required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(db.User),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   db.Name,
	}
	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.SSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}

// RedisConfig accepts a URL or a bare address.
type RedisConfig struct {
	URL          string        `envconfig:"PAYFLOW_REDIS_URL"`
	Address      string        `envconfig:"PAYFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"PAYFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"PAYFLOW_STRIPE_API_KEY" required:"true"`
	WebhookSecret  string        `envconfig:"PAYFLOW_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"PAYFLOW_STRIPE_ENV" default:"test"`
	Currency       string        `envconfig:"PAYFLOW_STRIPE_CURRENCY" default:"inr"`
	RequestTimeout time.Duration `envconfig:"PAYFLOW_STRIPE_REQUEST_TIMEOUT" default:"15s"`
}

// Environment is "test" or "live", lower-cased; blank means test.
func (s StripeConfig) Environment() string {
	if env := strings.ToLower(strings.TrimSpace(s.Env)); env != "" {
		return env
	}
	return "test"
}

// CheckoutConfig drives purchase creation and the hosted-page redirects.
type CheckoutConfig struct {
	PublicBaseURL   string        `envconfig:"PAYFLOW_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	ReturnURL       string        `envconfig:"PAYFLOW_STOREFRONT_RETURN_URL" default:"/"`
	DuplicateWindow time.Duration `envconfig:"PAYFLOW_CHECKOUT_DUPLICATE_WINDOW" default:"5s"`
	ConflictWait    time.Duration `envconfig:"PAYFLOW_CHECKOUT_CONFLICT_WAIT" default:"3s"`
}

// SuccessURL is the processor redirect target; the processor substitutes the session id.
func (c CheckoutConfig) SuccessURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/success?session_id={CHECKOUT_SESSION_ID}"
}

func (c CheckoutConfig) CancelURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/cancel"
}

func (c CheckoutConfig) validate() error {
	var err error
	if u, perr := url.Parse(c.PublicBaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		err = multierr.Append(err, fmt.Errorf("PAYFLOW_PUBLIC_BASE_URL %q must be an absolute URL", c.PublicBaseURL))
	}
	if c.DuplicateWindow < 0 || c.ConflictWait < 0 {
		err = multierr.Append(err, errors.New("checkout durations must not be negative"))
	}
	return err
}

type SweepConfig struct {
	Interval  time.Duration `envconfig:"PAYFLOW_SWEEP_INTERVAL" default:"5m"`
	BatchSize int           `envconfig:"PAYFLOW_SWEEP_BATCH_SIZE" default:"100"`
	LockTTL   time.Duration `envconfig:"PAYFLOW_SWEEP_LOCK_TTL" default:"10m"`
}

// the lock must outlive a cycle or two workers can sweep at once
func (s SweepConfig) validate() error {
	if s.LockTTL > 0 && s.Interval > 0 && s.LockTTL < s.Interval {
		return fmt.Errorf("PAYFLOW_SWEEP_LOCK_TTL (%s) must not be shorter than PAYFLOW_SWEEP_INTERVAL (%s)", s.LockTTL, s.Interval)
	}
	return nil
}

type WebhookConfig struct {
	EventIdempotencyTTL time.Duration `envconfig:"PAYFLOW_WEBHOOK_EVENT_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PAYFLOW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"PAYFLOW_PUBSUB_ORDERS_TOPIC" default:"payflow-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PAYFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PAYFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PAYFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PAYFLOW_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"PAYFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYFLOW_AUTO_MIGRATE" default:"false"`
}
