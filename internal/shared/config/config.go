package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	Ledger     LedgerConfig
	TLS        TLSConfig
	Plaid      PlaidConfig
	Email      EmailConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port         string   `envconfig:"PORT" default:"8080"`
	Host         string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedHosts []string `envconfig:"ALLOWED_HOSTS"`
}

type DatabaseConfig struct {
	Host         string `envconfig:"DB_HOST" default:"localhost"`
	Port         int    `envconfig:"DB_PORT" default:"5432"`
	User         string `envconfig:"DB_USER" default:"bract"`
	Password     string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME" default:"bract"`
	SSLMode      string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	AutoMigrate  bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// JWTConfig selects bearer verification: a JWKS URL for an external identity
// provider, or a shared HS256 secret.
type JWTConfig struct {
	Secret      string        `envconfig:"JWT_SECRET"`
	Issuer      string        `envconfig:"JWT_ISSUER"`
	Audience    string        `envconfig:"JWT_AUDIENCE"`
	JWKSURL     string        `envconfig:"JWT_JWKS_URL"`
	JWKSRefresh time.Duration `envconfig:"JWT_JWKS_REFRESH" default:"1h"`
}

type EncryptionConfig struct {
	Key string `envconfig:"ENCRYPTION_KEY"`
}

type SchedulerConfig struct {
	Enabled         bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	ScheduleTimes   []string      `envconfig:"SCHEDULER_TIMES" default:"08:00"`
	Timezone        string        `envconfig:"SCHEDULER_TIMEZONE" default:"UTC"`
	WorkerCount     int           `envconfig:"SCHEDULER_WORKERS" default:"2"`
	UserConcurrency int           `envconfig:"SCHEDULER_USER_CONCURRENCY" default:"8"`
	JobDelay        time.Duration `envconfig:"SCHEDULER_JOB_DELAY" default:"0s"`
	JobTimeout      time.Duration `envconfig:"SCHEDULER_JOB_TIMEOUT" default:"10m"`
	QueueSize       int           `envconfig:"SCHEDULER_QUEUE_SIZE" default:"10"`
	RunOnStartup    bool          `envconfig:"SCHEDULER_RUN_ON_STARTUP" default:"false"`
}

type LedgerConfig struct {
	Backend       string        `envconfig:"LEDGER_BACKEND" default:"postgres"` // postgres|bolt
	BoltPath      string        `envconfig:"LEDGER_BOLT_PATH" default:"./data/ledger.db"`
	ClaimTTL      time.Duration `envconfig:"LEDGER_CLAIM_TTL" default:"15m"`
	RetentionDays int           `envconfig:"LEDGER_RETENTION_DAYS" default:"45"`
}

type TLSConfig struct {
	Enabled      bool   `envconfig:"TLS_ENABLED" default:"false"`
	CertPath     string `envconfig:"TLS_CERT_PATH"`
	KeyPath      string `envconfig:"TLS_KEY_PATH"`
	RedirectHTTP bool   `envconfig:"TLS_REDIRECT_HTTP" default:"false"`
}

type PlaidConfig struct {
	ClientID         string        `envconfig:"PLAID_CLIENT_ID"`
	Secret           string        `envconfig:"PLAID_SECRET"`
	Env              string        `envconfig:"PLAID_ENV" default:"sandbox"`
	ClientName       string        `envconfig:"PLAID_CLIENT_NAME" default:"Bract"`
	Timeout          time.Duration `envconfig:"PLAID_TIMEOUT" default:"30s"`
	MaxAttempts      int           `envconfig:"PLAID_MAX_ATTEMPTS" default:"3"`
	RateLimit        float64       `envconfig:"PLAID_RATE_LIMIT" default:"10"`
	CacheTTL         time.Duration `envconfig:"PLAID_CACHE_TTL" default:"10m"`
	FetchConcurrency int           `envconfig:"PLAID_FETCH_CONCURRENCY" default:"4"`
}

type EmailConfig struct {
	Transport    string `envconfig:"EMAIL_TRANSPORT" default:"log"` // ses|log
	From         string `envconfig:"EMAIL_FROM"`
	Region       string `envconfig:"AWS_REGION" default:"us-east-1"`
	MessagesFile string `envconfig:"MESSAGES_FILE"`
	// SendTimeout bounds one delivery attempt, email or push.
	SendTimeout time.Duration `envconfig:"NOTIFY_SEND_TIMEOUT" default:"30s"`
}

type FirebaseConfig struct {
	CredentialsFile string `envconfig:"FIREBASE_CREDENTIALS_FILE"`
}

type TelemetryConfig struct {
	Enabled      bool   `envconfig:"OTEL_ENABLED" default:"false"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"bract-api"`
	Environment  string `envconfig:"OTEL_ENVIRONMENT" default:"development"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_ENDPOINT" default:"localhost:4317"`
	MetricsPort  string `envconfig:"METRICS_PORT" default:"9090"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
}

// Load reads every section from the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config

	sections := []struct {
		name string
		spec any
	}{
		{"server", &cfg.Server},
		{"database", &cfg.Database},
		{"jwt", &cfg.JWT},
		{"encryption", &cfg.Encryption},
		{"scheduler", &cfg.Scheduler},
		{"ledger", &cfg.Ledger},
		{"tls", &cfg.TLS},
		{"plaid", &cfg.Plaid},
		{"email", &cfg.Email},
		{"firebase", &cfg.Firebase},
		{"telemetry", &cfg.Telemetry},
		{"log", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.spec); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	cfg.Server.AllowedHosts = trimList(cfg.Server.AllowedHosts)
	cfg.Scheduler.ScheduleTimes = trimList(cfg.Scheduler.ScheduleTimes)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" && c.JWT.JWKSURL == "" {
		return fmt.Errorf("JWT_SECRET or JWT_JWKS_URL is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	if len(c.Scheduler.ScheduleTimes) == 0 {
		return fmt.Errorf("SCHEDULER_TIMES must list at least one HH:MM time")
	}
	for _, st := range c.Scheduler.ScheduleTimes {
		if _, err := time.Parse("15:04", st); err != nil {
			return fmt.Errorf("invalid SCHEDULER_TIMES entry %q (expected HH:MM)", st)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if c.Scheduler.UserConcurrency < 1 {
		return fmt.Errorf("SCHEDULER_USER_CONCURRENCY must be at least 1")
	}

	switch c.Ledger.Backend {
	case "postgres":
	case "bolt":
		if c.Ledger.BoltPath == "" {
			return fmt.Errorf("LEDGER_BOLT_PATH is required when LEDGER_BACKEND=bolt")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be 'postgres' or 'bolt', got %q", c.Ledger.Backend)
	}
	if c.Ledger.ClaimTTL <= 0 {
		return fmt.Errorf("LEDGER_CLAIM_TTL must be positive")
	}
	if c.Ledger.RetentionDays < 1 {
		return fmt.Errorf("LEDGER_RETENTION_DAYS must be at least 1")
	}
	// A claim must not go stale while its tick can still be sending.
	if c.Scheduler.JobTimeout <= 0 || c.Scheduler.JobTimeout >= c.Ledger.ClaimTTL {
		return fmt.Errorf("SCHEDULER_JOB_TIMEOUT (%s) must be positive and below LEDGER_CLAIM_TTL (%s)", c.Scheduler.JobTimeout, c.Ledger.ClaimTTL)
	}

	switch c.Plaid.Env {
	case "sandbox", "development", "production":
	default:
		return fmt.Errorf("PLAID_ENV must be sandbox, development or production, got %q", c.Plaid.Env)
	}
	if c.Plaid.MaxAttempts < 1 {
		return fmt.Errorf("PLAID_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Email.Transport {
	case "log":
	case "ses":
		if c.Email.From == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_TRANSPORT=ses")
		}
	default:
		return fmt.Errorf("EMAIL_TRANSPORT must be 'ses' or 'log', got %q", c.Email.Transport)
	}
	if c.Email.SendTimeout <= 0 || c.Email.SendTimeout >= c.Ledger.ClaimTTL {
		return fmt.Errorf("NOTIFY_SEND_TIMEOUT (%s) must be positive and below LEDGER_CLAIM_TTL (%s)", c.Email.SendTimeout, c.Ledger.ClaimTTL)
	}

	return nil
}

// TickTimeout checks a one-off tick deadline against the claim TTL. Zero
// selects SCHEDULER_JOB_TIMEOUT.
func (c *Config) TickTimeout(d time.Duration) (time.Duration, error) {
	if d == 0 {
		d = c.Scheduler.JobTimeout
	}
	if d <= 0 || d >= c.Ledger.ClaimTTL {
		return 0, fmt.Errorf("tick timeout %s must be positive and below LEDGER_CLAIM_TTL (%s)", d, c.Ledger.ClaimTTL)
	}
	return d, nil
}

// Location returns the scheduler's configured time zone. Load has already
// validated the name.
func (c *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
