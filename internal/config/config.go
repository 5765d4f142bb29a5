package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Triage  TriageConfig
	Leads   LeadsConfig
	Webhook WebhookConfig
	Events  EventsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies the calls and audit schema on boot.
	AutoMigrate bool
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// TriageConfig tunes the per-session tasks. Zero values get defaults in Validate.
type TriageConfig struct {
	RingUnits     int
	Tick          time.Duration
	NotesDebounce time.Duration
	LockTTL       time.Duration
	SweepInterval time.Duration
	SweepGrace    time.Duration
	StoreTimeout  time.Duration

	// MaxSessionsPerAgent of 0 disables the cap.
	MaxSessionsPerAgent int
	SessionTTL          time.Duration
}

type LeadsConfig struct {
	Source       string // postgres or http
	PollInterval time.Duration
	ClearDelay   time.Duration
	APIURL       string
	APIToken     string
	Timeout      time.Duration
	// CacheTTL shares one upstream fetch between the sessions polling within it.
	CacheTTL time.Duration
}

// EventsConfig points relayed triage events at RabbitMQ. An empty URL keeps
// them in-process.
type EventsConfig struct {
	RabbitURL       string
	Queue           string
	QueuePrefix     string
	DedicatedEvents []string
}

type WebhookConfig struct {
	// CallsSecret authenticates the telephony bridge posting new calls.
	CallsSecret string
}

const (
	LeadSourcePostgres = "postgres"
	LeadSourceHTTP     = "http"

	minLeadPollInterval = 3 * time.Second
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = requireInt(&parseErrs, "APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = requireInt(&parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.AutoMigrate = optionalBool(&parseErrs, "DB_AUTO_MIGRATE")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = requireInt(&parseErrs, "REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Durations and tuning knobs are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optionalDuration(&parseErrs, "JWT_ACCESS_TTL")

	c.Triage.RingUnits = optionalInt(&parseErrs, "TRIAGE_RING_UNITS")
	c.Triage.Tick = optionalDuration(&parseErrs, "TRIAGE_TICK")
	c.Triage.NotesDebounce = optionalDuration(&parseErrs, "TRIAGE_NOTES_DEBOUNCE")
	c.Triage.LockTTL = optionalDuration(&parseErrs, "CONSOLIDATION_LOCK_TTL")
	c.Triage.SweepInterval = optionalDuration(&parseErrs, "TRIAGE_SWEEP_INTERVAL")
	c.Triage.SweepGrace = optionalDuration(&parseErrs, "TRIAGE_SWEEP_GRACE")
	c.Triage.StoreTimeout = optionalDuration(&parseErrs, "TRIAGE_STORE_TIMEOUT")
	c.Triage.MaxSessionsPerAgent = optionalInt(&parseErrs, "TRIAGE_MAX_SESSIONS_PER_AGENT")
	c.Triage.SessionTTL = optionalDuration(&parseErrs, "TRIAGE_SESSION_TTL")

	c.Leads.Source = strings.ToLower(strings.TrimSpace(os.Getenv("LEAD_SOURCE")))
	c.Leads.PollInterval = optionalDuration(&parseErrs, "LEAD_POLL_INTERVAL")
	c.Leads.ClearDelay = optionalDuration(&parseErrs, "LEAD_CLEAR_DELAY")
	c.Leads.APIURL = strings.TrimSpace(os.Getenv("LEADS_API_URL"))
	c.Leads.APIToken = os.Getenv("LEADS_API_TOKEN")
	c.Leads.Timeout = optionalDuration(&parseErrs, "LEADS_API_TIMEOUT")
	c.Leads.CacheTTL = optionalDuration(&parseErrs, "LEAD_CACHE_TTL")

	c.Webhook.CallsSecret = os.Getenv("CALLS_WEBHOOK_SECRET")

	c.Events.RabbitURL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.Events.Queue = strings.TrimSpace(os.Getenv("RABBITMQ_QUEUE"))
	c.Events.QueuePrefix = strings.TrimSpace(os.Getenv("RABBITMQ_QUEUE_PREFIX"))
	c.Events.DedicatedEvents = splitList(os.Getenv("RABBITMQ_DEDICATED_EVENTS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Triage.RingUnits < 0 {
		errs = append(errs, fmt.Errorf("TRIAGE_RING_UNITS must be positive, got %d", c.Triage.RingUnits))
	} else if c.Triage.RingUnits == 0 {
		c.Triage.RingUnits = 18
	}
	if c.Triage.Tick <= 0 {
		c.Triage.Tick = time.Second
	}
	if c.Triage.NotesDebounce <= 0 {
		c.Triage.NotesDebounce = 2 * c.Triage.Tick
	}
	if c.Triage.LockTTL <= 0 {
		c.Triage.LockTTL = 5 * time.Second
	}
	if c.Triage.SweepInterval <= 0 {
		c.Triage.SweepInterval = 30 * time.Second
	}
	if c.Triage.SweepGrace <= 0 {
		c.Triage.SweepGrace = 10 * time.Minute
	}
	if c.Triage.StoreTimeout <= 0 {
		c.Triage.StoreTimeout = 5 * time.Second
	}
	if c.Triage.MaxSessionsPerAgent < 0 {
		errs = append(errs, fmt.Errorf("TRIAGE_MAX_SESSIONS_PER_AGENT must be >= 0, got %d", c.Triage.MaxSessionsPerAgent))
	}
	if c.Triage.SessionTTL <= 0 {
		c.Triage.SessionTTL = 12 * time.Hour
	}

	switch c.Leads.Source {
	case "":
		c.Leads.Source = LeadSourcePostgres
	case LeadSourcePostgres:
	case LeadSourceHTTP:
		if c.Leads.APIURL == "" {
			errs = append(errs, errors.New("LEADS_API_URL is required when LEAD_SOURCE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEAD_SOURCE must be one of postgres, http, got %q", c.Leads.Source))
	}
	if c.Leads.PollInterval <= 0 {
		c.Leads.PollInterval = 15 * time.Second
	} else if c.Leads.PollInterval < minLeadPollInterval {
		c.Leads.PollInterval = minLeadPollInterval
	}
	if c.Leads.ClearDelay <= 0 {
		c.Leads.ClearDelay = 300 * time.Millisecond
	}
	if c.Leads.Timeout <= 0 {
		c.Leads.Timeout = 5 * time.Second
	}
	if c.Leads.CacheTTL <= 0 {
		c.Leads.CacheTTL = 2 * time.Second
	}

	if c.IsProduction() && c.Webhook.CallsSecret == "" {
		errs = append(errs, errors.New("CALLS_WEBHOOK_SECRET is required in production"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func requireInt(errs *[]error, key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*errs = append(*errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalInt(errs *[]error, key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func optionalBool(errs *[]error, key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return false
	}
	return b
}

func optionalDuration(errs *[]error, key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a duration like 15s, got %q", key, v))
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
