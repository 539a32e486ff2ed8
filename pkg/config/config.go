package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/larkbridge/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable holding an optional YAML config file path
const EnvConfigFile = "LARKBRIDGE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Lark          LarkConfig          `yaml:"lark"`
	Webhooks      WebhookConfig       `yaml:"webhooks"`
	SSO           SSOConfig           `yaml:"sso"`
	Sync          SyncConfig          `yaml:"sync"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// PublicHTTPS marks SSO cookies Secure
	PublicHTTPS bool `yaml:"public_https"`
}

// LarkConfig holds the platform application credentials and endpoints
type LarkConfig struct {
	AppID           string        `yaml:"app_id"`
	AppSecret       string        `yaml:"app_secret"`
	BaseURL         string        `yaml:"base_url"`
	AuthorizeURL    string        `yaml:"authorize_url"`
	RedirectURL     string        `yaml:"redirect_url"`
	Scopes          []string      `yaml:"scopes"`
	ApprovalURLBase string        `yaml:"approval_url_base"`
	Timeout         time.Duration `yaml:"timeout"`
	SafetyMargin    time.Duration `yaml:"safety_margin"`
}

// WebhookConfig holds inbound event settings
type WebhookConfig struct {
	EncryptKey        string        `yaml:"encrypt_key"`
	VerificationToken string        `yaml:"verification_token"`
	MaxClockSkew      time.Duration `yaml:"max_clock_skew"`
	HandlerTimeout    time.Duration `yaml:"handler_timeout"`
	DedupeTTL         time.Duration `yaml:"dedupe_ttl"`
}

// SSOConfig holds account provisioning settings for platform logins
type SSOConfig struct {
	DefaultTenantID int64  `yaml:"default_tenant_id"`
	FallbackDomain  string `yaml:"fallback_domain"`
}

// SyncConfig holds directory sync settings
type SyncConfig struct {
	// Schedule is a five-field cron spec; empty disables periodic sync
	Schedule              string        `yaml:"schedule"`
	TenantID              int64         `yaml:"tenant_id"`
	DepartmentScope       string        `yaml:"department_scope"`
	IncludeSubDepartments bool          `yaml:"include_sub_departments"`
	// Force rewrites existing records on every run; otherwise only new records are written
	Force                 bool          `yaml:"force"`
	PageSize              int           `yaml:"page_size"`
	MaxErrors             int           `yaml:"max_errors"`
	Timeout               time.Duration `yaml:"timeout"`
	// SyncOnEvent triggers a sync when a contact change event arrives
	SyncOnEvent bool `yaml:"sync_on_event"`
}

// DatabaseConfig holds PostgreSQL settings; an empty URL uses the in-memory store
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings; an empty address keeps tokens and event ids in process
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel returns the tracing settings in the form observability.InitOTel takes
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Lark: LarkConfig{
			BaseURL:      "https://open.feishu.cn",
			AuthorizeURL: "https://accounts.feishu.cn/open-apis/authen/v1/authorize",
			Timeout:      10 * time.Second,
			SafetyMargin: 5 * time.Minute,
		},
		Webhooks: WebhookConfig{
			MaxClockSkew:   5 * time.Minute,
			HandlerTimeout: 3 * time.Second,
			DedupeTTL:      6 * time.Hour,
		},
		SSO: SSOConfig{
			DefaultTenantID: 1,
			FallbackDomain:  "lark",
		},
		Sync: SyncConfig{
			Schedule:        "0 */6 * * *",
			TenantID:        1,
			DepartmentScope: "0",
			PageSize:        50,
			MaxErrors:       100,
			Timeout:         30 * time.Minute,
			SyncOnEvent:     true,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxLife:  30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "text",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "larkbridge",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at path (if any) and
// LARKBRIDGE_* environment variables, in that order of precedence. An empty path falls
// back to LARKBRIDGE_CONFIG_FILE.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose environment variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("LARKBRIDGE_HOST", s.Host)
	s.Port = getEnv("LARKBRIDGE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("LARKBRIDGE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("LARKBRIDGE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("LARKBRIDGE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("LARKBRIDGE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.PublicHTTPS = getEnvBool("LARKBRIDGE_PUBLIC_HTTPS", s.PublicHTTPS)

	l := &c.Lark
	l.AppID = getEnv("LARKBRIDGE_APP_ID", l.AppID)
	l.AppSecret = getEnv("LARKBRIDGE_APP_SECRET", l.AppSecret)
	l.BaseURL = getEnv("LARKBRIDGE_BASE_URL", l.BaseURL)
	l.AuthorizeURL = getEnv("LARKBRIDGE_AUTHORIZE_URL", l.AuthorizeURL)
	l.RedirectURL = getEnv("LARKBRIDGE_REDIRECT_URL", l.RedirectURL)
	l.Scopes = getEnvList("LARKBRIDGE_SCOPES", l.Scopes)
	l.ApprovalURLBase = getEnv("LARKBRIDGE_APPROVAL_URL_BASE", l.ApprovalURLBase)
	l.Timeout = getEnvDuration("LARKBRIDGE_API_TIMEOUT", l.Timeout)
	l.SafetyMargin = getEnvDuration("LARKBRIDGE_TOKEN_SAFETY_MARGIN", l.SafetyMargin)

	w := &c.Webhooks
	w.EncryptKey = getEnv("LARKBRIDGE_ENCRYPT_KEY", w.EncryptKey)
	w.VerificationToken = getEnv("LARKBRIDGE_VERIFICATION_TOKEN", w.VerificationToken)
	w.MaxClockSkew = getEnvDuration("LARKBRIDGE_MAX_CLOCK_SKEW", w.MaxClockSkew)
	w.HandlerTimeout = getEnvDuration("LARKBRIDGE_EVENT_HANDLER_TIMEOUT", w.HandlerTimeout)
	w.DedupeTTL = getEnvDuration("LARKBRIDGE_EVENT_DEDUPE_TTL", w.DedupeTTL)

	c.SSO.DefaultTenantID = getEnvInt64("LARKBRIDGE_SSO_TENANT_ID", c.SSO.DefaultTenantID)
	c.SSO.FallbackDomain = getEnv("LARKBRIDGE_FALLBACK_DOMAIN", c.SSO.FallbackDomain)

	y := &c.Sync
	y.Schedule = getEnvRaw("LARKBRIDGE_SYNC_SCHEDULE", y.Schedule)
	y.TenantID = getEnvInt64("LARKBRIDGE_SYNC_TENANT_ID", y.TenantID)
	y.DepartmentScope = getEnv("LARKBRIDGE_SYNC_DEPARTMENT", y.DepartmentScope)
	y.IncludeSubDepartments = getEnvBool("LARKBRIDGE_SYNC_INCLUDE_SUBDEPARTMENTS", y.IncludeSubDepartments)
	y.Force = getEnvBool("LARKBRIDGE_SYNC_FORCE", y.Force)
	y.PageSize = getEnvInt("LARKBRIDGE_SYNC_PAGE_SIZE", y.PageSize)
	y.MaxErrors = getEnvInt("LARKBRIDGE_SYNC_MAX_ERRORS", y.MaxErrors)
	y.Timeout = getEnvDuration("LARKBRIDGE_SYNC_TIMEOUT", y.Timeout)
	y.SyncOnEvent = getEnvBool("LARKBRIDGE_SYNC_ON_EVENT", y.SyncOnEvent)

	d := &c.Database
	d.URL = getEnv("LARKBRIDGE_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("LARKBRIDGE_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("LARKBRIDGE_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLife = getEnvDuration("LARKBRIDGE_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLife)

	c.Redis.Addr = getEnv("LARKBRIDGE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("LARKBRIDGE_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("LARKBRIDGE_REDIS_DB", c.Redis.DB)

	o := &c.Observability
	o.LogLevel = getEnv("LARKBRIDGE_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("LARKBRIDGE_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("LARKBRIDGE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("LARKBRIDGE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("LARKBRIDGE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("LARKBRIDGE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("LARKBRIDGE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("LARKBRIDGE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("LARKBRIDGE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
		return fmt.Errorf("lark app id and app secret are required")
	}
	if c.Lark.BaseURL == "" {
		return fmt.Errorf("lark base URL is required")
	}
	if c.Lark.SafetyMargin < 0 {
		return fmt.Errorf("token safety margin must not be negative")
	}

	if c.SSO.DefaultTenantID <= 0 {
		return fmt.Errorf("SSO default tenant id must be positive")
	}

	if c.Sync.TenantID <= 0 {
		return fmt.Errorf("sync tenant id must be positive")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync page size must be between 1 and 100, got %d", c.Sync.PageSize)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", c.Sync.Schedule, err)
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRaw is getEnv except that a variable set to the empty string wins
func getEnvRaw(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
