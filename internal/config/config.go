package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Logging     LoggingConfig
	CORS        CORSConfig
	RateLimit   RateLimitConfig
	Email       EmailConfig
	AWS         AWSConfig
	Storage     StorageConfig
	CRM         CRMConfig
	Push        PushConfig
	Outbound    OutboundConfig
	Tracing     TracingConfig
	Environment string
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	MigrationsPath string
}

type AuthConfig struct {
	JWTSecret string
	JWTExpiry time.Duration
	Issuer    string
	ResetTTL  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowAllOrigins bool
	AllowedOrigins  []string
}

type RateLimitConfig struct {
	PublicPerMinute   int
	AuthedPerMinute   int
	LoginPer15Minutes int
	TrustedProxyCIDRs []string
}

// EmailConfig selects the outbound mail provider.
// Provider is one of "graph", "resend" or "log".
type EmailConfig struct {
	Provider     string
	From         string
	SupportTo    string
	TenantID     string
	ClientID     string
	ClientSecret string
	GraphBaseURL string
	ResendAPIKey string
}

// AWSConfig holds static credentials. When empty the SDK's default
// chain (environment, shared config, instance role) is used.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type StorageConfig struct {
	Bucket        string
	Region        string
	PublicBaseURL string
	Endpoint      string
}

type CRMConfig struct {
	BaseURL  string
	Email    string
	APIKey   string
	PerSec   int
	TagID    string
	SourceID string
}

type PushConfig struct {
	Region                 string
	PlatformApplicationARN string
	TopicARN               string
}

type OutboundConfig struct {
	Timeout time.Duration
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

func Load() (Config, error) {
	env := getEnv("ENVIRONMENT", "development")

	cfg := Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvInt("SERVER_PORT", 8000),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8000"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 20),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 4),
			MigrationsPath: getEnv("DATABASE_MIGRATIONS_PATH", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTExpiry: getEnvDuration("JWT_EXPIRY", 24*time.Hour),
			Issuer:    getEnv("JWT_ISSUER", "safetynow"),
			ResetTTL:  getEnvDuration("PASSWORD_RESET_TTL", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowAllOrigins: env == "development" || env == "test",
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:   getEnvInt("RATE_LIMIT_PUBLIC", 60),
			AuthedPerMinute:   getEnvInt("RATE_LIMIT_AUTHENTICATED", 300),
			LoginPer15Minutes: getEnvInt("RATE_LIMIT_LOGIN", 5),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			From:         getEnv("SENDER_EMAIL", ""),
			SupportTo:    getEnv("SUPPORT_EMAIL", ""),
			TenantID:     getEnv("AZURE_TENANT_ID", ""),
			ClientID:     getEnv("AZURE_CLIENT_ID", ""),
			ClientSecret: getEnv("AZURE_CLIENT_SECRET", ""),
			GraphBaseURL: getEnv("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		},
		AWS: AWSConfig{
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SessionToken:    getEnv("AWS_SESSION_TOKEN", ""),
		},
		Storage: StorageConfig{
			Bucket:        getEnv("S3_BUCKET_NAME", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
		},
		CRM: CRMConfig{
			BaseURL:  getEnv("NUTSHELL_BASE_URL", "https://app.nutshell.com/rest"),
			Email:    getEnv("NUTSHELL_EMAIL", ""),
			APIKey:   getEnv("NUTSHELL_API_KEY", ""),
			PerSec:   getEnvInt("NUTSHELL_REQUESTS_PER_SECOND", 5),
			TagID:    getEnv("NUTSHELL_TAG_ID", "299-tags"),
			SourceID: getEnv("NUTSHELL_SOURCE_ID", "25979-sources"),
		},
		Push: PushConfig{
			Region:                 getEnv("SNS_REGION", getEnv("AWS_REGION", "us-east-1")),
			PlatformApplicationARN: getEnv("SNS_PLATFORM_APPLICATION_ARN", ""),
			TopicARN:               getEnv("SNS_TOPIC_ARN", ""),
		},
		Outbound: OutboundConfig{
			Timeout: getEnvDuration("OUTBOUND_TIMEOUT", 10*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "safetynow-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: env,
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile applies a YAML file of KEY: value pairs to the process
// environment, then calls Load. Variables already set in the environment
// win over the file.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, value := range values {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return Config{}, fmt.Errorf("apply %s: %w", key, err)
		}
	}
	return Load()
}

func (c Config) validate() error {
	if c.Environment == "production" {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if len(c.CORS.AllowedOrigins) == 0 {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS is required in production")
		}
		if c.Email.Provider == "log" {
			return fmt.Errorf("EMAIL_PROVIDER must be graph or resend in production")
		}
	}

	switch c.Email.Provider {
	case "log":
	case "graph":
		if c.Email.TenantID == "" || c.Email.ClientID == "" || c.Email.ClientSecret == "" || c.Email.From == "" {
			return fmt.Errorf("EMAIL_PROVIDER=graph requires AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET and SENDER_EMAIL")
		}
	case "resend":
		if c.Email.ResendAPIKey == "" || c.Email.From == "" {
			return fmt.Errorf("EMAIL_PROVIDER=resend requires RESEND_API_KEY and SENDER_EMAIL")
		}
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q (must be graph, resend or log)", c.Email.Provider)
	}

	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	if c.Outbound.Timeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT must be positive")
	}
	return nil
}

// SupportRecipient is where ticket notifications go. The sender mailbox is
// used when no dedicated support address is configured.
func (c EmailConfig) SupportRecipient() string {
	if c.SupportTo != "" {
		return c.SupportTo
	}
	return c.From
}

func (c StorageConfig) Enabled() bool {
	return c.Bucket != ""
}

func (c PushConfig) Enabled() bool {
	return c.PlatformApplicationARN != ""
}

func (c CRMConfig) Enabled() bool {
	return c.Email != "" && c.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
