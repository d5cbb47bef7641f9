package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	s "optout/pkg/string"
	"optout/pkg/validation"
)

// Server captures process-wide configuration.
type Server struct {
	Addr         string `validate:"required"`
	NotifierAddr string `validate:"required"`
	Environment  string `validate:"oneof=dev demo staging production"`
	LogLevel     string
	DatabaseURL  string
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
	Redis          RedisConfig
	Kafka          KafkaConfig
	JWT            JWTConfig
	Captcha        CaptchaConfig
	Lookup         LookupConfig
	Notification   NotificationConfig
	Verification   VerificationPolicy
}

// RedisConfig configures the shared go-redis client. Empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int `validate:"gte=1"`
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the outbound producer. Empty Brokers disables Kafka.
type KafkaConfig struct {
	Brokers           string
	Acks              string `validate:"oneof=0 1 all"`
	Retries           int
	DeliveryTimeout   time.Duration
	NotificationTopic string `validate:"required"`
	AuditTopic        string `validate:"required"`
	NotifierGroupID   string `validate:"required"`
}

// JWTConfig configures staff bearer tokens.
type JWTConfig struct {
	SigningKey string `validate:"required,min=16"`
	Issuer     string `validate:"required"`
	Audience   string `validate:"required"`
	TokenTTL   time.Duration
}

// CaptchaConfig configures the siteverify endpoint used for anonymous callers.
// Without a Secret, non-production environments accept DevToken instead of calling out.
type CaptchaConfig struct {
	VerifyURL string `validate:"required,url"`
	Secret    string
	DevToken  string
	Timeout   time.Duration
	ReplayTTL time.Duration
}

// LookupConfig configures the patient demographics registry client.
type LookupConfig struct {
	BaseURL          string `validate:"required,url"`
	APIKey           string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// NotificationConfig selects the delivery transport for validation codes.
type NotificationConfig struct {
	Transport string `validate:"oneof=direct kafka log"`
	Twilio    TwilioConfig
	SMTP      SMTPConfig
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

const (
	defaultSigningKey = "dev-secret-key-change-in-production"
	defaultIssuer     = "http://localhost:8080"
	defaultAudience   = "optout-staff-portal"
)

// Load builds the configuration from .env (when present), the environment and the optional
// verification policy file, then validates the result.
func Load() (Server, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Server{
		Addr:           envString("OPTOUT_ADDR", ":8080"),
		NotifierAddr:   envString("NOTIFIER_ADDR", ":8090"),
		Environment:    envString("OPTOUT_ENV", "dev"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TrustedProxies: s.SplitList(os.Getenv("TRUSTED_PROXIES")),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           os.Getenv("KAFKA_BROKERS"),
			Acks:              envString("KAFKA_ACKS", "all"),
			Retries:           envInt("KAFKA_RETRIES", 3),
			DeliveryTimeout:   envDuration("KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
			NotificationTopic: envString("NOTIFICATION_TOPIC", "optout.notifications"),
			AuditTopic:        envString("AUDIT_TOPIC", "optout.audit"),
			NotifierGroupID:   envString("NOTIFIER_GROUP_ID", "optout-notifier"),
		},
		JWT: JWTConfig{
			SigningKey: envString("JWT_SIGNING_KEY", defaultSigningKey),
			Issuer:     envString("JWT_ISSUER", defaultIssuer),
			Audience:   envString("JWT_AUDIENCE", defaultAudience),
			TokenTTL:   envDuration("JWT_TOKEN_TTL", 8*time.Hour),
		},
		Captcha: CaptchaConfig{
			VerifyURL: envString("CAPTCHA_VERIFY_URL", "https://hcaptcha.com/siteverify"),
			Secret:    os.Getenv("CAPTCHA_SECRET"),
			DevToken:  envString("CAPTCHA_DEV_TOKEN", "dev-captcha-pass"),
			Timeout:   envDuration("CAPTCHA_TIMEOUT", 5*time.Second),
			ReplayTTL: envDuration("CAPTCHA_REPLAY_TTL", 10*time.Minute),
		},
		Lookup: LookupConfig{
			BaseURL:          envString("LOOKUP_BASE_URL", "http://localhost:8081"),
			APIKey:           os.Getenv("LOOKUP_API_KEY"),
			Timeout:          envDuration("LOOKUP_TIMEOUT", 5*time.Second),
			FailureThreshold: envInt("LOOKUP_FAILURE_THRESHOLD", 5),
			Cooldown:         envDuration("LOOKUP_COOLDOWN", 30*time.Second),
		},
		Notification: NotificationConfig{
			Transport: envString("NOTIFICATION_TRANSPORT", "log"),
			Twilio: TwilioConfig{
				AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
				AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
				FromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
			},
			SMTP: SMTPConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     envInt("SMTP_PORT", 587),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
				From:     os.Getenv("SMTP_FROM"),
			},
		},
		Verification: DefaultPolicy(),
	}

	if roles := s.SplitList(os.Getenv("WORKFLOW_ROLES")); len(roles) > 0 {
		cfg.Verification.WorkflowRoles = roles
	}
	if roles := s.SplitList(os.Getenv("ADMIN_ROLES")); len(roles) > 0 {
		cfg.Verification.AdminRoles = roles
	}
	if path := os.Getenv("VERIFICATION_POLICY_FILE"); path != "" {
		policy, err := LoadPolicy(path, cfg.Verification)
		if err != nil {
			return Server{}, err
		}
		cfg.Verification = policy
	}

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration, including cross-field rules.
func (c Server) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Environment == "production" && c.JWT.SigningKey == defaultSigningKey {
		return fmt.Errorf("invalid configuration: JWT_SIGNING_KEY must be set in production")
	}
	if c.Environment == "production" && c.Captcha.Secret == "" {
		return fmt.Errorf("invalid configuration: CAPTCHA_SECRET must be set in production")
	}
	if c.Notification.Transport == "kafka" && c.Kafka.Brokers == "" {
		return fmt.Errorf("invalid configuration: kafka notification transport requires KAFKA_BROKERS")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
