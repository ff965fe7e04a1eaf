package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Telegram  TelegramConfig
	Cipher    CipherConfig
	Login     LoginConfig
	Monitor   MonitorConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Alert     AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port             string
	Env              string
	LogLevel         string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	IPRequestsPerMin int
	SubjectReqPerMin int
	TrustedProxies   string
}

// AuthConfig configures bearer tokens presented by the orchestration layer
type AuthConfig struct {
	ServiceTokenSecret string
	TokenIssuer        string
	AuditRetention     time.Duration
}

type TelegramConfig struct {
	APIID       int
	APIHash     string
	DialTimeout time.Duration
}

// CipherConfig holds the encoded session encryption key; empty means generate one
type CipherConfig struct {
	EncodedKey string
}

type LoginConfig struct {
	AttemptLifetime time.Duration
	SweepInterval   time.Duration
}

type MonitorConfig struct {
	Interval         time.Duration
	MaxTicks         int
	InboxLimit       int
	ServiceAccountID int64
}

type RateLimitConfig struct {
	LoginMaxAttempts  int
	LoginWindow       time.Duration
	OTPMaxAttempts    int
	OTPWindow         time.Duration
	DeviceMaxAttempts int
	DeviceWindow      time.Duration
	PruneInterval     time.Duration
}

// RedisConfig selects the shared rate window store when URL is set
type RedisConfig struct {
	URL string
}

// AlertConfig configures operator notification on invalid credentials
type AlertConfig struct {
	SESRegion string
	FromEmail string
	ToEmail   string
}

// Enabled reports whether SES alerting is fully configured
func (a AlertConfig) Enabled() bool {
	return a.SESRegion != "" && a.FromEmail != "" && a.ToEmail != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "otpdesk"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:             getEnv("PORT", "8080"),
			Env:              env,
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			ReadTimeout:      getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:     getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:      getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			IPRequestsPerMin: getEnvAsInt("IP_REQUESTS_PER_MINUTE", 120),
			SubjectReqPerMin: getEnvAsInt("SUBJECT_REQUESTS_PER_MINUTE", 600),
			TrustedProxies:   getEnv("TRUSTED_PROXIES", ""),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: getEnv("SERVICE_TOKEN_SECRET", ""),
			TokenIssuer:        getEnv("SERVICE_TOKEN_ISSUER", "otpdesk"),
			AuditRetention:     getEnvAsDuration("AUDIT_RETENTION", 90*24*time.Hour),
		},
		Telegram: TelegramConfig{
			APIID:       getEnvAsInt("TELEGRAM_API_ID", 0),
			APIHash:     getEnv("TELEGRAM_API_HASH", ""),
			DialTimeout: getEnvAsDuration("TELEGRAM_DIAL_TIMEOUT", 20*time.Second),
		},
		Cipher: CipherConfig{
			EncodedKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		},
		Login: LoginConfig{
			AttemptLifetime: getEnvAsDuration("LOGIN_ATTEMPT_LIFETIME", 10*time.Minute),
			SweepInterval:   getEnvAsDuration("LOGIN_SWEEP_INTERVAL", 1*time.Minute),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvAsDuration("MONITOR_INTERVAL", 5*time.Second),
			MaxTicks:         getEnvAsInt("MONITOR_MAX_TICKS", 24),
			InboxLimit:       getEnvAsInt("MONITOR_INBOX_LIMIT", 5),
			ServiceAccountID: getEnvAsInt64("MONITOR_SERVICE_ACCOUNT_ID", 777000),
		},
		RateLimit: RateLimitConfig{
			LoginMaxAttempts:  getEnvAsInt("LOGIN_RATE_LIMIT_MAX", 3),
			LoginWindow:       getEnvAsDuration("LOGIN_RATE_LIMIT_WINDOW", 3600*time.Second),
			OTPMaxAttempts:    getEnvAsInt("OTP_RATE_LIMIT_MAX", 30),
			OTPWindow:         getEnvAsDuration("OTP_RATE_LIMIT_WINDOW", time.Hour),
			DeviceMaxAttempts: getEnvAsInt("DEVICE_RATE_LIMIT_MAX", 10),
			DeviceWindow:      getEnvAsDuration("DEVICE_RATE_LIMIT_WINDOW", time.Hour),
			PruneInterval:     getEnvAsDuration("RATE_LIMIT_PRUNE_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Alert: AlertConfig{
			SESRegion: getEnv("ALERT_SES_REGION", ""),
			FromEmail: getEnv("ALERT_FROM_EMAIL", ""),
			ToEmail:   getEnv("ALERT_TO_EMAIL", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Telegram.APIID == 0 {
		return nil, fmt.Errorf("TELEGRAM_API_ID is required")
	}
	if cfg.Telegram.APIHash == "" {
		return nil, fmt.Errorf("TELEGRAM_API_HASH is required")
	}
	if err := validateTokenSecret(cfg.Auth.ServiceTokenSecret, env); err != nil {
		return nil, err
	}
	if cfg.Monitor.MaxTicks <= 0 || cfg.Monitor.Interval <= 0 {
		return nil, fmt.Errorf("MONITOR_INTERVAL and MONITOR_MAX_TICKS must be positive")
	}
	if cfg.RateLimit.LoginMaxAttempts <= 0 || cfg.RateLimit.LoginWindow <= 0 {
		return nil, fmt.Errorf("LOGIN_RATE_LIMIT_MAX and LOGIN_RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum security standards for the service token secret
func validateTokenSecret(secret, env string) error {
	if secret == "" {
		return fmt.Errorf("SERVICE_TOKEN_SECRET is required")
	}

	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SERVICE_TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
