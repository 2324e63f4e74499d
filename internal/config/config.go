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
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	Factors  FactorConfig
	Email    EmailConfig
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
	Port            string
	Env             string
	LogLevel        string
	PublicBaseURL   string // magic links and device verification URIs
	AllowedOrigins  []string
	TrustedProxies  []string // CIDRs whose forwarding headers are believed
	CleanupInterval time.Duration
}

type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	AccessTokenExpiry     time.Duration
	RefreshTokenExpiry    time.Duration
	AuthorizationCodeTTL  time.Duration
	DeviceCodeTTL         time.Duration
	DevicePollInterval    time.Duration
	TOTPIssuer            string
	TOTPEncryptionKey     string // 32 bytes, AES-256
	RequireConfirmedEmail bool
	FirstPartyClientID    string // client the login endpoints issue tokens for
}

type LockoutConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

type FactorConfig struct {
	PendingTTL       time.Duration // two-factor pending handle lifetime
	SMSCodeTTL       time.Duration
	SMSCodeDigits    int
	MagicLinkTTL     time.Duration
	ConfirmationTTL  time.Duration // email confirmation tokens
	ResetTTL         time.Duration // password reset tokens
	RecoveryCodeSize int           // codes per generated batch
}

type EmailConfig struct {
	Region string
	Sender string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	totpKey := getEnv("TOTP_ENCRYPTION_KEY", "")
	if len(totpKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(totpKey))
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "signet"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			PublicBaseURL:   getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:  getEnvAsSlice("ALLOWED_ORIGINS"),
			TrustedProxies:  getEnvAsSlice("TRUSTED_PROXIES"),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret:             jwtSecret,
			Issuer:                getEnv("TOKEN_ISSUER", "signet"),
			AccessTokenExpiry:     getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:    getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			AuthorizationCodeTTL:  getEnvAsDuration("AUTHORIZATION_CODE_TTL", 5*time.Minute),
			DeviceCodeTTL:         getEnvAsDuration("DEVICE_CODE_TTL", 15*time.Minute),
			DevicePollInterval:    getEnvAsDuration("DEVICE_POLL_INTERVAL", 5*time.Second),
			TOTPIssuer:            getEnv("TOTP_ISSUER", "Signet"),
			TOTPEncryptionKey:     totpKey,
			RequireConfirmedEmail: getEnvAsBool("REQUIRE_CONFIRMED_EMAIL", true),
			FirstPartyClientID:    getEnv("FIRST_PARTY_CLIENT_ID", "signet-web"),
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: getEnvAsInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			LockoutDuration:   getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		Factors: FactorConfig{
			PendingTTL:       getEnvAsDuration("TWO_FACTOR_PENDING_TTL", 10*time.Minute),
			SMSCodeTTL:       getEnvAsDuration("SMS_CODE_TTL", 5*time.Minute),
			SMSCodeDigits:    getEnvAsInt("SMS_CODE_DIGITS", 6),
			MagicLinkTTL:     getEnvAsDuration("MAGIC_LINK_TTL", 15*time.Minute),
			ConfirmationTTL:  getEnvAsDuration("EMAIL_CONFIRMATION_TTL", 24*time.Hour),
			ResetTTL:         getEnvAsDuration("PASSWORD_RESET_TTL", 1*time.Hour),
			RecoveryCodeSize: getEnvAsInt("RECOVERY_CODE_BATCH_SIZE", 10),
		},
		Email: EmailConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
			Sender: getEnv("EMAIL_SENDER", "no-reply@localhost"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// The pending handle bounds a half-finished login; keep it short even
	// if misconfigured upward.
	if cfg.Factors.PendingTTL > 10*time.Minute {
		return nil, fmt.Errorf("TWO_FACTOR_PENDING_TTL must not exceed 10m")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum strength for the signing secret.
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}
	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weak := []string{"secret", "test", "password", "changeme", "default", "example"}
	lower := strings.ToLower(secret)
	for _, w := range weak {
		if lower == w {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
