package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the pharmacy request service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Auth      AuthConfig
	Push      PushConfig
	Storage   StorageConfig
	Lifecycle LifecycleConfig
	Sweep     SweepConfig
	App       AppConfig
	Admin     AdminConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration. Driver "memory" keeps all
// state in process, for local runs without Postgres.
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	Seed         bool
}

// RedisConfig holds Redis configuration for the directory cache
type RedisConfig struct {
	URL          string
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	CacheTTL     time.Duration
}

// NATSConfig holds NATS configuration for domain events
type NATSConfig struct {
	URL           string
	Enabled       bool
	MaxReconnects int
	ReconnectWait int // In seconds
}

// AuthConfig holds access token configuration
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// PushConfig holds Firebase Cloud Messaging configuration. Without a project
// id notifications are only logged.
type PushConfig struct {
	ProjectID       string
	CredentialsFile string
	Timeout         time.Duration
}

// StorageConfig holds prescription blob storage configuration
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// LifecycleConfig holds request hold durations
type LifecycleConfig struct {
	LocalHold    time.Duration // city and region zones
	NationalHold time.Duration
}

// SweepConfig holds the cron schedules of the periodic jobs
type SweepConfig struct {
	SubscriptionEnabled  bool
	SubscriptionSchedule string
	RequestEnabled       bool
	RequestSchedule      string
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string
	LogLevel    string
}

// AdminConfig holds the bootstrap administrator account
type AdminConfig struct {
	Phone    string
	Password string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			DBName:       getEnv("DB_NAME", "pharmacy_requests"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
			Seed:         getEnvAsBool("DB_SEED", true),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
			CacheTTL:     getEnvAsDuration("DIRECTORY_CACHE_TTL", time.Hour),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled:       getEnvAsBool("NATS_ENABLED", false),
			MaxReconnects: getEnvAsInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
			ReconnectWait: getEnvAsInt("NATS_RECONNECT_WAIT", 2),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvAsDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Push: PushConfig{
			ProjectID:       getEnv("FCM_PROJECT_ID", ""),
			CredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
			Timeout:         getEnvAsDuration("PUSH_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			ForcePathStyle:  getEnvAsBool("S3_FORCE_PATH_STYLE", false),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PublicBaseURL:   getEnv("S3_PUBLIC_BASE_URL", ""),
		},
		Lifecycle: LifecycleConfig{
			LocalHold:    getEnvAsDuration("REQUEST_LOCAL_HOLD", 2*time.Hour),
			NationalHold: getEnvAsDuration("REQUEST_NATIONAL_HOLD", 24*time.Hour),
		},
		Sweep: SweepConfig{
			SubscriptionEnabled:  getEnvAsBool("SUBSCRIPTION_SWEEP_ENABLED", true),
			SubscriptionSchedule: getEnv("SUBSCRIPTION_SWEEP_SCHEDULE", "0 0 * * *"),
			RequestEnabled:       getEnvAsBool("REQUEST_SWEEP_ENABLED", true),
			RequestSchedule:      getEnv("REQUEST_SWEEP_SCHEDULE", "*/5 * * * *"),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Admin: AdminConfig{
			Phone:    getEnv("ADMIN_PHONE", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that have no safe default
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET is required in production")
		}
		c.Auth.JWTSecret = "development-secret"
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Lifecycle.LocalHold <= 0 || c.Lifecycle.NationalHold <= 0 {
		return errors.New("request hold durations must be positive")
	}
	return nil
}

// UsesMemoryStore reports whether state is kept in process
func (c *Config) UsesMemoryStore() bool {
	return c.Database.Driver == "memory"
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.App.Environment) == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.App.Environment) == "development"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
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
