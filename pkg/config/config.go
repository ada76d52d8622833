package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server Server `mapstructure:"server"`

	Database Database `mapstructure:"database"`

	Redis Redis `mapstructure:"redis"`

	JWT JWT `mapstructure:"jwt"`

	Auth Auth `mapstructure:"auth"`

	Proxy Proxy `mapstructure:"proxy"`

	// Backends is the static route table: one entry per domain microservice.
	Backends []Backend `mapstructure:"backends"`

	LogLevel string `mapstructure:"log_level"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// Database holds PostgreSQL configuration.
type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// Redis holds configuration for the throttle counter store.
type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWT holds token signing configuration.
type JWT struct {
	SecretKey       string `mapstructure:"secret_key"`
	AccessTokenTTL  int    `mapstructure:"access_token_ttl"`  // seconds
	RefreshTokenTTL int    `mapstructure:"refresh_token_ttl"` // seconds
	Issuer          string `mapstructure:"issuer"`
	Audience        string `mapstructure:"audience"`
}

// Auth holds lockout, throttling and session policy.
type Auth struct {
	MaxFailedAttempts   int `mapstructure:"max_failed_attempts"`
	LockoutMinutes      int `mapstructure:"lockout_minutes"`
	ThrottleLimit       int `mapstructure:"throttle_limit"`   // auth failures per window per client
	ThrottleWindowSecs  int `mapstructure:"throttle_window"`  // seconds
	MaxConcurrentOrigin int `mapstructure:"max_concurrent_origins"`
	ConcurrentWindow    int `mapstructure:"concurrent_window"` // seconds
	SessionGraceMinutes int `mapstructure:"session_grace_minutes"`
	SessionGCMinutes    int `mapstructure:"session_gc_interval_minutes"`
}

// Proxy holds backend call policy.
type Proxy struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
	RetryBackoffMillis int `mapstructure:"retry_backoff_millis"`
	ProbeIntervalSecs  int `mapstructure:"probe_interval_seconds"`
}

// Backend describes one proxied microservice.
type Backend struct {
	Name         string `mapstructure:"name"`
	URL          string `mapstructure:"url"`
	ResourceType string `mapstructure:"resource_type"`
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/access-gateway")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "access_gateway")
	viper.SetDefault("database.user", "gateway")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("jwt.access_token_ttl", 900)      // 15 minutes
	viper.SetDefault("jwt.refresh_token_ttl", 2592000) // 30 days
	viper.SetDefault("jwt.issuer", "bioplatform-access-gateway")
	viper.SetDefault("jwt.audience", "bioplatform-services")

	viper.SetDefault("auth.max_failed_attempts", 5)
	viper.SetDefault("auth.lockout_minutes", 15)
	viper.SetDefault("auth.throttle_limit", 10)
	viper.SetDefault("auth.throttle_window", 60)
	viper.SetDefault("auth.max_concurrent_origins", 3)
	viper.SetDefault("auth.concurrent_window", 300)
	viper.SetDefault("auth.session_grace_minutes", 60)
	viper.SetDefault("auth.session_gc_interval_minutes", 10)

	viper.SetDefault("proxy.timeout_seconds", 10)
	viper.SetDefault("proxy.retry_backoff_millis", 250)
	viper.SetDefault("proxy.probe_interval_seconds", 15)

	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with well-known environment variables.
func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		cfg.JWT.SecretKey = jwtSecret
	}

	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if cfg.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Name == "" || b.URL == "" || b.ResourceType == "" {
			return fmt.Errorf("backend entries require name, url and resource_type")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[b.Name] = true
	}

	return nil
}
