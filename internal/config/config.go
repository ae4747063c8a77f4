package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`

	Validator  ValidatorConfig  `mapstructure:"validator"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Review     ReviewConfig     `mapstructure:"review"`
	Presidio   PresidioConfig   `mapstructure:"presidio"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
}

type AuthConfig struct {
	MasterKey   string    `mapstructure:"master_key"`
	JWT         JWTConfig `mapstructure:"jwt"`
	RequireAuth bool      `mapstructure:"require_auth"`
}

type MonitoringConfig struct {
	EnableMetrics bool   `mapstructure:"enable_metrics"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
	ServiceName   string `mapstructure:"service_name"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// ValidatorConfig maps onto guardrails.Options
type ValidatorConfig struct {
	StopOnFirstError bool          `mapstructure:"stop_on_first_error"`
	ExcerptLength    int           `mapstructure:"excerpt_length"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	Workers          int           `mapstructure:"workers"`
}

// Audit sinks
const (
	SinkNone     = "none"
	SinkStdout   = "stdout"
	SinkFile     = "file"
	SinkRedis    = "redis"
	SinkPostgres = "postgres"
)

type AuditConfig struct {
	Sink         string `mapstructure:"sink"`
	FilePath     string `mapstructure:"file_path"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
	// ExportInterval > 0 flushes the trace to the sink periodically
	ExportInterval time.Duration `mapstructure:"export_interval"`
	// RetryAttempts > 1 retries failed sink writes with backoff
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// Review queue backends
const (
	ReviewMemory   = "memory"
	ReviewRedis    = "redis"
	ReviewPostgres = "postgres"
)

type ReviewConfig struct {
	Backend   string `mapstructure:"backend"`
	QueueName string `mapstructure:"queue_name"`
}

type PresidioConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AnalyzerURL    string        `mapstructure:"analyzer_url"`
	AnonymizerURL  string        `mapstructure:"anonymizer_url"`
	Language       string        `mapstructure:"language"`
	ScoreThreshold float64       `mapstructure:"score_threshold"`
	Entities       []string      `mapstructure:"entities"`
	Timeout        time.Duration `mapstructure:"timeout"`

	// consecutive failures before calls fail fast, and how long they do
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if strings.HasSuffix(configPath, ".yaml") || strings.HasSuffix(configPath, ".yml") {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(configPath)
		}
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/pguard")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg = &config
	return cfg, nil
}

// Validate checks values viper cannot check while decoding
func (c *Config) Validate() error {
	switch c.Audit.Sink {
	case SinkNone, SinkStdout:
	case SinkFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit.file_path is required for the file sink")
		}
	case SinkRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis audit sink")
		}
	case SinkPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres audit sink")
		}
	default:
		return fmt.Errorf("unknown audit sink %q", c.Audit.Sink)
	}

	switch c.Review.Backend {
	case ReviewMemory:
	case ReviewRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis review queue")
		}
	case ReviewPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres review queue")
		}
	default:
		return fmt.Errorf("unknown review backend %q", c.Review.Backend)
	}

	if c.Validator.ExcerptLength < 0 {
		return fmt.Errorf("validator.excerpt_length must be >= 0")
	}
	if c.Presidio.Enabled && c.Presidio.AnalyzerURL == "" {
		return fmt.Errorf("presidio.analyzer_url is required when presidio is enabled")
	}
	if c.Auth.RequireAuth && c.Auth.MasterKey == "" && c.Auth.JWT.SecretKey == "" {
		return fmt.Errorf("auth.require_auth needs auth.master_key or auth.jwt.secret_key")
	}

	return c.Guardrails.Validate()
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")
	viper.SetDefault("server.max_body_bytes", 1<<20)
	viper.SetDefault("server.max_batch_size", 500)

	// Database defaults
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.max_idle_connections", 5)
	viper.SetDefault("database.conn_max_lifetime", "1h")

	// Redis defaults
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 20)

	// Monitoring defaults
	viper.SetDefault("monitoring.enable_metrics", true)
	viper.SetDefault("monitoring.enable_tracing", false)
	viper.SetDefault("monitoring.service_name", "pguard")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "")

	// CORS defaults
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"})
	viper.SetDefault("cors.allow_credentials", false)
	viper.SetDefault("cors.max_age", 86400)

	// Auth defaults
	viper.SetDefault("auth.require_auth", false)
	viper.SetDefault("auth.jwt.issuer", "pguard")

	// Validator defaults
	viper.SetDefault("validator.stop_on_first_error", false)
	viper.SetDefault("validator.excerpt_length", 120)
	viper.SetDefault("validator.check_timeout", "5s")
	viper.SetDefault("validator.workers", 0)

	// Audit defaults
	viper.SetDefault("audit.sink", SinkNone)
	viper.SetDefault("audit.stream", "pguard:validation_trace")
	viper.SetDefault("audit.stream_max_len", 100000)
	viper.SetDefault("audit.export_interval", "0s")
	viper.SetDefault("audit.retry_attempts", 3)
	viper.SetDefault("audit.retry_delay", "200ms")

	// Review defaults
	viper.SetDefault("review.backend", ReviewMemory)
	viper.SetDefault("review.queue_name", "pguard:review_queue")

	// Presidio defaults
	viper.SetDefault("presidio.enabled", false)
	viper.SetDefault("presidio.analyzer_url", "http://localhost:5002")
	viper.SetDefault("presidio.anonymizer_url", "http://localhost:5001")
	viper.SetDefault("presidio.language", "en")
	viper.SetDefault("presidio.score_threshold", 0.5)
	viper.SetDefault("presidio.timeout", "5s")
	viper.SetDefault("presidio.breaker_threshold", 5)
	viper.SetDefault("presidio.breaker_cooldown", "30s")
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.idle_timeout", "SERVER_IDLE_TIMEOUT")

	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.max_connections", "DATABASE_MAX_CONNECTIONS")
	viper.BindEnv("database.max_idle_connections", "DATABASE_MAX_IDLE_CONNECTIONS")

	// Redis
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	// Auth
	viper.BindEnv("auth.master_key", "PGUARD_MASTER_KEY")
	viper.BindEnv("auth.require_auth", "PGUARD_REQUIRE_AUTH")
	viper.BindEnv("auth.jwt.secret_key", "JWT_SECRET_KEY")

	// Monitoring
	viper.BindEnv("monitoring.enable_metrics", "ENABLE_METRICS")
	viper.BindEnv("monitoring.enable_tracing", "ENABLE_TRACING")

	// Logging
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")

	// CORS
	viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")

	// Validator
	viper.BindEnv("validator.stop_on_first_error", "VALIDATOR_STOP_ON_FIRST_ERROR")
	viper.BindEnv("validator.excerpt_length", "VALIDATOR_EXCERPT_LENGTH")
	viper.BindEnv("validator.check_timeout", "VALIDATOR_CHECK_TIMEOUT")
	viper.BindEnv("validator.workers", "VALIDATOR_WORKERS")

	// Audit
	viper.BindEnv("audit.sink", "AUDIT_SINK")
	viper.BindEnv("audit.file_path", "AUDIT_FILE_PATH")
	viper.BindEnv("audit.export_interval", "AUDIT_EXPORT_INTERVAL")

	// Review
	viper.BindEnv("review.backend", "REVIEW_BACKEND")

	// Presidio
	viper.BindEnv("presidio.enabled", "PRESIDIO_ENABLED")
	viper.BindEnv("presidio.analyzer_url", "PRESIDIO_ANALYZER_URL")
	viper.BindEnv("presidio.anonymizer_url", "PRESIDIO_ANONYMIZER_URL")
}

func Get() *Config {
	return cfg
}
