package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Scan       ScanConfig       `mapstructure:"scan"`
	VirusTotal VirusTotalConfig `mapstructure:"virustotal"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// SQLiteConfig configures the local record store used by the scanner CLI
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
}

type NATSSubjectsConfig struct {
	ScanProgress   string `mapstructure:"scan_progress"`
	ScanCompleted  string `mapstructure:"scan_completed"`
	VerdictUpdated string `mapstructure:"verdict_updated"`
}

type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// ScanConfig tunes the rescan pipeline
type ScanConfig struct {
	// ProgressCadence emits progress every N items (the last item always emits)
	ProgressCadence int           `mapstructure:"progress_cadence"`
	Workers         int           `mapstructure:"workers"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

type VirusTotalConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	APIURL            string        `mapstructure:"api_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	NotFoundTTL       time.Duration `mapstructure:"not_found_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "privacyguard")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("sqlite.path", "privacyguard.db")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "privacyguard:")

	v.SetDefault("nats.stream_name", "PRIVACYGUARD_SCANS")
	v.SetDefault("nats.subjects.scan_progress", "scans.progress")
	v.SetDefault("nats.subjects.scan_completed", "scans.completed")
	v.SetDefault("nats.subjects.verdict_updated", "scans.verdict")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", "X-API-Key"})
	v.SetDefault("cors.max_age", 300)

	v.SetDefault("ratelimit.requests_per_minute", 60)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.time_format", time.RFC3339)

	v.SetDefault("scan.progress_cadence", 5)
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.lock_ttl", 5*time.Minute)

	v.SetDefault("virustotal.api_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("virustotal.timeout", 30*time.Second)
	v.SetDefault("virustotal.requests_per_minute", 4)
	v.SetDefault("virustotal.cache_ttl", 24*time.Hour)
	v.SetDefault("virustotal.not_found_ttl", time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error; defaults and env vars still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/privacyguard")
	}

	v.SetEnvPrefix("PRIVACYGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper doesn't auto-bind nested keys that have no default
	v.BindEnv("database.enabled", "PRIVACYGUARD_DATABASE_ENABLED")
	v.BindEnv("database.host", "PRIVACYGUARD_DATABASE_HOST")
	v.BindEnv("database.user", "PRIVACYGUARD_DATABASE_USER")
	v.BindEnv("database.password", "PRIVACYGUARD_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "PRIVACYGUARD_DATABASE_DBNAME")
	v.BindEnv("redis.enabled", "PRIVACYGUARD_REDIS_ENABLED")
	v.BindEnv("redis.host", "PRIVACYGUARD_REDIS_HOST")
	v.BindEnv("redis.password", "PRIVACYGUARD_REDIS_PASSWORD")
	v.BindEnv("nats.enabled", "PRIVACYGUARD_NATS_ENABLED")
	v.BindEnv("nats.url", "PRIVACYGUARD_NATS_URL")
	v.BindEnv("auth.api_key", "PRIVACYGUARD_AUTH_API_KEY")
	v.BindEnv("virustotal.enabled", "PRIVACYGUARD_VIRUSTOTAL_ENABLED")
	v.BindEnv("virustotal.api_key", "PRIVACYGUARD_VIRUSTOTAL_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the scan pipeline cannot run with
func (c *Config) Validate() error {
	if c.Scan.ProgressCadence < 1 {
		return fmt.Errorf("scan.progress_cadence must be >= 1, got %d", c.Scan.ProgressCadence)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be >= 1, got %d", c.Scan.Workers)
	}
	if c.VirusTotal.Enabled && c.VirusTotal.APIKey == "" {
		return errors.New("virustotal.api_key is required when virustotal.enabled is true")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return errors.New("database.host is required when database.enabled is true")
	}
	return nil
}
