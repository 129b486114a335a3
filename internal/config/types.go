package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Logger        LoggerConfig        `yaml:"logger" json:"logger"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	NATS          NATSConfig          `yaml:"nats" json:"nats"`
	Engine        EngineConfig        `yaml:"engine" json:"engine"`
	SMTP          SMTPConfig          `yaml:"smtp" json:"smtp"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
}

type ServerConfig struct {
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Host     string `yaml:"host" json:"host"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	DBName   string `yaml:"dbname" json:"dbname"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
	Seed     bool   `yaml:"seed" json:"seed"` // seed default rule and KB article on an empty database
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output string `yaml:"output" json:"output"` // stdout, stderr, or file path
	Format string `yaml:"format" json:"format"` // json, console
}

type ElasticsearchConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Addresses   []string `yaml:"addresses" json:"addresses"`
	Username    string   `yaml:"username" json:"username"`
	Password    string   `yaml:"password" json:"-"`
	IndexPrefix string   `yaml:"index_prefix" json:"index_prefix"` // e.g. "alert-events"
}

// NATSConfig 事件总线，启用后每个入库事件发布到 <subject_prefix>.<source>
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// EngineConfig controls deduplication and action dispatch.
type EngineConfig struct {
	DedupWindowSeconds    int    `yaml:"dedup_window_seconds" json:"dedup_window_seconds"` // negative disables dedup
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds" json:"webhook_timeout_seconds"`
	DispatchLogDir        string `yaml:"dispatch_log_dir" json:"dispatch_log_dir"` // empty disables the audit log
}

// DedupWindow returns the dedup window as a duration.
func (e EngineConfig) DedupWindow() time.Duration {
	return time.Duration(e.DedupWindowSeconds) * time.Second
}

// WebhookTimeout returns the per-webhook timeout as a duration.
func (e EngineConfig) WebhookTimeout() time.Duration {
	return time.Duration(e.WebhookTimeoutSeconds) * time.Second
}

type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	From     string `yaml:"from" json:"from"`
	UseTLS   bool   `yaml:"use_tls" json:"use_tls"` // STARTTLS
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile 从文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&config)
	return &config, nil
}

// Load 从环境变量加载配置
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			Host:     getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "alerthub"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "alerthub.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Seed:     getEnvBool("DB_SEED", true),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:     getEnvBool("ES_ENABLED", false),
			Addresses:   getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:    getEnv("ES_USERNAME", ""),
			Password:    getEnv("ES_PASSWORD", ""),
			IndexPrefix: getEnv("ES_INDEX_PREFIX", "alert-events"),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "alerthub.events"),
		},
		Engine: EngineConfig{
			DedupWindowSeconds:    getEnvInt("DEDUP_WINDOW_SECONDS", 60),
			WebhookTimeoutSeconds: getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10),
			DispatchLogDir:        getEnv("DISPATCH_LOG_DIR", "logs"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 25),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "alerthub@localhost"),
			UseTLS:   getEnvBool("SMTP_USE_TLS", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(getEnvInt("RATE_LIMIT_RPS", 100)),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 200),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
	setDefaults(cfg)
	return cfg
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "alerthub.db"
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Logger.Format == "" {
		config.Logger.Format = "json"
	}
	if config.Elasticsearch.IndexPrefix == "" {
		config.Elasticsearch.IndexPrefix = "alert-events"
	}
	if config.NATS.URL == "" {
		config.NATS.URL = "nats://127.0.0.1:4222"
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "alerthub.events"
	}
	if config.Engine.DedupWindowSeconds == 0 {
		config.Engine.DedupWindowSeconds = 60
	}
	if config.Engine.WebhookTimeoutSeconds == 0 {
		config.Engine.WebhookTimeoutSeconds = 10
	}
	if config.SMTP.Port == 0 {
		config.SMTP.Port = 25
	}
	if config.SMTP.From == "" {
		config.SMTP.From = "alerthub@localhost"
	}
	if config.RateLimit.RequestsPerSecond == 0 {
		config.RateLimit.RequestsPerSecond = 100
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 200
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		if result := splitAndTrim(val, ","); len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	validDrivers := map[string]bool{"sqlite": true, "mysql": true, "postgres": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}
	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logger.Format)
	}

	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats url cannot be empty when enabled")
	}

	if c.Engine.WebhookTimeoutSeconds < 1 {
		return fmt.Errorf("webhook timeout must be at least 1 second")
	}

	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid SMTP port: %d", c.SMTP.Port)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}

	return nil
}
