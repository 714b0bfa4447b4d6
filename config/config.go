package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server settings
	ServerPort      string        `yaml:"server_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Debug           bool          `yaml:"debug"`
	Version         string        `yaml:"version"`

	// Logging
	LogDir    string `yaml:"log_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Database      DatabaseConfig      `yaml:"database"`
	CORS          CORSConfig          `yaml:"cors"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Browser       BrowserConfig       `yaml:"browser"`
	Acquisition   AcquisitionConfig   `yaml:"acquisition"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Usage         UsageConfig         `yaml:"usage"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

type DatabaseConfig struct {
	Path           string `yaml:"path"`
	MaxConnections int    `yaml:"max_connections"`
}

type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// BrowserConfig selects the Chrome instance whose tabs are driven.
// An empty ControlURL launches a local browser.
type BrowserConfig struct {
	ControlURL string `yaml:"control_url"`
	Headless   bool   `yaml:"headless"`
	Bin        string `yaml:"bin"`
}

type AcquisitionConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	PlayerConfigTimeout time.Duration `yaml:"player_config_timeout"`
	RangeTimeout        time.Duration `yaml:"range_timeout"`
	DescriptionWait     time.Duration `yaml:"description_wait"`
	FallbackCapture     time.Duration `yaml:"fallback_capture"`
	ScrapeDescription   bool          `yaml:"scrape_description"`
	DefaultLanguage     string        `yaml:"default_language"`
}

type DeliveryConfig struct {
	EditorSelector string        `yaml:"editor_selector"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	EditorTimeout  time.Duration `yaml:"editor_timeout"`
}

type TranscriptionConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type UsageConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// ArchiveConfig points at an S3-compatible bucket. Archiving is off
// unless Bucket is set.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

func defaults() *Config {
	return &Config{
		ServerPort:      "8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Version:         "1.0.0",

		LogDir:    "./data/logs",
		LogLevel:  "info",
		LogFormat: "text",

		Database: DatabaseConfig{
			Path:           "./data/tubeprompt.db",
			MaxConnections: 10,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			BurstSize:         20,
		},
		Browser: BrowserConfig{
			Headless: false,
		},
		Acquisition: AcquisitionConfig{
			Timeout:             2 * time.Minute,
			PlayerConfigTimeout: 10 * time.Second,
			RangeTimeout:        30 * time.Second,
			DescriptionWait:     5 * time.Second,
			FallbackCapture:     5 * time.Second,
			ScrapeDescription:   true,
			DefaultLanguage:     "en",
		},
		Delivery: DeliveryConfig{
			EditorSelector: `[contenteditable="true"].ProseMirror`,
			PollInterval:   300 * time.Millisecond,
			EditorTimeout:  30 * time.Second,
		},
		Transcription: TranscriptionConfig{
			BaseURL:    "http://localhost:3000",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config file %s", path)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerPort = GetEnv("SERVER_PORT", cfg.ServerPort)
	cfg.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvAsDuration("IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.Debug = getEnvAsBool("DEBUG", cfg.Debug)
	cfg.Version = GetEnv("VERSION", cfg.Version)

	cfg.LogDir = GetEnv("LOG_DIR", cfg.LogDir)
	cfg.LogLevel = GetEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = GetEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.Database.Path = GetEnv("DB_PATH", cfg.Database.Path)
	cfg.Database.MaxConnections = getEnvAsInt("DB_MAX_CONNECTIONS", cfg.Database.MaxConnections)

	cfg.CORS.Enabled = getEnvAsBool("CORS_ENABLED", cfg.CORS.Enabled)
	cfg.CORS.AllowedOrigins = getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)

	cfg.RateLimit.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestsPerMinute = getEnvAsInt("RATE_LIMIT_RPM", cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.BurstSize = getEnvAsInt("RATE_LIMIT_BURST", cfg.RateLimit.BurstSize)

	cfg.Browser.ControlURL = GetEnv("BROWSER_CONTROL_URL", cfg.Browser.ControlURL)
	cfg.Browser.Headless = getEnvAsBool("BROWSER_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.Bin = GetEnv("BROWSER_BIN", cfg.Browser.Bin)

	cfg.Acquisition.Timeout = getEnvAsDuration("ACQUISITION_TIMEOUT", cfg.Acquisition.Timeout)
	cfg.Acquisition.PlayerConfigTimeout = getEnvAsDuration("PLAYER_CONFIG_TIMEOUT", cfg.Acquisition.PlayerConfigTimeout)
	cfg.Acquisition.RangeTimeout = getEnvAsDuration("RANGE_TIMEOUT", cfg.Acquisition.RangeTimeout)
	cfg.Acquisition.DescriptionWait = getEnvAsDuration("DESCRIPTION_WAIT", cfg.Acquisition.DescriptionWait)
	cfg.Acquisition.FallbackCapture = getEnvAsDuration("FALLBACK_CAPTURE", cfg.Acquisition.FallbackCapture)
	cfg.Acquisition.ScrapeDescription = getEnvAsBool("SCRAPE_DESCRIPTION", cfg.Acquisition.ScrapeDescription)
	cfg.Acquisition.DefaultLanguage = GetEnv("DEFAULT_LANGUAGE", cfg.Acquisition.DefaultLanguage)

	cfg.Delivery.EditorSelector = GetEnv("EDITOR_SELECTOR", cfg.Delivery.EditorSelector)
	cfg.Delivery.PollInterval = getEnvAsDuration("EDITOR_POLL_INTERVAL", cfg.Delivery.PollInterval)
	cfg.Delivery.EditorTimeout = getEnvAsDuration("EDITOR_TIMEOUT", cfg.Delivery.EditorTimeout)

	cfg.Transcription.BaseURL = GetEnv("WHISPER_SERVER_URL", cfg.Transcription.BaseURL)
	cfg.Transcription.Timeout = getEnvAsDuration("TRANSCRIBE_TIMEOUT", cfg.Transcription.Timeout)
	cfg.Transcription.MaxRetries = getEnvAsInt("TRANSCRIBE_MAX_RETRIES", cfg.Transcription.MaxRetries)

	cfg.Usage.WebhookURL = GetEnv("USAGE_WEBHOOK_URL", cfg.Usage.WebhookURL)

	cfg.Archive.Endpoint = GetEnv("ARCHIVE_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.Region = GetEnv("ARCHIVE_REGION", cfg.Archive.Region)
	cfg.Archive.Bucket = GetEnv("ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.AccessKey = GetEnv("ARCHIVE_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = GetEnv("ARCHIVE_SECRET_KEY", cfg.Archive.SecretKey)
}

func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return errors.New("server port is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("server timeouts must be greater than 0")
	}
	if c.Acquisition.Timeout <= 0 {
		return errors.New("acquisition timeout must be greater than 0")
	}
	if c.Delivery.PollInterval <= 0 {
		return errors.New("editor poll interval must be greater than 0")
	}
	if c.Delivery.EditorSelector == "" {
		return errors.New("editor selector is required")
	}
	if c.Transcription.BaseURL == "" {
		return errors.New("transcription base URL is required")
	}
	if c.Archive.Enabled() && c.Archive.Region == "" {
		return errors.New("archive region is required when a bucket is set")
	}

	for _, dir := range []string{c.LogDir, filepath.Dir(c.Database.Path)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating directory %s", dir)
		}
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid boolean, using default")
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			return strings.Split(value, ",")
		}
	}
	return defaultValue
}
