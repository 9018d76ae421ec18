package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Keygen    KeygenConfig    `yaml:"keygen" envconfig:"KEYGEN"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Signing   SigningConfig   `yaml:"signing" envconfig:"SIGNING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// RedisConfig contains key-value store configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" envconfig:"ADDR" default:"localhost:6379"`
	Password     string        `yaml:"password" envconfig:"PASSWORD"`
	DB           int           `yaml:"db" envconfig:"DB" default:"0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// KeygenConfig contains the license validation provider configuration.
// The provider is considered configured when AccountID and Token are both set.
type KeygenConfig struct {
	BaseURL   string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.keygen.sh/v1"`
	AccountID string        `yaml:"account_id" envconfig:"ACCOUNT_ID"`
	Token     string        `yaml:"token" envconfig:"TOKEN"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
	// MaxCallsPerSecond bounds outbound validation calls across all requests.
	MaxCallsPerSecond float64 `yaml:"max_calls_per_second" envconfig:"MAX_CALLS_PER_SECOND" default:"10"`
}

// Configured reports whether the validation provider can be contacted.
func (k KeygenConfig) Configured() bool {
	return k.AccountID != "" && k.Token != ""
}

// LicensingConfig contains entitlement policy configuration.
// The recheck intervals and grace window must stay in sync with released
// desktop clients, which hard-cache decisions until next_check_after.
type LicensingConfig struct {
	TrialDuration     time.Duration `yaml:"trial_duration" envconfig:"TRIAL_DURATION" default:"168h"`
	DeviceLimit       int           `yaml:"device_limit" envconfig:"DEVICE_LIMIT" default:"2"`
	ActiveRecheck     time.Duration `yaml:"active_recheck" envconfig:"ACTIVE_RECHECK" default:"6h"`
	InactiveRecheck   time.Duration `yaml:"inactive_recheck" envconfig:"INACTIVE_RECHECK" default:"12h"`
	TrialRecheck      time.Duration `yaml:"trial_recheck" envconfig:"TRIAL_RECHECK" default:"1h"`
	SuspendedRecheck  time.Duration `yaml:"suspended_recheck" envconfig:"SUSPENDED_RECHECK" default:"24h"`
	StaleGraceWindow  time.Duration `yaml:"stale_grace_window" envconfig:"STALE_GRACE_WINDOW" default:"24h"`
	ValidationBackoff time.Duration `yaml:"validation_backoff" envconfig:"VALIDATION_BACKOFF" default:"15m"`
	// AllowedKeys is a static fallback used only when no provider is
	// configured: SHA-256 hex hashes of accepted license keys.
	AllowedKeys []string `yaml:"allowed_keys" envconfig:"ALLOWED_KEYS"`
}

// RateLimitConfig contains fixed-window rate limiting configuration
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	Window  time.Duration `yaml:"window" envconfig:"WINDOW" default:"1m"`
	// Limit is the maximum requests per (caller, device) per window.
	Limit int `yaml:"limit" envconfig:"LIMIT" default:"30"`
}

// SigningConfig controls the optional signed entitlement token.
// An empty secret silently disables token issuance.
type SigningConfig struct {
	Secret   string        `yaml:"secret" envconfig:"SECRET"`
	Issuer   string        `yaml:"issuer" envconfig:"ISSUER" default:"tracecut-licensing"`
	MaxValid time.Duration `yaml:"max_valid" envconfig:"MAX_VALID" default:"24h"`
}

// Load loads configuration from environment variables and an optional YAML file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("TRACECUT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := getConfigFilePath(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Redis.Addr == "" {
		envConfig.Redis.Addr = fileConfig.Redis.Addr
	}
	if envConfig.Keygen.AccountID == "" {
		envConfig.Keygen.AccountID = fileConfig.Keygen.AccountID
	}
	if envConfig.Keygen.Token == "" {
		envConfig.Keygen.Token = fileConfig.Keygen.Token
	}
	if envConfig.Signing.Secret == "" {
		envConfig.Signing.Secret = fileConfig.Signing.Secret
	}
	if len(envConfig.Licensing.AllowedKeys) == 0 {
		envConfig.Licensing.AllowedKeys = fileConfig.Licensing.AllowedKeys
	}
	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Licensing.TrialDuration <= 0 {
		return fmt.Errorf("trial duration must be positive")
	}
	if c.Licensing.DeviceLimit <= 0 {
		return fmt.Errorf("device limit must be positive")
	}
	if c.Licensing.StaleGraceWindow <= 0 {
		return fmt.Errorf("stale grace window must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, if one exists
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Keygen: KeygenConfig{
			BaseURL:           "https://api.keygen.sh/v1",
			Timeout:           10 * time.Second,
			MaxCallsPerSecond: 10,
		},
		Licensing: DefaultLicensing(),
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  time.Minute,
			Limit:   30,
		},
		Signing: SigningConfig{
			Issuer:   "tracecut-licensing",
			MaxValid: 24 * time.Hour,
		},
	}
}

// DefaultLicensing returns the released entitlement policy values.
func DefaultLicensing() LicensingConfig {
	return LicensingConfig{
		TrialDuration:     TrialDuration,
		DeviceLimit:       DefaultDeviceLimit,
		ActiveRecheck:     ActiveRecheck,
		InactiveRecheck:   InactiveRecheck,
		TrialRecheck:      TrialRecheck,
		SuspendedRecheck:  SuspendedRecheck,
		StaleGraceWindow:  StaleGraceWindow,
		ValidationBackoff: ValidationBackoff,
	}
}
