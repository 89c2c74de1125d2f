package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unklstewy/windaloft/pkg/wind"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete application configuration.
// Configuration can be loaded from a JSON or YAML file.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Wind      WindConfig      `json:"wind" yaml:"wind"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" yaml:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host" yaml:"host"`

	// CORSOrigins lists the allowed browser origins (default: all)
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	// RequestsPerSecond limits API throughput across all clients
	// 0 = unlimited
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the number of requests allowed above the steady rate
	Burst int `json:"burst" yaml:"burst"`

	// MaxBodyBytes caps the size of ingested snapshots
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (postgres)
	Driver string `json:"driver" yaml:"driver"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// WindConfig contains the wind estimation parameters.
type WindConfig struct {
	// AltitudeBinSize is the aggregation bin width in meters
	AltitudeBinSize int `json:"altitude_bin_size" yaml:"altitude_bin_size"`

	// MinSamplesPerBin is the smallest sample count a bin needs to be reported
	MinSamplesPerBin int `json:"min_samples_per_bin" yaml:"min_samples_per_bin"`

	// SmoothingWindow is the minimum vertical velocity regression window
	SmoothingWindow int `json:"smoothing_window" yaml:"smoothing_window"`

	// MaxPairIntervalSeconds rejects report pairs further apart than this
	MaxPairIntervalSeconds int `json:"max_pair_interval_seconds" yaml:"max_pair_interval_seconds"`

	// SignificanceSpeedMPS drops slower trajectory pairs as GPS noise
	SignificanceSpeedMPS float64 `json:"significance_speed_mps" yaml:"significance_speed_mps"`

	// DefaultAltitudeSource is "barometric" or "geometric"
	DefaultAltitudeSource string `json:"default_altitude_source" yaml:"default_altitude_source"`
}

// RetentionConfig controls how long data is kept.
type RetentionConfig struct {
	// MaxDataAgeHours deletes reports and bins older than this
	MaxDataAgeHours int `json:"max_data_age_hours" yaml:"max_data_age_hours"`

	// CleanupIntervalMinutes is how often the cleanup runs
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes" yaml:"cleanup_interval_minutes"`
}

// WorkerConfig controls the background profile recomputation.
type WorkerConfig struct {
	// UpdateIntervalSeconds is how often profiles are recomputed
	UpdateIntervalSeconds int `json:"update_interval_seconds" yaml:"update_interval_seconds"`

	// LookbackHours limits recomputation to objects seen this recently
	LookbackHours int `json:"lookback_hours" yaml:"lookback_hours"`
}

// AuthConfig controls bearer token checks on the write routes.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens (should be loaded from environment).
	// Write routes reject every request while it is empty, unless Disabled.
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`

	// TokenHours is the lifetime of minted tokens
	TokenHours int `json:"token_hours" yaml:"token_hours"`

	// Disabled leaves the write routes open (local development only)
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
// Values missing from the file keep their defaults. If the file doesn't
// exist, returns the default configuration. Environment overrides are
// applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON or YAML file, chosen by extension.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			Host:              "0.0.0.0",
			CORSOrigins:       []string{"*"},
			RequestsPerSecond: 50,
			Burst:             100,
			MaxBodyBytes:      4 << 20,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Database:     "windaloft",
			Username:     "windaloft",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Wind: WindConfig{
			AltitudeBinSize:        wind.DefaultBinSize,
			MinSamplesPerBin:       wind.DefaultMinSamples,
			SmoothingWindow:        wind.DefaultSmoothingWindow,
			MaxPairIntervalSeconds: int(wind.DefaultMaxPairInterval / time.Second),
			SignificanceSpeedMPS:   wind.DefaultSignificanceSpeed,
			DefaultAltitudeSource:  "barometric",
		},
		Retention: RetentionConfig{
			MaxDataAgeHours:        24,
			CleanupIntervalMinutes: 60,
		},
		Worker: WorkerConfig{
			UpdateIntervalSeconds: 30,
			LookbackHours:         1,
		},
		Auth: AuthConfig{
			TokenHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects settings that would make the wind service produce
// nonsensical results or the binaries misbehave.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
		}
	}

	check(c.Wind.AltitudeBinSize > 0, "wind.altitude_bin_size must be positive, got %d", c.Wind.AltitudeBinSize)
	check(c.Wind.MinSamplesPerBin >= 1, "wind.min_samples_per_bin must be at least 1, got %d", c.Wind.MinSamplesPerBin)
	check(c.Wind.SmoothingWindow >= 1, "wind.smoothing_window must be at least 1, got %d", c.Wind.SmoothingWindow)
	check(c.Wind.MaxPairIntervalSeconds > 0, "wind.max_pair_interval_seconds must be positive, got %d", c.Wind.MaxPairIntervalSeconds)
	check(c.Wind.SignificanceSpeedMPS >= 0, "wind.significance_speed_mps must not be negative, got %.2f", c.Wind.SignificanceSpeedMPS)
	check(c.Retention.MaxDataAgeHours > 0, "retention.max_data_age_hours must be positive, got %d", c.Retention.MaxDataAgeHours)
	check(c.Retention.CleanupIntervalMinutes > 0, "retention.cleanup_interval_minutes must be positive, got %d", c.Retention.CleanupIntervalMinutes)
	check(c.Worker.UpdateIntervalSeconds > 0, "worker.update_interval_seconds must be positive, got %d", c.Worker.UpdateIntervalSeconds)
	check(c.Worker.LookbackHours > 0, "worker.lookback_hours must be positive, got %d", c.Worker.LookbackHours)
	check(c.Auth.TokenHours > 0, "auth.token_hours must be positive, got %d", c.Auth.TokenHours)
	check(c.Server.RequestsPerSecond >= 0, "server.requests_per_second must not be negative, got %.2f", c.Server.RequestsPerSecond)

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.port %q is not a valid port", ErrInvalid, c.Server.Port))
	}

	return errors.Join(errs...)
}

// Address returns the host:port the HTTP server listens on.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// DifferencerConfig converts the wind settings for wind.NewDifferencer.
func (w WindConfig) DifferencerConfig() wind.DifferencerConfig {
	return wind.DifferencerConfig{
		MaxPairInterval:   time.Duration(w.MaxPairIntervalSeconds) * time.Second,
		SignificanceSpeed: w.SignificanceSpeedMPS,
	}
}

// AggregatorConfig converts the wind settings for wind.NewAggregator.
func (w WindConfig) AggregatorConfig() wind.AggregatorConfig {
	return wind.AggregatorConfig{
		BinSize:    w.AltitudeBinSize,
		MinSamples: w.MinSamplesPerBin,
	}
}

// ServiceConfig converts the wind settings for wind.NewService.
func (w WindConfig) ServiceConfig() wind.Config {
	return wind.Config{
		Differencer:     w.DifferencerConfig(),
		Aggregator:      w.AggregatorConfig(),
		SmoothingWindow: w.SmoothingWindow,
	}
}

// AltitudeSource returns the configured default altitude source.
func (w WindConfig) AltitudeSource() wind.AltitudeSource {
	return wind.ParseAltitudeSource(w.DefaultAltitudeSource)
}

// TokenDuration returns the lifetime of minted tokens.
func (a AuthConfig) TokenDuration() time.Duration {
	return time.Duration(a.TokenHours) * time.Hour
}

// MaxDataAge returns the retention period.
func (r RetentionConfig) MaxDataAge() time.Duration {
	return time.Duration(r.MaxDataAgeHours) * time.Hour
}

// CleanupInterval returns how often retention cleanup runs.
func (r RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(r.CleanupIntervalMinutes) * time.Minute
}

// UpdateInterval returns how often the worker recomputes profiles.
func (w WorkerConfig) UpdateInterval() time.Duration {
	return time.Duration(w.UpdateIntervalSeconds) * time.Second
}

// Lookback returns how recently an object must have been seen to be
// recomputed.
func (w WorkerConfig) Lookback() time.Duration {
	return time.Duration(w.LookbackHours) * time.Hour
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
// Malformed numeric values are ignored.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("WINDALOFT_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("WINDALOFT_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if dbHost := os.Getenv("WINDALOFT_DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if secret := os.Getenv("WINDALOFT_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	envInt("WINDALOFT_ALTITUDE_BIN_SIZE", &c.Wind.AltitudeBinSize)
	envInt("WINDALOFT_MIN_SAMPLES_PER_BIN", &c.Wind.MinSamplesPerBin)
	envInt("WINDALOFT_SMOOTHING_WINDOW", &c.Wind.SmoothingWindow)
	envInt("WINDALOFT_MAX_DATA_AGE_HOURS", &c.Retention.MaxDataAgeHours)
	envInt("WINDALOFT_CLEANUP_INTERVAL_MINUTES", &c.Retention.CleanupIntervalMinutes)
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}
