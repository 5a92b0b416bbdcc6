package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration. Layering
// is defaults, then the optional YAML config file, then environment
// variables (prefix LICGATE).
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig contains the keyed-store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool     `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	// HeartbeatSecret signs heartbeat tokens. Mandatory outside dev.
	HeartbeatSecret string `yaml:"heartbeat_secret" envconfig:"HEARTBEAT_SECRET"`
	// SigningSeed is the base64 seed for the bootstrap payload signer.
	// When empty an ephemeral keypair is generated at startup.
	SigningSeed string `yaml:"signing_seed" envconfig:"SIGNING_SEED"`
	// RequireFingerprint makes a missing fileHash fail the integrity
	// check instead of passing it.
	RequireFingerprint bool `yaml:"require_fingerprint" envconfig:"REQUIRE_FINGERPRINT"`
	// SuspiciousAttemptThreshold is the attempt count at which an IP is
	// permanently blocked.
	SuspiciousAttemptThreshold int64 `yaml:"suspicious_attempt_threshold" envconfig:"SUSPICIOUS_ATTEMPT_THRESHOLD"`
	// TamperKillThreshold is the client tamper count that forces every
	// license of the client to be treated as terminated.
	TamperKillThreshold int `yaml:"tamper_kill_threshold" envconfig:"TAMPER_KILL_THRESHOLD"`
}

// RateLimitConfig contains rate limiting configuration. Capacity and
// Window drive the per-source fixed window; RPS and Burst drive the
// coarse process-wide limiter in front of it.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" envconfig:"ENABLED"`
	Capacity      int           `yaml:"capacity" envconfig:"CAPACITY"`
	Window        time.Duration `yaml:"window" envconfig:"WINDOW"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	// Shared selects the Redis-backed window so horizontally scaled
	// deployments enforce one global limit.
	Shared bool    `yaml:"shared" envconfig:"SHARED"`
	RPS    float64 `yaml:"rps" envconfig:"RPS"`
	Burst  int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// defaultConfig holds the baseline every load starts from. Defaults
// live here rather than in envconfig tags: a tag default is re-applied
// for every field whose env var is absent, which would clobber values
// the config file set.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Security: SecurityConfig{
			EnableCORS:                 true,
			SuspiciousAttemptThreshold: 10,
			TamperKillThreshold:        3,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Capacity:      20,
			Window:        60 * time.Second,
			SweepInterval: 5 * time.Minute,
			RPS:           200,
			Burst:         100,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/licgate.log",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			ServiceName:    "licgate",
			Environment:    "development",
			TraceExporter:  "stdout",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}

// Load loads configuration from the optional YAML file, then overlays
// environment variables.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration with an explicit config file path.
// Defaults are applied first, the file overwrites defaults, and
// environment variables overwrite both.
func LoadFrom(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Without default tags envconfig touches only fields whose env var
	// is actually set, so file values survive.
	if err := envconfig.Process("LICGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if path := os.Getenv("LICGATE_CONFIG"); path != "" {
		return path
	}
	return "licgate.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("rate limit capacity must be positive, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Security.SuspiciousAttemptThreshold <= 0 {
		return fmt.Errorf("suspicious attempt threshold must be positive, got %d", c.Security.SuspiciousAttemptThreshold)
	}
	if c.Security.TamperKillThreshold <= 0 {
		return fmt.Errorf("tamper kill threshold must be positive, got %d", c.Security.TamperKillThreshold)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
