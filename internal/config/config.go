package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains HTTP server configuration for the status surface
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig contains entitlement engine configuration
type LicenseConfig struct {
	// Key is the installed license key this instance resolves state for.
	Key string `yaml:"key" envconfig:"KEY"`
	// APIEndpoint is the validation authority base URL.
	APIEndpoint string `yaml:"api_endpoint" envconfig:"API_ENDPOINT" default:"https://licensing.example.com/api/v1"`
	// APIKey authenticates this installation against the authority.
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`
	// PublicKeyPath points at the PEM-encoded RSA verification key. When
	// empty the embedded key is used.
	PublicKeyPath string `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
	// CacheTTL bounds how long a resolved state is trusted without
	// re-resolution.
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL" default:"5m" validate:"gt=0"`
	// CacheMaxSize caps the number of cached states.
	CacheMaxSize int `yaml:"cache_max_size" envconfig:"CACHE_MAX_SIZE" default:"1000" validate:"gt=0"`
	// CacheSecret seeds the per-installation cache integrity key. Empty
	// disables the MAC layer.
	CacheSecret string `yaml:"cache_secret" envconfig:"CACHE_SECRET"`
	// RevalidationInterval is how often a cached state should be
	// re-confirmed against the authority.
	RevalidationInterval time.Duration `yaml:"revalidation_interval" envconfig:"REVALIDATION_INTERVAL" default:"24h" validate:"gt=0"`
	// OfflineExpiryLeeway tolerates clock drift when checking offline
	// license file expiry.
	OfflineExpiryLeeway time.Duration `yaml:"offline_expiry_leeway" envconfig:"OFFLINE_EXPIRY_LEEWAY" default:"24h" validate:"gte=0"`
	// NetworkTimeout bounds each authority call.
	NetworkTimeout time.Duration `yaml:"network_timeout" envconfig:"NETWORK_TIMEOUT" default:"30s" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/entitled.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// PathsConfig contains file system paths configuration. Relative paths are
// resolved against the executable directory, never the working directory.
type PathsConfig struct {
	ExecutableDir string `yaml:"executable_dir" envconfig:"EXECUTABLE_DIR"`
	LicenseDir    string `yaml:"license_dir" envconfig:"LICENSE_DIR" default:"licenses"`
	LogsDir       string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// RateLimitConfig bounds outbound authority calls
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"1" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"5" validate:"gt=0"`
}

// envPrefix namespaces all environment variables, e.g. ENTITLED_LICENSE_API_KEY.
const envPrefix = "ENTITLED"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load loads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	return LoadFromFile(configFilePath())
}

// LoadFromFile loads configuration with an explicit config file path. A
// missing file is not an error; the env/default layer still applies.
func LoadFromFile(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if data, err := os.ReadFile(configFile); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	// envconfig fills zero-valued fields from defaults and overrides any
	// field with a matching environment variable.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// normalize coerces fields with a single supported value.
func (c *Config) normalize() {
	// Log output is always JSON so processors never have to guess.
	c.Logging.Format = "json"
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Output = strings.ToLower(c.Logging.Output)
}

func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	exeDir, err := ExecutableDir()
	if err != nil {
		return "entitled.yaml"
	}
	return joinIfRelative(exeDir, "entitled.yaml")
}
