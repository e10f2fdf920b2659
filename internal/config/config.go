package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Security SecurityConfig `mapstructure:"security"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DataConfig struct {
	CSVFile     string `mapstructure:"csv_file"`
	Encoding    string `mapstructure:"encoding"`
	GeoJSONFile string `mapstructure:"geojson_file"`
	FeatureKey  string `mapstructure:"feature_key"`
	CacheDir    string `mapstructure:"cache_dir"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	EnableRateLimit bool     `mapstructure:"rate_limit_enabled"`
	RateLimitRPS    int      `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int      `mapstructure:"rate_limit_burst"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	TrustedProxies  []string `mapstructure:"trusted_proxies"`
}

type setting struct {
	key   string
	env   string
	value any
}

var settings = []setting{
	{"server.host", "SERVER_HOST", "localhost"},
	{"server.port", "SERVER_PORT", 8084},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", 10 * time.Second},
	{"server.write_timeout", "SERVER_WRITE_TIMEOUT", 10 * time.Second},
	{"server.idle_timeout", "SERVER_IDLE_TIMEOUT", 60 * time.Second},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", 30 * time.Second},
	{"data.csv_file", "CSV_FILE", "data/cars.csv"},
	{"data.encoding", "CSV_ENCODING", "latin-1"},
	{"data.geojson_file", "GEOJSON_FILE", "data/cars.geojson"},
	{"data.feature_key", "GEOJSON_FEATURE_KEY", "Province"},
	{"data.cache_dir", "CACHE_DIR", ".cache"},
	{"logger.level", "LOG_LEVEL", "info"},
	{"logger.format", "LOG_FORMAT", "json"},
	{"security.rate_limit_enabled", "SECURITY_RATE_LIMIT_ENABLED", true},
	{"security.rate_limit_rps", "SECURITY_RATE_LIMIT_RPS", 100},
	{"security.rate_limit_burst", "SECURITY_RATE_LIMIT_BURST", 10},
	{"security.allowed_origins", "SECURITY_ALLOWED_ORIGINS", []string{"http://localhost:8084"}},
	{"security.trusted_proxies", "SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}},
}

// FlagKeys maps command line flags onto config keys.
var FlagKeys = map[string]string{
	"host":        "server.host",
	"port":        "server.port",
	"csv":         "data.csv_file",
	"encoding":    "data.encoding",
	"geojson":     "data.geojson_file",
	"feature-key": "data.feature_key",
	"cache-dir":   "data.cache_dir",
	"log-level":   "logger.level",
	"log-format":  "logger.format",
}

// Load builds the configuration from defaults, an optional config file,
// environment variables and flags, in increasing order of precedence.
// flags may be nil.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()

	for _, s := range settings {
		v.SetDefault(s.key, s.value)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", s.env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Security.AllowedOrigins = splitList(cfg.Security.AllowedOrigins)
	cfg.Security.TrustedProxies = splitList(cfg.Security.TrustedProxies)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// splitList flattens comma separated entries, as environment variables
// deliver lists as one string.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Data.CSVFile == "" {
		return fmt.Errorf("CSV file path cannot be empty")
	}

	if c.Data.GeoJSONFile == "" {
		return fmt.Errorf("GeoJSON file path cannot be empty")
	}

	if c.Data.FeatureKey == "" {
		return fmt.Errorf("GeoJSON feature key cannot be empty")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Security.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit burst must be positive")
	}

	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
