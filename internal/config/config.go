package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration values for the maskfill server.
type Config struct {
	DB            DatabaseConfig
	ServerPort    int
	LogLevel      string
	Model         ModelConfig
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration
	RateLimit     RateLimitConfig
}

// DatabaseConfig describes how the pending-suggestion store is reached.
type DatabaseConfig struct {
	Driver   string
	Name     string
	User     string
	Password string
	Host     string
	Port     string
	SSLMode  string
	Path     string
}

// ModelConfig points at the masked-language model server.
type ModelConfig struct {
	Endpoint      string
	APIKey        string
	Name          string
	Timeout       time.Duration
	TokenCacheTTL time.Duration
}

// RateLimitConfig configures the per-client HTTP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

const (
	defaultDBDriver           = "postgres"
	defaultDBPath             = "./data/maskfill.db"
	defaultDBSSLMode          = "disable"
	defaultServerPort         = 8080
	defaultLogLevel           = "info"
	defaultEnvironment        = "development"
	defaultShutdownGrace      = 10 * time.Second
	defaultModelName          = "roberta-base"
	defaultTokenCacheTTL      = time.Hour
	defaultRateLimitRPS       = 5.0
	defaultRateLimitBurst     = 10
	defaultRateLimitClientTTL = 10 * time.Minute
)

// fileConfig mirrors the optional YAML configuration file. Environment
// variables take precedence over every value read from it.
type fileConfig struct {
	Database struct {
		Driver   string `yaml:"driver"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		SSLMode  string `yaml:"sslmode"`
		Path     string `yaml:"path"`
	} `yaml:"database"`
	Server struct {
		Port     string `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Model struct {
		Endpoint      string `yaml:"endpoint"`
		APIKey        string `yaml:"api_key"`
		Name          string `yaml:"name"`
		Timeout       string `yaml:"timeout"`
		TokenCacheTTL string `yaml:"token_cache_ttl"`
	} `yaml:"model"`
	RateLimit struct {
		RequestsPerSecond string `yaml:"requests_per_second"`
		Burst             string `yaml:"burst"`
		ClientTTL         string `yaml:"client_ttl"`
	} `yaml:"rate_limit"`
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
}

// Load reads configuration values from environment variables, applying defaults where necessary.
// When CONFIG_FILE names a YAML file its values act as defaults underneath the environment.
func Load() (*Config, error) {
	file, err := readFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, eris.Wrap(err, "reading CONFIG_FILE")
	}

	cfg := &Config{
		DB: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", first(file.Database.Driver, defaultDBDriver))),
			Name:     getEnv("DB_NAME", file.Database.Name),
			User:     getEnv("DB_USER", file.Database.User),
			Password: getEnv("DB_PASSWORD", file.Database.Password),
			Host:     getEnv("DB_HOST", file.Database.Host),
			Port:     getEnv("DB_PORT", file.Database.Port),
			SSLMode:  getEnv("DB_SSLMODE", first(file.Database.SSLMode, defaultDBSSLMode)),
			Path:     getEnv("DB_PATH", first(file.Database.Path, defaultDBPath)),
		},
		LogLevel:    getEnv("LOG_LEVEL", first(file.Server.LogLevel, defaultLogLevel)),
		SentryDSN:   getEnv("SENTRY_DSN", file.SentryDSN),
		Environment: getEnv("ENV", first(file.Environment, defaultEnvironment)),
		Model: ModelConfig{
			Endpoint: getEnv("MODEL_ENDPOINT", file.Model.Endpoint),
			APIKey:   getEnv("MODEL_API_KEY", file.Model.APIKey),
			Name:     getEnv("MODEL_NAME", first(file.Model.Name, defaultModelName)),
		},
		ShutdownGrace: defaultShutdownGrace,
	}

	switch cfg.DB.Driver {
	case "postgres", "sqlite":
	default:
		return nil, eris.Errorf("invalid DB_DRIVER value: %s", cfg.DB.Driver)
	}

	portValue := getEnv("SERVER_PORT", first(file.Server.Port, strconv.Itoa(defaultServerPort)))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	if cfg.Model.Timeout, err = parseDuration("MODEL_TIMEOUT", file.Model.Timeout, 0); err != nil {
		return nil, err
	}
	if cfg.Model.TokenCacheTTL, err = parseDuration("TOKEN_CACHE_TTL", file.Model.TokenCacheTTL, defaultTokenCacheTTL); err != nil {
		return nil, err
	}

	rpsValue := getEnv("RATE_LIMIT_RPS", file.RateLimit.RequestsPerSecond)
	cfg.RateLimit.RequestsPerSecond = defaultRateLimitRPS
	if rpsValue != "" {
		rps, parseErr := strconv.ParseFloat(rpsValue, 64)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "invalid RATE_LIMIT_RPS value: %s", rpsValue)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}

	burstValue := getEnv("RATE_LIMIT_BURST", first(file.RateLimit.Burst, strconv.Itoa(defaultRateLimitBurst)))
	burst, err := strconv.Atoi(burstValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid RATE_LIMIT_BURST value: %s", burstValue)
	}
	cfg.RateLimit.Burst = burst

	if cfg.RateLimit.ClientTTL, err = parseDuration("RATE_LIMIT_CLIENT_TTL", file.RateLimit.ClientTTL, defaultRateLimitClientTTL); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var cfg fileConfig

	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "opening %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "decoding YAML in %s", path)
	}

	return cfg, nil
}

func parseDuration(key, fileValue string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, fileValue)
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	if value < 0 {
		return 0, eris.Errorf("invalid %s value: %s must not be negative", key, raw)
	}

	return value, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func first(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
