// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Candidate source. When DatabaseURL is empty the server falls back to
	// an in-memory static source, which is only useful for local development.
	DatabaseURL string `koanf:"database_url"`

	// Result cache. When RedisAddr is empty an in-process sharded cache is used.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// JWT Authentication. Optional: when unset, requests are served anonymously
	// and user identity comes from the user_id query parameter only.
	JWTSecret string `koanf:"jwt_secret"`

	// Ranking
	RankerEnabled         bool    `koanf:"ranker_enabled"`
	CanaryFraction        float64 `koanf:"canary_fraction"`
	ExplorationConstant   float64 `koanf:"exploration_constant"`
	PriorCTR              float64 `koanf:"prior_ctr"`
	CommissionWeight      float64 `koanf:"commission_weight"`
	FreshnessWeight       float64 `koanf:"freshness_weight"`
	FreshnessHorizonHours int     `koanf:"freshness_horizon_hours"`
	MinExposureFraction   float64 `koanf:"min_exposure_fraction"`
	CalibrationFile       string  `koanf:"calibration_file"`

	// Serving
	MaxCandidates      int `koanf:"max_candidates"`
	CacheTTLSeconds    int `koanf:"cache_ttl_seconds"`
	FetchTimeoutMillis int `koanf:"fetch_timeout_ms"`
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidCanaryFraction      = errors.New("CANARY_FRACTION must be between 0 and 1")
	ErrInvalidExposureFraction    = errors.New("MIN_EXPOSURE_FRACTION must be between 0 and 1")
	ErrInvalidPriorCTR            = errors.New("PRIOR_CTR must be between 0 and 1")
	ErrInvalidExplorationConstant = errors.New("EXPLORATION_CONSTANT must not be negative")
	ErrInvalidCommissionWeight    = errors.New("COMMISSION_WEIGHT must not be negative")
	ErrInvalidFreshnessWeight     = errors.New("FRESHNESS_WEIGHT must not be negative")
	ErrInvalidFreshnessHorizon    = errors.New("FRESHNESS_HORIZON_HOURS must be positive")
	ErrInvalidMaxCandidates       = errors.New("MAX_CANDIDATES must be positive")
	ErrInvalidCacheTTL            = errors.New("CACHE_TTL_SECONDS must be positive")
	ErrInvalidFetchTimeout        = errors.New("FETCH_TIMEOUT_MS must be positive")
	ErrInvalidRateLimit           = errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	ErrInvalidTracingExporter     = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrInvalidTracingSampleRate   = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultRankerEnabled         = true
	DefaultCanaryFraction        = 0.05
	DefaultExplorationConstant   = 1.5
	DefaultPriorCTR              = 0.02
	DefaultCommissionWeight      = 0.2
	DefaultFreshnessWeight       = 0.1
	DefaultFreshnessHorizonHours = 168
	DefaultMinExposureFraction   = 0.02
	DefaultMaxCandidates         = 300
	DefaultCacheTTLSeconds       = 60
	DefaultFetchTimeoutMillis    = 2000
	DefaultRateLimitPerMinute    = 120
	DefaultTracingExporter       = "otlp-http"
	DefaultTracingSampleRate     = 1.0
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try STORYRANK_PORT first, then PORT for platform compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"STORYRANK_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	intVals := map[string]*intOption{
		"freshness_horizon_hours": {env: "FRESHNESS_HORIZON_HOURS", def: DefaultFreshnessHorizonHours},
		"max_candidates":          {env: "MAX_CANDIDATES", def: DefaultMaxCandidates},
		"cache_ttl_seconds":       {env: "CACHE_TTL_SECONDS", def: DefaultCacheTTLSeconds},
		"fetch_timeout_ms":        {env: "FETCH_TIMEOUT_MS", def: DefaultFetchTimeoutMillis},
		"rate_limit_per_minute":   {env: "RATE_LIMIT_PER_MINUTE", def: DefaultRateLimitPerMinute},
	}
	for key, opt := range intVals {
		v, err := getEnvIntOrDefault(opt.env, k.Int(key), opt.def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		opt.value = v
	}

	floatVals := map[string]*floatOption{
		"canary_fraction":       {env: "CANARY_FRACTION", def: DefaultCanaryFraction},
		"exploration_constant":  {env: "EXPLORATION_CONSTANT", def: DefaultExplorationConstant},
		"prior_ctr":             {env: "PRIOR_CTR", def: DefaultPriorCTR},
		"commission_weight":     {env: "COMMISSION_WEIGHT", def: DefaultCommissionWeight},
		"freshness_weight":      {env: "FRESHNESS_WEIGHT", def: DefaultFreshnessWeight},
		"min_exposure_fraction": {env: "MIN_EXPOSURE_FRACTION", def: DefaultMinExposureFraction},
		"tracing_sample_rate":   {env: "TRACING_SAMPLE_RATE", def: DefaultTracingSampleRate},
	}
	for key, opt := range floatVals {
		v, err := getEnvFloatOrDefault(opt.env, k, key, opt.def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		opt.value = v
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:          port,
		Env:           getEnvOrDefaultMulti([]string{"STORYRANK_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:   getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:     getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword: getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		JWTSecret:     getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),

		RankerEnabled:         getEnvBoolOrDefault("RANKER_ENABLED", k, "ranker_enabled", DefaultRankerEnabled),
		CanaryFraction:        floatVals["canary_fraction"].value,
		ExplorationConstant:   floatVals["exploration_constant"].value,
		PriorCTR:              floatVals["prior_ctr"].value,
		CommissionWeight:      floatVals["commission_weight"].value,
		FreshnessWeight:       floatVals["freshness_weight"].value,
		FreshnessHorizonHours: intVals["freshness_horizon_hours"].value,
		MinExposureFraction:   floatVals["min_exposure_fraction"].value,
		CalibrationFile:       getEnvOrKoanf("CALIBRATION_FILE", k, "calibration_file"),

		MaxCandidates:      intVals["max_candidates"].value,
		CacheTTLSeconds:    intVals["cache_ttl_seconds"].value,
		FetchTimeoutMillis: intVals["fetch_timeout_ms"].value,
		RateLimitPerMinute: intVals["rate_limit_per_minute"].value,

		TracingEnabled:    getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingEndpoint:   getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingExporter:   getEnvOrDefaultMulti([]string{"TRACING_EXPORTER"}, k.String("tracing_exporter"), DefaultTracingExporter),
		TracingSampleRate: floatVals["tracing_sample_rate"].value,
		TracingInsecure:   getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

type intOption struct {
	env   string
	def   int
	value int
}

type floatOption struct {
	env   string
	def   float64
	value float64
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: a zero value in a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default. The koanf key must exist for a file
// value of 0 to be honored; this allows tuning weights down to zero in YAML.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value if present, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// Validate checks that all configuration values are within their allowed ranges.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.CanaryFraction < 0 || c.CanaryFraction > 1 {
		errs = append(errs, ErrInvalidCanaryFraction)
	}
	if c.MinExposureFraction < 0 || c.MinExposureFraction > 1 {
		errs = append(errs, ErrInvalidExposureFraction)
	}
	if c.PriorCTR < 0 || c.PriorCTR > 1 {
		errs = append(errs, ErrInvalidPriorCTR)
	}
	if c.ExplorationConstant < 0 {
		errs = append(errs, ErrInvalidExplorationConstant)
	}
	if c.CommissionWeight < 0 {
		errs = append(errs, ErrInvalidCommissionWeight)
	}
	if c.FreshnessWeight < 0 {
		errs = append(errs, ErrInvalidFreshnessWeight)
	}
	if c.FreshnessHorizonHours <= 0 {
		errs = append(errs, ErrInvalidFreshnessHorizon)
	}
	if c.MaxCandidates <= 0 {
		errs = append(errs, ErrInvalidMaxCandidates)
	}
	if c.CacheTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}
	if c.FetchTimeoutMillis <= 0 {
		errs = append(errs, ErrInvalidFetchTimeout)
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	// Empty means the default transport; the tracing package accepts it.
	if c.TracingExporter != "" && c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidTracingExporter)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidTracingSampleRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"redis_addr":              orNotSet(c.RedisAddr),
		"redis_password":          maskSecret(c.RedisPassword),
		"jwt_secret":              maskSecret(c.JWTSecret),
		"ranker_enabled":          fmt.Sprintf("%t", c.RankerEnabled),
		"canary_fraction":         fmt.Sprintf("%g", c.CanaryFraction),
		"exploration_constant":    fmt.Sprintf("%g", c.ExplorationConstant),
		"prior_ctr":               fmt.Sprintf("%g", c.PriorCTR),
		"commission_weight":       fmt.Sprintf("%g", c.CommissionWeight),
		"freshness_weight":        fmt.Sprintf("%g", c.FreshnessWeight),
		"freshness_horizon_hours": fmt.Sprintf("%d", c.FreshnessHorizonHours),
		"min_exposure_fraction":   fmt.Sprintf("%g", c.MinExposureFraction),
		"calibration_file":        orNotSet(c.CalibrationFile),
		"max_candidates":          fmt.Sprintf("%d", c.MaxCandidates),
		"cache_ttl_seconds":       fmt.Sprintf("%d", c.CacheTTLSeconds),
		"fetch_timeout_ms":        fmt.Sprintf("%d", c.FetchTimeoutMillis),
		"rate_limit_per_minute":   fmt.Sprintf("%d", c.RateLimitPerMinute),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":        orNotSet(c.TracingEndpoint),
		"tracing_exporter":        c.TracingExporter,
		"tracing_sample_rate":     fmt.Sprintf("%g", c.TracingSampleRate),
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
