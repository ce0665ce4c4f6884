// =============================================================================
// ragchat configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RAGCHAT").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ragchat configuration.
type Config struct {
	// Server HTTP server settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis retrieval cache settings
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Milvus vector store settings
	Milvus MilvusConfig `yaml:"milvus" env:"MILVUS"`

	// LLM chat model settings
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding embedding model settings
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval retrieval pipeline settings
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Agent conversation orchestration settings
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// Database session store settings
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry tracing settings
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ReadTimeout bounds request reads; WriteTimeout must stay zero-able for
	// SSE turns, which hold the response open for the whole turn.
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWTSecret enables bearer-token auth on /api routes when non-empty.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// RedisConfig configures the retrieval cache backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// MilvusConfig configures the vector store.
type MilvusConfig struct {
	Host       string        `yaml:"host" env:"HOST"`
	Port       int           `yaml:"port" env:"PORT"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Username   string        `yaml:"username" env:"USERNAME"`
	Password   string        `yaml:"password" env:"PASSWORD"`
	Token      string        `yaml:"token" env:"TOKEN"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	APIKey    string        `yaml:"api_key" env:"API_KEY"`
	ChatModel string        `yaml:"chat_model" env:"CHAT_MODEL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetrievalConfig configures the retrieval pipeline.
type RetrievalConfig struct {
	// TopK search breadth per language variant
	TopK int `yaml:"top_k" env:"TOP_K"`
	// CacheTTLSeconds fixed per-entry cache expiry, from write time
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"CACHE_TTL_SECONDS"`
	// Languages rewrite variant tags, processed in order (minimum two)
	Languages []string `yaml:"languages" env:"LANGUAGES"`
}

// AgentConfig configures conversation orchestration.
type AgentConfig struct {
	// MaxValidationRetries bounds regeneration attempts after the output
	// validator rejects a fabricated escalation
	MaxValidationRetries int `yaml:"max_validation_retries" env:"MAX_VALIDATION_RETRIES"`
	// MaxIterations bounds generate→tool cycles within one turn
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// FragmentSize chunk size for delta token emission
	FragmentSize int `yaml:"fragment_size" env:"FRAGMENT_SIZE"`
	// FragmentYield cooperative pause between emitted fragments
	FragmentYield time.Duration `yaml:"fragment_yield" env:"FRAGMENT_YIELD"`
	// HistoryTokenBudget trims prior history to fit the model context
	HistoryTokenBudget int     `yaml:"history_token_budget" env:"HISTORY_TOKEN_BUDGET"`
	Temperature        float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens          int     `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// DatabaseConfig configures the session/message store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json or console
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RAGCHAT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Precedence: defaults → YAML file → environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile loads config from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides config from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively sets struct fields from the environment.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue assigns a string env value to a struct field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "retrieval top_k must be positive")
	}
	if c.Retrieval.CacheTTLSeconds <= 0 {
		errs = append(errs, "cache_ttl_seconds must be positive")
	}
	if len(c.Retrieval.Languages) < 2 {
		errs = append(errs, "at least two rewrite languages are required")
	}
	if c.Agent.MaxValidationRetries < 0 {
		errs = append(errs, "max_validation_retries cannot be negative")
	}
	if c.Agent.FragmentSize <= 0 {
		errs = append(errs, "fragment_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CacheTTL returns the retrieval cache TTL as a duration.
func (r RetrievalConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// DSN returns the database connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
