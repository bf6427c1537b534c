// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teecode611-cmyk/studio/internal/flows"
	"github.com/teecode611-cmyk/studio/internal/genai"
)

// Supported document store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCHealthPort string
	FrontendURL    string
	LogLevel       slog.Level

	DB      DBConfig
	LLM     LLMConfig
	Tutor   TutorConfig
	HTTP    HTTPConfig
	Auth    AuthConfig
	Prompts flows.Prompts
}

// DBConfig selects the document store.
type DBConfig struct {
	Driver string
	Path   string
	URL    string
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Provider          string
	Model             string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
	Temperature       float64
	PromptsPath       string
}

// TutorConfig tunes session behavior.
type TutorConfig struct {
	LearningContextSessions int
	SummaryIncludeHints     bool
	SessionIdleTTL          time.Duration
	MaxImageDimension       int
}

// HTTPConfig bounds incoming requests.
type HTTPConfig struct {
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	MaxRequestBodyBytes int64
}

// AuthConfig controls bearer tokens.
type AuthConfig struct {
	JWTSecret string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", genai.ProviderGoogleAI))

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DB:             loadDB(),
		LLM: LLMConfig{
			Provider:          provider,
			Model:             getEnv("LLM_MODEL", genai.DefaultModel(provider)),
			APIKey:            apiKeyFor(provider),
			Timeout:           getEnvDuration("LLM_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 60),
			Temperature:       getEnvFloat("LLM_TEMPERATURE", 0.7),
			PromptsPath:       getEnv("PROMPTS_PATH", ""),
		},
		Tutor: TutorConfig{
			LearningContextSessions: getEnvInt("LEARNING_CONTEXT_SESSIONS", flows.LearningContextSessions),
			SummaryIncludeHints:     getEnvBool("SUMMARY_INCLUDE_HINTS", false),
			SessionIdleTTL:          getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),
			MaxImageDimension:       getEnvInt("MAX_IMAGE_DIMENSION", 1568),
		},
		HTTP: HTTPConfig{
			RateLimitRequests:   getEnvInt("RATE_LIMIT_REQUESTS", 20),
			RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 12<<20)),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}

	prompts, err := flows.LoadPrompts(cfg.LLM.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Prompts = prompts

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadDB() DBConfig {
	return DBConfig{
		Driver: strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		Path:   getEnv("DB_PATH", "./data/tutor.db"),
		URL:    getEnv("DATABASE_URL", ""),
	}
}

// LoadDB reads only the document store settings, for commands that never
// call a model.
func LoadDB() (DBConfig, error) {
	db := loadDB()
	if err := db.Validate(); err != nil {
		return DBConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return db, nil
}

// Validate checks the driver and its connection settings.
func (d DBConfig) Validate() error {
	switch d.Driver {
	case DriverSQLite:
		if d.Path == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case DriverPostgres:
		if d.URL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", d.Driver)
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}

	if err := c.DB.Validate(); err != nil {
		return err
	}

	switch c.LLM.Provider {
	case genai.ProviderGoogleAI, genai.ProviderOpenAI, genai.ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%s must be set for LLM_PROVIDER=%s", apiKeyEnv(c.LLM.Provider), c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.RequestsPerMinute <= 0 {
		return errors.New("LLM_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("LLM_TEMPERATURE must be between 0 and 2")
	}

	if c.Tutor.LearningContextSessions <= 0 {
		return errors.New("LEARNING_CONTEXT_SESSIONS must be > 0")
	}
	if c.Tutor.SessionIdleTTL <= 0 {
		return errors.New("SESSION_IDLE_TTL must be > 0")
	}
	if c.Tutor.MaxImageDimension <= 0 {
		return errors.New("MAX_IMAGE_DIMENSION must be > 0")
	}

	if c.HTTP.RateLimitRequests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.HTTP.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.HTTP.MaxRequestBodyBytes <= 0 {
		return errors.New("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case genai.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case genai.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

func apiKeyFor(provider string) string {
	return getEnv(apiKeyEnv(provider), "")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
